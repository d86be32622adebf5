package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose output is captured in memory at every level
// so tests can assert on what a repair session reported.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// All returns every captured entry in order.
func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

// FilterMessage narrows the capture to entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level mentions msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.logs.FilterLevelExact(level).FilterMessageSnippet(msg).Len() > 0 {
		return
	}
	tb.Errorf("no %s entry mentioning %q; captured:\n%s", level, msg, t.dump())
}

// AssertField fails tb unless an entry mentioning msg carries key with the
// given string value.
func (t *TestLogger) AssertField(tb testing.TB, msg, key, want string) {
	tb.Helper()
	matches := t.logs.FilterMessageSnippet(msg).FilterField(zap.String(key, want))
	if matches.Len() > 0 {
		return
	}
	tb.Errorf("no entry mentioning %q with %s=%q; captured:\n%s", msg, key, want, t.dump())
}

// AssertNotLogged fails tb if any message or string field contains text.
// Tests use it to prove notebook secrets never reach the log.
func (t *TestLogger) AssertNotLogged(tb testing.TB, text string) {
	tb.Helper()
	for _, e := range t.logs.All() {
		if strings.Contains(e.Message, text) {
			tb.Errorf("%q leaked into message %q", text, e.Message)
			return
		}
		for k, v := range e.ContextMap() {
			if s, ok := v.(string); ok && strings.Contains(s, text) {
				tb.Errorf("%q leaked into field %s of %q", text, k, e.Message)
				return
			}
		}
	}
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, e := range t.logs.All() {
		fmt.Fprintf(&b, "  %s %s %v\n", e.Level, e.Message, e.ContextMap())
	}
	return b.String()
}
