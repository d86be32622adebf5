package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/nbfix/internal/config"
)

const (
	redactedValue       = "[REDACTED]"
	maxRedactPatternLen = 200
)

// Secret logs a configured credential as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// redactor decides what the console encoder must hide: whole values for
// sensitive keys, and pattern matches inside any other string.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func compileRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, k := range cfg.Fields {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxRedactPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxRedactPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *redactor) scrub(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedValue)
	}
	return s
}

// redactingEncoder filters fields on their way into the wrapped encoder.
// Error output and failing cell source are logged as strings, so pattern
// scrubbing on strings covers what notebooks tend to leak.
type redactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*redactingEncoder, error) {
	r, err := compileRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &redactingEncoder{Encoder: base, r: r}, nil
}

func (e *redactingEncoder) AddString(key, val string) {
	if e.r.sensitive(key) {
		val = redactedValue
	} else {
		val = e.r.scrub(val)
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	e.AddString(key, string(val))
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if e.r.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

// EncodeEntry applies the same rules to per-call fields and the message,
// which the base encoder would otherwise write directly.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := e.Clone().(*redactingEncoder)
	for _, f := range fields {
		f.AddTo(enc)
	}
	ent.Message = e.r.scrub(ent.Message)
	return enc.Encoder.EncodeEntry(ent, nil)
}
