package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/logging"
)

// LogSink writes events to a context-aware logger.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink. A nil logger discards events.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Named("session")}
}

// Transition implements Sink.
func (s *LogSink) Transition(ctx context.Context, t Transition) {
	s.logger.Debug(ctx, "state transition",
		zap.String("session.id", t.SessionID),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.Int("iteration", t.Iteration),
		zap.String("reason", t.Reason))
}

// Report implements Sink.
func (s *LogSink) Report(ctx context.Context, r Report) {
	fields := []zap.Field{
		zap.String("session.id", r.SessionID),
		zap.String("notebook.path", r.NotebookPath),
		zap.String("final_status", r.FinalStatus),
		zap.Int("iterations", r.Iterations),
		zap.Duration("duration", r.Duration),
	}
	if r.Success {
		s.logger.Info(ctx, "repair session succeeded", fields...)
		return
	}
	s.logger.Warn(ctx, "repair session failed", append(fields, zap.String("error_type", r.ErrorType))...)
}

var _ Sink = (*LogSink)(nil)
