// Package events publishes repair session progress to logs, Prometheus and
// NATS.
package events

import (
	"context"
	"time"
)

// Transition is emitted on every state change of a repair session.
type Transition struct {
	SessionID    string    `json:"session_id"`
	NotebookPath string    `json:"notebook_path"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Reason       string    `json:"reason,omitempty"`
	Iteration    int       `json:"iteration"`
	Timestamp    time.Time `json:"timestamp"`
}

// Report is emitted once when a session reaches a terminal state.
type Report struct {
	SessionID    string        `json:"session_id"`
	NotebookPath string        `json:"notebook_path"`
	Success      bool          `json:"success"`
	FinalStatus  string        `json:"final_status"`
	Iterations   int           `json:"iterations"`
	Duration     time.Duration `json:"duration_ns"`
	ErrorType    string        `json:"error_type,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Sink receives session events. Implementations must not block the
// session for long and must be safe for concurrent use.
type Sink interface {
	Transition(ctx context.Context, t Transition)
	Report(ctx context.Context, r Report)
}

// Multi fans events out to every sink in order.
type Multi []Sink

// Transition implements Sink.
func (m Multi) Transition(ctx context.Context, t Transition) {
	for _, s := range m {
		s.Transition(ctx, t)
	}
}

// Report implements Sink.
func (m Multi) Report(ctx context.Context, r Report) {
	for _, s := range m {
		s.Report(ctx, r)
	}
}

// Nop discards events.
type Nop struct{}

// Transition implements Sink.
func (Nop) Transition(context.Context, Transition) {}

// Report implements Sink.
func (Nop) Report(context.Context, Report) {}

var (
	_ Sink = Multi(nil)
	_ Sink = Nop{}
)
