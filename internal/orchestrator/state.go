package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/planner"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

// State is a node of the repair state machine.
type State string

const (
	StatePending    State = "pending"
	StateAnalyzing  State = "analyzing"
	StateDirectFix  State = "direct_fix"
	StateRAGSearch  State = "rag_search"
	StatePlanning   State = "planning"
	StateApplying   State = "applying"
	StateValidating State = "validating"
	StateRetry      State = "retry"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// ErrIllegalTransition is returned when a node asks for an edge that is not
// in the transition table. It indicates a programming error.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions lists the legal successors of every non-terminal state. Any
// non-terminal state may fail.
var transitions = map[State][]State{
	StatePending:    {StateAnalyzing, StateFailed},
	StateAnalyzing:  {StateSuccess, StateDirectFix, StateRAGSearch, StateFailed},
	StateDirectFix:  {StateApplying, StateRAGSearch, StateFailed},
	StateRAGSearch:  {StatePlanning, StateFailed},
	StatePlanning:   {StateApplying, StateRAGSearch, StateFailed},
	StateApplying:   {StateValidating, StateFailed},
	StateValidating: {StateSuccess, StateRetry, StateFailed},
	StateRetry:      {StateAnalyzing, StateFailed},
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Branch records which planning tier produced the current plan.
type Branch string

const (
	BranchNone   Branch = ""
	BranchDirect Branch = "direct"
	BranchRAG    Branch = "rag"
)

// TraceEntry is one recorded transition.
type TraceEntry struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}

// RepairState is the record threaded through one session. It is owned by a
// single goroutine and never shared between sessions.
type RepairState struct {
	SessionID    string
	NotebookPath string
	Status       State

	IterationCount      int
	MaxIterations       int
	SearchAttempts      int
	MaxSearchAttempts   int
	PlanningAttempts    int
	MaxPlanningAttempts int

	// ExecutionError is the last raw failure output; empty means the last
	// execution succeeded.
	ExecutionError   string
	ErrorDetails     *extraction.ErrorDetails
	RetrievedContext []retrieval.Snippet
	MigrationPlan    *planner.Proposal
	BackupPaths      []string

	Branch        Branch
	FailureReason string
	StartedAt     time.Time
	Trace         []TraceEntry

	// pendingRun is the failed validation result analyzing reuses instead
	// of executing the notebook again.
	pendingRun *executor.Result
	// applied is the last patch written and the error it targeted.
	applied *retrieval.Fix
}

func newState(sessionID, path string, limits Limits, now time.Time) *RepairState {
	return &RepairState{
		SessionID:           sessionID,
		NotebookPath:        path,
		Status:              StatePending,
		MaxIterations:       limits.MaxIterations,
		MaxSearchAttempts:   limits.MaxSearchAttempts,
		MaxPlanningAttempts: limits.MaxPlanningAttempts,
		StartedAt:           now,
	}
}

// advance moves the state to next, recording the edge.
func (s *RepairState) advance(next State, reason string, at time.Time) (TraceEntry, error) {
	if !CanTransition(s.Status, next) {
		return TraceEntry{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, next)
	}
	entry := TraceEntry{From: s.Status, To: next, Reason: reason, Iteration: s.IterationCount, At: at}
	s.Trace = append(s.Trace, entry)
	s.Status = next
	if next == StateFailed && s.FailureReason == "" {
		s.FailureReason = reason
	}
	return entry, nil
}

// resetInner clears the per-iteration sub-loop counters and context.
func (s *RepairState) resetInner() {
	s.SearchAttempts = 0
	s.PlanningAttempts = 0
	s.RetrievedContext = nil
	s.MigrationPlan = nil
	s.Branch = BranchNone
}
