package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/notebook"
)

// ResultSuffix is appended to the notebook path to name the result file.
const ResultSuffix = ".result.json"

// Report is the final audit record of a session.
type Report struct {
	SessionID    string    `json:"session_id"`
	NotebookPath string    `json:"notebook_path"`
	Success      bool      `json:"success"`
	Iterations   int       `json:"iterations"`
	FinalStatus  State     `json:"final_status"`
	BackupPaths  []string  `json:"backup_paths"`
	TotalTime    float64   `json:"total_time"`
	Timestamp    time.Time `json:"timestamp"`

	ErrorDetails       *extraction.ErrorDetails `json:"error_details,omitempty"`
	LastExecutionError string                   `json:"last_execution_error,omitempty"`
	FailureReason      string                   `json:"failure_reason,omitempty"`

	SearchAttempts   int          `json:"search_attempts"`
	PlanningAttempts int          `json:"planning_attempts"`
	Branch           Branch       `json:"branch,omitempty"`
	Trace            []TraceEntry `json:"trace"`

	// Elapsed is TotalTime as a duration.
	Elapsed time.Duration `json:"-"`
}

func newReport(state *RepairState, now time.Time) *Report {
	elapsed := now.Sub(state.StartedAt)
	r := &Report{
		SessionID:        state.SessionID,
		NotebookPath:     state.NotebookPath,
		Success:          state.Status == StateSuccess,
		Iterations:       state.IterationCount,
		FinalStatus:      state.Status,
		BackupPaths:      append([]string{}, state.BackupPaths...),
		TotalTime:        elapsed.Seconds(),
		Timestamp:        now,
		SearchAttempts:   state.SearchAttempts,
		PlanningAttempts: state.PlanningAttempts,
		Branch:           state.Branch,
		Trace:            append([]TraceEntry{}, state.Trace...),
		Elapsed:          elapsed,
	}
	if !r.Success {
		r.ErrorDetails = state.ErrorDetails
		r.LastExecutionError = state.ExecutionError
		r.FailureReason = state.FailureReason
	}
	return r
}

// Visits returns how many times the session entered state.
func (r *Report) Visits(state State) int {
	n := 0
	for _, e := range r.Trace {
		if e.To == state {
			n++
		}
	}
	return n
}

func (r *Report) errorType() string {
	if r.ErrorDetails == nil {
		return ""
	}
	return r.ErrorDetails.ErrorType
}

// ResultPath returns the result file path for a notebook.
func ResultPath(notebookPath string) string {
	return notebookPath + ResultSuffix
}

// WriteResult writes the report as indented JSON next to the notebook.
func WriteResult(fs afero.Fs, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	path := ResultPath(r.NotebookPath)
	if err := notebook.WriteAtomic(fs, path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing result file %s: %w", path, err)
	}
	return nil
}

// ReadResult loads a result file written by WriteResult.
func ReadResult(fs afero.Fs, notebookPath string) (*Report, error) {
	data, err := afero.ReadFile(fs, ResultPath(notebookPath))
	if err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding result file: %w", err)
	}
	r.Elapsed = time.Duration(r.TotalTime * float64(time.Second))
	return &r, nil
}
