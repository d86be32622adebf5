package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
)

func TestNewReport_FailureCarriesExplanation(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newState("s1", "nb.ipynb", Limits{MaxIterations: 3}, start)
	s.Status = StateFailed
	s.IterationCount = 2
	s.BackupPaths = []string{"a", "b"}
	s.ExecutionError = "raw traceback"
	s.ErrorDetails = &extraction.ErrorDetails{ErrorType: "NameError", ErrorMessage: "name 'pd' is not defined"}
	s.FailureReason = "iteration budget exhausted (3)"

	r := newReport(s, start.Add(1500*time.Millisecond))

	assert.False(t, r.Success)
	assert.Equal(t, 2, r.Iterations)
	assert.InDelta(t, 1.5, r.TotalTime, 1e-9)
	assert.Equal(t, "raw traceback", r.LastExecutionError)
	assert.Equal(t, "NameError", r.errorType())

	// the report must not alias the live state
	s.BackupPaths[0] = "mutated"
	assert.Equal(t, "a", r.BackupPaths[0])
}

func TestNewReport_SuccessOmitsErrors(t *testing.T) {
	s := newState("s1", "nb.ipynb", Limits{}, time.Now())
	s.Status = StateSuccess
	s.ErrorDetails = &extraction.ErrorDetails{ErrorType: "NameError"}
	s.ExecutionError = "old"

	r := newReport(s, time.Now())
	assert.True(t, r.Success)
	assert.Nil(t, r.ErrorDetails)
	assert.Empty(t, r.LastExecutionError)
}

func TestWriteResult_Fields(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/nb", 0755))
	s := newState("s1", "/nb/analysis.ipynb", Limits{}, time.Now())
	s.Status = StateFailed
	s.ErrorDetails = &extraction.ErrorDetails{ErrorType: "KeyError", ErrorMessage: "'region'", FailingCode: "df['region']"}
	s.ExecutionError = "KeyError: 'region'"

	require.NoError(t, WriteResult(fs, newReport(s, time.Now())))

	data, err := afero.ReadFile(fs, "/nb/analysis.ipynb.result.json")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"notebook_path", "success", "iterations", "final_status", "backup_paths",
		"total_time", "timestamp", "error_details", "last_execution_error", "session_id", "trace",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "failed", raw["final_status"])
	details := raw["error_details"].(map[string]any)
	assert.Equal(t, "df['region']", details["failing_code"])
}

func TestReadResult_Missing(t *testing.T) {
	_, err := ReadResult(afero.NewMemMapFs(), "/none.ipynb")
	assert.Error(t, err)
}
