package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nbfix/internal/applier"
	"github.com/fyrsmithlabs/nbfix/internal/backup"
	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/events"
	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/logging"
	"github.com/fyrsmithlabs/nbfix/internal/notebook"
	"github.com/fyrsmithlabs/nbfix/internal/planner"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

const nbPath = "/work/analysis.ipynb"

// cellFailure renders output the way nbconvert reports a failing cell.
func cellFailure(code, errLine string) string {
	return "An error occurred while executing the following cell:\n" +
		"------------------\n" + code + "\n------------------\n\n" + errLine + "\n"
}

func failedRun(raw string) executor.Result {
	return executor.Result{
		RawOutput: raw,
		Failure:   &executor.FailureRecord{RawOutput: raw, Details: extraction.Extract(raw)},
	}
}

func okRun() executor.Result { return executor.Result{OK: true} }

// scriptedExecutor replays results in order and repeats the last one.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []executor.Result
	err     error
	calls   int
}

func (e *scriptedExecutor) Execute(context.Context, string) (executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return executor.Result{}, e.err
	}
	idx := min(e.calls, len(e.results)-1)
	e.calls++
	return e.results[idx], nil
}

// pandasExecutor fails with a NameError when a cell uses pd before any cell
// imports pandas.
type pandasExecutor struct {
	fs   afero.Fs
	runs int
}

func (e *pandasExecutor) Execute(_ context.Context, path string) (executor.Result, error) {
	e.runs++
	doc, err := notebook.Load(e.fs, path)
	if err != nil {
		return executor.Result{}, err
	}
	cells, err := doc.CodeCells()
	if err != nil {
		return executor.Result{}, err
	}
	imported := false
	for _, c := range cells {
		if strings.Contains(c.Source, "import pandas as pd") {
			imported = true
		}
		if !imported && strings.Contains(c.Source, "pd.") {
			return failedRun(cellFailure(c.Source, "NameError: name 'pd' is not defined")), nil
		}
	}
	return okRun(), nil
}

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) PlanDirect(ctx context.Context, d extraction.ErrorDetails) planner.Proposal {
	args := m.Called(ctx, d)
	return args.Get(0).(planner.Proposal)
}

func (m *mockPlanner) PlanWithContext(ctx context.Context, d extraction.ErrorDetails, s []retrieval.Snippet) planner.Proposal {
	args := m.Called(ctx, d, s)
	return args.Get(0).(planner.Proposal)
}

type fakeApplier struct {
	mu      sync.Mutex
	patches []applier.Patch
	result  applier.Result
	err     error
}

func (a *fakeApplier) Apply(_ context.Context, _ string, p applier.Patch) (applier.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patches = append(a.patches, p)
	return a.result, a.err
}

type fakeBackups struct {
	created  []backup.Backup
	restored []string
	err      error
}

func (b *fakeBackups) Create(_ context.Context, path string, iteration int) (backup.Backup, error) {
	if b.err != nil {
		return backup.Backup{}, b.err
	}
	bk := backup.Backup{Path: fmt.Sprintf("%s.backup.%d", path, iteration), NotebookPath: path, Iteration: iteration}
	b.created = append(b.created, bk)
	return bk, nil
}

func (b *fakeBackups) Restore(_ context.Context, backupPath, _ string) error {
	b.restored = append(b.restored, backupPath)
	return nil
}

type fakeSearcher struct {
	queries  []string
	snippets []retrieval.Snippet
}

func (s *fakeSearcher) Search(_ context.Context, q string, k int) []retrieval.Snippet {
	s.queries = append(s.queries, q)
	if len(s.snippets) > k {
		return s.snippets[:k]
	}
	return s.snippets
}

type fakeFixMemory struct {
	fixes []retrieval.Fix
}

func (m *fakeFixMemory) Record(_ context.Context, fix retrieval.Fix) error {
	m.fixes = append(m.fixes, fix)
	return nil
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []events.Transition
	reports     []events.Report
}

func (r *recordingSink) Transition(_ context.Context, t events.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingSink) Report(_ context.Context, rep events.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func testConfig() Config {
	return Config{
		Repair: config.RepairConfig{
			MaxIterations:       3,
			MaxSearchAttempts:   3,
			MaxPlanningAttempts: 3,
			CommonErrors:        append([]string(nil), config.DefaultCommonErrors...),
			DomainSignatures:    append([]string(nil), config.DefaultDomainSignatures...),
		},
		Domain: "atoti",
		TopK:   3,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Fs == nil {
		deps.Fs = afero.NewMemMapFs()
	}
	require.NoError(t, deps.Fs.MkdirAll("/work", 0755))
	o, err := New(cfg, deps, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	return o
}

func ready(before, after string) planner.Proposal {
	return planner.Proposal{Status: planner.StatusReady, BeforeCode: before, AfterCode: after, Reasoning: "fix"}
}

func status(s planner.Status) planner.Proposal {
	return planner.Proposal{Status: s, Reasoning: "not enough information"}
}
