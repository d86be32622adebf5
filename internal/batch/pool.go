// Package batch executes many notebooks concurrently with a bounded worker
// pool, optionally repairing the ones that fail.
package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/batch"

// DefaultWorkers is used when no worker count is configured.
const DefaultWorkers = 4

// Repairer runs a repair session for one notebook.
type Repairer interface {
	Run(ctx context.Context, notebookPath string, opts ...orchestrator.RunOption) (*orchestrator.Report, error)
}

// Result is the outcome for one notebook.
type Result struct {
	NotebookPath string                   `json:"notebook_path"`
	OK           bool                     `json:"ok"`
	Duration     time.Duration            `json:"duration_ns"`
	Error        *extraction.ErrorDetails `json:"error,omitempty"`
	// Repair is set when the notebook failed and repair mode is on.
	Repair *orchestrator.Report `json:"repair,omitempty"`
	// Err is an infrastructure failure for this notebook only.
	Err error `json:"-"`
}

// Repaired reports whether a failing notebook was fixed.
func (r Result) Repaired() bool {
	return r.Repair != nil && r.Repair.Success
}

// Pool runs notebooks with at most Workers in flight. Workers share nothing
// but the results channel.
type Pool struct {
	runner   executor.Runner
	repairer Repairer
	workers  int
	logger   *zap.Logger
}

// New creates a Pool. workers < 1 falls back to DefaultWorkers.
func New(runner executor.Runner, workers int, logger *zap.Logger) (*Pool, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{runner: runner, workers: workers, logger: logger}, nil
}

// WithRepair enables a full repair session for every failing notebook.
func (p *Pool) WithRepair(r Repairer) *Pool {
	p.repairer = r
	return p
}

// Stream starts the batch and returns a channel that yields one result per
// unique path, in completion order. The channel closes when all work is
// done or ctx is cancelled.
func (p *Pool) Stream(ctx context.Context, paths []string) <-chan Result {
	unique := Dedupe(paths)
	results := make(chan Result, len(unique))
	sem := make(chan struct{}, p.workers)

	var wg sync.WaitGroup
	for _, path := range unique {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			results <- p.runOne(ctx, path)
		}(path)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// Run executes the batch and returns results in input order, duplicates
// removed. Notebooks skipped by cancellation carry ctx.Err().
func (p *Pool) Run(ctx context.Context, paths []string) []Result {
	unique := Dedupe(paths)
	byPath := make(map[string]Result, len(unique))
	for r := range p.Stream(ctx, unique) {
		byPath[r.NotebookPath] = r
	}

	out := make([]Result, 0, len(unique))
	for _, path := range unique {
		r, ok := byPath[path]
		if !ok {
			r = Result{NotebookPath: path, Err: ctx.Err()}
		}
		out = append(out, r)
	}
	return out
}

func (p *Pool) runOne(ctx context.Context, path string) Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "batch.runOne")
	defer span.End()
	span.SetAttributes(attribute.String("notebook.path", path))

	start := time.Now()
	res, err := p.runner.Execute(ctx, path)
	out := Result{NotebookPath: path, OK: res.OK, Duration: time.Since(start), Err: err}
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("notebook execution errored", zap.String("notebook", path), zap.Error(err))
		return out
	}
	if res.OK {
		p.logger.Debug("notebook passed", zap.String("notebook", path), zap.Duration("duration", out.Duration))
		return out
	}

	details := extraction.Extract(res.RawOutput)
	if res.Failure != nil {
		details = res.Failure.Details
	}
	out.Error = &details
	p.logger.Info("notebook failed",
		zap.String("notebook", path),
		zap.String("error_type", details.ErrorType))

	if p.repairer == nil {
		return out
	}
	report, err := p.repairer.Run(ctx, path)
	out.Repair = report
	if err != nil {
		out.Err = err
		p.logger.Warn("repair session aborted", zap.String("notebook", path), zap.Error(err))
	}
	out.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("batch.repaired", out.Repaired()))
	return out
}

// Dedupe removes duplicate paths, comparing cleaned absolute forms, and
// keeps first-seen order so no two workers touch the same notebook.
func Dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		key := filepath.Clean(p)
		if abs, err := filepath.Abs(p); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// Summary aggregates batch results.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Repaired int `json:"repaired"`
	Errored  int `json:"errored"`
}

// Summarize counts outcomes. A repaired notebook counts as repaired, not
// failed.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil && r.Repair == nil:
			s.Errored++
		case r.OK:
			s.Passed++
		case r.Repaired():
			s.Repaired++
		default:
			s.Failed++
		}
	}
	return s
}

// AllSucceeded reports whether every notebook passed or was repaired.
func (s Summary) AllSucceeded() bool {
	return s.Failed == 0 && s.Errored == 0
}
