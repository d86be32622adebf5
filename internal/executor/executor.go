// Package executor runs notebooks top to bottom in a fresh kernel and
// reports whether every cell succeeded.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/executor"

var (
	// ErrNotebookNotFound is returned when the notebook path does not exist.
	ErrNotebookNotFound = errors.New("notebook not found")

	// ErrToolNotFound is returned when the execution tool is not installed.
	ErrToolNotFound = errors.New("execution tool not found")
)

// Result is the outcome of one execution.
type Result struct {
	OK        bool
	RawOutput string
	Duration  time.Duration
	// Failure is set when OK is false.
	Failure *FailureRecord
}

// FailureRecord is an immutable snapshot of one failed execution.
type FailureRecord struct {
	Timestamp time.Time               `json:"timestamp"`
	RawOutput string                  `json:"raw_output"`
	Details   extraction.ErrorDetails `json:"details"`
}

// Runner executes a notebook.
type Runner interface {
	Execute(ctx context.Context, notebookPath string) (Result, error)
}

// Executor runs notebooks with the configured tool (jupyter nbconvert by
// default). It never retries; a failed run is a result, not an error.
type Executor struct {
	cfg    config.ExecutorConfig
	runner CommandRunner
	fs     afero.Fs
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Executor. fs is used to check the notebook and manage the
// scratch directory for executed copies; it must be backed by the real
// filesystem the tool sees.
func New(cfg config.ExecutorConfig, runner CommandRunner, fs afero.Fs, logger *zap.Logger) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("executor command is required")
	}
	if cfg.Timeout.Duration() <= 0 {
		return nil, fmt.Errorf("executor timeout must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, runner: runner, fs: fs, logger: logger, now: time.Now}, nil
}

// Execute runs every cell of the notebook in document order with the
// notebook's directory as working directory.
//
// Unless KeepOutputs is set the executed copy goes to a scratch directory
// and is discarded, so the notebook on disk is not modified.
func (e *Executor) Execute(ctx context.Context, notebookPath string) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.Execute")
	defer span.End()

	abs, err := filepath.Abs(notebookPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolving notebook path: %w", err)
	}
	span.SetAttributes(attribute.String("notebook.path", abs))

	if _, err := e.fs.Stat(abs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notebook not found")
		return Result{}, fmt.Errorf("%w: %s", ErrNotebookNotFound, abs)
	}

	args := append([]string(nil), e.cfg.Args...)
	if e.cfg.KernelName != "" {
		args = append(args, "--ExecutePreprocessor.kernel_name="+e.cfg.KernelName)
	}
	if cell := e.cfg.CellTimeout.Duration(); cell > 0 {
		args = append(args, "--ExecutePreprocessor.timeout="+strconv.Itoa(int(cell.Seconds())))
	}

	if e.cfg.KeepOutputs {
		args = append(args, "--inplace")
	} else {
		scratch, err := afero.TempDir(e.fs, "", "nbfix-exec-")
		if err != nil {
			return Result{}, fmt.Errorf("creating scratch dir: %w", err)
		}
		defer func() {
			if err := e.fs.RemoveAll(scratch); err != nil {
				e.logger.Warn("failed to remove scratch dir", zap.String("dir", scratch), zap.Error(err))
			}
		}()
		args = append(args, "--output-dir", scratch, "--output", filepath.Base(abs))
	}
	args = append(args, filepath.Base(abs))

	budget := e.cfg.Timeout.Duration()
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := e.now()
	out, runErr := e.runner.Run(runCtx, filepath.Dir(abs), e.cfg.Command, args...)
	elapsed := e.now().Sub(start)

	result := Result{OK: runErr == nil, RawOutput: string(out), Duration: elapsed}

	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		// caller cancelled; not a notebook failure
		return Result{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.RawOutput = fmt.Sprintf("%s: execution exceeded %s", extraction.TimeoutMarker, budget)
	case errors.Is(runErr, exec.ErrNotFound):
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "execution tool not found")
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolNotFound, e.cfg.Command, runErr)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "execution tool failed to start")
			return Result{}, fmt.Errorf("running %s: %w", e.cfg.Command, runErr)
		}
	}

	span.SetAttributes(attribute.Bool("execution.ok", result.OK))
	if !result.OK {
		result.Failure = &FailureRecord{
			Timestamp: e.now(),
			RawOutput: result.RawOutput,
			Details:   extraction.Extract(result.RawOutput),
		}
		span.SetAttributes(attribute.String("error.type", result.Failure.Details.ErrorType))
	}

	e.logger.Debug("notebook executed",
		zap.String("notebook", abs),
		zap.Bool("ok", result.OK),
		zap.Duration("duration", elapsed),
	)
	return result, nil
}

var _ Runner = (*Executor)(nil)
