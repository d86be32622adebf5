package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/applier"
	"github.com/fyrsmithlabs/nbfix/internal/backup"
	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/events"
	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/logging"
	"github.com/fyrsmithlabs/nbfix/internal/planner"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/orchestrator"

// Applier rewrites the cell a patch targets.
type Applier interface {
	Apply(ctx context.Context, notebookPath string, patch applier.Patch) (applier.Result, error)
}

// BackupStore snapshots and restores notebooks.
type BackupStore interface {
	Create(ctx context.Context, notebookPath string, iteration int) (backup.Backup, error)
	Restore(ctx context.Context, backupPath, notebookPath string) error
}

// FixRecorder remembers fixes that made a notebook run.
type FixRecorder interface {
	Record(ctx context.Context, fix retrieval.Fix) error
}

// Deps are the collaborators of a session. Retriever, FixMemory and Events
// are optional.
type Deps struct {
	Executor  executor.Runner
	Planner   planner.Service
	Applier   Applier
	Backups   BackupStore
	Retriever retrieval.Searcher
	FixMemory FixRecorder
	Events    events.Sink
	// Fs receives the result file. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Config holds the session policy.
type Config struct {
	Repair config.RepairConfig
	// Domain prefixes retrieval queries.
	Domain string
	// TopK is the number of snippets requested per query.
	TopK int
}

// Limits are the circuit breaker bounds of one session.
type Limits struct {
	MaxIterations       int
	MaxSearchAttempts   int
	MaxPlanningAttempts int
}

// RunOption adjusts a single session.
type RunOption func(*Limits)

// WithMaxIterations overrides the iteration budget for one session.
// Values below 1 are ignored.
func WithMaxIterations(n int) RunOption {
	return func(l *Limits) {
		if n > 0 {
			l.MaxIterations = n
		}
	}
}

// Orchestrator runs repair sessions. It holds no per-session state and is
// safe for concurrent use on different notebooks.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	common map[string]bool
	domain []string
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *logging.Logger) (*Orchestrator, error) {
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Planner == nil {
		return nil, errors.New("planner is required")
	}
	if deps.Applier == nil {
		return nil, errors.New("applier is required")
	}
	if deps.Backups == nil {
		return nil, errors.New("backup store is required")
	}
	if cfg.Repair.MaxIterations < 1 || cfg.Repair.MaxSearchAttempts < 1 || cfg.Repair.MaxPlanningAttempts < 1 {
		return nil, errors.New("repair limits must be at least 1")
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	common := make(map[string]bool, len(cfg.Repair.CommonErrors))
	for _, t := range cfg.Repair.CommonErrors {
		common[t] = true
	}
	domain := make([]string, 0, len(cfg.Repair.DomainSignatures))
	for _, sig := range cfg.Repair.DomainSignatures {
		if sig = strings.ToLower(strings.TrimSpace(sig)); sig != "" {
			domain = append(domain, sig)
		}
	}

	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		common: common,
		domain: domain,
		logger: logger.Named("orchestrator"),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Run repairs one notebook and returns the final report. The report is
// non-nil whenever the session started, including when an error is
// returned.
func (o *Orchestrator) Run(ctx context.Context, notebookPath string, opts ...RunOption) (*Report, error) {
	limits := Limits{
		MaxIterations:       o.cfg.Repair.MaxIterations,
		MaxSearchAttempts:   o.cfg.Repair.MaxSearchAttempts,
		MaxPlanningAttempts: o.cfg.Repair.MaxPlanningAttempts,
	}
	for _, opt := range opts {
		opt(&limits)
	}

	state := newState(o.newID(), notebookPath, limits, o.now())

	ctx = logging.WithSessionID(ctx, state.SessionID)
	ctx = logging.WithNotebookPath(ctx, notebookPath)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", state.SessionID),
		attribute.String("notebook.path", notebookPath),
		attribute.Int("repair.max_iterations", limits.MaxIterations),
	)

	o.logger.Info(ctx, "repair session started", zap.Int("max_iterations", limits.MaxIterations))

	runErr := o.loop(ctx, state)

	if state.Status == StateFailed && o.cfg.Repair.RollbackOnFailure {
		o.rollback(ctx, state)
	}
	if state.Status == StateSuccess && state.applied != nil {
		o.rememberFix(ctx, state)
	}

	report := newReport(state, o.now())
	if !o.cfg.Repair.SkipResultFile {
		if err := WriteResult(o.deps.Fs, report); err != nil {
			o.logger.Error(ctx, "failed to write result file", zap.Error(err))
			if runErr == nil {
				runErr = err
			}
		}
	}

	o.deps.Events.Report(ctx, events.Report{
		SessionID:    report.SessionID,
		NotebookPath: report.NotebookPath,
		Success:      report.Success,
		FinalStatus:  string(report.FinalStatus),
		Iterations:   report.Iterations,
		Duration:     report.Elapsed,
		ErrorType:    report.errorType(),
		Timestamp:    report.Timestamp,
	})

	span.SetAttributes(
		attribute.Bool("repair.success", report.Success),
		attribute.Int("repair.iterations", report.Iterations),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "repair session aborted")
	}

	o.logger.Info(ctx, "repair session finished",
		zap.Bool("success", report.Success),
		zap.Int("iterations", report.Iterations),
		zap.Duration("elapsed", report.Elapsed),
		zap.String("reason", state.FailureReason),
	)
	return report, runErr
}

// loop advances the machine until a terminal state. Only infrastructure
// failures and cancellation return an error; the state is failed either way.
func (o *Orchestrator) loop(ctx context.Context, state *RepairState) error {
	for !state.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, state, "session cancelled: "+err.Error())
			return err
		}

		next, reason, err := o.step(ctx, state)
		if err != nil {
			o.fail(ctx, state, err.Error())
			return err
		}
		if err := o.transition(ctx, state, next, reason); err != nil {
			o.fail(ctx, state, err.Error())
			return err
		}
	}
	return nil
}

func (o *Orchestrator) step(ctx context.Context, state *RepairState) (State, string, error) {
	switch state.Status {
	case StatePending:
		return StateAnalyzing, "session started", nil
	case StateAnalyzing:
		return o.analyze(ctx, state)
	case StateDirectFix:
		return o.directFix(ctx, state)
	case StateRAGSearch:
		return o.ragSearch(ctx, state)
	case StatePlanning:
		return o.planWithContext(ctx, state)
	case StateApplying:
		return o.apply(ctx, state)
	case StateValidating:
		return o.validate(ctx, state)
	case StateRetry:
		state.resetInner()
		return StateAnalyzing, "retrying with fresh budgets", nil
	default:
		return "", "", fmt.Errorf("%w: no handler for %s", ErrIllegalTransition, state.Status)
	}
}

func (o *Orchestrator) transition(ctx context.Context, state *RepairState, next State, reason string) error {
	entry, err := state.advance(next, reason, o.now())
	if err != nil {
		return err
	}
	o.deps.Events.Transition(ctx, events.Transition{
		SessionID:    state.SessionID,
		NotebookPath: state.NotebookPath,
		From:         string(entry.From),
		To:           string(entry.To),
		Reason:       entry.Reason,
		Iteration:    entry.Iteration,
		Timestamp:    entry.At,
	})
	return nil
}

// fail forces the session into failed after an aborting error.
func (o *Orchestrator) fail(ctx context.Context, state *RepairState, reason string) {
	if state.Status.Terminal() {
		return
	}
	if err := o.transition(ctx, state, StateFailed, reason); err != nil {
		// every non-terminal state may fail; reaching here is a table bug
		o.logger.Error(ctx, "cannot mark session failed", zap.Error(err))
		state.Status = StateFailed
		state.FailureReason = reason
	}
}

func (o *Orchestrator) analyze(ctx context.Context, state *RepairState) (State, string, error) {
	var res executor.Result
	if state.pendingRun != nil {
		res = *state.pendingRun
		state.pendingRun = nil
	} else {
		var err error
		res, err = o.deps.Executor.Execute(ctx, state.NotebookPath)
		if err != nil {
			return "", "", fmt.Errorf("executing notebook: %w", err)
		}
	}

	if res.OK {
		state.ExecutionError = ""
		return StateSuccess, "notebook executed successfully", nil
	}

	details := failureDetails(res)
	state.ExecutionError = res.RawOutput
	state.ErrorDetails = &details

	o.logger.Debug(ctx, "execution failed",
		zap.String("error_type", details.ErrorType),
		zap.String("error_message", details.ErrorMessage))

	if !details.Patchable() {
		return StateFailed, "no failing code found, cannot patch automatically", nil
	}
	if sig, ok := o.domainSignature(details); ok {
		return StateRAGSearch, "domain-specific error (" + sig + ")", nil
	}
	if o.common[details.ErrorType] {
		return StateDirectFix, "common error " + details.ErrorType, nil
	}
	return StateRAGSearch, "unrecognized error " + details.ErrorType, nil
}

// domainSignature matches the configured signatures against the error type
// and message. The cell source is left out: in a cube notebook most cells
// call the engine, whatever the error is.
func (o *Orchestrator) domainSignature(d extraction.ErrorDetails) (string, bool) {
	haystack := strings.ToLower(d.ErrorType + "\n" + d.ErrorMessage)
	for _, sig := range o.domain {
		if strings.Contains(haystack, sig) {
			return sig, true
		}
	}
	return "", false
}

func (o *Orchestrator) directFix(ctx context.Context, state *RepairState) (State, string, error) {
	proposal := o.deps.Planner.PlanDirect(ctx, *state.ErrorDetails)
	state.MigrationPlan = &proposal
	state.Branch = BranchDirect

	switch proposal.Status {
	case planner.StatusReady:
		return StateApplying, "direct fix ready", nil
	case planner.StatusDomainSpecific, planner.StatusNeedsMoreInfo:
		return StateRAGSearch, "direct fix escalated: " + string(proposal.Status), nil
	default:
		return StateFailed, "no direct solution: " + proposal.Reasoning, nil
	}
}

func (o *Orchestrator) ragSearch(ctx context.Context, state *RepairState) (State, string, error) {
	state.SearchAttempts++
	if state.SearchAttempts > state.MaxSearchAttempts {
		return StateFailed, fmt.Sprintf("search attempts exhausted (%d)", state.MaxSearchAttempts), nil
	}
	if o.deps.Retriever == nil {
		return StatePlanning, "retrieval disabled", nil
	}

	seen := make(map[string]bool, len(state.RetrievedContext))
	for _, s := range state.RetrievedContext {
		seen[s.SourceID+"\x00"+s.Text] = true
	}
	added := 0
	for _, q := range planner.SearchQueries(*state.ErrorDetails, o.cfg.Domain) {
		for _, s := range o.deps.Retriever.Search(ctx, q, o.cfg.TopK) {
			key := s.SourceID + "\x00" + s.Text
			if seen[key] {
				continue
			}
			seen[key] = true
			state.RetrievedContext = append(state.RetrievedContext, s)
			added++
		}
	}
	return StatePlanning, fmt.Sprintf("retrieved %d new snippets", added), nil
}

func (o *Orchestrator) planWithContext(ctx context.Context, state *RepairState) (State, string, error) {
	state.PlanningAttempts++
	proposal := o.deps.Planner.PlanWithContext(ctx, *state.ErrorDetails, state.RetrievedContext)
	state.MigrationPlan = &proposal
	state.Branch = BranchRAG

	if proposal.Ready() {
		return StateApplying, "plan ready", nil
	}
	if state.PlanningAttempts >= state.MaxPlanningAttempts {
		return StateFailed, fmt.Sprintf("planning attempts exhausted (%d), last status %s", state.MaxPlanningAttempts, proposal.Status), nil
	}
	switch proposal.Status {
	case planner.StatusNeedsMoreInfo, planner.StatusDomainSpecific:
		if state.SearchAttempts < state.MaxSearchAttempts {
			return StateRAGSearch, "planner needs more context", nil
		}
		return StateFailed, fmt.Sprintf("search attempts exhausted (%d)", state.MaxSearchAttempts), nil
	default:
		return StateFailed, "no solution: " + proposal.Reasoning, nil
	}
}

func (o *Orchestrator) apply(ctx context.Context, state *RepairState) (State, string, error) {
	plan := state.MigrationPlan
	if plan == nil || !plan.Ready() {
		return StateFailed, "no ready plan to apply", nil
	}

	b, err := o.deps.Backups.Create(ctx, state.NotebookPath, state.IterationCount+1)
	if err != nil {
		return "", "", fmt.Errorf("backing up notebook: %w", err)
	}
	state.BackupPaths = append(state.BackupPaths, b.Path)
	state.IterationCount++

	o.logger.Trace(ctx, "applying patch",
		zap.Int("iteration", state.IterationCount),
		zap.String("before_code", plan.BeforeCode),
		zap.String("after_code", plan.AfterCode),
	)
	res, err := o.deps.Applier.Apply(ctx, state.NotebookPath, applier.Patch{
		BeforeCode: plan.BeforeCode,
		AfterCode:  plan.AfterCode,
	})
	if errors.Is(err, applier.ErrEmptyPatch) {
		return StateFailed, "patch has no before code", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("applying patch: %w", err)
	}
	if !res.OK {
		return StateFailed, "patch target not found in notebook", nil
	}

	state.applied = &retrieval.Fix{
		Error:        *state.ErrorDetails,
		BeforeCode:   plan.BeforeCode,
		AfterCode:    plan.AfterCode,
		NotebookPath: state.NotebookPath,
	}
	o.logger.Info(ctx, "patch applied",
		zap.Int("iteration", state.IterationCount),
		zap.Int("cell", res.CellIndex),
		zap.Float64("score", res.Score),
		zap.String("branch", string(state.Branch)))
	return StateValidating, fmt.Sprintf("patched cell %d", res.CellIndex), nil
}

func (o *Orchestrator) validate(ctx context.Context, state *RepairState) (State, string, error) {
	res, err := o.deps.Executor.Execute(ctx, state.NotebookPath)
	if err != nil {
		return "", "", fmt.Errorf("validating notebook: %w", err)
	}
	if res.OK {
		state.ExecutionError = ""
		return StateSuccess, "validation passed", nil
	}

	details := failureDetails(res)
	state.ExecutionError = res.RawOutput
	state.ErrorDetails = &details

	if state.IterationCount >= state.MaxIterations {
		return StateFailed, fmt.Sprintf("iteration budget exhausted (%d)", state.MaxIterations), nil
	}
	state.pendingRun = &res
	return StateRetry, "validation failed: " + details.ErrorType, nil
}

func (o *Orchestrator) rollback(ctx context.Context, state *RepairState) {
	if len(state.BackupPaths) == 0 {
		return
	}
	// the first backup holds the notebook as the session found it
	first := state.BackupPaths[0]
	if err := o.deps.Backups.Restore(context.WithoutCancel(ctx), first, state.NotebookPath); err != nil {
		o.logger.Error(ctx, "rollback failed", zap.String("backup", first), zap.Error(err))
		return
	}
	o.logger.Info(ctx, "notebook rolled back", zap.String("backup", first))
}

func (o *Orchestrator) rememberFix(ctx context.Context, state *RepairState) {
	if o.deps.FixMemory == nil {
		return
	}
	fix := *state.applied
	fix.Iterations = state.IterationCount
	if err := o.deps.FixMemory.Record(ctx, fix); err != nil {
		o.logger.Warn(ctx, "failed to record fix", zap.Error(err))
	}
}

// failureDetails returns the executor's extracted details, extracting them
// from the raw output when the runner did not.
func failureDetails(res executor.Result) extraction.ErrorDetails {
	if res.Failure != nil {
		return res.Failure.Details
	}
	return extraction.Extract(res.RawOutput)
}
