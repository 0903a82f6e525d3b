package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convergd/internal/correlation"
	"github.com/fyrsmithlabs/convergd/internal/gitx"
	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/strategy"
)

const instrumentationName = "github.com/fyrsmithlabs/convergd/internal/orchestrator"

// Config configures the workflow.
type Config struct {
	// Mode is the configured execution mode; ADAPTIVE lets the
	// selector decide each iteration.
	Mode hook.Mode `koanf:"mode"`

	// MaxIterations bounds the convergence loop (default: 5).
	MaxIterations int `koanf:"max_iterations"`

	// Thresholds tune the adaptive selector.
	Thresholds strategy.Thresholds `koanf:"thresholds"`

	// Strategies are the hook groups to run each iteration.
	Strategies []hook.Strategy `koanf:"strategies"`
}

// DefaultConfig returns sensible defaults (no strategies; those come
// from configuration).
func DefaultConfig() Config {
	return Config{
		Mode:          hook.ModeAdaptive,
		MaxIterations: 5,
		Thresholds:    strategy.DefaultThresholds(),
	}
}

// Validate checks the workflow configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case hook.ModeBatch, hook.ModeIndividual, hook.ModeSelective, hook.ModeAdaptive:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one hook strategy is required")
	}
	for _, s := range c.Strategies {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Orchestrator is the top-level workflow driver. One orchestrator
// instance serves one workflow at a time; its tracker and proxy state
// must not be shared across concurrently running workflows.
type Orchestrator struct {
	config  Config
	runner  HookRunner
	tests   TestManager
	ai      AICoordinator // single-agent summarizer
	multiAI AICoordinator // optional multi-agent coordinator
	sink    ProgressSink
	tracker *correlation.Tracker
	logger  *zap.Logger

	advisory      AdvisoryRunner
	advisoryTools []string

	tracer        trace.Tracer
	meter         metric.Meter
	runCounter    metric.Int64Counter
	modeCounter   metric.Int64Counter
	phaseDuration metric.Float64Histogram
}

// Option customizes an orchestrator.
type Option func(*Orchestrator)

// WithProgressSink installs a progress event sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithMultiAgent installs the multi-agent coordinator used when the
// plan asks for it.
func WithMultiAgent(ai AICoordinator) Option {
	return func(o *Orchestrator) { o.multiAI = ai }
}

// WithAdvisoryTools installs the proxy and the ordered list of
// advisory tools to run each iteration. Advisory outcomes surface as
// report warnings and never gate convergence.
func WithAdvisoryTools(proxy AdvisoryRunner, tools []string) Option {
	return func(o *Orchestrator) {
		o.advisory = proxy
		o.advisoryTools = tools
	}
}

// New creates an orchestrator. The runner and test manager are
// required; the AI coordinator may be nil, in which case the AI phase
// is skipped and failures carry through to the next iteration.
func New(cfg Config, runner HookRunner, tests TestManager, ai AICoordinator, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow config: %w", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("hook runner is required")
	}
	if tests == nil {
		return nil, fmt.Errorf("test manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config:  cfg,
		runner:  runner,
		tests:   tests,
		ai:      ai,
		tracker: correlation.NewTracker(),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.runCounter, err = o.meter.Int64Counter(
		"convergd.workflow.runs_total",
		metric.WithDescription("Total workflow runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn("failed to create run counter", zap.Error(err))
	}

	o.modeCounter, err = o.meter.Int64Counter(
		"convergd.workflow.strategy_decisions_total",
		metric.WithDescription("Per-iteration strategy decisions by mode"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		o.logger.Warn("failed to create mode counter", zap.Error(err))
	}

	o.phaseDuration, err = o.meter.Float64Histogram(
		"convergd.workflow.phase_duration_seconds",
		metric.WithDescription("Per-phase wall time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		o.logger.Warn("failed to create phase histogram", zap.Error(err))
	}
}

// Tracker exposes the correlation tracker for reporting.
func (o *Orchestrator) Tracker() *correlation.Tracker {
	return o.tracker
}

// Run executes the convergence loop. It returns a report in every
// non-error case; the error return is reserved for genuinely
// unexpected bookkeeping failures, never for failing hooks or tests.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	started := time.Now()
	runID := uuid.NewString()

	ctx, span := o.tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	o.emit(ProgressEvent{Stage: PhaseInitializing, Timestamp: time.Now()})

	ectx := o.buildContext(runID, opts)
	logger := o.logger.With(zap.String("run_id", runID))

	logger.Info("workflow starting",
		zap.String("root", ectx.RootPath),
		zap.String("mode", string(o.config.Mode)),
		zap.Int("max_iterations", o.config.MaxIterations),
		zap.Int("changed_files", len(ectx.ChangedFiles)),
		zap.Int("file_count", ectx.FileCount))

	report := RunReport{RunID: runID, FinalMode: o.config.Mode}

	// configuredMode holds the mode fed to the planner. Recurring
	// problematic hooks downgrade BATCH to INDIVIDUAL mid-run.
	configuredMode := o.config.Mode

	// failCounts tracks per-hook failing iterations for the retry
	// budget; seenWarnings dedupes advisory warnings across iterations.
	failCounts := make(map[string]int)
	seenWarnings := make(map[string]bool)

	for iteration := 1; iteration <= o.config.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("workflow cancelled: %w", err)
		}

		ectx.Iteration = iteration
		report.Iterations = iteration
		iterLogger := logger.With(zap.Int("iteration", iteration))

		// PLANNING: a fresh plan every turn, never an in-place edit.
		o.emit(ProgressEvent{Stage: PhasePlanning, Iteration: iteration, Timestamp: time.Now()})
		plan := strategy.CreatePlan(configuredMode, o.config.Thresholds, ectx, o.config.Strategies)
		report.FinalMode = plan.Mode

		if o.modeCounter != nil {
			o.modeCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("mode", string(plan.Mode)),
				attribute.Int("iteration", iteration)))
		}
		iterLogger.Info("plan created",
			zap.String("mode", string(plan.Mode)),
			zap.Int("hooks", len(plan.HookNames())),
			zap.Duration("estimated", plan.EstimatedDuration))

		// HOOKS
		hookResults := o.runHooks(ctx, plan, iteration, failCounts)
		report.HookResults = hookResults
		for _, name := range failedHookNames(hookResults) {
			failCounts[name]++
		}

		// Advisory tools piggyback on the hooks phase; their outcomes
		// are warnings, never gates.
		for _, w := range o.runAdvisory(ctx, ectx.ChangedFiles, iterLogger) {
			if !seenWarnings[w] {
				seenWarnings[w] = true
				report.Warnings = append(report.Warnings, w)
			}
		}

		// TESTS
		testResult := o.runTests(ctx, plan, iteration, iterLogger)
		report.FailedTests = testResult.FailedTests

		// Convergence: every hook passed and the suite succeeded.
		if converged(hookResults) && testResult.Success {
			o.tracker.RecordIteration(iteration, hookResults, nil, nil)
			o.finish(ctx, &report, started, true)
			o.emit(ProgressEvent{Stage: PhaseConverged, Iteration: iteration, Timestamp: time.Now()})
			iterLogger.Info("workflow converged")
			return report, nil
		}

		// AI_ANALYSIS: only on failing iterations.
		fixes := o.runAIPhase(ctx, plan, hookResults, testResult, iteration, iterLogger)

		o.tracker.RecordIteration(iteration, hookResults, testResult.FailedTests, fixes.FixesApplied)

		// Re-plan inputs for the next turn.
		ectx.PreviousFailures = failedHookNames(hookResults)

		if iteration < o.config.MaxIterations {
			if problematic := o.tracker.ProblematicHooks(); len(problematic) > 0 && plan.Mode == hook.ModeBatch {
				iterLogger.Warn("problematic hooks detected, downgrading to individual mode",
					zap.Strings("hooks", problematic))
				configuredMode = hook.ModeIndividual
			}
		}
	}

	o.finish(ctx, &report, started, false)
	o.emit(ProgressEvent{Stage: PhaseExhausted, Iteration: report.Iterations, Timestamp: time.Now()})
	logger.Warn("workflow exhausted iteration budget",
		zap.Int("iterations", report.Iterations),
		zap.Strings("problematic_hooks", report.ProblematicHooks))
	return report, nil
}

// buildContext assembles the per-run execution context, measuring the
// project and detecting the change set when the caller did not supply
// one. Detection failure means "change set unknown", not an error.
func (o *Orchestrator) buildContext(runID string, opts RunOptions) *strategy.ExecutionContext {
	ectx := &strategy.ExecutionContext{
		RunID:    runID,
		RootPath: opts.RootPath,
	}
	ectx.MeasureProject()

	if opts.ChangedFiles != nil {
		ectx.ChangedFiles = opts.ChangedFiles
		ectx.ChangedFilesKnown = true
		return ectx
	}

	changed, err := gitx.ChangedFiles(opts.RootPath)
	if err != nil {
		o.logger.Debug("change detection unavailable", zap.Error(err))
		return ectx
	}
	ectx.ChangedFiles = changed
	ectx.ChangedFilesKnown = true
	return ectx
}

// runHooks executes every hook group per the plan and aggregates the
// results. Hooks whose retry budget is spent are skipped up front.
func (o *Orchestrator) runHooks(ctx context.Context, plan strategy.ExecutionPlan, iteration int, failCounts map[string]int) []hook.Result {
	phaseStart := time.Now()
	o.emit(ProgressEvent{Stage: PhaseHooks, Iteration: iteration, Timestamp: phaseStart})

	var results []hook.Result
	for _, group := range plan.Groups {
		group, skipped := applyRetryBudget(group, failCounts)
		results = append(results, skipped...)
		if len(group.Hooks) == 0 {
			continue
		}
		o.emit(ProgressEvent{
			Stage:     PhaseHooks,
			Substage:  group.StrategyName,
			Iteration: iteration,
			Timestamp: time.Now(),
		})
		results = append(results, o.runner.ExecuteGroup(ctx, group, plan.Mode)...)
	}

	o.recordPhase(ctx, PhaseHooks, phaseStart)
	return results
}

// applyRetryBudget drops hooks that failed in more iterations than
// their retry budget allows, substituting skipped results. A budget of
// zero means the hook is re-attempted every iteration. The group's
// hook slice is replaced, never edited, so the plan stays immutable.
func applyRetryBudget(group strategy.GroupPlan, failCounts map[string]int) (strategy.GroupPlan, []hook.Result) {
	var kept []hook.Definition
	var skipped []hook.Result
	for _, h := range group.Hooks {
		if h.Retries > 0 && failCounts[h.Name] > h.Retries {
			skipped = append(skipped, hook.Result{
				Name:   h.Name,
				Status: hook.StatusSkipped,
				Error:  fmt.Sprintf("retry budget of %d exhausted", h.Retries),
			})
			continue
		}
		kept = append(kept, h)
	}
	group.Hooks = kept
	return group, skipped
}

// runAdvisory proxies each configured advisory tool over the change
// set. An unavailable chain or a nonzero exit becomes a warning.
func (o *Orchestrator) runAdvisory(ctx context.Context, files []string, logger *zap.Logger) []string {
	if o.advisory == nil {
		return nil
	}

	var warnings []string
	for _, name := range o.advisoryTools {
		outcome := o.advisory.Execute(ctx, name, files)
		switch {
		case outcome.Warning != "":
			warnings = append(warnings, outcome.Warning)
		case outcome.ExitCode != 0:
			warnings = append(warnings,
				fmt.Sprintf("advisory tool %s reported issues (exit code %d)", name, outcome.ExitCode))
		case outcome.UsedFallback != "":
			logger.Info("advisory tool ran via fallback",
				zap.String("tool", name),
				zap.String("fallback", outcome.UsedFallback))
		}
	}
	return warnings
}

// runTests runs the suite in the plan's mode. A test-manager error is
// absorbed as a failing, empty-detail result: it fails the iteration
// but never aborts the run.
func (o *Orchestrator) runTests(ctx context.Context, plan strategy.ExecutionPlan, iteration int, logger *zap.Logger) TestRunResult {
	phaseStart := time.Now()
	o.emit(ProgressEvent{Stage: PhaseTests, Iteration: iteration, Timestamp: phaseStart})
	defer o.recordPhase(ctx, PhaseTests, phaseStart)

	result, err := o.tests.RunTests(ctx, TestOptions{Mode: plan.Test.Mode})
	if err != nil {
		logger.Error("test phase failed", zap.Error(err))
		return TestRunResult{Success: false, FailedTests: []string{"test-runner"}}
	}
	return result
}

// runAIPhase builds the structured issue list and invokes the planned
// coordinator. Coordinator absence or failure yields an empty report;
// the loop carries on and retries on the next iteration.
func (o *Orchestrator) runAIPhase(ctx context.Context, plan strategy.ExecutionPlan, hookResults []hook.Result, testResult TestRunResult, iteration int, logger *zap.Logger) FixReport {
	coordinator := o.ai
	if plan.AI.MultiAgent && o.multiAI != nil {
		coordinator = o.multiAI
	}
	if coordinator == nil {
		return FixReport{}
	}

	issues := buildIssues(hookResults, testResult)
	if len(issues) == 0 {
		return FixReport{}
	}

	phaseStart := time.Now()
	o.emit(ProgressEvent{Stage: PhaseAIAnalysis, Iteration: iteration, Timestamp: phaseStart})
	defer o.recordPhase(ctx, PhaseAIAnalysis, phaseStart)

	report, err := coordinator.HandleIssues(ctx, issues)
	if err != nil {
		logger.Warn("ai phase failed", zap.Error(err))
		return FixReport{}
	}

	logger.Info("ai phase completed",
		zap.Int("issues", len(issues)),
		zap.Int("fixes_applied", len(report.FixesApplied)),
		zap.Float64("confidence", report.Confidence))
	return report
}

// buildIssues converts failed hooks and tests into the structured
// issue list for the AI phase. Hook names map to categories through
// the fixed lookup table.
func buildIssues(hookResults []hook.Result, testResult TestRunResult) []Issue {
	var issues []Issue
	for _, r := range hookResults {
		if !r.Failed() {
			continue
		}
		issues = append(issues, Issue{
			Source:      r.Name,
			Category:    hook.Categorize(r.Name),
			Description: r.Error,
			Count:       r.IssuesCount,
		})
	}
	for _, name := range testResult.FailedTests {
		issues = append(issues, Issue{
			Source:      name,
			Category:    hook.CategoryTests,
			Description: "test failure",
			Count:       1,
		})
	}
	return issues
}

// finish fills the report's correlation analysis and emits the
// per-run metrics.
func (o *Orchestrator) finish(ctx context.Context, report *RunReport, started time.Time, success bool) {
	data := o.tracker.Data()
	report.Success = success
	report.ProblematicHooks = data.ProblematicHooks
	report.Trend = data.RecentTrend
	report.Duration = time.Since(started)

	if o.runCounter != nil {
		outcome := "exhausted"
		if success {
			outcome = "converged"
		}
		o.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("mode", string(report.FinalMode)),
			attribute.Int("iterations", report.Iterations)))
	}
}

// recordPhase emits one phase-duration sample.
func (o *Orchestrator) recordPhase(ctx context.Context, phase Phase, start time.Time) {
	if o.phaseDuration != nil {
		o.phaseDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("phase", string(phase))))
	}
}

// HookProgress adapts live executor snapshots into progress events.
// Wire it into the executor's OnProgress callback.
func (o *Orchestrator) HookProgress(s hook.Snapshot) {
	o.emit(ProgressEvent{Stage: PhaseHooks, Substage: s.Name, Hook: &s, Timestamp: time.Now()})
}

// emit hands an event to the sink, swallowing sink errors.
func (o *Orchestrator) emit(event ProgressEvent) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Record(event); err != nil {
		o.logger.Debug("progress sink error", zap.Error(err))
	}
}

// converged reports whether every hook passed.
func converged(results []hook.Result) bool {
	for _, r := range results {
		if r.Status != hook.StatusPassed && r.Status != hook.StatusSkipped {
			return false
		}
	}
	return true
}

// failedHookNames returns the distinct names of failing hooks.
func failedHookNames(results []hook.Result) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		if r.Failed() && !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}
