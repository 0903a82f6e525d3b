// Package orchestrator drives the convergence loop: hooks, tests, and
// AI-assisted fixes repeat until every gate passes in one iteration or
// the iteration budget is exhausted.
package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/convergd/internal/correlation"
	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/strategy"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

// Phase is a workflow state. Phases within an iteration run in fixed
// order: hooks, then tests, then (on failure) AI analysis.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseHooks        Phase = "hooks"
	PhaseTests        Phase = "tests"
	PhaseAIAnalysis   Phase = "ai_analysis"
	PhaseConverged    Phase = "converged"
	PhaseExhausted    Phase = "exhausted"
)

// HookRunner executes one hook group per the plan. Implemented by the
// executor; an interface here so tests can script hook outcomes.
type HookRunner interface {
	ExecuteGroup(ctx context.Context, group strategy.GroupPlan, mode hook.Mode) []hook.Result
}

// AdvisoryRunner routes optional tool invocations through health
// checks and circuit breakers. Implemented by toolproxy.Proxy.
type AdvisoryRunner interface {
	Execute(ctx context.Context, name string, files []string) toolproxy.Outcome
}

// TestOptions selects how the test phase runs.
type TestOptions struct {
	Mode strategy.TestMode
}

// TestRecord is one test's outcome in individual mode.
type TestRecord struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
}

// TestRunResult is the test phase outcome.
type TestRunResult struct {
	Success     bool         `json:"success"`
	FailedTests []string     `json:"failed_tests,omitempty"`
	Records     []TestRecord `json:"records,omitempty"`
}

// TestManager runs the project's test suite. External collaborator.
type TestManager interface {
	RunTests(ctx context.Context, opts TestOptions) (TestRunResult, error)
}

// Issue is one structured problem handed to the AI-fix phase.
type Issue struct {
	Source      string        `json:"source"` // hook or test name
	Category    hook.Category `json:"category"`
	Description string        `json:"description"`
	Count       int           `json:"count"`
}

// FixReport is what the AI phase attempted and applied.
type FixReport struct {
	FixesApplied    []string `json:"fixes_applied"`
	Confidence      float64  `json:"confidence"`
	RemainingIssues []string `json:"remaining_issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// AICoordinator decides and applies code fixes for a set of issues.
// External collaborator; the orchestrator only brokers issues in and
// fix descriptions out.
type AICoordinator interface {
	HandleIssues(ctx context.Context, issues []Issue) (FixReport, error)
}

// ProgressEvent is one stage transition or hook snapshot, consumed by
// an optional persistence layer. Sink errors are swallowed; progress
// persistence never aborts a workflow.
type ProgressEvent struct {
	Stage     Phase          `json:"stage"`
	Substage  string         `json:"substage,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Hook      *hook.Snapshot `json:"hook,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProgressSink receives progress events.
type ProgressSink interface {
	Record(event ProgressEvent) error
}

// RunOptions configures one orchestrator invocation.
type RunOptions struct {
	// RootPath is the codebase under repair.
	RootPath string

	// ChangedFiles seeds the change set. When nil the orchestrator
	// attempts git detection; when that also fails the change set is
	// treated as unknown.
	ChangedFiles []string
}

// RunReport is the final outcome. Success is strictly boolean; the
// problem-hook diagnostics are auxiliary output, not a third state.
type RunReport struct {
	RunID            string                         `json:"run_id"`
	Success          bool                           `json:"success"`
	Iterations       int                            `json:"iterations"`
	FinalMode        hook.Mode                      `json:"final_mode"`
	HookResults      []hook.Result                  `json:"hook_results"`
	FailedTests      []string                       `json:"failed_tests,omitempty"`
	ProblematicHooks []string                       `json:"problematic_hooks"`
	Trend            []correlation.IterationSummary `json:"trend"`
	Warnings         []string                       `json:"warnings,omitempty"`
	Duration         time.Duration                  `json:"duration"`
}
