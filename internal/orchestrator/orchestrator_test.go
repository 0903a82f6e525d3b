package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/strategy"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

// scriptedRunner returns per-iteration hook results and records the
// mode of every group execution.
type scriptedRunner struct {
	mu      sync.Mutex
	results [][]hook.Result // indexed by call, last entry repeats
	calls   int
	modes   []hook.Mode
}

func (r *scriptedRunner) ExecuteGroup(_ context.Context, group strategy.GroupPlan, mode hook.Mode) []hook.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.calls
	if idx >= len(r.results) {
		idx = len(r.results) - 1
	}
	r.calls++
	r.modes = append(r.modes, mode)
	return r.results[idx]
}

// staticTests always answers with the configured result.
type staticTests struct {
	result TestRunResult
	err    error
	calls  int
}

func (s *staticTests) RunTests(_ context.Context, _ TestOptions) (TestRunResult, error) {
	s.calls++
	return s.result, s.err
}

// MockAICoordinator is a mock implementation of AICoordinator.
type MockAICoordinator struct {
	mock.Mock
}

func (m *MockAICoordinator) HandleIssues(ctx context.Context, issues []Issue) (FixReport, error) {
	args := m.Called(ctx, issues)
	return args.Get(0).(FixReport), args.Error(1)
}

// scriptedAdvisory answers Execute with canned outcomes and records
// which tools were invoked.
type scriptedAdvisory struct {
	mu       sync.Mutex
	outcomes map[string]toolproxy.Outcome
	calls    []string
}

func (a *scriptedAdvisory) Execute(_ context.Context, name string, _ []string) toolproxy.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
	return a.outcomes[name]
}

// groupRunner derives results from the group it receives, failing the
// configured hook names and recording every group's hook list.
type groupRunner struct {
	mu   sync.Mutex
	fail map[string]bool
	seen [][]string
}

func (r *groupRunner) ExecuteGroup(_ context.Context, group strategy.GroupPlan, _ hook.Mode) []hook.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	var out []hook.Result
	for _, h := range group.Hooks {
		names = append(names, h.Name)
		status := hook.StatusPassed
		issues := 0
		if r.fail[h.Name] {
			status = hook.StatusFailed
			issues = 1
		}
		out = append(out, hook.Result{Name: h.Name, Status: status, IssuesCount: issues})
	}
	r.seen = append(r.seen, names)
	return out
}

// recordingSink captures progress events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *recordingSink) Record(event ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) stages() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Phase
	for _, e := range s.events {
		out = append(out, e.Stage)
	}
	return out
}

func testConfig(mode hook.Mode, maxIterations int) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.MaxIterations = maxIterations
	cfg.Strategies = []hook.Strategy{{
		Name: "quality",
		Hooks: []hook.Definition{
			{Name: "ruff-check", Command: []string{"ruff", "check"}},
			{Name: "mypy", Command: []string{"mypy", "."}},
		},
	}}
	return cfg
}

func passing(names ...string) []hook.Result {
	out := make([]hook.Result, len(names))
	for i, n := range names {
		out[i] = hook.Result{Name: n, Status: hook.StatusPassed}
	}
	return out
}

func TestRun_ConvergesFirstIteration(t *testing.T) {
	runner := &scriptedRunner{results: [][]hook.Result{passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}
	ai := &MockAICoordinator{}

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, ai, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, 1, runner.calls)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.ProblematicHooks)
	ai.AssertNotCalled(t, "HandleIssues", mock.Anything, mock.Anything)
}

func TestRun_ProblematicHookForcesIndividualMode(t *testing.T) {
	failing := []hook.Result{
		{Name: "ruff-check", Status: hook.StatusFailed, IssuesCount: 2},
		{Name: "mypy", Status: hook.StatusPassed},
	}
	runner := &scriptedRunner{results: [][]hook.Result{failing}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	o, err := New(testConfig(hook.ModeBatch, 3), runner, tests, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Contains(t, report.ProblematicHooks, "ruff-check")
	require.Len(t, runner.modes, 3)
	assert.Equal(t, hook.ModeBatch, runner.modes[0])
	assert.Equal(t, hook.ModeBatch, runner.modes[1])
	assert.Equal(t, hook.ModeIndividual, runner.modes[2],
		"recurring failure downgrades batch to individual")
}

func TestRun_FailingTestsBlockConvergence(t *testing.T) {
	runner := &scriptedRunner{results: [][]hook.Result{passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: false, FailedTests: []string{"test_api"}}}

	o, err := New(testConfig(hook.ModeBatch, 2), runner, tests, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.False(t, report.Success, "passing hooks alone do not converge")
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, []string{"test_api"}, report.FailedTests)
}

func TestRun_TestManagerErrorAbsorbed(t *testing.T) {
	runner := &scriptedRunner{results: [][]hook.Result{passing("ruff-check", "mypy")}}
	tests := &staticTests{err: errors.New("runner crashed")}

	o, err := New(testConfig(hook.ModeBatch, 1), runner, tests, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err, "a test-runner crash fails the iteration, not the run")

	assert.False(t, report.Success)
	assert.Equal(t, []string{"test-runner"}, report.FailedTests)
}

func TestRun_AIPhaseReceivesStructuredIssues(t *testing.T) {
	failing := []hook.Result{
		{Name: "ruff-check", Status: hook.StatusFailed, IssuesCount: 3, Error: "exit code 1"},
		{Name: "mypy", Status: hook.StatusPassed},
	}
	runner := &scriptedRunner{results: [][]hook.Result{failing, passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	ai := &MockAICoordinator{}
	ai.On("HandleIssues", mock.Anything, mock.MatchedBy(func(issues []Issue) bool {
		return len(issues) == 1 &&
			issues[0].Source == "ruff-check" &&
			issues[0].Category == hook.CategoryLint &&
			issues[0].Count == 3
	})).Return(FixReport{FixesApplied: []string{"fixed imports"}}, nil)

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, ai, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Iterations)
	ai.AssertExpectations(t)
}

func TestRun_AIErrorDoesNotAbortRun(t *testing.T) {
	failing := []hook.Result{{Name: "mypy", Status: hook.StatusFailed, IssuesCount: 1}}
	runner := &scriptedRunner{results: [][]hook.Result{failing, passing("mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	ai := &MockAICoordinator{}
	ai.On("HandleIssues", mock.Anything, mock.Anything).
		Return(FixReport{}, errors.New("model unavailable"))

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, ai, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.True(t, report.Success, "the loop retries after an AI failure")
}

func TestRun_MultiAgentSelectedOnMultipleFailures(t *testing.T) {
	failing := []hook.Result{
		{Name: "ruff-check", Status: hook.StatusFailed, IssuesCount: 1},
		{Name: "mypy", Status: hook.StatusFailed, IssuesCount: 1},
	}
	runner := &scriptedRunner{results: [][]hook.Result{failing, failing, passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	single := &MockAICoordinator{}
	single.On("HandleIssues", mock.Anything, mock.Anything).Return(FixReport{}, nil)
	multi := &MockAICoordinator{}
	multi.On("HandleIssues", mock.Anything, mock.Anything).Return(FixReport{}, nil)

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, single,
		zaptest.NewLogger(t), WithMultiAgent(multi))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	// Iteration 1 has no previous failures: single agent. Iteration 2
	// sees two distinct failures: multi agent.
	single.AssertNumberOfCalls(t, "HandleIssues", 1)
	multi.AssertNumberOfCalls(t, "HandleIssues", 1)
}

func TestRun_AdvisoryWarningsSurfaceInReport(t *testing.T) {
	failing := []hook.Result{{Name: "mypy", Status: hook.StatusFailed, IssuesCount: 1}}
	runner := &scriptedRunner{results: [][]hook.Result{failing, passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	advisory := &scriptedAdvisory{outcomes: map[string]toolproxy.Outcome{
		"vulture": {Warning: "tool vulture and all fallbacks unavailable; check skipped"},
		"radon":   {ExitCode: 2},
	}}

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, nil,
		zaptest.NewLogger(t), WithAdvisoryTools(advisory, []string{"vulture", "radon"}))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.True(t, report.Success, "advisory outcomes never gate convergence")
	assert.Equal(t, []string{"vulture", "radon", "vulture", "radon"}, advisory.calls,
		"advisory tools run every iteration")
	require.Len(t, report.Warnings, 2, "identical warnings are deduplicated across iterations")
	assert.Contains(t, report.Warnings[0], "vulture")
	assert.Contains(t, report.Warnings[1], "exit code 2")
}

func TestRun_RetryBudgetSkipsPersistentFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = hook.ModeBatch
	cfg.MaxIterations = 4
	cfg.Strategies = []hook.Strategy{{
		Name: "quality",
		Hooks: []hook.Definition{
			{Name: "flaky-gate", Command: []string{"flaky"}, Retries: 1},
			{Name: "mypy", Command: []string{"mypy", "."}},
		},
	}}

	runner := &groupRunner{fail: map[string]bool{"flaky-gate": true}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	o, err := New(cfg, runner, tests, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	// Two failing attempts spend the budget; iteration three runs
	// without the hook and converges.
	require.Len(t, runner.seen, 3)
	assert.Equal(t, []string{"flaky-gate", "mypy"}, runner.seen[0])
	assert.Equal(t, []string{"flaky-gate", "mypy"}, runner.seen[1])
	assert.Equal(t, []string{"mypy"}, runner.seen[2])

	assert.True(t, report.Success)
	assert.Equal(t, 3, report.Iterations)

	var skipped *hook.Result
	for i := range report.HookResults {
		if report.HookResults[i].Name == "flaky-gate" {
			skipped = &report.HookResults[i]
		}
	}
	require.NotNil(t, skipped)
	assert.Equal(t, hook.StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Error, "retry budget")
}

func TestRun_ProgressEventsOrdered(t *testing.T) {
	runner := &scriptedRunner{results: [][]hook.Result{passing("ruff-check", "mypy")}}
	tests := &staticTests{result: TestRunResult{Success: true}}
	sink := &recordingSink{}

	o, err := New(testConfig(hook.ModeBatch, 5), runner, tests, nil,
		zaptest.NewLogger(t), WithProgressSink(sink))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	stages := sink.stages()
	assert.Equal(t, PhaseInitializing, stages[0])
	assert.Contains(t, stages, PhasePlanning)
	assert.Contains(t, stages, PhaseHooks)
	assert.Contains(t, stages, PhaseTests)
	assert.Equal(t, PhaseConverged, stages[len(stages)-1])
	assert.NotContains(t, stages, PhaseAIAnalysis, "AI phase skipped on convergence")
}

func TestRun_ExhaustionReportsTrend(t *testing.T) {
	failing := []hook.Result{{Name: "mypy", Status: hook.StatusFailed, IssuesCount: 1}}
	runner := &scriptedRunner{results: [][]hook.Result{failing}}
	tests := &staticTests{result: TestRunResult{Success: true}}

	o, err := New(testConfig(hook.ModeIndividual, 4), runner, tests, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), RunOptions{RootPath: t.TempDir(), ChangedFiles: []string{}})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 4, report.Iterations)
	require.NotEmpty(t, report.Trend)
	assert.LessOrEqual(t, len(report.Trend), 3, "trend covers the last three iterations")
	assert.Contains(t, report.ProblematicHooks, "mypy")
}

func TestConfig_Validate(t *testing.T) {
	t.Run("requires strategies", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strategy")
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		cfg := testConfig("sideways", 3)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
	})

	t.Run("rejects zero iterations", func(t *testing.T) {
		cfg := testConfig(hook.ModeBatch, 0)
		assert.Error(t, cfg.Validate())
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := testConfig(hook.ModeBatch, 3)
	logger := zaptest.NewLogger(t)

	_, err := New(cfg, nil, &staticTests{}, nil, logger)
	assert.Error(t, err, "runner is required")

	_, err = New(cfg, &scriptedRunner{results: [][]hook.Result{nil}}, nil, nil, logger)
	assert.Error(t, err, "test manager is required")
}
