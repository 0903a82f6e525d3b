package strategy

import (
	"time"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

// Thresholds are the tunable decision points for ADAPTIVE mode. The
// defaults match the reference behavior; they are configuration, not
// hard-coded literals.
type Thresholds struct {
	// IndividualFailureLimit: more distinct previous failures than
	// this forces INDIVIDUAL mode.
	IndividualFailureLimit int `koanf:"individual_failure_limit"`

	// SelectiveChangeLimit: a known change set smaller than this
	// enables SELECTIVE mode.
	SelectiveChangeLimit int `koanf:"selective_change_limit"`

	// ComplexFileCount and ComplexTestCount mark a project "complex";
	// combined with Iteration > ComplexIterationFloor they force
	// INDIVIDUAL mode.
	ComplexFileCount      int `koanf:"complex_file_count"`
	ComplexTestCount      int `koanf:"complex_test_count"`
	ComplexIterationFloor int `koanf:"complex_iteration_floor"`

	// SelectiveFallbackHooks is how many hooks a SELECTIVE subset
	// falls back to when the priority intersection is empty.
	SelectiveFallbackHooks int `koanf:"selective_fallback_hooks"`

	// PerHookCost is the fixed duration estimate per hook used for
	// plan duration estimates.
	PerHookCost time.Duration `koanf:"per_hook_cost"`
}

// DefaultThresholds returns the reference decision points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IndividualFailureLimit: 5,
		SelectiveChangeLimit:   5,
		ComplexFileCount:       50,
		ComplexTestCount:       20,
		ComplexIterationFloor:  2,
		SelectiveFallbackHooks: 3,
		PerHookCost:            30 * time.Second,
	}
}

// Select resolves the execution mode for one iteration. A configured
// mode other than ADAPTIVE is returned unchanged. ADAPTIVE decides by
// precedence: no signal yet, too many failures, small change set,
// complex project, then the batch default.
func Select(configured hook.Mode, th Thresholds, ctx *ExecutionContext) hook.Mode {
	if configured != hook.ModeAdaptive {
		return configured
	}

	// First iteration: no failure signal to adapt on.
	if ctx.Iteration <= 1 {
		return hook.ModeBatch
	}

	// Many distinct failures: trade throughput for debuggability.
	if len(distinct(ctx.PreviousFailures)) > th.IndividualFailureLimit {
		return hook.ModeIndividual
	}

	// Small known change set: narrow to relevant hooks.
	if ctx.ChangedFilesKnown && len(ctx.ChangedFiles) > 0 && len(ctx.ChangedFiles) < th.SelectiveChangeLimit {
		return hook.ModeSelective
	}

	// Large project past the early iterations: one hook at a time.
	if (ctx.FileCount > th.ComplexFileCount || ctx.TestCount > th.ComplexTestCount) &&
		ctx.Iteration > th.ComplexIterationFloor {
		return hook.ModeIndividual
	}

	return hook.ModeBatch
}

// SelectHookSubset narrows a strategy's hooks for SELECTIVE mode. The
// priority set is previous failures plus hooks triggered by the change
// set's file types; the result preserves strategy order. An empty
// intersection falls back to the strategy's first few hooks, so the
// subset is never empty.
func SelectHookSubset(s hook.Strategy, th Thresholds, ctx *ExecutionContext) []hook.Definition {
	priority := make(map[string]bool, len(ctx.PreviousFailures))
	for _, name := range ctx.PreviousFailures {
		priority[name] = true
	}

	triggered := triggeredCategories(ctx.ChangedFiles)
	for _, h := range s.Hooks {
		if triggered[hook.Categorize(h.Name)] {
			priority[h.Name] = true
		}
	}

	var subset []hook.Definition
	for _, h := range s.Hooks {
		if priority[h.Name] {
			subset = append(subset, h)
		}
	}
	if len(subset) > 0 {
		return subset
	}

	n := th.SelectiveFallbackHooks
	if n <= 0 {
		n = DefaultThresholds().SelectiveFallbackHooks
	}
	if n > len(s.Hooks) {
		n = len(s.Hooks)
	}
	return append([]hook.Definition(nil), s.Hooks[:n]...)
}

// triggeredCategories maps the change set's file types to the hook
// categories that should gate them: production code gets type and lint
// hooks, test paths get test hooks, packaging files get security and
// dependency hooks.
func triggeredCategories(changed []string) map[hook.Category]bool {
	out := make(map[hook.Category]bool)
	for _, path := range changed {
		switch {
		case IsPackagingPath(path):
			out[hook.CategorySecurity] = true
			out[hook.CategoryDeps] = true
		case IsTestPath(path):
			out[hook.CategoryTests] = true
		default:
			out[hook.CategoryTypes] = true
			out[hook.CategoryLint] = true
			out[hook.CategoryFormat] = true
		}
	}
	return out
}

// distinct returns the unique values of names.
func distinct(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
