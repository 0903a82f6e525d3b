package strategy

import (
	"time"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

// TestMode is how the test phase runs, derived from the hook mode.
type TestMode string

const (
	TestModeFullSuite  TestMode = "full_suite"
	TestModeIndividual TestMode = "individual_with_progress"
	TestModeSelective  TestMode = "selective"
)

// GroupPlan is the resolved plan for one hook strategy group.
type GroupPlan struct {
	StrategyName      string
	Hooks             []hook.Definition
	MaxParallel       int
	GlobalTimeout     time.Duration
	EstimatedDuration time.Duration
}

// TestPlan is the resolved plan for the test phase.
type TestPlan struct {
	Mode TestMode
}

// AIPlan is the resolved plan for the AI-fix phase.
type AIPlan struct {
	// MultiAgent selects the multi-agent coordinator over the
	// single-agent summarizer.
	MultiAgent bool
}

// ExecutionPlan is one iteration's plan. Plans are immutable:
// adaptation builds a fresh plan, never edits one in place.
type ExecutionPlan struct {
	Mode              hook.Mode
	Groups            []GroupPlan
	Test              TestPlan
	AI                AIPlan
	EstimatedDuration time.Duration
}

// CreatePlan resolves the execution mode, narrows each hook group,
// and derives the test and AI plans. It is a pure function with no
// side effects; calling it repeatedly with identical inputs yields
// identical plans.
func CreatePlan(configured hook.Mode, th Thresholds, ctx *ExecutionContext, strategies []hook.Strategy) ExecutionPlan {
	mode := Select(configured, th, ctx)

	cost := th.PerHookCost
	if cost <= 0 {
		cost = DefaultThresholds().PerHookCost
	}

	plan := ExecutionPlan{
		Mode: mode,
		Test: TestPlan{Mode: testModeFor(mode)},
		AI:   AIPlan{MultiAgent: len(distinct(ctx.PreviousFailures)) > 1},
	}

	for _, s := range strategies {
		hooks := s.Hooks
		if mode == hook.ModeSelective {
			hooks = SelectHookSubset(s, th, ctx)
		}
		group := GroupPlan{
			StrategyName:      s.Name,
			Hooks:             append([]hook.Definition(nil), hooks...),
			MaxParallel:       s.MaxParallel,
			GlobalTimeout:     s.GlobalTimeout,
			EstimatedDuration: time.Duration(len(hooks)) * cost,
		}
		plan.Groups = append(plan.Groups, group)
		plan.EstimatedDuration += group.EstimatedDuration
	}

	return plan
}

// testModeFor maps the hook mode onto a test execution mode.
func testModeFor(mode hook.Mode) TestMode {
	switch mode {
	case hook.ModeIndividual:
		return TestModeIndividual
	case hook.ModeSelective:
		return TestModeSelective
	default:
		return TestModeFullSuite
	}
}

// HookNames returns every hook name in the plan, in group order.
func (p ExecutionPlan) HookNames() []string {
	var names []string
	for _, g := range p.Groups {
		for _, h := range g.Hooks {
			names = append(names, h.Name)
		}
	}
	return names
}
