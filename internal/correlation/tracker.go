// Package correlation tracks hook and test failures across workflow
// iterations and mines recurring-failure patterns. The patterns feed
// both the AI-fix briefing and strategy adaptation.
package correlation

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

// IterationSummary records what happened in one workflow iteration.
type IterationSummary struct {
	Index       int       `json:"index"`
	FailedHooks []string  `json:"failed_hooks"`
	FailedTests []string  `json:"failed_tests"`
	AIFixes     []string  `json:"ai_fixes"`
	TotalErrors int       `json:"total_errors"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is the point-in-time view handed to the AI phase and the
// planner. All slices and maps are copies; mutating them does not
// affect the tracker.
type Snapshot struct {
	IterationCount   int                 `json:"iteration_count"`
	FailurePatterns  map[string][]string `json:"failure_patterns"`
	ProblematicHooks []string            `json:"problematic_hooks"`
	RecentTrend      []IterationSummary  `json:"recent_trend"`
}

// Tracker accumulates per-iteration summaries and recomputes
// recurring-failure patterns after each append. It does no I/O and
// carries no internal locking: a tracker belongs to a single
// orchestrator instance.
type Tracker struct {
	history  []IterationSummary
	patterns map[string][]string // hook name -> iteration tags, cumulative
}

// NewTracker creates an empty tracker. All query methods answer
// correctly with zero recorded iterations.
func NewTracker() *Tracker {
	return &Tracker{
		patterns: make(map[string][]string),
	}
}

// RecordIteration appends a summary for iteration n and recomputes
// recurring patterns. A hook gains iteration tags only when it failed
// in both this iteration and the immediately preceding one; both ends
// of the pair are tagged, so a hook failing twice in a row already
// carries two entries. Tags accumulate for the whole run and are never
// removed.
func (t *Tracker) RecordIteration(n int, hookResults []hook.Result, failedTests []string, aiFixes []string) {
	summary := IterationSummary{
		Index:       n,
		FailedTests: append([]string(nil), failedTests...),
		AIFixes:     append([]string(nil), aiFixes...),
		Timestamp:   time.Now(),
	}
	for _, r := range hookResults {
		if r.Failed() {
			summary.FailedHooks = append(summary.FailedHooks, r.Name)
			summary.TotalErrors += r.IssuesCount
		}
	}

	if len(t.history) > 0 {
		prev := t.history[len(t.history)-1]
		prevFailed := make(map[string]bool, len(prev.FailedHooks))
		for _, name := range prev.FailedHooks {
			prevFailed[name] = true
		}
		prevTag := fmt.Sprintf("iteration_%d", prev.Index)
		for _, name := range summary.FailedHooks {
			if !prevFailed[name] {
				continue
			}
			tags := t.patterns[name]
			if len(tags) == 0 || tags[len(tags)-1] != prevTag {
				tags = append(tags, prevTag)
			}
			t.patterns[name] = append(tags, fmt.Sprintf("iteration_%d", n))
		}
	}

	t.history = append(t.history, summary)
}

// ProblematicHooks returns hook names whose recurring-failure history
// has at least two entries, in no particular order.
func (t *Tracker) ProblematicHooks() []string {
	var hooks []string
	for name, tags := range t.patterns {
		if len(tags) >= 2 {
			hooks = append(hooks, name)
		}
	}
	return hooks
}

// RecurringHooks returns hook names with any recurring-failure entry.
func (t *Tracker) RecurringHooks() []string {
	var hooks []string
	for name, tags := range t.patterns {
		if len(tags) >= 1 {
			hooks = append(hooks, name)
		}
	}
	return hooks
}

// IterationCount returns the number of recorded iterations.
func (t *Tracker) IterationCount() int {
	return len(t.history)
}

// Data returns a snapshot of the tracker state including the trend of
// the last three iterations.
func (t *Tracker) Data() Snapshot {
	patterns := make(map[string][]string, len(t.patterns))
	for name, tags := range t.patterns {
		patterns[name] = append([]string(nil), tags...)
	}

	trendStart := len(t.history) - 3
	if trendStart < 0 {
		trendStart = 0
	}
	trend := make([]IterationSummary, 0, len(t.history)-trendStart)
	for _, s := range t.history[trendStart:] {
		s.FailedHooks = append([]string(nil), s.FailedHooks...)
		s.FailedTests = append([]string(nil), s.FailedTests...)
		s.AIFixes = append([]string(nil), s.AIFixes...)
		trend = append(trend, s)
	}

	problematic := t.ProblematicHooks()
	if problematic == nil {
		problematic = []string{}
	}

	return Snapshot{
		IterationCount:   len(t.history),
		FailurePatterns:  patterns,
		ProblematicHooks: problematic,
		RecentTrend:      trend,
	}
}
