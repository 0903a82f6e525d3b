package correlation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

func failed(names ...string) []hook.Result {
	results := make([]hook.Result, len(names))
	for i, n := range names {
		results[i] = hook.Result{Name: n, Status: hook.StatusFailed, IssuesCount: 1}
	}
	return results
}

func passed(names ...string) []hook.Result {
	results := make([]hook.Result, len(names))
	for i, n := range names {
		results[i] = hook.Result{Name: n, Status: hook.StatusPassed}
	}
	return results
}

func TestTracker_EmptyHistory(t *testing.T) {
	tr := NewTracker()

	assert.Empty(t, tr.ProblematicHooks())
	assert.Empty(t, tr.RecurringHooks())
	assert.Zero(t, tr.IterationCount())

	data := tr.Data()
	assert.Zero(t, data.IterationCount)
	assert.NotNil(t, data.ProblematicHooks, "problematic list is empty, never nil")
	assert.Empty(t, data.FailurePatterns)
	assert.Empty(t, data.RecentTrend)
}

func TestTracker_ConsecutiveFailuresBecomeProblematic(t *testing.T) {
	tr := NewTracker()

	tr.RecordIteration(1, failed("ruff-check"), nil, nil)
	assert.Empty(t, tr.ProblematicHooks(), "one failure is not a pattern")

	tr.RecordIteration(2, failed("ruff-check"), nil, nil)
	assert.Contains(t, tr.ProblematicHooks(), "ruff-check",
		"two consecutive failures flag the hook")

	data := tr.Data()
	assert.Equal(t, []string{"iteration_1", "iteration_2"}, data.FailurePatterns["ruff-check"])
}

func TestTracker_NonConsecutiveFailuresNoPattern(t *testing.T) {
	tr := NewTracker()

	tr.RecordIteration(1, failed("mypy"), nil, nil)
	tr.RecordIteration(2, passed("mypy"), nil, nil)
	tr.RecordIteration(3, failed("mypy"), nil, nil)

	assert.Empty(t, tr.ProblematicHooks(),
		"failures separated by a passing iteration do not correlate")
	assert.Empty(t, tr.RecurringHooks())
}

func TestTracker_PatternsAccumulateAcrossRun(t *testing.T) {
	tr := NewTracker()

	tr.RecordIteration(1, failed("mypy"), nil, nil)
	tr.RecordIteration(2, failed("mypy"), nil, nil)
	tr.RecordIteration(3, failed("mypy"), nil, nil)
	tr.RecordIteration(4, passed("mypy"), nil, nil)

	data := tr.Data()
	assert.Equal(t, []string{"iteration_1", "iteration_2", "iteration_3"},
		data.FailurePatterns["mypy"], "tags are never removed within a run")
}

func TestTracker_ProblematicSubsetOfFailedUnion(t *testing.T) {
	tr := NewTracker()

	histories := [][]hook.Result{
		failed("a", "b"),
		append(failed("b"), passed("a")...),
		failed("b", "c"),
		failed("c"),
	}
	union := make(map[string]bool)
	for i, results := range histories {
		tr.RecordIteration(i+1, results, nil, nil)
		for _, r := range results {
			if r.Failed() {
				union[r.Name] = true
			}
		}
	}

	for _, name := range tr.ProblematicHooks() {
		assert.True(t, union[name],
			"problematic hook %q must have actually failed", name)
	}
	assert.Contains(t, tr.ProblematicHooks(), "b")
	assert.Contains(t, tr.ProblematicHooks(), "c")
}

func TestTracker_DataSnapshotIsolation(t *testing.T) {
	tr := NewTracker()
	tr.RecordIteration(1, failed("ruff-check"), []string{"test_api"}, nil)
	tr.RecordIteration(2, failed("ruff-check"), nil, []string{"applied fix"})

	data := tr.Data()
	data.FailurePatterns["ruff-check"][0] = "corrupted"
	data.RecentTrend[0].FailedHooks[0] = "corrupted"

	fresh := tr.Data()
	assert.Equal(t, "iteration_1", fresh.FailurePatterns["ruff-check"][0],
		"snapshots are copies, not views")
	assert.Equal(t, "ruff-check", fresh.RecentTrend[0].FailedHooks[0])
}

func TestTracker_RecentTrendLastThree(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 5; i++ {
		tr.RecordIteration(i, failed(fmt.Sprintf("hook-%d", i)), nil, nil)
	}

	data := tr.Data()
	require.Len(t, data.RecentTrend, 3)
	assert.Equal(t, 3, data.RecentTrend[0].Index)
	assert.Equal(t, 5, data.RecentTrend[2].Index)
	assert.Equal(t, 5, data.IterationCount)
}

func TestTracker_SummaryCountsIssues(t *testing.T) {
	tr := NewTracker()
	results := []hook.Result{
		{Name: "mypy", Status: hook.StatusFailed, IssuesCount: 4},
		{Name: "ruff-check", Status: hook.StatusError, IssuesCount: 2},
		{Name: "pytest", Status: hook.StatusPassed},
	}
	tr.RecordIteration(1, results, nil, nil)

	data := tr.Data()
	require.Len(t, data.RecentTrend, 1)
	summary := data.RecentTrend[0]
	assert.ElementsMatch(t, []string{"mypy", "ruff-check"}, summary.FailedHooks)
	assert.Equal(t, 6, summary.TotalErrors)
}
