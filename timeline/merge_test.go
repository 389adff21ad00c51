package timeline_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func sickDays(from, to int, src timeline.SourceKind, at time.Time) []timeline.DayRecord {
	var out []timeline.DayRecord
	for d := from; d <= to; d++ {
		out = append(out, day(march(d), timeline.KindSick, src, at))
	}
	return out
}

func workingDays(from, to int, src timeline.SourceKind, at time.Time) []timeline.DayRecord {
	var out []timeline.DayRecord
	for d := from; d <= to; d++ {
		out = append(out, day(march(d), timeline.KindWorking, src, at))
	}
	return out
}

func kindOn(t *testing.T, tl timeline.Timeline, d timeline.Date) timeline.DayKind {
	t.Helper()
	rec, ok := tl.Get(d)
	require.True(t, ok, "no record on %s", d)
	return rec.Kind
}

// =============================================================================
// PURE MERGE
// =============================================================================

func TestMerge_DisjointDatesCarryThrough(t *testing.T) {
	table := timeline.DefaultPrecedenceTable()
	a, err := timeline.New(sickDays(3, 4, timeline.SourceApplication, t1)...)
	require.NoError(t, err)
	b, err := timeline.New(sickDays(6, 7, timeline.SourceSickLeaveNotice, t2)...)
	require.NoError(t, err)

	merged := timeline.Merge(a, b, table)
	assert.Equal(t, 4, merged.Len())

	// March 5 stays absent: no opinion, not undecided.
	_, ok := merged.Get(march(5))
	assert.False(t, ok)
}

func TestMerge_ScenarioA_EmployerWorkingOverridesTail(t *testing.T) {
	// GIVEN: claimant reports March 3-12 sick (t=1); employer reports
	//        March 7-12 working (t=2, higher precedence for "working")
	// THEN:  March 3-6 sick, March 7-12 working

	table := timeline.DefaultPrecedenceTable()
	self, err := timeline.New(sickDays(3, 12, timeline.SourceApplication, t1)...)
	require.NoError(t, err)
	employer, err := timeline.New(workingDays(7, 12, timeline.SourceIncomeNotice, t2)...)
	require.NoError(t, err)

	merged := timeline.Merge(self, employer, table)

	for d := 3; d <= 6; d++ {
		assert.Equal(t, timeline.KindSick, kindOn(t, merged, march(d)), "March %d", d)
	}
	for d := 7; d <= 12; d++ {
		assert.Equal(t, timeline.KindWorking, kindOn(t, merged, march(d)), "March %d", d)
	}
}

func TestNew_DuplicateDateRejected(t *testing.T) {
	_, err := timeline.New(
		day(march(3), timeline.KindSick, timeline.SourceApplication, t1),
		day(march(3), timeline.KindWorking, timeline.SourceApplication, t1),
	)
	require.Error(t, err)
	var dup *timeline.DuplicateDateError
	assert.ErrorAs(t, err, &dup)
}

// =============================================================================
// WEEKEND INHERITANCE
// =============================================================================

func TestInheritWeekends_SickFridayImpliesWeekendSick(t *testing.T) {
	// March 2025: the 7th is a Friday, the 8th/9th a weekend.
	tl, err := timeline.New(append(
		sickDays(7, 7, timeline.SourceSickLeaveNotice, t1),
		sickDays(10, 10, timeline.SourceSickLeaveNotice, t1)...)...)
	require.NoError(t, err)

	got := timeline.InheritWeekends(tl)
	assert.Equal(t, timeline.KindWeekendSick, kindOn(t, got, march(8)))
	assert.Equal(t, timeline.KindWeekendSick, kindOn(t, got, march(9)))
}

func TestInheritWeekends_WorkingFridayLeavesWeekendAlone(t *testing.T) {
	tl, err := timeline.New(append(
		workingDays(7, 7, timeline.SourceIncomeNotice, t1),
		sickDays(10, 10, timeline.SourceSickLeaveNotice, t1)...)...)
	require.NoError(t, err)

	got := timeline.InheritWeekends(tl)
	_, ok := got.Get(march(8))
	assert.False(t, ok)
}

func TestInheritWeekends_ExplicitWeekendRecordWins(t *testing.T) {
	tl, err := timeline.New(
		day(march(7), timeline.KindSick, timeline.SourceSickLeaveNotice, t1),
		day(march(8), timeline.KindWorking, timeline.SourceIncomeNotice, t2),
		day(march(10), timeline.KindSick, timeline.SourceSickLeaveNotice, t1),
	)
	require.NoError(t, err)

	got := timeline.InheritWeekends(tl)
	assert.Equal(t, timeline.KindWorking, kindOn(t, got, march(8)))
	assert.Equal(t, timeline.KindWeekendSick, kindOn(t, got, march(9)))
}

// =============================================================================
// MERGE ENGINE - Working set semantics
// =============================================================================

func TestMergeEngine_OrderIndependentCanonical(t *testing.T) {
	// GIVEN: the same three source events in every arrival permutation
	// THEN:  the canonical timeline is identical every time

	events := []timeline.SourceEvent{
		{ID: "ev-1", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t1, Days: sickDays(3, 12, timeline.SourceSickLeaveNotice, t1)},
		{ID: "ev-2", InstanceID: "income-1", Source: timeline.SourceIncomeNotice, ReportedAt: t2, Days: workingDays(10, 12, timeline.SourceIncomeNotice, t2)},
		{ID: "ev-3", InstanceID: "app-1", Source: timeline.SourceApplication, ReportedAt: t2, Days: sickDays(5, 9, timeline.SourceApplication, t2)},
	}

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	var reference timeline.Timeline
	for i, perm := range perms {
		engine := timeline.NewMergeEngine(nil)
		for _, idx := range perm {
			_, _, err := engine.Apply(events[idx])
			require.NoError(t, err)
		}
		if i == 0 {
			reference = engine.Canonical()
			continue
		}
		assert.True(t, engine.Canonical().Equal(reference), "permutation %v diverged", perm)
	}
}

func TestMergeEngine_IdempotentReapply(t *testing.T) {
	engine := timeline.NewMergeEngine(nil)
	ev := timeline.SourceEvent{ID: "ev-1", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t1, Days: sickDays(3, 5, timeline.SourceSickLeaveNotice, t1)}

	_, changed, err := engine.Apply(ev)
	require.NoError(t, err)
	assert.True(t, changed)

	before := engine.Canonical()
	_, changed, err = engine.Apply(ev)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, engine.Canonical().Equal(before))
}

func TestMergeEngine_AmendmentReplacesInstance(t *testing.T) {
	// GIVEN: a notice for March 3-12, then an amendment shrinking it to 3-5
	// THEN:  only March 3-5 remain; the old version is superseded, not
	//        merged alongside

	engine := timeline.NewMergeEngine(nil)
	_, _, err := engine.Apply(timeline.SourceEvent{ID: "ev-1", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t1, Days: sickDays(3, 12, timeline.SourceSickLeaveNotice, t1)})
	require.NoError(t, err)

	_, changed, err := engine.Apply(timeline.SourceEvent{ID: "ev-2", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t2, Days: sickDays(3, 5, timeline.SourceSickLeaveNotice, t2)})
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := engine.Canonical().Get(march(6))
	assert.False(t, ok)
}

func TestMergeEngine_RetractionEmptiesInstanceKeepsHistory(t *testing.T) {
	engine := timeline.NewMergeEngine(nil)
	_, _, err := engine.Apply(timeline.SourceEvent{ID: "ev-1", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t1, Days: sickDays(3, 5, timeline.SourceSickLeaveNotice, t1)})
	require.NoError(t, err)

	_, changed, err := engine.Apply(timeline.SourceEvent{ID: "ev-2", InstanceID: "notice-1", Source: timeline.SourceSickLeaveNotice, ReportedAt: t2, Retraction: true})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, engine.Canonical().IsEmpty())

	// The instance is retained in the working set, not deleted.
	assert.Equal(t, []string{"notice-1"}, engine.InstanceIDs())
}

func TestMergeEngine_ManyInstancesDeterministicFold(t *testing.T) {
	// Several instances of the same source kind fold in instance-id order.
	build := func(order []int) timeline.Timeline {
		engine := timeline.NewMergeEngine(nil)
		for _, n := range order {
			ev := timeline.SourceEvent{
				ID:         fmt.Sprintf("ev-%d", n),
				InstanceID: fmt.Sprintf("app-%d", n),
				Source:     timeline.SourceApplication,
				ReportedAt: t1.Add(time.Duration(n) * time.Hour),
				Days: []timeline.DayRecord{
					day(march(10), timeline.KindSick, timeline.SourceApplication, t1.Add(time.Duration(n)*time.Hour)),
				},
			}
			_, _, err := engine.Apply(ev)
			require.NoError(t, err)
		}
		return engine.Canonical()
	}

	a := build([]int{1, 2, 3})
	b := build([]int{3, 1, 2})
	assert.True(t, a.Equal(b))
}
