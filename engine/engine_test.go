package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/store/memory"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []engine.Outbound
}

func (p *capturePublisher) Publish(out engine.Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, out)
	return nil
}

func (p *capturePublisher) all() []engine.Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.Outbound, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) needs() []*engine.NeedRequested {
	var out []*engine.NeedRequested
	for _, e := range p.all() {
		if n, ok := e.(*engine.NeedRequested); ok {
			out = append(out, n)
		}
	}
	return out
}

func (p *capturePublisher) diffs() []*engine.PaymentLinesDiffed {
	var out []*engine.PaymentLinesDiffed
	for _, e := range p.all() {
		if d, ok := e.(*engine.PaymentLinesDiffed); ok {
			out = append(out, d)
		}
	}
	return out
}

func (p *capturePublisher) traces() []*engine.ComplianceTrace {
	var out []*engine.ComplianceTrace
	for _, e := range p.all() {
		if t, ok := e.(*engine.ComplianceTrace); ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *capturePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	store    *memory.Store
	pub      *capturePublisher
	clock    *fakeClock
	registry *engine.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		pub:   &capturePublisher{},
		clock: newClock(),
	}
	f.registry = engine.NewRegistry(engine.Config{
		Defaults:  payment.DefaultParameters(),
		Store:     f.store,
		Publisher: f.pub,
		Now:       f.clock.Now,
	})
	return f
}

func (f *fixture) restart() {
	f.registry = engine.NewRegistry(engine.Config{
		Defaults:  payment.DefaultParameters(),
		Store:     f.store,
		Publisher: f.pub,
		Now:       f.clock.Now,
	})
}

var aggr = engine.AggregateKey{ClaimantID: "claimant-1", EmployerID: "employer-1"}

func mar(d int) timeline.Date { return timeline.NewDate(2025, time.March, d) }

// sickWeekdays builds full-degree sick records for the given March days.
func sickWeekdays(days ...int) []timeline.DayRecord {
	reported := time.Date(2025, time.March, 19, 9, 0, 0, 0, time.UTC)
	out := make([]timeline.DayRecord, 0, len(days))
	for _, d := range days {
		out = append(out, timeline.NewDayRecord(
			mar(d), timeline.KindSick, timeline.FullDegree, timeline.SourceApplication, reported))
	}
	return out
}

func sickReport(id, instance string, days ...int) *engine.SourceReportEvent {
	return &engine.SourceReportEvent{
		ID:         id,
		ClaimantID: aggr.ClaimantID,
		EmployerID: aggr.EmployerID,
		InstanceID: instance,
		Source:     timeline.SourceApplication,
		ReportedAt: time.Date(2025, time.March, 19, 9, 0, 0, 0, time.UTC),
		Days:       sickWeekdays(days...),
	}
}

func incomeEvent(id string, wage int64) *engine.FactReceivedEvent {
	return &engine.FactReceivedEvent{
		ID:         id,
		ClaimantID: aggr.ClaimantID,
		EmployerID: aggr.EmployerID,
		Fact: period.Fact{
			ID:         id,
			Kind:       period.FactEmployerIncome,
			ReceivedAt: time.Date(2025, time.March, 21, 9, 0, 0, 0, time.UTC),
			WageBasis:  decimal.NewFromInt(wage),
		},
	}
}

func historyEvent(id string) *engine.FactReceivedEvent {
	return &engine.FactReceivedEvent{
		ID:         id,
		ClaimantID: aggr.ClaimantID,
		EmployerID: aggr.EmployerID,
		Fact: period.Fact{
			ID:              id,
			Kind:            period.FactWageHistory,
			ReceivedAt:      time.Date(2025, time.March, 21, 10, 0, 0, 0, time.UTC),
			HistoricalBasis: decimal.NewFromInt(480000),
		},
	}
}

// settleAggregate drives one sick report through to settlement.
func settleAggregate(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12, 13, 14)))
	require.NoError(t, f.registry.Handle(ctx, incomeEvent("fact-income", 520000)))
	require.NoError(t, f.registry.Handle(ctx, historyEvent("fact-history")))
}

// =============================================================================
// TESTS
// =============================================================================

func TestEngine_SourceReportOpensPeriodAndRequestsIncome(t *testing.T) {
	// GIVEN a fresh aggregate
	f := newFixture(t)
	ctx := context.Background()

	// WHEN the claimant's application reports a sick week
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12, 13, 14)))

	// THEN one period exists, parked waiting for the employer's income notice
	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	require.Len(t, view.Set.Periods, 1)
	p := view.Set.Periods[0]
	assert.Equal(t, period.StateCollectingEmployerData, p.State)
	assert.Equal(t, period.WaitingEmployerIncome, p.Waiting)
	assert.Equal(t, mar(10), p.Range.Start)
	assert.Equal(t, mar(14), p.Range.End)

	// AND exactly one need request went out
	needs := f.pub.needs()
	require.Len(t, needs, 1)
	assert.Equal(t, period.NeedEmployerIncome, needs[0].Need.Kind)
	assert.Equal(t, p.ID, needs[0].Need.PeriodID)
	require.Len(t, view.Outstanding, 1)
}

func TestEngine_FactsDriveThroughToSettlement(t *testing.T) {
	// GIVEN a reported sick week
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)

	// THEN the period settled and the payment lines were dispatched once
	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	require.Len(t, view.Set.Periods, 1)
	assert.Equal(t, period.StateSettled, view.Set.Periods[0].State)

	diffs := f.pub.diffs()
	require.Len(t, diffs, 1)
	assert.Empty(t, diffs[0].Diff.Diff.Cancel)
	assert.NotEmpty(t, diffs[0].Diff.Diff.Issue)

	// AND nothing is outstanding anymore
	assert.Empty(t, view.Outstanding)
}

func TestEngine_RedeliveredReportChangesNothing(t *testing.T) {
	// GIVEN a settled aggregate
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)
	f.pub.reset()

	// WHEN the original report is delivered again
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12, 13, 14)))

	// THEN nothing was published and no generation was added
	assert.Empty(t, f.pub.all())
	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	require.Len(t, view.Set.Periods[0].Generations, 1)
}

func TestEngine_RedeliveredFactChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)
	f.pub.reset()

	require.NoError(t, f.registry.Handle(ctx, incomeEvent("fact-income", 520000)))

	assert.Empty(t, f.pub.diffs())
	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	require.Len(t, view.Set.Periods[0].Generations, 1)
}

func TestEngine_RestartRestoresAggregateFromSnapshot(t *testing.T) {
	// GIVEN a settled aggregate
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)

	before, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)

	// WHEN the process restarts with the same store
	f.restart()

	// THEN the restored view matches the pre-restart one
	after, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	assert.True(t, before.Canonical.Equal(after.Canonical))
	require.Len(t, after.Set.Periods, 1)
	assert.Equal(t, before.Set.Periods[0].ID, after.Set.Periods[0].ID)
	assert.Equal(t, period.StateSettled, after.Set.Periods[0].State)
	require.Len(t, after.Set.Periods[0].Generations, 1)
	assert.True(t, after.Set.Periods[0].Generations[0].Issued)
}

func TestEngine_AmendmentAfterRestartForksAndResettles(t *testing.T) {
	// GIVEN a settled aggregate and a restart
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)
	f.restart()
	f.pub.reset()

	// WHEN the application amends its report to a longer sick spell
	require.NoError(t, f.registry.Handle(ctx,
		sickReport("rep-2", "inst-1", 10, 11, 12, 13, 14, 17, 18)))

	// THEN the period forked, re-settled, and a corrective diff went out
	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	require.Len(t, view.Set.Periods, 1)
	p := view.Set.Periods[0]
	assert.Equal(t, period.StateSettled, p.State)
	require.Len(t, p.Generations, 2)
	assert.Equal(t, mar(18), p.Range.End)

	diffs := f.pub.diffs()
	require.Len(t, diffs, 1)
	assert.NotEmpty(t, diffs[0].Diff.Diff.Issue)
}

func TestEngine_SchemaVersionMismatchRefusesLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)

	f.store.Corrupt(aggr, engine.SchemaVersion+1)
	f.restart()

	_, err := f.registry.View(ctx, aggr)
	require.ErrorIs(t, err, engine.ErrSchemaVersionMismatch)
}

func TestEngine_HaltedAggregateRefusesEvents(t *testing.T) {
	// GIVEN an aggregate persisted in the halted state
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, engine.Snapshot{
		SchemaVersion: engine.SchemaVersion,
		Key:           aggr,
		Set:           period.NewSet(aggr.ClaimantID, aggr.EmployerID),
		Halted:        true,
		HaltReason:    "settled benefit periods overlap",
		UpdatedAt:     f.clock.Now(),
	}))

	// WHEN any event arrives
	err := f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10))

	// THEN it is refused until an operator intervenes
	require.ErrorIs(t, err, engine.ErrClaimantHalted)
	assert.Empty(t, f.pub.diffs())
}

func TestEngine_UnroutableFactRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No periods exist yet, so a fact naming nothing has nowhere to go.
	err := f.registry.Handle(ctx, incomeEvent("fact-early", 520000))
	require.ErrorIs(t, err, engine.ErrUnroutableFact)

	// A fact naming an unknown period is refused too.
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12)))
	ev := incomeEvent("fact-wrong", 520000)
	ev.PeriodID = "no-such-period"
	err = f.registry.Handle(ctx, ev)
	require.ErrorIs(t, err, engine.ErrUnroutableFact)
}

func TestEngine_FactRoutedByEffectiveDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12, 13, 14)))

	ev := incomeEvent("fact-income", 520000)
	d := mar(11)
	ev.EffectiveDate = &d
	require.NoError(t, f.registry.Handle(ctx, ev))

	view, err := f.registry.View(ctx, aggr)
	require.NoError(t, err)
	assert.Equal(t, period.StateCollectingHistory, view.Set.Periods[0].State)
}

func TestEngine_ReevaluateReissuesStaleNeeds(t *testing.T) {
	// GIVEN a period stuck waiting for the income notice
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Handle(ctx, sickReport("rep-1", "inst-1", 10, 11, 12, 13, 14)))
	f.pub.reset()

	// WHEN a re-evaluation runs before the reissue interval
	require.NoError(t, f.registry.Handle(ctx, &engine.ReevaluateEvent{
		ID: "tick-1", ClaimantID: aggr.ClaimantID, EmployerID: aggr.EmployerID,
	}))

	// THEN the still-fresh request is not repeated
	assert.Empty(t, f.pub.needs())

	// WHEN the request has gone stale
	f.clock.Advance(engine.DefaultReissueAfter + time.Hour)
	require.NoError(t, f.registry.Handle(ctx, &engine.ReevaluateEvent{
		ID: "tick-2", ClaimantID: aggr.ClaimantID, EmployerID: aggr.EmployerID,
	}))

	// THEN it is re-published, marked as a reissue
	needs := f.pub.needs()
	require.Len(t, needs, 1)
	assert.True(t, needs[0].Reissued)
	assert.Equal(t, period.NeedEmployerIncome, needs[0].Need.Kind)
}

func TestEngine_ComplianceTracesFlowOut(t *testing.T) {
	f := newFixture(t)
	settleAggregate(t, f)

	rules := make(map[string]bool)
	for _, tr := range f.pub.traces() {
		rules[tr.Trace.RuleID] = true
	}
	assert.True(t, rules["period.timeline_sliced"])
	assert.True(t, rules["period.payment_lines_computed"])
	assert.True(t, rules["period.payment_diff_dispatched"])
}

func TestEngine_SeparateAggregatesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settleAggregate(t, f)

	other := &engine.SourceReportEvent{
		ID:         "rep-other",
		ClaimantID: "claimant-2",
		EmployerID: "employer-1",
		InstanceID: "inst-other",
		Source:     timeline.SourceApplication,
		ReportedAt: f.clock.Now(),
		Days:       sickWeekdays(10, 11, 12),
	}
	require.NoError(t, f.registry.Handle(ctx, other))

	keys, err := f.registry.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	view, err := f.registry.View(ctx, engine.AggregateKey{ClaimantID: "claimant-2", EmployerID: "employer-1"})
	require.NoError(t, err)
	require.Len(t, view.Set.Periods, 1)
	assert.Equal(t, period.StateCollectingEmployerData, view.Set.Periods[0].State)
}
