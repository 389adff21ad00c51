package period_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var reported = time.Date(2025, time.January, 2, 8, 0, 0, 0, time.UTC)

func jan(d int) timeline.Date { return timeline.NewDate(2025, time.January, d) }

func sickTimeline(t *testing.T, from, to int) timeline.Timeline {
	t.Helper()
	var records []timeline.DayRecord
	for d := from; d <= to; d++ {
		date := jan(d)
		kind := timeline.KindSick
		if date.IsWeekend() {
			kind = timeline.KindWeekendSick
		}
		records = append(records, timeline.NewDayRecord(date, kind, timeline.FullDegree, timeline.SourceSickLeaveNotice, reported))
	}
	tl, err := timeline.New(records...)
	require.NoError(t, err)
	return tl
}

func newMachine() *period.Machine {
	return period.NewMachine(payment.DefaultParameters(), nil)
}

func incomeFact(id string, wage int64, at time.Time) period.Fact {
	return period.Fact{ID: id, Kind: period.FactEmployerIncome, ReceivedAt: at, WageBasis: decimal.NewFromInt(wage)}
}

func historyFact(id string, at time.Time) period.Fact {
	return period.Fact{ID: id, Kind: period.FactWageHistory, ReceivedAt: at, HistoricalBasis: decimal.NewFromInt(480000)}
}

func janRange(from, to int) timeline.DateRange {
	return timeline.DateRange{Start: jan(from), End: jan(to)}
}

// settle runs a fresh period all the way to Settled: collect income, then
// history, then advance through calculation and dispatch.
func settle(t *testing.T, m *period.Machine, s *period.Set, p *period.BenefitPeriod, canonical timeline.Timeline) *period.Result {
	t.Helper()
	res, err := m.ApplyFact(s, p, incomeFact("income-"+p.ID, 520000, reported), canonical, "test")
	require.NoError(t, err)
	res2, err := m.ApplyFact(s, p, historyFact("history-"+p.ID, reported), canonical, "test")
	require.NoError(t, err)
	res.Diffs = append(res.Diffs, res2.Diffs...)
	res.Changes = append(res.Changes, res2.Changes...)
	require.Equal(t, period.StateSettled, p.State)
	return res
}

// =============================================================================
// ADVANCEMENT AND WAITING
// =============================================================================

func TestAdvance_BlocksWaitingForEmployerIncome(t *testing.T) {
	// GIVEN: a new period with no facts
	// THEN:  it parks in CollectingEmployerData with a typed need

	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")

	res, err := m.Advance(p, canonical, "ev-1")
	require.NoError(t, err)

	assert.Equal(t, period.StateCollectingEmployerData, p.State)
	assert.Equal(t, period.WaitingEmployerIncome, p.Waiting)
	require.Len(t, res.Needs, 1)
	assert.Equal(t, period.NeedEmployerIncome, res.Needs[0].Kind)
}

func TestAdvance_FactsUnblockThroughToSettled(t *testing.T) {
	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)

	_, err := m.Advance(p, canonical, "ev-1")
	require.NoError(t, err)

	res, err := m.ApplyFact(s, p, incomeFact("income-1", 520000, reported), canonical, "income-1")
	require.NoError(t, err)
	assert.Equal(t, period.StateCollectingHistory, p.State)
	assert.Equal(t, period.WaitingWageHistory, p.Waiting)
	require.Len(t, res.Needs, 1)
	assert.Equal(t, period.NeedWageHistory, res.Needs[0].Kind)

	res, err = m.ApplyFact(s, p, historyFact("history-1", reported), canonical, "history-1")
	require.NoError(t, err)
	assert.Equal(t, period.StateSettled, p.State)
	assert.Equal(t, period.WaitingNone, p.Waiting)

	// First settlement issues lines, no cancellations.
	require.Len(t, res.Diffs, 1)
	assert.Empty(t, res.Diffs[0].Diff.Cancel)
	assert.NotEmpty(t, res.Diffs[0].Diff.Issue)
}

func TestApplyFact_ReplayChangesNothing(t *testing.T) {
	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)
	settle(t, m, s, p, canonical)

	generations := len(p.Generations)
	res, err := m.ApplyFact(s, p, incomeFact("income-"+p.ID, 520000, reported), canonical, "replay")
	require.NoError(t, err)

	assert.Len(t, p.Generations, generations, "replayed fact must not fork")
	assert.Empty(t, res.Diffs)
	assert.Equal(t, period.StateSettled, p.State)
}

// =============================================================================
// REJECTION AND ESCALATION
// =============================================================================

func TestAdvance_IncompatibleOverlapRejects(t *testing.T) {
	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)

	_, err := m.ApplyFact(s, p, incomeFact("income-1", 520000, reported), canonical, "income-1")
	require.NoError(t, err)
	_, err = m.ApplyFact(s, p, period.Fact{ID: "overlap-1", Kind: period.FactBenefitOverlap, ReceivedAt: reported, OverlapBenefit: "work_assessment_allowance"}, canonical, "overlap-1")
	require.NoError(t, err)
	_, err = m.ApplyFact(s, p, historyFact("history-1", reported), canonical, "history-1")
	require.NoError(t, err)

	assert.Equal(t, period.StateRejected, p.State)
	assert.Equal(t, period.RejectionIncompatibleOverlap, p.RejectionReason)

	// Terminal: further facts are ignored.
	res, err := m.ApplyFact(s, p, incomeFact("income-2", 600000, reported), canonical, "income-2")
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Equal(t, period.StateRejected, p.State)
}

func TestApplyFact_OverlapAfterSettlementCancelsIssuedLines(t *testing.T) {
	// GIVEN: a settled period whose lines went to the ledger
	// WHEN:  an incompatible concurrent benefit is reported afterwards
	// THEN:  the period is rejected and every issued line is cancelled

	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)
	settle(t, m, s, p, canonical)
	issued := p.LastIssued().Lines
	require.NotEmpty(t, issued)

	overlap := period.Fact{ID: "overlap-late", Kind: period.FactBenefitOverlap, ReceivedAt: reported.AddDate(0, 0, 30), OverlapBenefit: "work_assessment_allowance"}
	res, err := m.ApplyFact(s, p, overlap, canonical, "overlap-late")
	require.NoError(t, err)

	assert.Equal(t, period.StateRejected, p.State)
	assert.Equal(t, period.RejectionIncompatibleOverlap, p.RejectionReason)
	require.Len(t, res.Diffs, 1)
	assert.Len(t, res.Diffs[0].Diff.Cancel, len(issued))
	assert.Empty(t, res.Diffs[0].Diff.Issue)
	assert.Empty(t, p.LastIssued().Lines, "ledger holds nothing for a rejected period")
}

func TestAdvance_ScenarioD_UndecidedDayEscalates(t *testing.T) {
	// GIVEN: identical precedence and identical timestamp produced an
	//        undecided day in the canonical timeline
	// THEN:  the period reaches AwaitingExternalReview

	m := newMachine()
	records := []timeline.DayRecord{
		timeline.NewDayRecord(jan(6), timeline.KindSick, timeline.FullDegree, timeline.SourceSickLeaveNotice, reported),
		timeline.NewDayRecord(jan(7), timeline.KindUndecided, decimal.Zero, timeline.SourceApplication, reported),
		timeline.NewDayRecord(jan(8), timeline.KindSick, timeline.FullDegree, timeline.SourceSickLeaveNotice, reported),
	}
	canonical, err := timeline.New(records...)
	require.NoError(t, err)

	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(6, 8), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)

	_, err = m.ApplyFact(s, p, incomeFact("income-1", 520000, reported), canonical, "income-1")
	require.NoError(t, err)
	_, err = m.ApplyFact(s, p, historyFact("history-1", reported), canonical, "history-1")
	require.NoError(t, err)

	assert.Equal(t, period.StateAwaitingExternalReview, p.State)
	assert.Equal(t, period.WaitingManualReview, p.Waiting)
}

func TestAdvance_MissingWageBasisEscalates(t *testing.T) {
	m := newMachine()
	canonical := sickTimeline(t, 1, 10)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 10), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)

	_, err := m.ApplyFact(s, p, incomeFact("income-1", 0, reported), canonical, "income-1")
	require.NoError(t, err)
	noBasis := period.Fact{ID: "history-1", Kind: period.FactWageHistory, ReceivedAt: reported}
	_, err = m.ApplyFact(s, p, noBasis, canonical, "history-1")
	require.NoError(t, err)

	assert.Equal(t, period.StateAwaitingExternalReview, p.State)
}

// =============================================================================
// APPROVAL GATE
// =============================================================================

func TestAdvance_ApprovalGateWaitsThenSettles(t *testing.T) {
	m := newMachine()
	m.RequireApproval = true
	canonical := sickTimeline(t, 1, 10)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 10), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)

	_, err := m.ApplyFact(s, p, incomeFact("income-1", 520000, reported), canonical, "income-1")
	require.NoError(t, err)
	_, err = m.ApplyFact(s, p, historyFact("history-1", reported), canonical, "history-1")
	require.NoError(t, err)

	assert.Equal(t, period.StateAwaitingApproval, p.State)
	assert.Equal(t, period.WaitingApproval, p.Waiting)

	_, err = m.ApplyFact(s, p, period.Fact{ID: "approve-1", Kind: period.FactApproval, ReceivedAt: reported, ApprovedBy: "caseworker-7"}, canonical, "approve-1")
	require.NoError(t, err)
	assert.Equal(t, period.StateSettled, p.State)
}

// =============================================================================
// SCENARIO B - Retroactive correction forks and diffs
// =============================================================================

func TestApplyFact_ScenarioB_RetroactiveIncomeForksAndDiffs(t *testing.T) {
	// GIVEN: a settled period covering Jan 1-20
	// WHEN:  a corrected income notice shifts the qualifying date to Jan 6
	// THEN:  a new generation is created, the affected lines are cancelled
	//        and reissued, and the period settles again

	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)
	settle(t, m, s, p, canonical)
	require.Len(t, p.Generations, 1)

	qd := jan(6)
	correction := period.Fact{
		ID: "income-corrected", Kind: period.FactEmployerIncome,
		ReceivedAt:     reported.AddDate(0, 0, 21),
		WageBasis:      decimal.NewFromInt(520000),
		QualifyingDate: &qd,
	}
	res, err := m.ApplyFact(s, p, correction, canonical, "income-corrected")
	require.NoError(t, err)

	// New generation, old one frozen with its results intact.
	require.Len(t, p.Generations, 2)
	assert.True(t, p.Generations[0].Frozen)
	assert.Equal(t, period.ForkReopened, p.Generations[1].Reason)
	assert.Equal(t, period.StateSettled, p.State)

	// Lines for the affected sub-range were diffed, not replaced: the
	// cancellations cover the days before the new qualifying date.
	require.Len(t, res.Diffs, 1)
	diff := res.Diffs[0].Diff
	assert.NotEmpty(t, diff.Cancel)
	assert.NotEmpty(t, diff.Issue)

	// Replaying cancel+issue over the old lines reproduces the new ones.
	replayed := diff.Apply(p.Generations[0].Payment.Lines)
	newLines := p.Generations[1].Payment.Lines
	require.Equal(t, len(newLines), len(replayed))
	for i := range newLines {
		assert.True(t, replayed[i].Equal(newLines[i]))
	}
}

func TestFork_HistoryIsAppendOnly(t *testing.T) {
	m := newMachine()
	canonical := sickTimeline(t, 1, 20)
	s := period.NewSet("claimant-1", "employer-1")
	p := period.New("claimant-1", "employer-1", janRange(1, 20), 1, reported, "ev-1")
	s.Periods = append(s.Periods, p)
	settle(t, m, s, p, canonical)

	firstGen := p.Generations[0]
	firstLines := len(firstGen.Payment.Lines)

	_, err := m.ApplyFact(s, p, incomeFact("income-new", 400000, reported.AddDate(0, 0, 30)), canonical, "income-new")
	require.NoError(t, err)

	// The frozen generation kept its computed lines untouched.
	assert.True(t, firstGen.Frozen)
	assert.Len(t, firstGen.Payment.Lines, firstLines)
	assert.Equal(t, 2, p.Live().Number)
}
