/*
machine.go - State entry actions and advancement

PURPOSE:
  Advance drives one period's live generation as far as the available
  facts allow: each iteration runs the current state's entry action, which
  either transitions forward, parks the period with a waiting reason (and
  the needs to emit), or lands in a stable state.

RE-ENTRANCY:
  Every entry action is idempotent. Re-running Advance after a replayed
  fact recomputes the same slices and the same lines; nothing is appended
  twice because payment dispatch goes through the generation's Issued flag
  and the diff against the last issued lines.

FAILURE SEMANTICS:
  - Missing facts      -> waiting state + typed need, not an error
  - Hard rule violation -> StateRejected with a reason code
  - No unique outcome   -> StateAwaitingExternalReview (manual resolution)
  - Broken state graph  -> error (invariant violation, halts the claimant)

SEE ALSO:
  - states.go: the legal transition graph
  - cascade.go: multi-period orchestration on top of Advance
*/
package period

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// MACHINE
// =============================================================================

type Machine struct {
	// Defaults carries the statutory economic parameters; wage basis and
	// refund agreement are filled in per period from collected facts.
	Defaults payment.Parameters

	// RequireApproval gates ReadyForPayment behind an approval fact.
	RequireApproval bool

	Log *slog.Logger
	Now func() time.Time
}

func NewMachine(defaults payment.Parameters, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		Defaults: defaults,
		Log:      log.With(slog.String("component", "period-machine")),
		Now:      time.Now,
	}
}

// =============================================================================
// RESULT - Everything one advancement pass wants published
// =============================================================================

type StateChange struct {
	PeriodID     string    `json:"period_id"`
	GenerationID string    `json:"generation_id"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	TriggerID    string    `json:"trigger_id"`
	At           time.Time `json:"at"`
}

// Trace is one compliance side-channel entry: which rule justified a
// decision, with enough context for an external collector.
type Trace struct {
	PeriodID     string `json:"period_id"`
	GenerationID string `json:"generation_id"`
	RuleID       string `json:"rule_id"`
	Detail       string `json:"detail,omitempty"`
}

// PeriodDiff is a payment-line delta ready for the disbursement ledger.
type PeriodDiff struct {
	PeriodID     string           `json:"period_id"`
	GenerationID string           `json:"generation_id"`
	Diff         payment.LineDiff `json:"diff"`
}

type Result struct {
	Needs   []Need
	Changes []StateChange
	Diffs   []PeriodDiff
	Traces  []Trace
}

func (r *Result) merge(o *Result) {
	r.Needs = append(r.Needs, o.Needs...)
	r.Changes = append(r.Changes, o.Changes...)
	r.Diffs = append(r.Diffs, o.Diffs...)
	r.Traces = append(r.Traces, o.Traces...)
}

// Rule ids for the compliance side channel.
const (
	rulePeriodSliced      = "period.timeline_sliced"
	ruleQualifyingDate    = "period.qualifying_date_applied"
	ruleOverlapRejected   = "period.incompatible_benefit_overlap"
	ruleUndecidedReview   = "period.undecided_days_escalated"
	ruleNoBasisReview     = "period.unresolvable_wage_basis"
	ruleLinesComputed     = "period.payment_lines_computed"
	ruleLinesDispatched   = "period.payment_diff_dispatched"
	ruleLinesWithdrawn    = "period.issued_lines_withdrawn"
	ruleFactIgnored       = "period.fact_on_terminal_period"
	ruleOverlapForcedBack = "period.settled_overlap_forced_back"
)

// Period rejection reason codes.
const (
	RejectionIncompatibleOverlap = "incompatible_benefit_overlap"
	RejectionFullyOverlapped     = "range_fully_covered_by_earlier_period"
)

// =============================================================================
// ADVANCE
// =============================================================================

// Advance runs entry actions until the period is stable or waiting.
func (m *Machine) Advance(p *BenefitPeriod, canonical timeline.Timeline, triggerID string) (*Result, error) {
	res := &Result{}

	for !p.State.Stable() {
		blocked, err := m.step(p, canonical, triggerID, res)
		if err != nil {
			return res, err
		}
		if blocked {
			break
		}
	}
	return res, nil
}

// step executes one state's entry action. Returns blocked=true when the
// period must wait for an external fact.
func (m *Machine) step(p *BenefitPeriod, canonical timeline.Timeline, triggerID string, res *Result) (bool, error) {
	gen := p.Live()

	switch p.State {
	case StateStart:
		gen.Effective = p.Range
		gen.Timeline = canonical.Slice(p.Range)
		res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: rulePeriodSliced, Detail: p.Range.String()})
		return false, m.move(p, StateCollectingEmployerData, triggerID, res)

	case StateCollectingEmployerData:
		if !gen.Facts.Has(FactEmployerIncome) {
			p.Waiting = WaitingEmployerIncome
			res.Needs = append(res.Needs, Need{Kind: NeedEmployerIncome, ClaimantID: p.ClaimantID, PeriodID: p.ID})
			return true, nil
		}
		p.Waiting = WaitingNone
		return false, m.move(p, StateCollectingHistory, triggerID, res)

	case StateCollectingHistory:
		if !gen.Facts.Has(FactWageHistory) {
			p.Waiting = WaitingWageHistory
			res.Needs = append(res.Needs, Need{Kind: NeedWageHistory, ClaimantID: p.ClaimantID, PeriodID: p.ID})
			return true, nil
		}
		p.Waiting = WaitingNone
		return false, m.move(p, StateCalculating, triggerID, res)

	case StateCalculating:
		return false, m.calculate(p, canonical, triggerID, res)

	case StateAwaitingApproval:
		if m.RequireApproval && !gen.Facts.Has(FactApproval) {
			p.Waiting = WaitingApproval
			return true, nil
		}
		p.Waiting = WaitingNone
		return false, m.move(p, StateReadyForPayment, triggerID, res)

	case StateReadyForPayment:
		return false, m.dispatch(p, triggerID, res)

	default:
		return false, fmt.Errorf("period %s: no entry action for state %s", p.ID, p.State)
	}
}

// calculate re-slices the timeline, validates, builds payment lines.
func (m *Machine) calculate(p *BenefitPeriod, canonical timeline.Timeline, triggerID string, res *Result) error {
	gen := p.Live()

	// Hard rule: an incompatible concurrent benefit rejects the period.
	if overlap, ok := gen.Facts.Latest(FactBenefitOverlap); ok && !overlap.OverlapCompatible {
		p.RejectionReason = RejectionIncompatibleOverlap
		res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleOverlapRejected, Detail: overlap.OverlapBenefit})
		m.withdrawIssued(p, res)
		return m.move(p, StateRejected, triggerID, res)
	}

	// Recompute the slice: the canonical timeline may have changed since
	// StateStart ran. The qualifying date (possibly corrected by the
	// income notice) trims the payable window's start.
	effective := p.Range
	income, _ := gen.Facts.Latest(FactEmployerIncome)
	if income.QualifyingDate != nil && income.QualifyingDate.After(effective.Start) {
		effective.Start = *income.QualifyingDate
		res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleQualifyingDate, Detail: income.QualifyingDate.String()})
	}
	gen.Effective = effective
	gen.Timeline = canonical.Slice(effective)

	// Undecided days are a data-quality signal: park for manual review.
	for _, rec := range gen.Timeline.Days() {
		if rec.Kind == timeline.KindUndecided {
			p.Waiting = WaitingManualReview
			res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleUndecidedReview, Detail: rec.Date.String()})
			return m.move(p, StateAwaitingExternalReview, triggerID, res)
		}
	}

	params := m.Defaults
	params.WageBasis = income.WageBasis
	params.RefundAgreement = income.RefundAgreement
	if params.WageBasis.IsZero() {
		if history, ok := gen.Facts.Latest(FactWageHistory); ok {
			params.WageBasis = history.HistoricalBasis
		}
	}
	if params.WageBasis.IsZero() {
		// No unique valid outcome: neither notice nor history yields a
		// wage basis. Manual resolution required.
		p.Waiting = WaitingManualReview
		res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleNoBasisReview})
		return m.move(p, StateAwaitingExternalReview, triggerID, res)
	}

	built, err := payment.NewBuilder(params).Build(gen.Timeline)
	if err != nil {
		return fmt.Errorf("period %s generation %d: %w", p.ID, gen.Number, err)
	}
	gen.Payment = built
	res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleLinesComputed, Detail: fmt.Sprintf("%d lines", len(built.Lines))})
	return m.move(p, StateAwaitingApproval, triggerID, res)
}

// dispatch diffs against the last issued lines and settles.
func (m *Machine) dispatch(p *BenefitPeriod, triggerID string, res *Result) error {
	gen := p.Live()

	diff := payment.Diff(p.LastIssued(), gen.Payment)
	if !diff.IsEmpty() {
		res.Diffs = append(res.Diffs, PeriodDiff{PeriodID: p.ID, GenerationID: gen.ID, Diff: diff})
		res.Traces = append(res.Traces, Trace{
			PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleLinesDispatched,
			Detail: fmt.Sprintf("cancel %d, issue %d", len(diff.Cancel), len(diff.Issue)),
		})
	}
	gen.Issued = true
	return m.move(p, StateSettled, triggerID, res)
}

// withdrawIssued cancels every line previously dispatched for p. A period
// that is rejected after issuing lines owes the ledger a full cancellation;
// without it the ledger would keep paying a rejected claim.
func (m *Machine) withdrawIssued(p *BenefitPeriod, res *Result) {
	diff := payment.Diff(p.LastIssued(), payment.PaymentTimeline{})
	if diff.IsEmpty() {
		return
	}
	gen := p.Live()
	res.Diffs = append(res.Diffs, PeriodDiff{PeriodID: p.ID, GenerationID: gen.ID, Diff: diff})
	res.Traces = append(res.Traces, Trace{
		PeriodID: p.ID, GenerationID: gen.ID, RuleID: ruleLinesWithdrawn,
		Detail: fmt.Sprintf("cancel %d", len(diff.Cancel)),
	})
	// The live generation becomes the last issued one, with nothing
	// payable, so any later diff starts from an empty ledger.
	gen.Payment = payment.PaymentTimeline{}
	gen.Issued = true
}

func (m *Machine) move(p *BenefitPeriod, to State, triggerID string, res *Result) error {
	from := p.State
	if err := p.transitionTo(to); err != nil {
		return err
	}
	res.Changes = append(res.Changes, StateChange{
		PeriodID:     p.ID,
		GenerationID: p.Live().ID,
		From:         from,
		To:           to,
		TriggerID:    triggerID,
		At:           m.Now(),
	})
	m.Log.Debug("state transition",
		slog.String("period", p.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("trigger", triggerID))
	return nil
}

// computed reports whether the live generation has results a new fact
// could invalidate.
func computed(p *BenefitPeriod) bool {
	switch p.State {
	case StateAwaitingApproval, StateReadyForPayment, StateSettled, StateAwaitingExternalReview:
		return true
	default:
		return false
	}
}
