/*
types.go - Benefit periods and their generation history

PURPOSE:
  A BenefitPeriod is one maximal contiguous span of entitlement-relevant
  days for a claimant/employer pairing. It owns an ordered list of
  Generations: immutable snapshots of the facts and computed results as of
  one point in the period's evolution. Only the last generation is live;
  everything before it is frozen for audit and rollback.

CRITICAL INVARIANTS:
  1. A correction NEVER mutates a computed generation; it forks a new one
  2. Settled periods of one pairing never overlap in date range
  3. Generation numbers are dense and ascending; the fork reason and
     triggering fact id are recorded on every generation

SEE ALSO:
  - machine.go: drives the live generation through the states
  - cascade.go: reopening and forward recomputation
*/
package period

import (
	"time"

	"github.com/google/uuid"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// GENERATION - One immutable computed snapshot
// =============================================================================

type ForkReason string

const (
	ForkInitial  ForkReason = "initial"
	ForkNewFact  ForkReason = "invalidating_fact"
	ForkAmended  ForkReason = "timeline_amended"
	ForkReopened ForkReason = "reopened_out_of_order"
	ForkCascade  ForkReason = "cascade_recomputation"
	ForkOverlap  ForkReason = "settled_overlap_resolution"
)

type Generation struct {
	ID          string     `json:"id"`
	Number      int        `json:"number"`
	CreatedAt   time.Time  `json:"created_at"`
	Reason      ForkReason `json:"reason"`
	TriggeredBy string     `json:"triggered_by"`

	// Facts collected so far. Cloned on fork so the frozen generation
	// keeps exactly the inputs it computed from.
	Facts *FactSet `json:"facts"`

	// Computed outputs. Empty until Calculating has run. Effective is
	// the window the timeline was sliced with (the period range, start
	// trimmed to a corrected qualifying date when one applies).
	Effective timeline.DateRange      `json:"effective"`
	Timeline  timeline.Timeline       `json:"timeline"`
	Payment   payment.PaymentTimeline `json:"payment"`

	// Issued marks that this generation's lines were dispatched to the
	// ledger; the next generation diffs against the last issued one.
	Issued bool `json:"issued"`

	// Frozen generations are history; only the last generation is live.
	Frozen bool `json:"frozen"`
}

// =============================================================================
// BENEFIT PERIOD
// =============================================================================

type BenefitPeriod struct {
	ID         string             `json:"id"`
	ClaimantID string             `json:"claimant_id"`
	EmployerID string             `json:"employer_id"`
	Range      timeline.DateRange `json:"range"`

	State   State         `json:"state"`
	Waiting WaitingReason `json:"waiting,omitempty"`

	// RejectionReason is set when State is StateRejected.
	RejectionReason string `json:"rejection_reason,omitempty"`

	// CreatedSeq orders periods by creation for the settled-overlap rule:
	// when a cascade would settle two overlapping periods, the
	// later-created one yields.
	CreatedSeq int       `json:"created_seq"`
	CreatedAt  time.Time `json:"created_at"`

	Generations []*Generation `json:"generations"`
}

// New creates a period with its initial generation in StateStart.
func New(claimantID, employerID string, r timeline.DateRange, seq int, now time.Time, triggerID string) *BenefitPeriod {
	p := &BenefitPeriod{
		ID:         uuid.NewString(),
		ClaimantID: claimantID,
		EmployerID: employerID,
		Range:      r,
		State:      StateStart,
		CreatedSeq: seq,
		CreatedAt:  now,
	}
	p.Generations = append(p.Generations, &Generation{
		ID:          uuid.NewString(),
		Number:      1,
		CreatedAt:   now,
		Reason:      ForkInitial,
		TriggeredBy: triggerID,
		Facts:       NewFactSet(),
	})
	return p
}

// Live returns the current (only non-frozen) generation.
func (p *BenefitPeriod) Live() *Generation {
	return p.Generations[len(p.Generations)-1]
}

// Generation returns a generation by id, for audit reads.
func (p *BenefitPeriod) Generation(id string) (*Generation, bool) {
	for _, g := range p.Generations {
		if g.ID == id {
			return g, true
		}
	}
	return nil, false
}

// LastIssued returns the payment timeline most recently dispatched to the
// ledger, scanning newest-first. The zero timeline means nothing has been
// issued yet.
func (p *BenefitPeriod) LastIssued() payment.PaymentTimeline {
	for i := len(p.Generations) - 1; i >= 0; i-- {
		if p.Generations[i].Issued {
			return p.Generations[i].Payment
		}
	}
	return payment.PaymentTimeline{}
}

// Fork freezes the live generation and appends a fresh one, resetting the
// period to StateStart for recomputation. The new generation inherits a
// clone of the collected facts. Fork is refused on terminal periods.
func (p *BenefitPeriod) Fork(reason ForkReason, triggerID string, now time.Time) (*Generation, error) {
	if p.State.Terminal() {
		return nil, ErrPeriodTerminal
	}

	live := p.Live()
	live.Frozen = true

	next := &Generation{
		ID:          uuid.NewString(),
		Number:      live.Number + 1,
		CreatedAt:   now,
		Reason:      reason,
		TriggeredBy: triggerID,
		Facts:       live.Facts.Clone(),
	}
	p.Generations = append(p.Generations, next)
	p.State = StateStart
	p.Waiting = WaitingNone
	return next, nil
}

// transitionTo validates a move against the state graph and applies it.
func (p *BenefitPeriod) transitionTo(to State) error {
	if !p.State.CanTransitionTo(to) {
		return &InvalidTransitionError{PeriodID: p.ID, From: p.State, To: to}
	}
	p.State = to
	return nil
}

// Settled reports whether the period is settled.
func (p *BenefitPeriod) Settled() bool { return p.State == StateSettled }
