/*
Package period implements the benefit-period lifecycle: the finite-state
machine that drives each contiguous claim period from creation through fact
collection, calculation, approval and payment dispatch, the generation
history that makes every recomputation auditable, and the cascade logic
that propagates retroactive corrections forward without ever looping.

KEY CONCEPTS IN THIS FILE (states.go):
  - State:         the closed state set and its allowed transitions
  - WaitingReason: the externally visible cause a period is blocked

DESIGN PRINCIPLES:
  1. Table-driven transitions: the legal state graph is data, checked on
     every move; an illegal transition is a logic defect, not a condition
  2. Waiting is not an error: a blocked period declares why and resumes
     when the missing fact arrives
  3. History forks forward: no generation is ever edited or deleted

SEE ALSO:
  - types.go:   BenefitPeriod and Generation
  - machine.go: entry actions and advancement
  - cascade.go: forward recomputation after retroactive change
*/
package period

// =============================================================================
// STATE - Lifecycle states and the legal transition graph
// =============================================================================

type State string

const (
	StateStart                  State = "start"
	StateCollectingEmployerData State = "collecting_employer_data"
	StateCollectingHistory      State = "collecting_history"
	StateCalculating            State = "calculating"
	StateAwaitingApproval       State = "awaiting_approval"
	StateReadyForPayment        State = "ready_for_payment"
	StateSettled                State = "settled"
	StateAwaitingExternalReview State = "awaiting_external_review"
	StateRejected               State = "rejected"
)

// transitions is the legal state graph. Forking resets to StateStart from
// any non-terminal state and is validated separately (see Fork).
var transitions = map[State][]State{
	StateStart:                  {StateCollectingEmployerData},
	StateCollectingEmployerData: {StateCollectingHistory},
	StateCollectingHistory:      {StateCalculating},
	StateCalculating:            {StateAwaitingApproval, StateAwaitingExternalReview, StateRejected},
	StateAwaitingApproval:       {StateReadyForPayment},
	StateReadyForPayment:        {StateSettled},
}

// CanTransitionTo reports whether the graph permits moving to the target.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states never advance and never fork.
func (s State) Terminal() bool { return s == StateRejected }

// Stable states stop the advancement loop: the period is either done or
// parked pending something the machine cannot produce itself.
func (s State) Stable() bool {
	switch s {
	case StateSettled, StateRejected, StateAwaitingExternalReview:
		return true
	default:
		return false
	}
}

// =============================================================================
// WAITING REASON - Why a period is blocked
// =============================================================================

type WaitingReason string

const (
	WaitingNone           WaitingReason = ""
	WaitingEmployerIncome WaitingReason = "awaiting_employer_income"
	WaitingWageHistory    WaitingReason = "awaiting_wage_history"
	WaitingApproval       WaitingReason = "awaiting_approval"
	WaitingManualReview   WaitingReason = "awaiting_manual_review"
)

// =============================================================================
// NEEDS - Typed requests for external facts
// =============================================================================

type NeedKind string

const (
	NeedEmployerIncome NeedKind = "request_employer_income"
	NeedWageHistory    NeedKind = "request_wage_history"
)

// Need is an outbound request for a missing fact. Needs are idempotent by
// Key: reissuing one must not create a duplicate outstanding request.
type Need struct {
	Kind       NeedKind `json:"kind"`
	ClaimantID string   `json:"claimant_id"`
	PeriodID   string   `json:"period_id"`
}

func (n Need) Key() string {
	return string(n.Kind) + "/" + n.ClaimantID + "/" + n.PeriodID
}
