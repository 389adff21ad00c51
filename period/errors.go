/*
errors.go - Sentinel errors for the period lifecycle

ERROR CATEGORIES:
  1. Invariant violations (cycle, settled overlap, illegal transition) -
     fatal for the claimant, logged loudly, never worked around
  2. Terminal-state misuse - programming errors surfaced early

SEE ALSO:
  - engine/errors.go: maps these into the external taxonomy
*/
package period

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an advancement step attempts
	// a move the state graph forbids. Always a logic defect.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCascadeCycle is returned when a cascade pass would recompute a
	// period it already recomputed. Cascades run strictly forward; a
	// cycle indicates a logic defect and halts the claimant.
	ErrCascadeCycle = errors.New("cascade revisited a period")

	// ErrSettledOverlap is returned when overlap resolution cannot
	// converge: two settled periods for the same pairing still overlap
	// after the later one was forced back into recomputation.
	ErrSettledOverlap = errors.New("settled periods overlap")

	// ErrPeriodTerminal is returned when a caller tries to fork or
	// advance a rejected period.
	ErrPeriodTerminal = errors.New("period is terminal")
)

// InvalidTransitionError carries the offending edge.
type InvalidTransitionError struct {
	PeriodID string
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("period %s: invalid transition %s -> %s", e.PeriodID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// CascadeCycleError carries enough to diagnose the loop.
type CascadeCycleError struct {
	PeriodID string
	Visited  []string
}

func (e *CascadeCycleError) Error() string {
	return fmt.Sprintf("cascade revisited period %s (visited: %v)", e.PeriodID, e.Visited)
}

func (e *CascadeCycleError) Unwrap() error { return ErrCascadeCycle }
