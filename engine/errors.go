/*
errors.go - Engine error taxonomy

PURPOSE:
  Classifies everything that can go wrong while processing an event into
  three families with different handling:

  1. Invalid input (malformed event, duplicate dates in one report,
     unroutable fact): reject the event, aggregate state unchanged.
  2. Missing data: not an error at all; the period parks in a waiting
     state and a need request goes out.
  3. Invariant violation (settled overlap, cascade cycle, illegal
     transition, overlapping segments): the aggregate halts. No further
     events are accepted until an operator intervenes.
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

var (
	// ErrClaimantHalted is returned for every event addressed to an
	// aggregate that previously hit an invariant violation.
	ErrClaimantHalted = errors.New("claimant halted after invariant violation")

	// ErrUnknownEventType is returned for event types the processor has
	// no handler for.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnroutableFact is returned when a fact names no period and none
	// can be inferred.
	ErrUnroutableFact = errors.New("fact cannot be routed to a period")

	// ErrSnapshotNotFound is returned by snapshot stores for aggregates
	// that were never persisted.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSchemaVersionMismatch is returned when a stored snapshot was
	// written under a different schema version.
	ErrSchemaVersionMismatch = errors.New("snapshot schema version mismatch")
)

// SchemaVersionError reports the stored and expected versions.
type SchemaVersionError struct {
	Stored   int
	Expected int
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("snapshot schema version %d, expected %d", e.Stored, e.Expected)
}

func (e *SchemaVersionError) Unwrap() error { return ErrSchemaVersionMismatch }

// IsInvariantViolation reports whether an error is one of the internal
// consistency failures that must halt the aggregate rather than be
// retried or skipped.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, period.ErrSettledOverlap) ||
		errors.Is(err, period.ErrCascadeCycle) ||
		errors.Is(err, period.ErrInvalidTransition) ||
		errors.Is(err, timeline.ErrOverlappingSegments)
}
