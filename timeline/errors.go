/*
errors.go - Sentinel errors for the timeline core

PURPOSE:
  All timeline error values in one place. Higher layers (period, engine)
  classify these with errors.Is: a duplicate-date or overlapping-segment
  error from this package is an invariant violation, never a data-quality
  problem, and must halt the affected claimant loudly.

SEE ALSO:
  - engine/errors.go: the full error taxonomy (waiting / rejection /
    escalation / invariant) built on top of these sentinels
*/
package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrDuplicateDate is returned when a timeline is built with two
	// records for the same date. A source timeline instance never carries
	// two opinions about one day.
	ErrDuplicateDate = errors.New("duplicate date in timeline")

	// ErrOverlappingSegments is returned when segmentation would produce
	// overlapping period ranges. This cannot happen with a well-formed
	// timeline and is fatal for the claimant.
	ErrOverlappingSegments = errors.New("segmentation produced overlapping ranges")

	errInvalidDate = errors.New("invalid date literal")
)

// DuplicateDateError carries the offending date for diagnostics.
type DuplicateDateError struct {
	Date   Date
	Source SourceKind
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("duplicate date %s in %s timeline", e.Date, e.Source)
}

func (e *DuplicateDateError) Unwrap() error { return ErrDuplicateDate }
