/*
segment.go - Cutting the canonical timeline into benefit periods

PURPOSE:
  A benefit period is a maximal contiguous span of entitlement-relevant
  days. Two relevant days belong to the same period when fewer than
  minGapDays non-relevant days separate them.

STABILITY:
  Segmentation is a pure scan in date order. Resegmenting an unchanged
  timeline yields identical ranges; period identity upstream depends on it.

SEE ALSO:
  - period: attaches lifecycle state to the ranges produced here
*/
package timeline

// Segment partitions the canonical timeline into benefit period ranges.
// minGapDays is the minimum run of consecutive non-relevant days that
// separates two periods; it must be at least 1.
//
// The returned ranges are ordered, non-overlapping and start/end on
// entitlement-relevant days. A violation of that contract is returned as
// ErrOverlappingSegments and must halt the claimant: it indicates a logic
// defect, not bad data.
func Segment(canonical Timeline, minGapDays int) ([]DateRange, error) {
	if minGapDays < 1 {
		return nil, ErrInvalidRange
	}

	var (
		ranges  []DateRange
		open    bool
		start   Date
		lastHit Date
	)

	for _, rec := range canonical.Days() {
		if !rec.Kind.EntitlementRelevant() {
			continue
		}
		if !open {
			start, lastHit = rec.Date, rec.Date
			open = true
			continue
		}
		// Gap is the count of days strictly between two relevant days.
		if DaysBetween(lastHit, rec.Date)-1 >= minGapDays {
			ranges = append(ranges, DateRange{Start: start, End: lastHit})
			start = rec.Date
		}
		lastHit = rec.Date
	}
	if open {
		ranges = append(ranges, DateRange{Start: start, End: lastHit})
	}

	for i := 1; i < len(ranges); i++ {
		if ranges[i].Overlaps(ranges[i-1]) || !ranges[i].Start.After(ranges[i-1].End) {
			return nil, ErrOverlappingSegments
		}
	}
	return ranges, nil
}
