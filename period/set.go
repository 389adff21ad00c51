/*
set.go - All benefit periods for one claimant/employer pairing

PURPOSE:
  The Set is the unit the cascade and the settled-overlap invariant range
  over. Reconcile aligns the set with a fresh segmentation of the canonical
  timeline: new ranges become new periods, shifted ranges update (and fork)
  existing periods, vanished ranges drive a period's lines to cancellation.

SEE ALSO:
  - cascade.go: fact application and forward recomputation
*/
package period

import (
	"sort"

	"github.com/warp/entitlement-engine/timeline"
)

type Set struct {
	ClaimantID string           `json:"claimant_id"`
	EmployerID string           `json:"employer_id"`
	Periods    []*BenefitPeriod `json:"periods"`
	NextSeq    int              `json:"next_seq"`
}

func NewSet(claimantID, employerID string) *Set {
	return &Set{ClaimantID: claimantID, EmployerID: employerID, NextSeq: 1}
}

// Ordered returns the periods sorted by range start (creation order breaks
// ties), which is the canonical processing order.
func (s *Set) Ordered() []*BenefitPeriod {
	out := make([]*BenefitPeriod, len(s.Periods))
	copy(out, s.Periods)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Range.Start.Equal(out[j].Range.Start) {
			return out[i].Range.Start.Before(out[j].Range.Start)
		}
		return out[i].CreatedSeq < out[j].CreatedSeq
	})
	return out
}

func (s *Set) ByID(id string) (*BenefitPeriod, bool) {
	for _, p := range s.Periods {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// FindCovering returns the period whose range contains the date, if any.
func (s *Set) FindCovering(d timeline.Date) (*BenefitPeriod, bool) {
	for _, p := range s.Ordered() {
		if p.Range.Contains(d) {
			return p, true
		}
	}
	return nil, false
}

// CheckSettledOverlap verifies the invariant that settled periods never
// overlap. A violation here is fatal for the claimant.
func (s *Set) CheckSettledOverlap() error {
	settled := make([]*BenefitPeriod, 0, len(s.Periods))
	for _, p := range s.Ordered() {
		if p.Settled() {
			settled = append(settled, p)
		}
	}
	for i := 1; i < len(settled); i++ {
		if settled[i].Range.Overlaps(settled[i-1].Range) {
			return ErrSettledOverlap
		}
	}
	return nil
}
