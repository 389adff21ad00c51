/*
facts.go - Collected facts and their invalidation semantics

PURPOSE:
  Facts are the external inputs a period gathers before it can calculate:
  the employer's income notice (wage basis, refund agreement, possibly a
  corrected qualifying date), the national-insurance wage history, overlap
  notices about incompatible concurrent benefits, and manual approvals.

IDEMPOTENCE:
  Facts carry stable ids; adding the same id twice is a no-op. Replaying a
  fact stream therefore never double-counts.

INVALIDATION:
  A fact invalidates a generation when the generation has already computed
  results the fact would change. The machine decides that with
  Invalidates(); the period responds by forking, never by editing.
*/
package period

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// FACT - One externally supplied input
// =============================================================================

type FactKind string

const (
	FactEmployerIncome FactKind = "employer_income"
	FactWageHistory    FactKind = "wage_history"
	FactBenefitOverlap FactKind = "benefit_overlap"
	FactApproval       FactKind = "approval"
)

type Fact struct {
	ID         string    `json:"id"`
	Kind       FactKind  `json:"kind"`
	ReceivedAt time.Time `json:"received_at"`

	// Employer income notice payload.
	WageBasis       decimal.Decimal `json:"wage_basis,omitempty"`
	RefundAgreement bool            `json:"refund_agreement,omitempty"`
	QualifyingDate  *timeline.Date  `json:"qualifying_date,omitempty"`

	// Wage history payload.
	HistoricalBasis decimal.Decimal `json:"historical_basis,omitempty"`

	// Benefit overlap payload.
	OverlapBenefit    string `json:"overlap_benefit,omitempty"`
	OverlapCompatible bool   `json:"overlap_compatible,omitempty"`

	// Approval payload.
	ApprovedBy string `json:"approved_by,omitempty"`
}

// =============================================================================
// FACT SET - Idempotent, append-only collection
// =============================================================================

type FactSet struct {
	facts []Fact
	ids   map[string]bool
}

func NewFactSet() *FactSet {
	return &FactSet{ids: make(map[string]bool)}
}

// Add appends a fact. Returns false (and changes nothing) if the id is
// already present.
func (fs *FactSet) Add(f Fact) bool {
	if fs.ids[f.ID] {
		return false
	}
	fs.ids[f.ID] = true
	fs.facts = append(fs.facts, f)
	return true
}

func (fs *FactSet) Has(kind FactKind) bool {
	for _, f := range fs.facts {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Latest returns the most recently received fact of a kind. When a
// correction supersedes an earlier notice, the latest one governs the
// calculation; the earlier one stays in the set for audit.
func (fs *FactSet) Latest(kind FactKind) (Fact, bool) {
	var (
		best  Fact
		found bool
	)
	for _, f := range fs.facts {
		if f.Kind != kind {
			continue
		}
		if !found || f.ReceivedAt.After(best.ReceivedAt) {
			best, found = f, true
		}
	}
	return best, found
}

// All returns the facts in insertion order.
func (fs *FactSet) All() []Fact {
	out := make([]Fact, len(fs.facts))
	copy(out, fs.facts)
	return out
}

func (fs *FactSet) Len() int { return len(fs.facts) }

// Clone deep-copies the set. Forking a generation clones the collected
// facts so the frozen generation's inputs stay frozen with it.
func (fs *FactSet) Clone() *FactSet {
	c := NewFactSet()
	for _, f := range fs.facts {
		c.Add(f)
	}
	return c
}

// MarshalJSON flattens the set to its insertion-ordered facts; the id
// index is rebuilt on load.
func (fs *FactSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.facts)
}

func (fs *FactSet) UnmarshalJSON(b []byte) error {
	var facts []Fact
	if err := json.Unmarshal(b, &facts); err != nil {
		return err
	}
	rebuilt := NewFactSet()
	for _, f := range facts {
		rebuilt.Add(f)
	}
	*fs = *rebuilt
	return nil
}

// Invalidates reports whether a newly arrived fact would change a
// generation's already-computed result: an income or history correction
// changes the economic basis; an overlap notice can reject the period; an
// approval never invalidates (it only unblocks).
func (f Fact) Invalidates() bool {
	switch f.Kind {
	case FactEmployerIncome, FactWageHistory, FactBenefitOverlap:
		return true
	default:
		return false
	}
}
