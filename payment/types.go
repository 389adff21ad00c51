/*
Package payment turns a resolved entitlement timeline into money: it
classifies every day for payment purposes, aggregates runs of identical days
into payment lines, and computes incremental diffs between generations so
the disbursement ledger only ever sees cancellations and issues, never a
full replace.

KEY CONCEPTS IN THIS FILE (types.go):
  - Class:        payment classification of a single day
  - RejectReason: closed enumeration of why a day is not paid
  - Line:         aggregated date range with rate, degree and payer
  - Parameters:   the economic inputs (wage basis, statutory spans)

DESIGN PRINCIPLES:
  1. Derived data: lines are always regenerable from a timeline plus
     parameters; they are never a source of truth
  2. Precision: rates use decimal.Decimal, rounded once at line level
  3. Closed sets: Class and RejectReason are exhaustive enums

SEE ALSO:
  - builder.go: day classification and aggregation
  - diff.go:    cancel/issue deltas between generations
*/
package payment

import (
	"github.com/shopspring/decimal"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// DAY CLASSIFICATION
// =============================================================================

type Class int

const (
	ClassNonPayable Class = iota
	ClassEmployerPaid
	ClassEmployerPaidWeekend
	ClassFundPaid
	ClassFundPaidWeekend
	ClassRejected
)

var classNames = map[Class]string{
	ClassNonPayable:          "non_payable",
	ClassEmployerPaid:        "employer_paid",
	ClassEmployerPaidWeekend: "employer_paid_weekend",
	ClassFundPaid:            "fund_paid",
	ClassFundPaidWeekend:     "fund_paid_weekend",
	ClassRejected:            "rejected",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "non_payable"
}

// Payer identifies who funds a classified day.
type Payer string

const (
	PayerEmployer Payer = "employer"
	PayerFund     Payer = "fund"
	PayerNone     Payer = "none"
)

func (c Class) Payer() Payer {
	switch c {
	case ClassEmployerPaid, ClassEmployerPaidWeekend:
		return PayerEmployer
	case ClassFundPaid, ClassFundPaidWeekend:
		return PayerFund
	default:
		return PayerNone
	}
}

// RejectReason is the closed set of codes for unpaid payable days.
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectInsufficientBasis   RejectReason = "insufficient_basis"
	RejectWaitingPeriod       RejectReason = "statutory_waiting_period"
	RejectMaxDuration         RejectReason = "exceeds_maximum_duration"
	RejectIncompatibleOverlap RejectReason = "incompatible_benefit_overlap"
)

// =============================================================================
// PAYMENT LINE
// =============================================================================

// Line is a run of consecutive days with identical classification, rate,
// degree and rejection reason.
type Line struct {
	Range     timeline.DateRange `json:"range"`
	Class     Class              `json:"class"`
	DailyRate decimal.Decimal    `json:"daily_rate"`
	Degree    decimal.Decimal    `json:"degree"`
	Payer     Payer              `json:"payer"`
	Reject    RejectReason       `json:"reject_reason,omitempty"`
}

// SameTerms reports whether two lines agree on everything but their range.
// Adjacent same-terms days collapse into one line.
func (l Line) SameTerms(other Line) bool {
	return l.Class == other.Class &&
		l.Payer == other.Payer &&
		l.Reject == other.Reject &&
		l.DailyRate.Equal(other.DailyRate) &&
		l.Degree.Equal(other.Degree)
}

// Equal reports full equality including the range.
func (l Line) Equal(other Line) bool {
	return l.Range.Equal(other.Range) && l.SameTerms(other)
}

// PaymentTimeline is the full set of lines computed for one generation.
type PaymentTimeline struct {
	Lines []Line `json:"lines"`
}

// Equal is line-for-line equality in order.
func (p PaymentTimeline) Equal(other PaymentTimeline) bool {
	if len(p.Lines) != len(other.Lines) {
		return false
	}
	for i := range p.Lines {
		if !p.Lines[i].Equal(other.Lines[i]) {
			return false
		}
	}
	return true
}

// =============================================================================
// ECONOMIC PARAMETERS
// =============================================================================

// Parameters carries the economic facts a build needs. They come from
// collected facts (wage basis, refund agreement) and statute (spans).
type Parameters struct {
	// WageBasis is the annual income basis the daily rate derives from.
	WageBasis decimal.Decimal

	// MinimumBasis is the statutory floor; below it fund days are
	// rejected with RejectInsufficientBasis.
	MinimumBasis decimal.Decimal

	// AnnualDivisor converts the annual basis to a daily rate.
	AnnualDivisor decimal.Decimal

	// WaitingDays is the statutory unpaid waiting period at the start of
	// a benefit period, counted in payable days.
	WaitingDays int

	// EmployerDays is the span funded by the employer before the fund
	// takes over, counted in payable days after the waiting period.
	EmployerDays int

	// MaxFundDays caps fund-funded days; beyond it days are rejected
	// with RejectMaxDuration.
	MaxFundDays int

	// RefundAgreement means the fund reimburses the employer from day
	// one: employer-span days are paid by the fund directly.
	RefundAgreement bool
}

// DefaultParameters returns the statutory defaults with no wage basis.
// WageBasis must be filled from collected facts before building.
func DefaultParameters() Parameters {
	return Parameters{
		MinimumBasis:  decimal.NewFromInt(60000),
		AnnualDivisor: decimal.NewFromInt(260),
		WaitingDays:   0,
		EmployerDays:  16,
		MaxFundDays:   248,
	}
}

// DailyRate computes the full-degree daily rate.
func (p Parameters) DailyRate() decimal.Decimal {
	if p.AnnualDivisor.IsZero() {
		return decimal.Zero
	}
	return p.WageBasis.Div(p.AnnualDivisor).Round(2)
}
