/*
builder.go - Day-by-day payment classification and line aggregation

PURPOSE:
  Walks a generation's timeline in date order, classifies each day
  (employer-funded, fund-funded, weekend variants, rejected with reason,
  non-payable), and collapses consecutive same-terms days into lines.

CLASSIFICATION ORDER per payable day:
  1. Statutory waiting period -> rejected
  2. Employer span -> employer-paid (fund-paid under a refund agreement)
  3. Fund span -> fund-paid, until MaxFundDays, then rejected
  4. Fund days with basis below the statutory minimum -> rejected

An incompatible benefit overlap rejects the whole period in the state
machine before any build happens; it never reaches day classification.

Weekend-sick days take the weekend variant of whichever class applies and
consume the same counters as ordinary payable days.

SEE ALSO:
  - types.go: Class, Line, Parameters
  - diff.go:  generation-to-generation deltas
*/
package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/entitlement-engine/timeline"
)

// ErrUndecidedDay is returned when a build encounters an undecided day.
// Undecided days must be routed to external review before money is
// computed; reaching the builder with one is a sequencing defect upstream.
var ErrUndecidedDay = errors.New("cannot build payment timeline over undecided day")

type Builder struct {
	params Parameters
}

func NewBuilder(params Parameters) *Builder {
	return &Builder{params: params}
}

// Build classifies every day of the timeline and aggregates lines.
func (b *Builder) Build(t timeline.Timeline) (PaymentTimeline, error) {
	var (
		lines       []Line
		payableSeen int
		fundSeen    int
		rate        = b.params.DailyRate()
		lowBasis    = b.params.WageBasis.LessThan(b.params.MinimumBasis)
	)

	for _, rec := range t.Days() {
		if rec.Kind == timeline.KindUndecided {
			return PaymentTimeline{}, fmt.Errorf("%w: %s", ErrUndecidedDay, rec.Date)
		}

		var l Line
		if !rec.Kind.Payable() {
			l = Line{
				Range:     timeline.DateRange{Start: rec.Date, End: rec.Date},
				Class:     ClassNonPayable,
				DailyRate: decimal.Zero,
				Degree:    decimal.Zero,
				Payer:     PayerNone,
			}
		} else {
			payableSeen++
			l = b.classifyPayable(rec, payableSeen, &fundSeen, rate, lowBasis)
		}

		if n := len(lines); n > 0 && lines[n-1].SameTerms(l) && lines[n-1].Range.End.AddDays(1).Equal(l.Range.Start) {
			lines[n-1].Range.End = l.Range.End
			continue
		}
		lines = append(lines, l)
	}

	return PaymentTimeline{Lines: lines}, nil
}

func (b *Builder) classifyPayable(rec timeline.DayRecord, payableSeen int, fundSeen *int, rate decimal.Decimal, lowBasis bool) Line {
	l := Line{
		Range:  timeline.DateRange{Start: rec.Date, End: rec.Date},
		Degree: rec.Degree,
	}
	weekend := rec.Kind == timeline.KindWeekendSick

	reject := func(reason RejectReason) Line {
		l.Class = ClassRejected
		l.Payer = PayerNone
		l.Reject = reason
		l.DailyRate = decimal.Zero
		return l
	}

	if payableSeen <= b.params.WaitingDays {
		return reject(RejectWaitingPeriod)
	}

	inEmployerSpan := payableSeen <= b.params.WaitingDays+b.params.EmployerDays
	if inEmployerSpan && !b.params.RefundAgreement {
		l.Class = ClassEmployerPaid
		if weekend {
			l.Class = ClassEmployerPaidWeekend
		}
		l.Payer = PayerEmployer
		l.DailyRate = degreeRate(rate, rec.Degree)
		return l
	}

	// Fund-funded from here on (including employer span under refund).
	*fundSeen++
	if *fundSeen > b.params.MaxFundDays {
		return reject(RejectMaxDuration)
	}
	if lowBasis {
		return reject(RejectInsufficientBasis)
	}

	l.Class = ClassFundPaid
	if weekend {
		l.Class = ClassFundPaidWeekend
	}
	l.Payer = PayerFund
	l.DailyRate = degreeRate(rate, rec.Degree)
	return l
}

func degreeRate(full, degree decimal.Decimal) decimal.Decimal {
	return full.Mul(degree).Div(decimal.NewFromInt(100)).Round(2)
}
