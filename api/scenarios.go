/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built event sequences that drive the engine into
	interesting states for demos. Each scenario injects source reports and
	collected facts for a dedicated demo claimant, so the whole lifecycle
	is visible through the read-side endpoints afterwards.

AVAILABLE SCENARIOS:

	fresh-claim:            Report, income, history, settlement
	conflicting-reports:    Two sources disagree about one day
	retroactive-amendment:  Settled period reopened by an amended notice
	retroactive-income:     Corrected qualifying date reopens a settled period
	undecided-escalation:   Equal-rank conflict escalates to external review
	benefit-overlap:        Incompatible overlapping benefit rejects the claim

HOW SCENARIOS WORK:
 1. Each scenario owns a demo claimant (scn-<id>/employer-demo)
 2. Events carry fixed IDs, so re-loading a scenario is a no-op
 3. Events flow through the registry exactly like bus traffic

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "retroactive-amendment"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - engine/processor.go: What each injected event triggers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-claim",
		Name:        "Fresh Claim",
		Description: "Sick-leave notice, employer income, wage history, settlement",
	},
	{
		ID:          "conflicting-reports",
		Name:        "Conflicting Reports",
		Description: "Application and physician notice disagree about one day",
	},
	{
		ID:          "retroactive-amendment",
		Name:        "Retroactive Amendment",
		Description: "Amended notice extends a settled period, forcing a corrective diff",
	},
	{
		ID:          "retroactive-income",
		Name:        "Retroactive Income Correction",
		Description: "Corrected income notice shifts the qualifying date of a settled period",
	},
	{
		ID:          "undecided-escalation",
		Name:        "Undecided Escalation",
		Description: "Equal-rank conflict leaves a day undecided and escalates the period",
	},
	{
		ID:          "benefit-overlap",
		Name:        "Benefit Overlap",
		Description: "Incompatible overlapping national-insurance benefit rejects the claim",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs a predefined event sequence against its demo claimant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "fresh-claim":
		err = h.loadFreshClaimScenario(ctx)
	case "conflicting-reports":
		err = h.loadConflictingReportsScenario(ctx)
	case "retroactive-amendment":
		err = h.loadRetroactiveAmendmentScenario(ctx)
	case "retroactive-income":
		err = h.loadRetroactiveIncomeScenario(ctx)
	case "undecided-escalation":
		err = h.loadUndecidedEscalationScenario(ctx)
	case "benefit-overlap":
		err = h.loadBenefitOverlapScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO HELPERS
// =============================================================================

const demoEmployer = "employer-demo"

var demoReportedAt = time.Date(2025, time.March, 19, 9, 0, 0, 0, time.UTC)

func demoDate(day int) timeline.Date {
	return timeline.NewDate(2025, time.March, day)
}

func demoDays(kind timeline.DayKind, source timeline.SourceKind, days ...int) []timeline.DayRecord {
	out := make([]timeline.DayRecord, 0, len(days))
	for _, d := range days {
		out = append(out, timeline.NewDayRecord(demoDate(d), kind, timeline.FullDegree, source, demoReportedAt))
	}
	return out
}

func (h *Handler) inject(ctx context.Context, evs ...engine.Event) error {
	for _, ev := range evs {
		if err := h.Registry.Handle(ctx, ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.EventID(), err)
		}
	}
	return nil
}

func demoReport(id, claimant, instance string, source timeline.SourceKind, days []timeline.DayRecord) *engine.SourceReportEvent {
	return &engine.SourceReportEvent{
		ID:         id,
		ClaimantID: claimant,
		EmployerID: demoEmployer,
		InstanceID: instance,
		Source:     source,
		ReportedAt: demoReportedAt,
		Days:       days,
	}
}

func demoFact(id, claimant string, f period.Fact) *engine.FactReceivedEvent {
	f.ID = id
	f.ReceivedAt = demoReportedAt.Add(time.Hour)
	return &engine.FactReceivedEvent{
		ID:         id,
		ClaimantID: claimant,
		EmployerID: demoEmployer,
		Fact:       f,
	}
}

func demoIncome(id, claimant string) *engine.FactReceivedEvent {
	return demoFact(id, claimant, period.Fact{
		Kind:            period.FactEmployerIncome,
		WageBasis:       decimal.NewFromInt(520000),
		RefundAgreement: true,
	})
}

func demoHistory(id, claimant string) *engine.FactReceivedEvent {
	return demoFact(id, claimant, period.Fact{
		Kind:            period.FactWageHistory,
		HistoricalBasis: decimal.NewFromInt(480000),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFreshClaimScenario(ctx context.Context) error {
	claimant := "scn-fresh-claim"
	return h.inject(ctx,
		demoReport("scn-fresh-rep-1", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindSick, timeline.SourceSickLeaveNotice, 10, 11, 12, 13, 14)),
		demoIncome("scn-fresh-income-1", claimant),
		demoHistory("scn-fresh-history-1", claimant),
	)
}

func (h *Handler) loadConflictingReportsScenario(ctx context.Context) error {
	claimant := "scn-conflict"
	// The claimant's application says sick all week. The physician notice
	// says Wednesday was a working day, and notices outrank applications.
	return h.inject(ctx,
		demoReport("scn-conflict-rep-1", claimant, "application-1", timeline.SourceApplication,
			demoDays(timeline.KindSick, timeline.SourceApplication, 10, 11, 12, 13, 14)),
		demoReport("scn-conflict-rep-2", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindWorking, timeline.SourceSickLeaveNotice, 12)),
		demoIncome("scn-conflict-income-1", claimant),
		demoHistory("scn-conflict-history-1", claimant),
	)
}

func (h *Handler) loadRetroactiveAmendmentScenario(ctx context.Context) error {
	claimant := "scn-amendment"
	if err := h.inject(ctx,
		demoReport("scn-amend-rep-1", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindSick, timeline.SourceSickLeaveNotice, 10, 11, 12, 13, 14)),
		demoIncome("scn-amend-income-1", claimant),
		demoHistory("scn-amend-history-1", claimant),
	); err != nil {
		return err
	}
	// Same notice instance, amended after settlement: the sick leave
	// actually ran into the following week.
	return h.inject(ctx,
		demoReport("scn-amend-rep-2", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindSick, timeline.SourceSickLeaveNotice, 10, 11, 12, 13, 14, 17, 18)),
	)
}

func (h *Handler) loadRetroactiveIncomeScenario(ctx context.Context) error {
	claimant := "scn-retro-income"
	if err := h.inject(ctx,
		demoReport("scn-retro-rep-1", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindSick, timeline.SourceSickLeaveNotice, 10, 11, 12, 13, 14)),
		demoIncome("scn-retro-income-1", claimant),
		demoHistory("scn-retro-history-1", claimant),
	); err != nil {
		return err
	}
	// The employer corrects the qualifying date after settlement: the
	// first two days were already paid in full by the employer.
	qd := demoDate(12)
	return h.inject(ctx,
		demoFact("scn-retro-income-2", claimant, period.Fact{
			Kind:            period.FactEmployerIncome,
			WageBasis:       decimal.NewFromInt(520000),
			RefundAgreement: true,
			QualifyingDate:  &qd,
		}),
	)
}

func (h *Handler) loadUndecidedEscalationScenario(ctx context.Context) error {
	claimant := "scn-undecided"
	// Vacation versus self-certified sick is an equal-rank conflict the
	// precedence table cannot break, so Tuesday stays undecided.
	return h.inject(ctx,
		demoReport("scn-undecided-rep-1", claimant, "application-1", timeline.SourceApplication,
			append(
				demoDays(timeline.KindSelfCertified, timeline.SourceApplication, 10, 12, 13, 14),
				demoDays(timeline.KindVacation, timeline.SourceApplication, 11)...,
			)),
		demoReport("scn-undecided-rep-2", claimant, "income-1", timeline.SourceIncomeNotice,
			demoDays(timeline.KindSelfCertified, timeline.SourceIncomeNotice, 11)),
		demoIncome("scn-undecided-income-1", claimant),
		demoHistory("scn-undecided-history-1", claimant),
	)
}

func (h *Handler) loadBenefitOverlapScenario(ctx context.Context) error {
	claimant := "scn-overlap"
	// The overlap notice lands before the employer facts; the rejection
	// fires once the period reaches calculation.
	return h.inject(ctx,
		demoReport("scn-overlap-rep-1", claimant, "notice-1", timeline.SourceSickLeaveNotice,
			demoDays(timeline.KindSick, timeline.SourceSickLeaveNotice, 10, 11, 12, 13, 14)),
		demoFact("scn-overlap-fact-1", claimant, period.Fact{
			Kind:           period.FactBenefitOverlap,
			OverlapBenefit: "work_assessment_allowance",
		}),
		demoIncome("scn-overlap-income-1", claimant),
		demoHistory("scn-overlap-history-1", claimant),
	)
}
