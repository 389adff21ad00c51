package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/store/memory"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	registry := engine.NewRegistry(engine.Config{
		Defaults: payment.DefaultParameters(),
		Store:    memory.New(),
	})
	return api.NewRouter(api.NewHandler(registry, nil, nil))
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sickReportBody(id string, days ...string) api.SourceReportRequest {
	specs := make([]api.DaySpec, len(days))
	for i, d := range days {
		specs[i] = api.DaySpec{Date: d, Kind: "sick"}
	}
	return api.SourceReportRequest{
		ID:         id,
		ClaimantID: "claimant-1",
		EmployerID: "employer-1",
		InstanceID: "notice-1",
		Source:     "sick_leave_notice",
		ReportedAt: time.Date(2025, time.March, 19, 9, 0, 0, 0, time.UTC),
		Days:       specs,
	}
}

func incomeFactBody(id string) api.FactRequest {
	return api.FactRequest{
		ID:              id,
		ClaimantID:      "claimant-1",
		EmployerID:      "employer-1",
		Kind:            "employer_income",
		WageBasis:       decimal.NewFromInt(520000),
		RefundAgreement: true,
	}
}

func historyFactBody(id string) api.FactRequest {
	return api.FactRequest{
		ID:              id,
		ClaimantID:      "claimant-1",
		EmployerID:      "employer-1",
		Kind:            "wage_history",
		HistoricalBasis: decimal.NewFromInt(480000),
	}
}

const claimantBase = "/api/claimants/claimant-1/employer-1"

// =============================================================================
// LIFECYCLE THROUGH THE API
// =============================================================================

func TestInjectedClaimSettlesAndReadsBack(t *testing.T) {
	// GIVEN a sick-leave notice, employer income and wage history injected
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/events/source-reports",
		sickReportBody("rep-1", "2025-03-10", "2025-03-11", "2025-03-12", "2025-03-13", "2025-03-14"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/events/facts", incomeFactBody("income-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/events/facts", historyFactBody("history-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// WHEN reading the claimant back
	status := decode[api.StatusDTO](t, do(t, router, http.MethodGet, claimantBase+"/", nil))
	periods := decode[[]api.PeriodDTO](t, do(t, router, http.MethodGet, claimantBase+"/periods", nil))
	tl := decode[api.TimelineDTO](t, do(t, router, http.MethodGet, claimantBase+"/timeline", nil))
	payments := decode[[]api.PaymentDTO](t, do(t, router, http.MethodGet, claimantBase+"/payment-lines", nil))

	// THEN the period settled and the read side agrees with itself
	assert.Equal(t, 1, status.Periods)
	assert.False(t, status.Halted)

	require.Len(t, periods, 1)
	assert.Equal(t, "settled", periods[0].State)
	assert.Equal(t, "2025-03-10", periods[0].Start)
	assert.Equal(t, "2025-03-14", periods[0].End)

	assert.Len(t, tl.Days, 5)

	require.Len(t, payments, 1)
	assert.Equal(t, periods[0].ID, payments[0].PeriodID)
	assert.NotEmpty(t, payments[0].Lines)
}

func TestPeriodDetailExposesGenerationHistory(t *testing.T) {
	// GIVEN a settled claim
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/api/events/source-reports",
		sickReportBody("rep-1", "2025-03-10", "2025-03-11", "2025-03-12", "2025-03-13", "2025-03-14"))
	do(t, router, http.MethodPost, "/api/events/facts", incomeFactBody("income-1"))
	do(t, router, http.MethodPost, "/api/events/facts", historyFactBody("history-1"))

	periods := decode[[]api.PeriodDTO](t, do(t, router, http.MethodGet, claimantBase+"/periods", nil))
	require.Len(t, periods, 1)

	// WHEN fetching the period detail
	rec := do(t, router, http.MethodGet, claimantBase+"/periods/"+periods[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[api.PeriodDetailDTO](t, rec)

	// THEN the generation history is present and the live one is issued
	require.NotEmpty(t, detail.History)
	live := detail.History[len(detail.History)-1]
	assert.True(t, live.Issued)
	assert.NotEmpty(t, live.Lines)
}

func TestOutstandingNeedsVisibleWhileCollecting(t *testing.T) {
	// GIVEN only a sick-leave notice, no employer facts yet
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/api/events/source-reports",
		sickReportBody("rep-1", "2025-03-10", "2025-03-11", "2025-03-12"))

	// WHEN reading the needs endpoint
	needs := decode[[]api.NeedDTO](t, do(t, router, http.MethodGet, claimantBase+"/needs", nil))

	// THEN the employer income request is outstanding
	require.Len(t, needs, 1)
	assert.Equal(t, "request_employer_income", needs[0].Kind)
	assert.Zero(t, needs[0].Reissues)
}

func TestUnknownClaimantReadsBackEmpty(t *testing.T) {
	// GIVEN nothing injected
	router := newTestRouter(t)

	// WHEN reading a claimant nobody reported on
	rec := do(t, router, http.MethodGet, "/api/claimants/nobody/nowhere/", nil)

	// THEN the status is empty rather than an error
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[api.StatusDTO](t, rec)
	assert.Zero(t, status.Periods)
	assert.False(t, status.Halted)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestMalformedSourceReportRejected(t *testing.T) {
	router := newTestRouter(t)

	// GIVEN a report with an unknown source kind
	body := sickReportBody("rep-1", "2025-03-10")
	body.Source = "carrier_pigeon"

	// WHEN injecting it
	rec := do(t, router, http.MethodPost, "/api/events/source-reports", body)

	// THEN it is rejected before reaching the engine
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedDayKindRejected(t *testing.T) {
	router := newTestRouter(t)

	body := sickReportBody("rep-1", "2025-03-10")
	body.Days[0].Kind = "sleepy"

	rec := do(t, router, http.MethodPost, "/api/events/source-reports", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownFactKindRejected(t *testing.T) {
	router := newTestRouter(t)

	body := incomeFactBody("income-1")
	body.Kind = "horoscope"

	rec := do(t, router, http.MethodPost, "/api/events/facts", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnroutableFactConflicts(t *testing.T) {
	// GIVEN a claimant with no periods at all
	router := newTestRouter(t)

	// WHEN injecting a fact addressed to a period that does not exist
	body := incomeFactBody("income-1")
	body.PeriodID = "bp-ghost"
	rec := do(t, router, http.MethodPost, "/api/events/facts", body)

	// THEN the fact cannot be routed
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownPeriodDetailReturns404(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/api/events/source-reports", sickReportBody("rep-1", "2025-03-10"))

	rec := do(t, router, http.MethodGet, claimantBase+"/periods/bp-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioListAndLoad(t *testing.T) {
	router := newTestRouter(t)

	// GIVEN the scenario catalogue
	list := decode[[]api.ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/", nil))
	require.NotEmpty(t, list)

	// WHEN loading the fresh-claim scenario
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "fresh-claim"})
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN its demo claimant settled
	periods := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-fresh-claim/employer-demo/periods", nil))
	require.Len(t, periods, 1)
	assert.Equal(t, "settled", periods[0].State)
}

func TestScenarioLoadIsIdempotent(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "retroactive-amendment"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-amendment/employer-demo/periods", nil))

	// Loading twice replays the same event IDs, which the engine ignores.
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "retroactive-amendment"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-amendment/employer-demo/periods", nil))

	assert.Equal(t, first, second)
}

func TestUnknownScenarioRejected(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "time-travel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverlapScenarioRejectsClaim(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "benefit-overlap"})
	require.Equal(t, http.StatusOK, rec.Code)

	periods := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-overlap/employer-demo/periods", nil))
	require.Len(t, periods, 1)
	assert.Equal(t, "rejected", periods[0].State)
	assert.Equal(t, "incompatible_benefit_overlap", periods[0].RejectionReason)
}

func TestRetroactiveIncomeScenarioForksAndResettles(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "retroactive-income"})
	require.Equal(t, http.StatusOK, rec.Code)

	periods := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-retro-income/employer-demo/periods", nil))
	require.Len(t, periods, 1)
	assert.Equal(t, "settled", periods[0].State)
	assert.Equal(t, 2, periods[0].Generations)
}

func TestUndecidedScenarioEscalates(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "undecided-escalation"})
	require.Equal(t, http.StatusOK, rec.Code)

	periods := decode[[]api.PeriodDTO](t,
		do(t, router, http.MethodGet, "/api/claimants/scn-undecided/employer-demo/periods", nil))
	require.Len(t, periods, 1)
	assert.Equal(t, "awaiting_external_review", periods[0].State)
	assert.Equal(t, "awaiting_manual_review", periods[0].Waiting)
}

// =============================================================================
// ARCHIVE READS
// =============================================================================

func TestLedgerWithoutArchiveSaysSo(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, claimantBase+"/ledger", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/periods/bp-1/traces", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

// =============================================================================
// RE-EVALUATION
// =============================================================================

func TestReevaluateEndpointAccepted(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/api/events/source-reports", sickReportBody("rep-1", "2025-03-10"))

	rec := do(t, router, http.MethodPost, "/api/events/reevaluate",
		map[string]string{"claimant_id": "claimant-1", "employer_id": "employer-1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
