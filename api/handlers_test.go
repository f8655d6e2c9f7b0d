/*
handlers_test.go - HTTP tests for the billing API

Tests for:
- Period lifecycle over HTTP (create, charge, link, balance)
- Request validation and error status mapping
- Batch link results
- Lock, delete and audit endpoints
- Authentication and admin-only operations
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-ledger/billing"
	"github.com/warp/fee-ledger/billing/store"
	"github.com/warp/fee-ledger/internal/logging"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	router http.Handler
	svc    *billing.Service
	tokens *TokenManager
}

func newTestAPI(t *testing.T, withAuth bool) *testAPI {
	t.Helper()
	mem := store.NewTxMemory()
	clock := time.Date(2025, time.February, 3, 8, 0, 0, 0, time.UTC)
	svc := billing.NewService(mem, billing.WithClock(func() time.Time { return clock }))
	h := NewHandler(svc, WithLogger(logging.Discard()), WithScenarios(mem))

	cfg := RouterConfig{}
	if withAuth {
		cfg.Tokens = NewTokenManager("test-secret", time.Hour)
	}
	return &testAPI{router: NewRouter(h, cfg), svc: svc, tokens: cfg.Tokens}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "bursar-1")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) createConfig(t *testing.T, term int, amounts ...string) FeeConfigurationDTO {
	t.Helper()
	req := CreateFeeConfigurationRequest{SiteID: "site-1", Name: "Standard", AcademicYear: "2025", AcademicTerm: term, Currency: "ugx"}
	for _, amount := range amounts {
		req.Items = append(req.Items, FeeItemRequest{Description: "Tuition", Category: "tuition", Amount: amount})
	}
	rec := a.do(t, http.MethodPost, "/api/fee-configurations", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[FeeConfigurationDTO](t, rec)
}

func (a *testAPI) createPeriod(t *testing.T, student string, term int, configID string) PeriodDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/periods", CreatePeriodRequest{
		StudentID: student, SiteID: "site-1", AcademicYear: "2025", AcademicTerm: term, FeeConfigurationID: configID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PeriodDTO](t, rec)
}

func (a *testAPI) recordPayment(t *testing.T, student, receipt, amount, status string) PaymentDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/payments", RecordPaymentRequest{
		StudentID: student, SiteID: "site-1", AmountPaid: amount, Status: status,
		AcademicYear: "2025", AcademicTerm: 1, ReceiptNumber: receipt, DatePaid: "2025-02-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PaymentDTO](t, rec)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// PERIOD LIFECYCLE
// =============================================================================

func TestAPI_PeriodLifecycle(t *testing.T) {
	// GIVEN: A fee configuration of 300000 + 100000
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "300000", "100000")
	assert.Equal(t, "UGX", cfg.Currency)
	assertAmount(t, "400000", cfg.Total)

	// WHEN: A period is created, charged 75000 and paid 200000 (confirmed)
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	assert.True(t, p.IsCurrent)
	assert.Equal(t, "bursar-1", p.CreatedBy)

	rec := api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges", AddChargeRequest{
		Particulars: "Bus", Amount: "75000", Category: "Transport",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	charge := decodeBody[ChargeResponse](t, rec)
	assert.Equal(t, billing.CategoryTransport, charge.Charge.Category)
	assert.Equal(t, "bursar-1", charge.Charge.AddedBy)
	assertAmount(t, "475000", charge.Period.CurrentBalance)

	pay := api.recordPayment(t, "stu-1", "R-1", "200000", "confirmed")
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/payments", LinkPaymentsRequest{PaymentIDs: []string{pay.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Balance reflects base + charges - confirmed payments
	rec = api.do(t, http.MethodGet, "/api/students/stu-1/balance?site=site-1&year=2025&term=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal := decodeBody[BalanceDTO](t, rec)
	assertAmount(t, "400000", bal.BaseFeesTotal)
	assertAmount(t, "75000", bal.AddedChargesTotal)
	assertAmount(t, "200000", bal.TotalPaid)
	assertAmount(t, "275000", bal.CurrentBalance)
	assertAmount(t, "0", bal.PreviousArrears)
	assertAmount(t, "275000", bal.TotalOutstanding)
	assert.Equal(t, "UGX", bal.Currency)

	// AND: Amounts travel as decimal strings
	assert.Contains(t, rec.Body.String(), `"current_balance":"275000"`)
}

func TestAPI_PendingPaymentCountsOnceConfirmed(t *testing.T) {
	// GIVEN: A period with a linked pending payment
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "500")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	pay := api.recordPayment(t, "stu-1", "R-1", "200", "")
	assert.Equal(t, "pending", pay.Status)

	rec := api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/payments", LinkPaymentsRequest{PaymentIDs: []string{pay.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, "500", decodeBody[LinkPaymentsResponse](t, rec).Period.CurrentBalance)

	// WHEN: The payment is confirmed
	rec = api.do(t, http.MethodPost, "/api/payments/"+pay.ID+"/status", PaymentStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The period's cached balance drops
	rec = api.do(t, http.MethodGet, "/api/periods/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, "300", decodeBody[PeriodDTO](t, rec).CurrentBalance)

	// AND: An invalid transition is rejected
	rec = api.do(t, http.MethodPost, "/api/payments/"+pay.ID+"/status", PaymentStatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListStudentPeriods(t *testing.T) {
	// GIVEN: Two terms for one student
	api := newTestAPI(t, false)
	cfg1 := api.createConfig(t, 1, "100")
	cfg2 := api.createConfig(t, 2, "100")
	api.createPeriod(t, "stu-1", 2, cfg2.ID)
	api.createPeriod(t, "stu-1", 1, cfg1.ID)

	// WHEN: Listing without a site
	rec := api.do(t, http.MethodGet, "/api/students/stu-1/periods", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// THEN: With a site, periods come back in term order
	rec = api.do(t, http.MethodGet, "/api/students/stu-1/periods?site=site-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	periods := decodeBody[[]PeriodDTO](t, rec)
	require.Len(t, periods, 2)
	assert.Equal(t, 1, periods[0].AcademicTerm)
	assert.Equal(t, 2, periods[1].AcademicTerm)

	// AND: The later term stays current even though term 1 was added afterwards
	assert.False(t, periods[0].IsCurrent)
	assert.True(t, periods[1].IsCurrent)
}

// =============================================================================
// VALIDATION & ERROR MAPPING
// =============================================================================

func TestAPI_ChargeValidation(t *testing.T) {
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "100")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	path := "/api/periods/" + p.ID + "/charges"

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing particulars", AddChargeRequest{Amount: "10", Category: "other"}, "particulars"},
		{"non-numeric amount", AddChargeRequest{Particulars: "x", Amount: "ten", Category: "other"}, "amount"},
		{"zero amount", AddChargeRequest{Particulars: "x", Amount: "0", Category: "other"}, "amount"},
		{"negative amount", AddChargeRequest{Particulars: "x", Amount: "-5", Category: "other"}, "amount"},
		{"unknown category", AddChargeRequest{Particulars: "x", Amount: "5", Category: "bogus"}, "category"},
		{"reversal category", AddChargeRequest{Particulars: "x", Amount: "5", Category: "reversal"}, "category"},
		{"bad date", AddChargeRequest{Particulars: "x", Amount: "5", Category: "other", ChargedDate: "03/02/2025"}, "charged_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Contains(t, resp.Fields, tt.field)
		})
	}

	// AND: The ledger is untouched
	rec := api.do(t, http.MethodGet, "/api/periods/"+p.ID, nil)
	assert.Empty(t, decodeBody[PeriodDTO](t, rec).AdditionalCharges)
}

func TestAPI_RejectsMalformedBodies(t *testing.T) {
	api := newTestAPI(t, false)

	rec := api.do(t, http.MethodPost, "/api/periods", `{"student_id": "s", "surprise": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/periods", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "100")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)

	// Not found
	rec := api.do(t, http.MethodGet, "/api/periods/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Duplicate period
	rec = api.do(t, http.MethodPost, "/api/periods", CreatePeriodRequest{
		StudentID: "stu-1", SiteID: "site-1", AcademicYear: "2025", AcademicTerm: 1, FeeConfigurationID: cfg.ID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Locked
	locked := true
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/lock", LockRequest{Locked: &locked})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges", AddChargeRequest{Particulars: "x", Amount: "5", Category: "other"})
	assert.Equal(t, http.StatusLocked, rec.Code)

	// Unlocking makes the period writable again
	unlocked := false
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/lock", LockRequest{Locked: &unlocked})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges", AddChargeRequest{Particulars: "x", Amount: "5", Category: "other"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_StaleDetailsVersion(t *testing.T) {
	// GIVEN: A period at version 1
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "100")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	notes := "pays in two instalments"

	// WHEN: Details are patched with the current version
	rec := api.do(t, http.MethodPatch, "/api/periods/"+p.ID, UpdateDetailsRequest{Notes: &notes, Version: p.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, notes, decodeBody[PeriodDTO](t, rec).Notes)

	// THEN: Replaying the same version conflicts
	rec = api.do(t, http.MethodPatch, "/api/periods/"+p.ID, UpdateDetailsRequest{Notes: &notes, Version: p.Version})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// BATCH LINKING
// =============================================================================

func TestAPI_LinkPaymentsReportsEachItem(t *testing.T) {
	// GIVEN: A valid payment, a payment of another student and an unknown id
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "1000")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	good := api.recordPayment(t, "stu-1", "R-1", "400", "confirmed")
	other := api.recordPayment(t, "stu-2", "R-2", "100", "confirmed")

	// WHEN: All three are linked in one request
	rec := api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/payments", LinkPaymentsRequest{
		PaymentIDs: []string{good.ID, other.ID, "nope"},
	})

	// THEN: The good one sticks, the others are reported
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[LinkPaymentsResponse](t, rec)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].Linked)
	assert.False(t, resp.Results[1].Linked)
	assert.Equal(t, http.StatusBadRequest, resp.Results[1].Status)
	assert.False(t, resp.Results[2].Linked)
	assert.Equal(t, http.StatusNotFound, resp.Results[2].Status)
	assert.Equal(t, []string{good.ID}, resp.Period.LinkedPayments)
	assertAmount(t, "600", resp.Period.CurrentBalance)

	// AND: Empty batches are rejected up front
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/payments", LinkPaymentsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DuplicateReceipt(t *testing.T) {
	api := newTestAPI(t, false)
	api.recordPayment(t, "stu-1", "R-1", "100", "confirmed")

	rec := api.do(t, http.MethodPost, "/api/payments", RecordPaymentRequest{
		StudentID: "stu-1", SiteID: "site-1", AmountPaid: "50", AcademicYear: "2025", AcademicTerm: 1, ReceiptNumber: "R-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Fields, "receipt_number")
}

// =============================================================================
// CARRY FORWARD / REVERSAL / DELETE / AUDIT
// =============================================================================

func TestAPI_CarryForwardAndDelete(t *testing.T) {
	// GIVEN: Term 1 with 300 unpaid
	api := newTestAPI(t, false)
	cfg1 := api.createConfig(t, 1, "500")
	cfg2 := api.createConfig(t, 2, "500")
	p1 := api.createPeriod(t, "stu-1", 1, cfg1.ID)
	pay := api.recordPayment(t, "stu-1", "R-1", "200", "confirmed")
	api.do(t, http.MethodPost, "/api/periods/"+p1.ID+"/payments", LinkPaymentsRequest{PaymentIDs: []string{pay.ID}})

	// WHEN: Carried into term 2
	rec := api.do(t, http.MethodPost, "/api/periods/"+p1.ID+"/carry-forward", CarryForwardRequest{
		AcademicYear: "2025", AcademicTerm: 2, FeeConfigurationID: cfg2.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p2 := decodeBody[PeriodDTO](t, rec)

	// THEN: Arrears become a fee item on term 2
	assert.Equal(t, p1.ID, p2.CarriedForwardFrom)
	assertAmount(t, "800", p2.BaseFeesTotal)
	var arrears []billing.FeeItem
	for _, item := range p2.FeeItems {
		if item.Category == billing.CategoryArrears {
			arrears = append(arrears, item)
		}
	}
	require.Len(t, arrears, 1)
	assertAmount(t, "300", arrears[0].Amount)

	// AND: The source cannot be deleted while it has a successor
	rec = api.do(t, http.MethodDelete, "/api/periods/"+p1.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: Deleting the successor makes the source current again
	rec = api.do(t, http.MethodDelete, "/api/periods/"+p2.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodGet, "/api/periods/"+p2.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/periods/"+p1.ID, nil)
	restored := decodeBody[PeriodDTO](t, rec)
	assert.True(t, restored.IsCurrent)
	assert.Empty(t, restored.CarriedForwardTo)
}

func TestAPI_ReverseChargeAndAudit(t *testing.T) {
	// GIVEN: A period with one charge
	api := newTestAPI(t, false)
	cfg := api.createConfig(t, 1, "100")
	p := api.createPeriod(t, "stu-1", 1, cfg.ID)
	rec := api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges", AddChargeRequest{Particulars: "Trip", Amount: "40", Category: "activity"})
	require.Equal(t, http.StatusCreated, rec.Code)
	charge := decodeBody[ChargeResponse](t, rec).Charge

	// WHEN: It is reversed
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges/"+charge.ID+"/reverse", ReverseChargeRequest{Reason: "trip cancelled"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decodeBody[ChargeResponse](t, rec)

	// THEN: A negative reversal entry nets the charge out
	assert.Equal(t, charge.ID, rev.Charge.Reverses)
	assertAmount(t, "-40", rev.Charge.Amount)
	assertAmount(t, "100", rev.Period.CurrentBalance)

	// AND: A second reversal is rejected
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/charges/"+charge.ID+"/reverse", ReverseChargeRequest{Reason: "again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// AND: The audit trail can be filtered by action
	rec = api.do(t, http.MethodGet, "/api/periods/"+p.ID+"/audit?action=charge_added,charge_reversed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]billing.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.AuditChargeAdded, entries[0].Action)
	assert.Equal(t, billing.AuditChargeReversed, entries[1].Action)
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestAPI_Rollover(t *testing.T) {
	// GIVEN: Two students with current term 1 periods, one already carried
	api := newTestAPI(t, false)
	cfg1 := api.createConfig(t, 1, "500")
	cfg2 := api.createConfig(t, 2, "500")
	api.createPeriod(t, "stu-1", 1, cfg1.ID)
	api.createPeriod(t, "stu-2", 1, cfg1.ID)

	// WHEN: The site is rolled into term 2
	req := RolloverRequest{SiteID: "site-1", FromYear: "2025", FromTerm: 1, ToYear: "2025", ToTerm: 2, FeeConfigurationID: cfg2.ID}
	rec := api.do(t, http.MethodPost, "/api/admin/rollover", req)

	// THEN: Both students get a term 2 period with 500 arrears
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[RolloverResponse](t, rec)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 0, resp.Failed)
	for _, r := range resp.Results {
		assert.NotEmpty(t, r.TargetPeriodID)
		assertAmount(t, "500", decimal.RequireFromString(r.Arrears))
	}

	// AND: Running it again finds no current term 1 periods
	rec = api.do(t, http.MethodPost, "/api/admin/rollover", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[RolloverResponse](t, rec).Results)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAPI_Auth(t *testing.T) {
	api := newTestAPI(t, true)
	admin, err := api.tokens.Generate("admin-1", RoleAdmin)
	require.NoError(t, err)
	bursar, err := api.tokens.Generate("bursar-9", RoleBursar)
	require.NoError(t, err)

	// No token
	rec := api.do(t, http.MethodGet, "/api/fee-configurations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token
	rec = api.do(t, http.MethodGet, "/api/fee-configurations", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The actor comes from the token, not the X-Actor header
	rec = api.do(t, http.MethodPost, "/api/fee-configurations", CreateFeeConfigurationRequest{
		SiteID: "site-1", Name: "Std", AcademicYear: "2025", AcademicTerm: 1,
		Items: []FeeItemRequest{{Description: "Tuition", Amount: "100"}},
	}, "Authorization", "Bearer "+bursar)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cfg := decodeBody[FeeConfigurationDTO](t, rec)

	rec = api.do(t, http.MethodPost, "/api/periods", CreatePeriodRequest{
		StudentID: "stu-1", SiteID: "site-1", AcademicYear: "2025", AcademicTerm: 1, FeeConfigurationID: cfg.ID,
	}, "Authorization", "Bearer "+bursar)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[PeriodDTO](t, rec)
	assert.Equal(t, "bursar-9", p.CreatedBy)

	// Locking is open to any authenticated user; unlocking is admin-only
	locked, unlocked := true, false
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/lock", LockRequest{Locked: &locked}, "Authorization", "Bearer "+bursar)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/lock", LockRequest{Locked: &unlocked}, "Authorization", "Bearer "+bursar)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/periods/"+p.ID+"/lock", LockRequest{Locked: &unlocked}, "Cookie", authCookie+"="+admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Hard delete is admin-only
	rec = api.do(t, http.MethodDelete, "/api/periods/"+p.ID+"?hard=true", nil, "Authorization", "Bearer "+bursar)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(t, http.MethodDelete, "/api/periods/"+p.ID+"?hard=true", nil, "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Health stays public
	rec = api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenManager_RejectsOtherSecret(t *testing.T) {
	token, err := NewTokenManager("one", time.Hour).Generate("u", RoleAdmin)
	require.NoError(t, err)

	_, err = NewTokenManager("two", time.Hour).Validate(token)
	assert.Error(t, err)

	_, err = NewTokenManager("one", -time.Minute).Validate(mustToken(t, "one", -time.Minute))
	assert.Error(t, err, "expired tokens are rejected")
}

func mustToken(t *testing.T, secret string, lifetime time.Duration) string {
	t.Helper()
	token, err := NewTokenManager(secret, lifetime).Generate("u", RoleAdmin)
	require.NoError(t, err)
	return token
}

// =============================================================================
// METRICS
// =============================================================================

func TestAPI_MetricsExposeOperations(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(t, http.MethodGet, "/api/periods/missing", nil)
	api.createConfig(t, 1, "100")

	rec := api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `billing_operations_total{operation="create_fee_configuration",outcome="ok"} 1`)
	assert.Contains(t, body, "billing_http_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&billing.ValidationError{Field: "f"}, http.StatusBadRequest},
		{billing.PeriodNotFound("x"), http.StatusNotFound},
		{&billing.LockedError{PeriodID: "x"}, http.StatusLocked},
		{&billing.DuplicatePeriodError{}, http.StatusConflict},
		{&billing.ReferentialIntegrityError{}, http.StatusConflict},
		{billing.ErrConcurrentModification, http.StatusConflict},
		{errForbidden, http.StatusForbidden},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
