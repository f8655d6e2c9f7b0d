/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	billing data for demos. Each scenario creates fee configurations,
	billing periods, charges and payments that demonstrate one feature.

AVAILABLE SCENARIOS:

	new-term:        One student billed for a term, partly paid
	arrears:         Term 1 left unpaid, locked, carried into term 2
	overpayment:     Payment exceeding the bill (credit balance)
	site-rollover:   Several students ready for an admin rollover

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create fee configurations
 3. Create billing periods
 4. Add charges, record and link payments
 5. Optionally lock and carry forward

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "arrears"}

NOTE:

	Scenarios reset the store. Only mounted when scenarios are enabled
	(development by default).

SEE ALSO:
  - handlers.go: billing handlers
  - billing/service.go: every scenario goes through the service
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/warp/fee-ledger/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	demoSite  = "kampala-main"
	demoYear  = "2025/2026"
	demoActor = "demo-bursar"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "new-term",
		Name:        "New Term",
		Description: "Student billed for term 1 with a transport charge and one confirmed payment",
	},
	{
		ID:          "arrears",
		Name:        "Arrears Carried Forward",
		Description: "Term 1 balance left unpaid, period locked and carried into term 2 as arrears",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment",
		Description: "Confirmed payments exceed the bill; the balance is a credit",
	},
	{
		ID:          "site-rollover",
		Name:        "Site Rollover",
		Description: "Three students at one site with different balances, ready for a term rollover",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"new-term":      (*Handler).loadNewTermScenario,
	"arrears":       (*Handler).loadArrearsScenario,
	"overpayment":   (*Handler).loadOverpaymentScenario,
	"site-rollover": (*Handler).loadSiteRolloverScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeServiceError(w, r, &billing.ValidationError{Field: "scenario_id", Message: "unknown scenario " + req.ScenarioID})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.resetter.Reset(ctx); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", slog.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetter.Reset(r.Context()); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewTermScenario(ctx context.Context) error {
	cfg, err := h.demoConfig(ctx, 1)
	if err != nil {
		return err
	}
	p, err := h.demoPeriod(ctx, "stu-001", cfg.ID, 1)
	if err != nil {
		return err
	}
	if _, _, err := h.svc.AddCharge(ctx, p.ID, billing.ChargeInput{
		Particulars: "School bus, term 1",
		Amount:      billing.MustParseAmount("150000"),
		Category:    billing.CategoryTransport,
		AddedBy:     demoActor,
	}); err != nil {
		return err
	}
	return h.demoPayment(ctx, p.ID, "stu-001", 1, "RCT-1001", "600000", billing.PaymentConfirmed)
}

func (h *Handler) loadArrearsScenario(ctx context.Context) error {
	term1, err := h.demoConfig(ctx, 1)
	if err != nil {
		return err
	}
	term2, err := h.demoConfig(ctx, 2)
	if err != nil {
		return err
	}

	p, err := h.demoPeriod(ctx, "stu-002", term1.ID, 1)
	if err != nil {
		return err
	}
	if _, _, err := h.svc.AddCharge(ctx, p.ID, billing.ChargeInput{
		Particulars: "Science kit",
		Amount:      billing.MustParseAmount("75000"),
		Category:    billing.CategoryMaterials,
		AddedBy:     demoActor,
	}); err != nil {
		return err
	}
	if err := h.demoPayment(ctx, p.ID, "stu-002", 1, "RCT-2001", "400000", billing.PaymentConfirmed); err != nil {
		return err
	}
	// A pending payment never reduces the balance.
	if err := h.demoPayment(ctx, p.ID, "stu-002", 1, "RCT-2002", "100000", billing.PaymentPending); err != nil {
		return err
	}
	if _, err := h.svc.SetLock(ctx, p.ID, demoActor, true); err != nil {
		return err
	}
	_, err = h.svc.CarryForward(ctx, billing.CarryForwardInput{
		SourcePeriodID:     p.ID,
		AcademicYear:       demoYear,
		AcademicTerm:       2,
		FeeConfigurationID: term2.ID,
		Actor:              demoActor,
	})
	return err
}

func (h *Handler) loadOverpaymentScenario(ctx context.Context) error {
	cfg, err := h.demoConfig(ctx, 1)
	if err != nil {
		return err
	}
	p, err := h.demoPeriod(ctx, "stu-003", cfg.ID, 1)
	if err != nil {
		return err
	}
	if err := h.demoPayment(ctx, p.ID, "stu-003", 1, "RCT-3001", "500000", billing.PaymentConfirmed); err != nil {
		return err
	}
	return h.demoPayment(ctx, p.ID, "stu-003", 1, "RCT-3002", "120000", billing.PaymentConfirmed)
}

func (h *Handler) loadSiteRolloverScenario(ctx context.Context) error {
	term1, err := h.demoConfig(ctx, 1)
	if err != nil {
		return err
	}
	if _, err := h.demoConfig(ctx, 2); err != nil {
		return err
	}

	students := []struct {
		id      string
		receipt string
		paid    string
	}{
		{"stu-101", "RCT-5101", "500000"}, // settled
		{"stu-102", "RCT-5102", "200000"}, // owes 300000
		{"stu-103", "", ""},               // nothing paid
	}
	for _, s := range students {
		p, err := h.demoPeriod(ctx, s.id, term1.ID, 1)
		if err != nil {
			return err
		}
		if s.receipt == "" {
			continue
		}
		if err := h.demoPayment(ctx, p.ID, s.id, 1, s.receipt, s.paid, billing.PaymentConfirmed); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *Handler) demoConfig(ctx context.Context, term int) (*billing.FeeConfiguration, error) {
	return h.svc.CreateFeeConfiguration(ctx, billing.FeeConfigurationInput{
		SiteID:       demoSite,
		Name:         fmt.Sprintf("Primary fees %s term %d", demoYear, term),
		AcademicYear: demoYear,
		AcademicTerm: term,
		Currency:     billing.DefaultCurrency,
		Items: []billing.FeeItem{
			{Description: "Tuition", Category: billing.CategoryTuition, Amount: billing.MustParseAmount("400000")},
			{Description: "Meals", Category: billing.CategoryMeals, Amount: billing.MustParseAmount("80000")},
			{Description: "Library", Category: billing.CategoryLibrary, Amount: billing.MustParseAmount("20000")},
		},
	})
}

func (h *Handler) demoPeriod(ctx context.Context, studentID, configID string, term int) (*billing.Period, error) {
	due := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 4*(term-1), 0)
	return h.svc.CreatePeriod(ctx, billing.CreatePeriodInput{
		Key: billing.PeriodKey{
			StudentID:    studentID,
			SiteID:       demoSite,
			AcademicYear: demoYear,
			AcademicTerm: term,
		},
		FeeConfigurationID: configID,
		Actor:              demoActor,
		PaymentDueDate:     &due,
	})
}

func (h *Handler) demoPayment(ctx context.Context, periodID, studentID string, term int, receipt, amount string, status billing.PaymentStatus) error {
	pay, err := h.svc.RecordPayment(ctx, billing.PaymentInput{
		StudentID:     studentID,
		SiteID:        demoSite,
		AmountPaid:    billing.MustParseAmount(amount),
		Status:        status,
		AcademicYear:  demoYear,
		AcademicTerm:  term,
		ReceiptNumber: receipt,
		Method:        "mobile_money",
		RecordedBy:    demoActor,
	})
	if err != nil {
		return err
	}
	_, err = h.svc.LinkPayment(ctx, periodID, pay.ID, demoActor)
	return err
}
