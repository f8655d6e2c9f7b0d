/*
balance.go - Balance calculation for billing periods

PURPOSE:
  Pure, side-effect-free derivation of a period's totals. Answers
  "how much does this student owe for this term, and from before?"

TOTALS:
  BaseFeesTotal     = Σ FeeItems.Amount
  AddedChargesTotal = Σ AdditionalCharges.Amount   (reversals are negative)
  TotalPaid         = Σ AmountPaid of linked payments with status confirmed
  CurrentBalance    = BaseFeesTotal + AddedChargesTotal - TotalPaid

  CurrentBalance is signed. A negative value is a credit (overpayment);
  display code floors it with Period.DisplayBalance.

  Pending payments are informational, failed and reversed count zero.

ARREARS:
  PreviousArrears  = Σ max(0, CurrentBalance) over earlier periods
  TotalOutstanding = PreviousArrears + max(0, target.CurrentBalance)

  Credits on earlier periods do NOT offset arrears.

EXAMPLE:
  FeeItems [1000], charges [50, 25], confirmed payment 600:
    CurrentBalance = 1000 + 75 - 600 = 475

SEE ALSO:
  - service.go: GetBalance, which chooses which prior periods to pass in
*/
package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TOTALS
// =============================================================================

// Totals are the derived monetary fields of a period.
type Totals struct {
	BaseFeesTotal     decimal.Decimal
	AddedChargesTotal decimal.Decimal
	TotalPaid         decimal.Decimal
	CurrentBalance    decimal.Decimal
}

// ComputeTotals derives totals from the period's items, charges and payments.
// Payments not linked to the period are ignored, so callers may pass a
// superset (e.g. every payment of the student).
func ComputeTotals(p *Period, payments []PaymentRecord) Totals {
	base := decimal.Zero
	for _, item := range p.FeeItems {
		base = base.Add(item.Amount)
	}

	added := decimal.Zero
	for _, c := range p.AdditionalCharges {
		added = added.Add(c.Amount)
	}

	linked := make(map[string]bool, len(p.LinkedPayments))
	for _, id := range p.LinkedPayments {
		linked[id] = true
	}

	paid := decimal.Zero
	for _, pay := range payments {
		if !linked[pay.ID] {
			continue
		}
		if pay.Status == PaymentConfirmed {
			paid = paid.Add(pay.AmountPaid)
		}
		delete(linked, pay.ID) // a payment counts once even if listed twice
	}

	return Totals{
		BaseFeesTotal:     base,
		AddedChargesTotal: added,
		TotalPaid:         paid,
		CurrentBalance:    base.Add(added).Sub(paid),
	}
}

// Apply writes totals into the period's cached fields.
func (t Totals) Apply(p *Period) {
	p.BaseFeesTotal = t.BaseFeesTotal
	p.AddedChargesTotal = t.AddedChargesTotal
	p.TotalPaid = t.TotalPaid
	p.CurrentBalance = t.CurrentBalance
}

// Matches reports whether the period's cached fields equal t.
func (t Totals) Matches(p *Period) bool {
	return t.BaseFeesTotal.Equal(p.BaseFeesTotal) &&
		t.AddedChargesTotal.Equal(p.AddedChargesTotal) &&
		t.TotalPaid.Equal(p.TotalPaid) &&
		t.CurrentBalance.Equal(p.CurrentBalance)
}

// =============================================================================
// ARREARS
// =============================================================================

// ComputeArrears sums the positive balances of earlier periods.
// Callers pass periods strictly before the target; a negative balance
// contributes zero.
func ComputeArrears(prior []*Period) decimal.Decimal {
	arrears := decimal.Zero
	for _, p := range prior {
		arrears = arrears.Add(NonNegative(p.CurrentBalance))
	}
	return arrears
}

// TotalOutstanding adds the target period's positive balance to arrears.
func TotalOutstanding(previousArrears decimal.Decimal, target *Period) decimal.Decimal {
	return previousArrears.Add(NonNegative(target.CurrentBalance))
}

// =============================================================================
// BALANCE SUMMARY - what GetBalance returns
// =============================================================================

// BalanceSummary is the read model for one student's term.
type BalanceSummary struct {
	PeriodID          string
	Key               PeriodKey
	BaseFeesTotal     decimal.Decimal
	AddedChargesTotal decimal.Decimal
	TotalPaid         decimal.Decimal
	CurrentBalance    decimal.Decimal
	PreviousArrears   decimal.Decimal
	TotalOutstanding  decimal.Decimal
	Currency          string
}

// Summarize assembles the balance summary for target given prior periods whose
// totals are already fresh.
func Summarize(target *Period, targetTotals Totals, prior []*Period) BalanceSummary {
	arrears := ComputeArrears(prior)
	return BalanceSummary{
		PeriodID:          target.ID,
		Key:               target.Key(),
		BaseFeesTotal:     targetTotals.BaseFeesTotal,
		AddedChargesTotal: targetTotals.AddedChargesTotal,
		TotalPaid:         targetTotals.TotalPaid,
		CurrentBalance:    targetTotals.CurrentBalance,
		PreviousArrears:   arrears,
		TotalOutstanding:  arrears.Add(NonNegative(targetTotals.CurrentBalance)),
		Currency:          target.Currency,
	}
}

// =============================================================================
// ORDERING
// =============================================================================

// SortPeriods orders periods by (academic year, academic term), in place.
func SortPeriods(periods []*Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].Key().Before(periods[j].Key())
	})
}

// PriorTo returns the periods strictly before target, in key order.
func PriorTo(target PeriodKey, periods []*Period) []*Period {
	var prior []*Period
	for _, p := range periods {
		if p.Key().SameOwner(target) && p.Key().Before(target) {
			prior = append(prior, p)
		}
	}
	SortPeriods(prior)
	return prior
}
