/*
charge.go - Charge ledger entry validation and append

PURPOSE:
  Validates a new additional charge and appends it to a period, recomputing
  the cached totals and writing the matching audit entry in one step.

RULES:
  - Period must not be locked                    -> LockedError
  - Particulars must be non-empty                -> ValidationError
  - Amount must be > 0                           -> ValidationError
  - Category must be a user category             -> ValidationError
  - AddedBy must name the actor                  -> ValidationError

  Validation happens before anything is touched: a rejected charge leaves
  the period byte-for-byte unchanged.

REVERSALS:
  Charges are never edited. ReverseCharge appends a "reversal" entry whose
  amount is the negated original and whose Reverses field points back.
  Σ AdditionalCharges.Amount stays the added-charges total.
*/
package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeInput is what a caller supplies to add a charge.
type ChargeInput struct {
	Particulars string
	Amount      decimal.Decimal
	Category    ChargeCategory
	AddedBy     string
	ChargedDate *time.Time // defaults to now
	Reference   string
	Notes       string
}

// ValidateCharge checks a charge before it reaches the ledger.
func ValidateCharge(in ChargeInput) error {
	if strings.TrimSpace(in.Particulars) == "" {
		return &ValidationError{Field: "particulars", Message: "must not be empty"}
	}
	if !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !in.Category.IsUserCategory() {
		return &ValidationError{Field: "category", Message: "unknown category " + string(in.Category)}
	}
	if strings.TrimSpace(in.AddedBy) == "" {
		return &ValidationError{Field: "added_by", Message: "must identify the actor"}
	}
	return nil
}

// appendCharge mutates p in memory. Callers persist the result.
func appendCharge(p *Period, in ChargeInput, payments []PaymentRecord, now time.Time) (ChargeEntry, error) {
	if p.IsLocked {
		return ChargeEntry{}, &LockedError{PeriodID: p.ID}
	}
	if err := ValidateCharge(in); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.PeriodID = p.ID
		}
		return ChargeEntry{}, err
	}

	charged := now
	if in.ChargedDate != nil {
		charged = *in.ChargedDate
	}
	entry := ChargeEntry{
		ID:          uuid.NewString(),
		ChargedDate: charged,
		Category:    in.Category,
		Particulars: strings.TrimSpace(in.Particulars),
		Amount:      in.Amount,
		AddedBy:     in.AddedBy,
		Reference:   in.Reference,
		Notes:       in.Notes,
	}

	p.AdditionalCharges = append(p.AdditionalCharges, entry)
	ComputeTotals(p, payments).Apply(p)
	appendAudit(p, AuditEntry{
		Action:      AuditChargeAdded,
		PerformedBy: in.AddedBy,
		PerformedAt: now,
		Details: map[string]any{
			"charge_id":   entry.ID,
			"category":    string(entry.Category),
			"particulars": entry.Particulars,
			"amount":      entry.Amount.String(),
		},
		NewValue: p.AddedChargesTotal.String(),
	})
	p.LastModifiedBy = in.AddedBy
	return entry, nil
}

// reverseCharge appends a reversal entry for chargeID.
func reverseCharge(p *Period, chargeID, actor, reason string, payments []PaymentRecord, now time.Time) (ChargeEntry, error) {
	if p.IsLocked {
		return ChargeEntry{}, &LockedError{PeriodID: p.ID}
	}
	if strings.TrimSpace(actor) == "" {
		return ChargeEntry{}, &ValidationError{PeriodID: p.ID, Field: "actor", Message: "must identify the actor"}
	}
	original, ok := p.FindCharge(chargeID)
	if !ok {
		return ChargeEntry{}, &NotFoundError{Kind: "charge", ID: chargeID}
	}
	if original.Category == CategoryReversal {
		return ChargeEntry{}, &ValidationError{PeriodID: p.ID, Field: "charge_id", Message: "a reversal cannot be reversed"}
	}
	if p.IsChargeReversed(chargeID) {
		return ChargeEntry{}, &ValidationError{PeriodID: p.ID, Field: "charge_id", Message: "charge already reversed"}
	}

	previous := p.AddedChargesTotal
	entry := ChargeEntry{
		ID:          uuid.NewString(),
		ChargedDate: now,
		Category:    CategoryReversal,
		Particulars: "Reversal: " + original.Particulars,
		Amount:      original.Amount.Neg(),
		AddedBy:     actor,
		Reference:   original.Reference,
		Notes:       reason,
		Reverses:    original.ID,
	}
	p.AdditionalCharges = append(p.AdditionalCharges, entry)
	ComputeTotals(p, payments).Apply(p)
	appendAudit(p, AuditEntry{
		Action:      AuditChargeReversed,
		PerformedBy: actor,
		PerformedAt: now,
		Details: map[string]any{
			"charge_id":   original.ID,
			"reversal_id": entry.ID,
			"amount":      original.Amount.String(),
			"reason":      reason,
		},
		PreviousValue: previous.String(),
		NewValue:      p.AddedChargesTotal.String(),
	})
	p.LastModifiedBy = actor
	return entry, nil
}
