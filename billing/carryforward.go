/*
carryforward.go - Term-to-term carry forward

PURPOSE:
  Closes out a period's unpaid balance into the next term.

BEHAVIOR:
  Given a current source period and a target (year, term, fee configuration):
  1. Target fee items = configuration items
     + one "arrears" item equal to the source balance, if that balance > 0
  2. source.CarriedForwardTo = target.ID,  source.IsCurrent = false
     target.CarriedForwardFrom = source.ID, target.IsCurrent = true
  3. Both records get an audit entry

  A credit (negative balance) is not carried: the chain is for arrears only.

PRECONDITIONS:
  - source is current and not already carried forward
  - target key is strictly after the source key
  - target key is free (otherwise DuplicatePeriodError, never a merge)
  - if arrears are carried, the configuration currency matches the source

ATOMICITY:
  The service writes both records inside one TxStore.WithTx call.

CHAIN:
  Links form a singly linked, acyclic chain ordered by key, because every
  step moves strictly forward and a source can only be linked once.
*/
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CarryForwardInput describes the target of a carry forward.
type CarryForwardInput struct {
	SourcePeriodID     string
	AcademicYear       string
	AcademicTerm       int
	FeeConfigurationID string
	Actor              string
}

func (in CarryForwardInput) validate() error {
	switch {
	case strings.TrimSpace(in.SourcePeriodID) == "":
		return &ValidationError{Field: "source_period_id", Message: "is required"}
	case strings.TrimSpace(in.AcademicYear) == "":
		return &ValidationError{Field: "academic_year", Message: "is required"}
	case in.AcademicTerm < 1:
		return &ValidationError{Field: "academic_term", Message: "must be at least 1"}
	case strings.TrimSpace(in.FeeConfigurationID) == "":
		return &ValidationError{Field: "fee_configuration_id", Message: "is required"}
	case strings.TrimSpace(in.Actor) == "":
		return &ValidationError{Field: "actor", Message: "must identify the actor"}
	}
	return nil
}

// checkCarryForwardSource verifies the source can be carried to target.
func checkCarryForwardSource(src *Period, target PeriodKey) error {
	if src.CarriedForwardTo != "" {
		return &ReferentialIntegrityError{
			PeriodID: src.ID,
			Reason:   "already carried forward to " + src.CarriedForwardTo,
		}
	}
	if !src.IsCurrent {
		return &ValidationError{PeriodID: src.ID, Field: "source_period_id", Message: "period is not current"}
	}
	if !src.Key().Before(target) {
		return &ValidationError{PeriodID: src.ID, Field: "academic_term", Message: "target must come after the source period"}
	}
	return nil
}

// ArrearsDescription labels the synthetic arrears fee item.
func ArrearsDescription(from PeriodKey) string {
	return fmt.Sprintf("Arrears brought forward from %s term %d", from.AcademicYear, from.AcademicTerm)
}

// buildCarryForward creates the target period and links it to src in memory.
// srcTotals are the source's live totals, computed from current payments.
func buildCarryForward(src *Period, srcTotals Totals, cfg *FeeConfiguration, in CarryForwardInput, now time.Time) (*Period, error) {
	target := PeriodKey{
		StudentID:    src.StudentID,
		SiteID:       src.SiteID,
		AcademicYear: in.AcademicYear,
		AcademicTerm: in.AcademicTerm,
	}
	if err := checkCarryForwardSource(src, target); err != nil {
		return nil, err
	}

	arrears := NonNegative(srcTotals.CurrentBalance)
	if arrears.IsPositive() && cfg.Currency != src.Currency {
		return nil, &ValidationError{
			PeriodID: src.ID,
			Field:    "fee_configuration_id",
			Message:  fmt.Sprintf("currency %s does not match source currency %s", cfg.Currency, src.Currency),
		}
	}

	items := append([]FeeItem(nil), cfg.Items...)
	if arrears.IsPositive() {
		items = append(items, FeeItem{
			Description: ArrearsDescription(src.Key()),
			Category:    CategoryArrears,
			Amount:      arrears,
		})
	}

	next := &Period{
		ID:                 uuid.NewString(),
		PeriodKey:          target,
		FeeConfigurationID: cfg.ID,
		Currency:           cfg.Currency,
		FeeItems:           items,
		CarriedForwardFrom: src.ID,
		IsCurrent:          true,
		CreatedBy:          in.Actor,
		LastModifiedBy:     in.Actor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	ComputeTotals(next, nil).Apply(next)
	appendAudit(next, AuditEntry{
		Action:      AuditCarriedForwardFrom,
		PerformedBy: in.Actor,
		PerformedAt: now,
		Details: map[string]any{
			"source_period_id":     src.ID,
			"fee_configuration_id": cfg.ID,
			"arrears":              arrears.String(),
		},
		NewValue: next.CurrentBalance.String(),
	})

	src.CarriedForwardTo = next.ID
	src.IsCurrent = false
	src.LastModifiedBy = in.Actor
	appendAudit(src, AuditEntry{
		Action:      AuditCarriedForward,
		PerformedBy: in.Actor,
		PerformedAt: now,
		Details: map[string]any{
			"target_period_id": next.ID,
			"academic_year":    in.AcademicYear,
			"academic_term":    in.AcademicTerm,
			"arrears":          arrears.String(),
		},
		PreviousValue: true,
		NewValue:      false,
	})
	return next, nil
}

// =============================================================================
// ROLLOVER - carry forward a whole site
// =============================================================================

// RolloverInput carries every current period of a site/term into a new term.
type RolloverInput struct {
	SiteID             string
	FromYear           string
	FromTerm           int
	ToYear             string
	ToTerm             int
	FeeConfigurationID string
	Actor              string
}

// RolloverResult is the outcome for one student.
type RolloverResult struct {
	StudentID      string
	SourcePeriodID string
	TargetPeriodID string
	Arrears        string
	Err            error
}
