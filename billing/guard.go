package billing

import (
	"fmt"
	"time"
)

// CanDelete reports whether p may be deleted.
// A period is kept when it is locked, has linked payments, or is the
// source of another period's carry forward.
func CanDelete(p *Period, hasSuccessor bool) error {
	if p.IsLocked {
		return &LockedError{PeriodID: p.ID}
	}
	if len(p.LinkedPayments) > 0 {
		return &ReferentialIntegrityError{
			PeriodID: p.ID,
			Reason:   fmt.Sprintf("has %d linked payment(s)", len(p.LinkedPayments)),
		}
	}
	if hasSuccessor || p.CarriedForwardTo != "" {
		return &ReferentialIntegrityError{
			PeriodID: p.ID,
			Reason:   "referenced by a carry-forward chain",
		}
	}
	return nil
}

// setLock toggles the lock and always records who did it.
func setLock(p *Period, actor string, lock bool, now time.Time) {
	previous := p.IsLocked
	p.IsLocked = lock
	p.LastModifiedBy = actor

	action := AuditUnlocked
	if lock {
		action = AuditLocked
	}
	appendAudit(p, AuditEntry{
		Action:        action,
		PerformedBy:   actor,
		PerformedAt:   now,
		PreviousValue: previous,
		NewValue:      lock,
	})
}

// restoreAsCurrent reopens a predecessor whose successor was deleted.
func restoreAsCurrent(pred *Period, deletedID, actor string, now time.Time) {
	pred.CarriedForwardTo = ""
	pred.IsCurrent = true
	pred.LastModifiedBy = actor
	appendAudit(pred, AuditEntry{
		Action:      AuditCarryForwardUnlinked,
		PerformedBy: actor,
		PerformedAt: now,
		Details: map[string]any{
			"deleted_period_id": deletedID,
		},
		PreviousValue: deletedID,
		NewValue:      "",
	})
}

// supersede hands the current flag to a later period created directly.
func supersede(p *Period, byID, actor string, now time.Time) {
	p.IsCurrent = false
	p.LastModifiedBy = actor
	appendAudit(p, AuditEntry{
		Action:        AuditSuperseded,
		PerformedBy:   actor,
		PerformedAt:   now,
		Details:       map[string]any{"current_period_id": byID},
		PreviousValue: true,
		NewValue:      false,
	})
}

// reinstate makes p current again after the period that superseded it
// was deleted.
func reinstate(p *Period, deletedID, actor string, now time.Time) {
	p.IsCurrent = true
	p.LastModifiedBy = actor
	appendAudit(p, AuditEntry{
		Action:        AuditReinstated,
		PerformedBy:   actor,
		PerformedAt:   now,
		Details:       map[string]any{"deleted_period_id": deletedID},
		PreviousValue: false,
		NewValue:      true,
	})
}

// latestOpenBefore returns the most recent period before key that was never
// carried forward, or nil.
func latestOpenBefore(key PeriodKey, periods []*Period) *Period {
	prior := PriorTo(key, periods)
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].CarriedForwardTo == "" {
			return prior[i]
		}
	}
	return nil
}
