package billing

import (
	"time"

	"github.com/google/uuid"
)

// appendAudit adds an entry to the period's trail. The trail is append-only
// and always travels in the same write as the change it describes.
func appendAudit(p *Period, entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	p.AuditTrail = append(p.AuditTrail, entry)
}

// AuditFilter narrows an audit trail read.
type AuditFilter struct {
	Actions     []AuditAction
	PerformedBy string
	From        *time.Time
	To          *time.Time
}

// FilterAudit returns the entries of trail matching f, oldest first.
func FilterAudit(trail []AuditEntry, f AuditFilter) []AuditEntry {
	var actions map[AuditAction]bool
	if len(f.Actions) > 0 {
		actions = make(map[AuditAction]bool, len(f.Actions))
		for _, a := range f.Actions {
			actions[a] = true
		}
	}

	out := make([]AuditEntry, 0, len(trail))
	for _, e := range trail {
		if actions != nil && !actions[e.Action] {
			continue
		}
		if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
			continue
		}
		if f.From != nil && e.PerformedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.PerformedAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}
