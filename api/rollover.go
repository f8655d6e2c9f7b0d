/*
rollover.go - Term-end rollover for a whole site

PURPOSE:
  Carries every current billing period of a site from one term into the
  next, re-billing each student's unpaid balance as arrears.

DESIGN:
  - Runs synchronously inside the request; there is no background worker
  - Each student is carried forward in its own transaction
  - One student's failure (already carried, locked target, ...) is reported
    in the results and does not stop the others
  - The run is logged with counts so operators can see partial outcomes

USAGE:
  POST /api/admin/rollover
  {"site_id": "main", "from_year": "2025/2026", "from_term": 1,
   "to_year": "2025/2026", "to_term": 2, "fee_configuration_id": "..."}

SEE ALSO:
  - billing/service.go: Rollover, CarryForward
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/warp/fee-ledger/billing"
)

// TriggerRollover carries a site's current periods into the next term.
// Requires the admin role when authentication is on.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	const op = "rollover"
	if err := requireAdmin(r); err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req RolloverRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}

	start := time.Now()
	results, err := h.svc.Rollover(r.Context(), billing.RolloverInput{
		SiteID:             req.SiteID,
		FromYear:           req.FromYear,
		FromTerm:           req.FromTerm,
		ToYear:             req.ToYear,
		ToTerm:             req.ToTerm,
		FeeConfigurationID: req.FeeConfigurationID,
		Actor:              actorFrom(r, req.Actor),
	})
	if err != nil && len(results) == 0 {
		h.fail(w, r, op, err)
		return
	}

	resp := summarizeRollover(results)
	h.log.Info("rollover completed",
		slog.String("site", req.SiteID),
		slog.String("from", req.FromYear),
		slog.Int("from_term", req.FromTerm),
		slog.String("to", req.ToYear),
		slog.Int("to_term", req.ToTerm),
		slog.Int("processed", resp.Processed),
		slog.Int("failed", resp.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	for _, res := range results {
		h.metrics.Observe(op, res.Err)
		if res.Err != nil {
			h.log.Warn("rollover skipped student",
				slog.String("student", res.StudentID),
				slog.String("period", res.SourcePeriodID),
				slog.Any("error", res.Err),
			)
		}
	}

	// A cancelled context stops the run part-way; report what was done.
	if err != nil {
		h.log.Error("rollover interrupted", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func summarizeRollover(results []billing.RolloverResult) RolloverResponse {
	resp := RolloverResponse{Results: make([]RolloverResultDTO, 0, len(results))}
	for _, res := range results {
		dto := RolloverResultDTO{
			StudentID:      res.StudentID,
			SourcePeriodID: res.SourcePeriodID,
			TargetPeriodID: res.TargetPeriodID,
			Arrears:        res.Arrears,
		}
		if res.Err != nil {
			dto.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Processed++
		}
		resp.Results = append(resp.Results, dto)
	}
	return resp
}
