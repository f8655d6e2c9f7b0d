package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/warp/fee-ledger/billing"
)

// StatusLocked is returned for mutations on a locked period.
const StatusLocked = http.StatusLocked

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a billing error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrLocked):
		return StatusLocked
	case errors.Is(err, billing.ErrDuplicatePeriod),
		errors.Is(err, billing.ErrReferentialIntegrity),
		errors.Is(err, billing.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with the status its kind deserves.
// Server errors are logged and their cause hidden from the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: h.validator.fields(verrs),
		})
		return
	}

	var ve *billing.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Details: ve.Error(),
			Fields:  map[string]string{ve.Field: ve.Message},
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, status, http.StatusText(status), nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}
