package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeAppError maps a service error to a status code by its kind.
// Internal details are logged, never returned.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, payment.ErrWebhookNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.KindIllegalTransition:
		writeError(w, http.StatusUnprocessableEntity, "illegal_transition", err.Error())
	case apperr.KindTransient:
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("transient failure")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
