package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindSlotUnavailable:
		return http.StatusConflict
	case apperr.KindInvalidAmount:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as an ErrorResponse. Unclassified errors are
// logged and reported without their text.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}

	resp := ErrorResponse{Error: string(kind), Details: apperr.Message(err), RequestID: GetRequestID(r.Context())}
	switch kind {
	case "":
		resp.Error, resp.Details = "internal_error", "internal error"
	case apperr.KindUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
