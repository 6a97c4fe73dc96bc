package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"premium-entitlement/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// unprocessable are validation failures on well-formed requests.
var unprocessable = []error{
	domain.ErrPlanInactive,
	domain.ErrNoMandate,
	domain.ErrInvalidPaymentSignature,
	domain.ErrSubscriptionOwnerMismatch,
}

// statusFor maps an error to its HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrTxConflict):
		return http.StatusServiceUnavailable, "busy"
	}
	for _, e := range unprocessable {
		if errors.Is(err, e) {
			return http.StatusUnprocessableEntity, "unprocessable"
		}
	}
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest, "validation"
	case domain.ErrAuthentication:
		return http.StatusUnauthorized, "unauthenticated"
	case domain.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case domain.ErrConflict:
		return http.StatusConflict, "conflict"
	case domain.ErrGateway:
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case domain.ErrConfiguration:
		return http.StatusInternalServerError, "configuration"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError never exposes the message of a 5xx.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: code}
	if status < http.StatusInternalServerError {
		body.Message = err.Error()
	}
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}
