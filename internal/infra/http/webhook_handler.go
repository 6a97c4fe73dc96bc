package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/oklog/ulid/v2"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/webhook"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
)

type statusBody struct {
	Status string `json:"status"`
}

// handleWebhook answers with bare status bodies only. Details go to the log.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Current().HTTP.MaxWebhookBytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, statusBody{Status: "too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, statusBody{Status: "unreadable"})
		return
	}

	eventID := r.Header.Get(HeaderEventID)
	if eventID == "" {
		eventID = "local_" + ulid.Make().String()
	}
	res, err := s.webhooks.Handle(r.Context(), webhook.Delivery{
		EventID:   eventID,
		Signature: r.Header.Get(HeaderSignature),
		Body:      body,
	})
	if err != nil {
		status := webhookStatus(res.Outcome, err)
		if status >= http.StatusInternalServerError {
			logging.With(logging.WithEventID(r.Context(), eventID), s.log).Error().
				Err(err).Str("event", res.Event).Msg("webhook not applied, gateway will redeliver")
		}
		writeJSON(w, status, statusBody{Status: string(res.Outcome)})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: string(res.Outcome)})
}

// webhookStatus maps verification and parse errors by kind. Anything that
// failed after the command was built is a 500 so the gateway redelivers.
func webhookStatus(outcome webhook.Outcome, err error) int {
	if outcome == webhook.OutcomeFailed {
		return http.StatusInternalServerError
	}
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrAuthentication:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
