package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"premium-entitlement/internal/domain"
)

// Envelope is the delivery body:
// {event, created_at, payload:{payment:{entity}, subscription:{entity}, refund:{entity}}}
type Envelope struct {
	Event     string  `json:"event"`
	CreatedAt int64   `json:"created_at"`
	Payload   payload `json:"payload"`
}

type payload struct {
	Payment      *wrapped[PaymentEntity]      `json:"payment"`
	Subscription *wrapped[SubscriptionEntity] `json:"subscription"`
	Refund       *wrapped[RefundEntity]       `json:"refund"`
}

type wrapped[T any] struct {
	Entity T `json:"entity"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	InvoiceID        string `json:"invoice_id"`
	SubscriptionID   string `json:"subscription_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
	Notes            Notes  `json:"notes"`
}

type SubscriptionEntity struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	Status       string `json:"status"`
	CurrentStart *int64 `json:"current_start"`
	CurrentEnd   *int64 `json:"current_end"`
	ChargeAt     *int64 `json:"charge_at"`
	EndedAt      *int64 `json:"ended_at"`
	Notes        Notes  `json:"notes"`
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Notes is the gateway's free-form key/value map. The gateway sends an
// empty array instead of an empty object, and values may be numbers.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	out := Notes{}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		var arr []any
		if json.Unmarshal(b, &arr) == nil {
			*n = out
			return nil
		}
		return err
	}
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		}
	}
	*n = out
	return nil
}

// Parse decodes a delivery body. Only the envelope shape is checked here;
// entity presence is checked per event during translation.
func Parse(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", domain.ErrMalformedPayload)
	}
	return &env, nil
}

// EntityID returns the most specific gateway id in the payload, for logs.
func (e *Envelope) EntityID() string {
	switch {
	case e.Payload.Refund != nil && e.Payload.Refund.Entity.ID != "":
		return e.Payload.Refund.Entity.ID
	case e.Payload.Payment != nil && e.Payload.Payment.Entity.ID != "":
		return e.Payload.Payment.Entity.ID
	case e.Payload.Subscription != nil:
		return e.Payload.Subscription.Entity.ID
	}
	return ""
}

func (e *Envelope) occurredAt() time.Time {
	if e.CreatedAt > 0 {
		return time.Unix(e.CreatedAt, 0).UTC()
	}
	return time.Time{}
}

func unixPtr(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
