package model

import (
	"time"

	"premium-entitlement/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

const metaRefunds = "refunds"

// Payment is one money movement reported by the gateway.
type Payment struct {
	ID               string
	UserID           string
	SubscriptionID   *string
	GatewayPaymentID *string
	GatewayOrderID   *string
	Status           PaymentStatus
	Amount           int64 // minor units
	Currency         string
	PaidAt           *time.Time
	FailureReason    string
	Metadata         map[string]any // stored as JSONB
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Refund is an entry of the append-only refund history kept in Metadata.
type Refund struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func NewPayment(userID string, amount int64, currency string) (*Payment, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}
	if amount < 0 {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}
	now := time.Now().UTC()
	return &Payment{
		ID:        NewPaymentID(),
		UserID:    userID,
		Status:    PaymentStatusPending,
		Amount:    amount,
		Currency:  currency,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkSucceeded sets the captured state. A refunded payment stays refunded.
func (p *Payment) MarkSucceeded(paidAt time.Time) bool {
	if p.Status == PaymentStatusRefunded {
		return false
	}
	changed := false
	if p.Status != PaymentStatusSuccess {
		p.Status = PaymentStatusSuccess
		p.FailureReason = ""
		changed = true
	}
	if p.PaidAt == nil {
		paidAt = paidAt.UTC()
		p.PaidAt = &paidAt
		changed = true
	}
	if changed {
		p.UpdatedAt = time.Now().UTC()
	}
	return changed
}

// MarkFailed only applies to payments that never succeeded.
func (p *Payment) MarkFailed(reason string) bool {
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusFailed {
		return false
	}
	if p.Status == PaymentStatusFailed && p.FailureReason == reason {
		return false
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	return true
}

// Refunds decodes the refund history. Values loaded from JSON come back as
// generic maps, values set in-process are already typed.
func (p *Payment) Refunds() []Refund {
	raw, ok := p.Metadata[metaRefunds]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []Refund:
		return append([]Refund(nil), v...)
	case []any:
		out := make([]Refund, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r := Refund{}
			r.ID, _ = m["id"].(string)
			r.Status, _ = m["status"].(string)
			if f, ok := m["amount"].(float64); ok {
				r.Amount = int64(f)
			}
			if s, ok := m["created_at"].(string); ok {
				r.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
			}
			out = append(out, r)
		}
		return out
	}
	return nil
}

// UpsertRefund appends r to the history, or updates the status of an entry
// with the same id. A processed refund moves the payment to refunded.
func (p *Payment) UpsertRefund(r Refund, processed bool) bool {
	if r.ID == "" {
		return false
	}
	refunds := p.Refunds()
	changed := false
	found := false
	for i := range refunds {
		if refunds[i].ID != r.ID {
			continue
		}
		found = true
		if r.Status != "" && refunds[i].Status != r.Status {
			refunds[i].Status = r.Status
			changed = true
		}
	}
	if !found {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		refunds = append(refunds, r)
		changed = true
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata[metaRefunds] = refunds
	if processed && p.Status != PaymentStatusRefunded {
		p.Status = PaymentStatusRefunded
		changed = true
	}
	if changed {
		p.UpdatedAt = time.Now().UTC()
	}
	return changed
}
