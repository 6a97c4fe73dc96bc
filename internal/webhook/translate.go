package webhook

import (
	"fmt"
	"strings"
	"time"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/command"
)

const (
	prefixPayment      = "payment."
	prefixSubscription = "subscription."
	prefixRefund       = "refund."
)

// Translate maps one event to one command. Unknown events become NoOp; a
// known event missing its entity is a malformed payload.
func Translate(env *Envelope) (command.Command, error) {
	switch {
	case strings.HasPrefix(env.Event, prefixPayment):
		return translatePayment(env)
	case strings.HasPrefix(env.Event, prefixSubscription):
		return translateSubscription(env)
	case strings.HasPrefix(env.Event, prefixRefund):
		return translateRefund(env)
	}
	return command.NoOp{Event: env.Event, Reason: "unknown event"}, nil
}

func translatePayment(env *Envelope) (command.Command, error) {
	switch env.Event {
	case "payment.captured", "payment.failed":
	default:
		return command.NoOp{Event: env.Event, Reason: "unhandled payment event"}, nil
	}
	ref, ok := paymentRef(env)
	if !ok {
		return nil, fmt.Errorf("%w: %s without payment entity", domain.ErrMalformedPayload, env.Event)
	}
	if env.Event == "payment.failed" {
		return command.FailPayment{Payment: ref}, nil
	}
	return command.CapturePayment{Payment: ref}, nil
}

func translateSubscription(env *Envelope) (command.Command, error) {
	if env.Event == "subscription.pending" {
		return command.NoOp{Event: env.Event, Reason: "transient gateway retry"}, nil
	}
	if !isKnownSubscriptionEvent(env.Event) {
		return command.NoOp{Event: env.Event, Reason: "unhandled subscription event"}, nil
	}
	if env.Payload.Subscription == nil || env.Payload.Subscription.Entity.ID == "" {
		return nil, fmt.Errorf("%w: %s without subscription entity", domain.ErrMalformedPayload, env.Event)
	}
	m := mandateRef(env)
	var pay *command.PaymentRef
	if ref, ok := paymentRef(env); ok {
		pay = &ref
	}

	switch env.Event {
	case "subscription.authenticated":
		return command.AuthenticateMandate{Mandate: m, Payment: pay}, nil
	case "subscription.activated":
		return command.ActivateMandate{Mandate: m, Payment: pay}, nil
	case "subscription.charged":
		return command.ChargeMandate{Mandate: m, Payment: pay}, nil
	case "subscription.halted":
		return command.HaltMandate{Mandate: m}, nil
	case "subscription.cancelled":
		return command.CancelMandate{Mandate: m}, nil
	default: // completed, expired
		return command.EndMandate{Mandate: m}, nil
	}
}

func isKnownSubscriptionEvent(event string) bool {
	switch event {
	case "subscription.authenticated", "subscription.activated", "subscription.charged",
		"subscription.halted", "subscription.cancelled", "subscription.completed", "subscription.expired":
		return true
	}
	return false
}

func translateRefund(env *Envelope) (command.Command, error) {
	if env.Payload.Refund == nil || env.Payload.Refund.Entity.ID == "" {
		return nil, fmt.Errorf("%w: %s without refund entity", domain.ErrMalformedPayload, env.Event)
	}
	r := env.Payload.Refund.Entity
	ref := command.RefundRef{
		RefundID:         r.ID,
		GatewayPaymentID: r.PaymentID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Status:           r.Status,
		CreatedAt:        time.Unix(r.CreatedAt, 0).UTC(),
	}
	if ref.GatewayPaymentID == "" && env.Payload.Payment != nil {
		ref.GatewayPaymentID = env.Payload.Payment.Entity.ID
	}
	if ref.Status == "" {
		ref.Status = strings.TrimPrefix(env.Event, prefixRefund)
	}
	if ref.GatewayPaymentID == "" {
		return nil, fmt.Errorf("%w: refund %s without payment id", domain.ErrMalformedPayload, r.ID)
	}
	return command.RecordRefund{Refund: ref}, nil
}

func paymentRef(env *Envelope) (command.PaymentRef, bool) {
	if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
		return command.PaymentRef{}, false
	}
	p := env.Payload.Payment.Entity
	reason := p.ErrorDescription
	if reason == "" {
		reason = p.ErrorCode
	}
	at := env.occurredAt()
	if at.IsZero() && p.CreatedAt > 0 {
		at = time.Unix(p.CreatedAt, 0).UTC()
	}
	mandate := p.SubscriptionID
	if mandate == "" && env.Payload.Subscription != nil {
		mandate = env.Payload.Subscription.Entity.ID
	}
	return command.PaymentRef{
		GatewayPaymentID: p.ID,
		GatewayOrderID:   p.OrderID,
		MandateID:        mandate,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           p.Status,
		FailureReason:    reason,
		CapturedAt:       at,
		Notes:            map[string]string(p.Notes),
	}, true
}

func mandateRef(env *Envelope) command.MandateRef {
	s := env.Payload.Subscription.Entity
	return command.MandateRef{
		MandateID:     s.ID,
		Status:        s.Status,
		CurrentStart:  unixPtr(s.CurrentStart),
		CurrentEnd:    unixPtr(s.CurrentEnd),
		ChargeAt:      unixPtr(s.ChargeAt),
		EndedAt:       unixPtr(s.EndedAt),
		Notes:         map[string]string(s.Notes),
		PlanGatewayID: s.PlanID,
	}
}
