package adapter

import (
	"context"
	"time"
)

// MandateRequest asks the gateway to create a recurring mandate.
type MandateRequest struct {
	PlanGatewayID string
	TotalCount    int // billing cycles; 0 lets the gateway default apply
	// SkipIntroCharge omits the one-time verification fee from the checkout.
	SkipIntroCharge bool
	IntroAmount     int64
	IntroCurrency   string
	CustomerEmail   string
	CustomerPhone   string
	Notes           map[string]string
}

// Mandate is the gateway's view of a recurring subscription.
type Mandate struct {
	ID           string
	PlanID       string
	Status       string
	ShortURL     string
	CurrentStart *time.Time
	CurrentEnd   *time.Time
	ChargeAt     *time.Time
	Notes        map[string]string
}

// GatewayPayment is a payment as listed by the gateway.
type GatewayPayment struct {
	ID        string
	OrderID   string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
	Notes     map[string]string
}

// Settlement is a payout batch from the gateway to the merchant account.
type Settlement struct {
	ID        string
	Amount    int64
	Fees      int64
	Tax       int64
	Status    string
	UTR       string
	CreatedAt time.Time
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// BillingGateway is the port for the recurring payments provider.
// Implementations bound every network call with a timeout and never retry
// non-idempotent calls on their own.
type BillingGateway interface {
	Name() string
	// CheckoutKey is the public key the client checkout needs.
	CheckoutKey() string

	CreateMandate(ctx context.Context, req MandateRequest) (Mandate, error)
	FetchMandate(ctx context.Context, mandateID string) (Mandate, error)
	// CancelMandate stops future charges; atCycleEnd keeps the current period.
	CancelMandate(ctx context.Context, mandateID string, atCycleEnd bool) (Mandate, error)

	// VerifySignature checks the checkout callback signature over
	// paymentID|mandateID. It fails closed when no secret is configured.
	VerifySignature(mandateID, paymentID, signature string) (bool, error)

	ListPayments(ctx context.Context, w Window) ([]GatewayPayment, error)
	ListSettlements(ctx context.Context, w Window) ([]Settlement, error)
}
