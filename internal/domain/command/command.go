// Package command defines the closed set of ledger mutations produced by
// gateway events and by client-side payment verification.
package command

import "time"

// Command is implemented only by the types in this package.
type Command interface {
	Name() string
	isCommand()
}

// Entity references carried by gateway events. Any field may be empty.
type PaymentRef struct {
	GatewayPaymentID string
	GatewayOrderID   string
	MandateID        string // gateway subscription id the payment belongs to
	Amount           int64
	Currency         string
	Status           string
	FailureReason    string
	CapturedAt       time.Time
	Notes            map[string]string
}

type MandateRef struct {
	MandateID     string
	Status        string
	CurrentStart  *time.Time
	CurrentEnd    *time.Time
	ChargeAt      *time.Time
	EndedAt       *time.Time
	Notes         map[string]string
	PlanGatewayID string
}

type RefundRef struct {
	RefundID         string
	GatewayPaymentID string
	Amount           int64
	Currency         string
	Status           string
	CreatedAt        time.Time
}

// Note keys written into gateway notes when a mandate is created, so later
// events can be traced back without a lookup table.
const (
	NoteUserID         = "user_id"
	NoteSubscriptionID = "subscription_id"
)

// UserHint returns the local user id stored in notes, if any.
func UserHint(notes map[string]string) string { return notes[NoteUserID] }

// SubscriptionHint returns the local subscription id stored in notes, if any.
func SubscriptionHint(notes map[string]string) string { return notes[NoteSubscriptionID] }

// CapturePayment records a successful payment and raises the paid flag.
type CapturePayment struct {
	Payment PaymentRef
	// UserID is set when the caller already knows the owner (client verification).
	UserID string
}

// FailPayment marks a matching payment failed.
type FailPayment struct {
	Payment PaymentRef
}

// AuthenticateMandate moves the subscription to trial.
type AuthenticateMandate struct {
	Mandate MandateRef
	Payment *PaymentRef
	UserID  string
}

// ActivateMandate moves the subscription to active.
type ActivateMandate struct {
	Mandate MandateRef
	Payment *PaymentRef
}

// ChargeMandate records a recurring charge and extends the paid period.
type ChargeMandate struct {
	Mandate MandateRef
	Payment *PaymentRef
}

// HaltMandate ends renewals after exhausted retries.
type HaltMandate struct {
	Mandate MandateRef
}

// CancelMandate records a cancellation initiated on the gateway side.
type CancelMandate struct {
	Mandate MandateRef
}

// EndMandate marks a completed or expired mandate.
type EndMandate struct {
	Mandate MandateRef
}

// RecordRefund appends to the payment's refund history.
type RecordRefund struct {
	Refund RefundRef
}

// NoOp is produced for events that require no ledger change.
type NoOp struct {
	Event  string
	Reason string
}

func (CapturePayment) Name() string      { return "capture_payment" }
func (FailPayment) Name() string         { return "fail_payment" }
func (AuthenticateMandate) Name() string { return "authenticate_mandate" }
func (ActivateMandate) Name() string     { return "activate_mandate" }
func (ChargeMandate) Name() string       { return "charge_mandate" }
func (HaltMandate) Name() string         { return "halt_mandate" }
func (CancelMandate) Name() string       { return "cancel_mandate" }
func (EndMandate) Name() string          { return "end_mandate" }
func (RecordRefund) Name() string        { return "record_refund" }
func (NoOp) Name() string                { return "noop" }

func (CapturePayment) isCommand()      {}
func (FailPayment) isCommand()         {}
func (AuthenticateMandate) isCommand() {}
func (ActivateMandate) isCommand()     {}
func (ChargeMandate) isCommand()       {}
func (HaltMandate) isCommand()         {}
func (CancelMandate) isCommand()       {}
func (EndMandate) isCommand()          {}
func (RecordRefund) isCommand()        {}
func (NoOp) isCommand()                {}
