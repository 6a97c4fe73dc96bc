package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by a use case wraps exactly one of these,
// so transport layers can map them without knowing the specific cause.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("entity not found")
	ErrConflict       = errors.New("conflict")
	ErrGateway        = errors.New("gateway error")
	ErrReconciliation = errors.New("reconciliation error")
)

var (
	// Lifecycle
	ErrAlreadySubscribed         = fmt.Errorf("%w: already subscribed", ErrConflict)
	ErrPlanInactive              = fmt.Errorf("%w: plan is not active", ErrValidation)
	ErrNoMandate                 = fmt.Errorf("%w: no usable mandate, subscribe again", ErrValidation)
	ErrNoCancellableSubscription = fmt.Errorf("%w: no cancellable subscription", ErrNotFound)
	ErrNoPendingSubscription     = fmt.Errorf("%w: no pending subscription to retry", ErrNotFound)
	ErrInvalidPaymentSignature   = fmt.Errorf("%w: invalid payment signature", ErrValidation)
	ErrRateLimited               = fmt.Errorf("%w: too many requests", ErrConflict)
	ErrSubscriptionOwnerMismatch = fmt.Errorf("%w: subscription belongs to another user", ErrValidation)
	ErrInvalidArgument           = fmt.Errorf("%w: invalid argument", ErrValidation)

	// Webhook
	ErrMissingSignature     = fmt.Errorf("%w: missing signature", ErrValidation)
	ErrBadSignature         = fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	ErrWebhookSecretMissing = fmt.Errorf("%w: webhook secret not configured", ErrConfiguration)
	ErrMalformedPayload     = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrUnknownEntity        = fmt.Errorf("%w: unknown entity", ErrReconciliation)

	// Gateway
	ErrGatewayTimeout     = fmt.Errorf("%w: timeout", ErrGateway)
	ErrGatewayRejected    = fmt.Errorf("%w: request rejected", ErrGateway)
	ErrGatewayUnavailable = fmt.Errorf("%w: unavailable", ErrGateway)

	// Storage
	ErrTxConflict         = errors.New("transaction serialization conflict")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var kinds = []error{
	ErrValidation,
	ErrAuthentication,
	ErrConfiguration,
	ErrNotFound,
	ErrConflict,
	ErrGateway,
	ErrReconciliation,
}

// KindOf returns the kind sentinel err wraps, or nil for unclassified errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGateway) || errors.Is(err, ErrTxConflict)
}

// IsUnknownEntity reports whether a webhook referenced nothing we know about.
func IsUnknownEntity(err error) bool {
	return errors.Is(err, ErrUnknownEntity)
}
