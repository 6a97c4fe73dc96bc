package model

import (
	"time"

	"premium-entitlement/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusCreated       SubscriptionStatus = "created"
	SubscriptionStatusTrial         SubscriptionStatus = "trial"
	SubscriptionStatusAuthenticated SubscriptionStatus = "authenticated"
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusPending       SubscriptionStatus = "pending"
	SubscriptionStatusHalted        SubscriptionStatus = "halted"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired       SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusCreated, SubscriptionStatusTrial, SubscriptionStatusAuthenticated,
		SubscriptionStatusActive, SubscriptionStatusPending, SubscriptionStatusHalted,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// CheckoutFlow tells the client which checkout the mandate was created for.
type CheckoutFlow string

const (
	// FlowNew charges the one-time verification fee up front.
	FlowNew CheckoutFlow = "new"
	// FlowReenable skips the verification fee because the user already paid it once.
	FlowReenable CheckoutFlow = "reenable"
	// FlowExisting is returned when a live mandate already exists and nothing was created.
	FlowExisting CheckoutFlow = "existing"
)

// Subscription mirrors one recurring mandate on the gateway.
type Subscription struct {
	ID                    string
	UserID                string
	PlanID                string
	GatewaySubscriptionID *string // nil until the gateway accepted the mandate
	Status                SubscriptionStatus
	AutoRenew             bool
	IsTrial               bool
	StartsAt              *time.Time
	EndsAt                *time.Time // nil means no defined expiry
	TrialEndsAt           *time.Time
	CancelledAt           *time.Time
	CancellationReason    string
	CheckoutFlow          CheckoutFlow
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewSubscription returns a created row that has not reached the gateway yet.
func NewSubscription(userID, planID string, flow CheckoutFlow) (*Subscription, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}
	if planID == "" {
		return nil, domain.NewValidationError("plan_id", "must not be empty")
	}
	now := time.Now().UTC()
	return &Subscription{
		ID:           NewSubscriptionID(),
		UserID:       userID,
		PlanID:       planID,
		Status:       SubscriptionStatusCreated,
		AutoRenew:    true,
		CheckoutFlow: flow,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Subscription) HasMandate() bool {
	return s != nil && s.GatewaySubscriptionID != nil && *s.GatewaySubscriptionID != ""
}

func (s *Subscription) MandateID() string {
	if !s.HasMandate() {
		return ""
	}
	return *s.GatewaySubscriptionID
}

// MandateLive reports a gateway mandate that is currently authorised to charge.
func (s *Subscription) MandateLive() bool {
	if !s.HasMandate() {
		return false
	}
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrial, SubscriptionStatusAuthenticated:
		return true
	}
	return false
}

// InFlight reports a mandate that a repeated Subscribe must hand back instead
// of creating a second one.
func (s *Subscription) InFlight() bool {
	if !s.HasMandate() {
		return false
	}
	switch s.Status {
	case SubscriptionStatusCreated, SubscriptionStatusTrial,
		SubscriptionStatusActive, SubscriptionStatusAuthenticated:
		return true
	}
	return false
}

// Usable reports whether autopay can be switched back on without a new mandate.
func (s *Subscription) Usable() bool {
	if !s.HasMandate() {
		return false
	}
	switch s.Status {
	case SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusHalted:
		return false
	}
	return true
}

// PaidThrough returns the end of the period the user already paid for, if any.
func (s *Subscription) PaidThrough() *time.Time {
	if !s.HasMandate() || s.EndsAt == nil {
		return nil
	}
	switch s.Status {
	case SubscriptionStatusTrial, SubscriptionStatusAuthenticated, SubscriptionStatusActive,
		SubscriptionStatusPending, SubscriptionStatusCancelled:
		return s.EndsAt
	}
	return nil
}

// allowedTransitions lists the forward moves. Anything else is a regression
// caused by a late or replayed event and is ignored.
var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusCreated: {
		SubscriptionStatusAuthenticated, SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusPending, SubscriptionStatusHalted, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusAuthenticated: {
		SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPending,
		SubscriptionStatusHalted, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusTrial: {
		SubscriptionStatusActive, SubscriptionStatusPending,
		SubscriptionStatusHalted, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusActive: {
		SubscriptionStatusPending, SubscriptionStatusHalted, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusPending: {
		SubscriptionStatusActive, SubscriptionStatusHalted, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusHalted: {
		SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusExpired,
	},
	SubscriptionStatusCancelled: {
		SubscriptionStatusExpired,
	},
}

// CanTransition reports whether moving from the current status to next is a
// forward move.
func (s *Subscription) CanTransition(next SubscriptionStatus) bool {
	for _, st := range allowedTransitions[s.Status] {
		if st == next {
			return true
		}
	}
	return false
}

// Transition moves the status forward. It reports whether anything changed.
func (s *Subscription) Transition(next SubscriptionStatus) bool {
	if s.Status == next || !s.CanTransition(next) {
		return false
	}
	s.Status = next
	s.IsTrial = next == SubscriptionStatusTrial
	s.UpdatedAt = time.Now().UTC()
	return true
}

// ExtendTo moves EndsAt forward to t. Earlier values are ignored.
func (s *Subscription) ExtendTo(t time.Time) bool {
	t = t.UTC()
	if s.EndsAt != nil && !t.After(*s.EndsAt) {
		return false
	}
	s.EndsAt = &t
	s.UpdatedAt = time.Now().UTC()
	return true
}

// Cancel stops renewals. Paid-for time up to EndsAt is kept.
func (s *Subscription) Cancel(reason string, at time.Time) bool {
	changed := s.Transition(SubscriptionStatusCancelled)
	if s.Status != SubscriptionStatusCancelled {
		return false
	}
	if s.AutoRenew {
		s.AutoRenew = false
		changed = true
	}
	if s.CancelledAt == nil {
		at = at.UTC()
		s.CancelledAt = &at
		changed = true
	}
	if s.CancellationReason == "" && reason != "" {
		s.CancellationReason = reason
		changed = true
	}
	if changed {
		s.UpdatedAt = time.Now().UTC()
	}
	return changed
}

// AttachMandate records the gateway id on a row created before the gateway call.
func (s *Subscription) AttachMandate(gatewayID string) bool {
	if gatewayID == "" || s.MandateID() == gatewayID {
		return false
	}
	s.GatewaySubscriptionID = &gatewayID
	s.UpdatedAt = time.Now().UTC()
	return true
}
