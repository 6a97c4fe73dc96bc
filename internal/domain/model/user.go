package model

import (
	"time"

	"premium-entitlement/internal/domain"
)

// User is the account entitlement is computed for. The identity itself is
// owned elsewhere; this record only carries what billing needs.
//
// HasPaidVerificationFee and VerificationFeePaidAt are monotonic: once set they
// are never cleared, and only RecordSuccessfulPayment sets them.
type User struct {
	ID                     string
	Email                  string
	Phone                  string
	HasPaidVerificationFee bool
	VerificationFeePaidAt  *time.Time
	AdminForcedPremium     bool
	LastAutopayPromptAt    *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
}

func NewUser(id, email, phone string) (*User, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "must not be empty")
	}
	now := time.Now().UTC()
	return &User{
		ID:        id,
		Email:     email,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (u *User) IsZero() bool    { return u == nil || u.ID == "" }
func (u *User) IsDeleted() bool { return u != nil && u.DeletedAt != nil }

// RecordSuccessfulPayment is the single place the paid flag is raised.
// It is a no-op unless p is a successful payment in the verification
// currency. The first recorded time wins. It reports whether u changed.
func RecordSuccessfulPayment(u *User, p *Payment, currency string) bool {
	if u == nil || p == nil || p.Status != PaymentStatusSuccess {
		return false
	}
	if currency != "" && p.Currency != currency {
		return false
	}
	if u.HasPaidVerificationFee && u.VerificationFeePaidAt != nil {
		return false
	}
	at := p.CreatedAt
	if p.PaidAt != nil {
		at = *p.PaidAt
	}
	at = at.UTC()
	u.HasPaidVerificationFee = true
	if u.VerificationFeePaidAt == nil {
		u.VerificationFeePaidAt = &at
	}
	u.UpdatedAt = time.Now().UTC()
	return true
}
