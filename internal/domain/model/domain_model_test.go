//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"premium-entitlement/internal/domain"
)

func strPtr(s string) *string { return &s }

// --- User Model Tests ---

func TestNewUser(t *testing.T) {
	t.Run("should create a user without payment flags", func(t *testing.T) {
		user, err := NewUser("u-1", "a@example.com", "+910000000000")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if user.HasPaidVerificationFee || user.VerificationFeePaidAt != nil {
			t.Error("expected a new user to have no payment evidence")
		}
		if user.AdminForcedPremium {
			t.Error("expected admin override to default to false")
		}
	})

	t.Run("should fail with empty id", func(t *testing.T) {
		_, err := NewUser("", "", "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, but got: %v", err)
		}
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || ve.Field != "id" {
			t.Errorf("expected validation error on field id, but got: %v", err)
		}
	})
}

func TestRecordSuccessfulPayment(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("should set flag and timestamp from a successful payment", func(t *testing.T) {
		u, _ := NewUser("u-1", "", "")
		p, _ := NewPayment("u-1", 100, "INR")
		p.MarkSucceeded(paidAt)

		if !RecordSuccessfulPayment(u, p, "INR") {
			t.Fatal("expected user to change")
		}
		if !u.HasPaidVerificationFee || !u.VerificationFeePaidAt.Equal(paidAt) {
			t.Errorf("expected flag set at %v, but got %v / %v", paidAt, u.HasPaidVerificationFee, u.VerificationFeePaidAt)
		}
	})

	t.Run("should keep the first paid timestamp", func(t *testing.T) {
		u, _ := NewUser("u-1", "", "")
		first, _ := NewPayment("u-1", 100, "INR")
		first.MarkSucceeded(paidAt)
		later, _ := NewPayment("u-1", 100, "INR")
		later.MarkSucceeded(paidAt.Add(48 * time.Hour))

		RecordSuccessfulPayment(u, first, "INR")
		if RecordSuccessfulPayment(u, later, "INR") {
			t.Error("expected second payment to be a no-op")
		}
		if !u.VerificationFeePaidAt.Equal(paidAt) {
			t.Errorf("expected paid_at to stay %v, but got %v", paidAt, u.VerificationFeePaidAt)
		}
	})

	t.Run("should ignore non-successful payments and other currencies", func(t *testing.T) {
		u, _ := NewUser("u-1", "", "")
		pending, _ := NewPayment("u-1", 100, "INR")
		usd, _ := NewPayment("u-1", 100, "USD")
		usd.MarkSucceeded(paidAt)

		if RecordSuccessfulPayment(u, pending, "INR") || RecordSuccessfulPayment(u, usd, "INR") {
			t.Fatal("expected no change")
		}
		if u.HasPaidVerificationFee {
			t.Error("expected flag to remain false")
		}
	})
}

// --- Subscription Model Tests ---

func TestSubscriptionTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    SubscriptionStatus
		to      SubscriptionStatus
		changed bool
	}{
		{"created to trial", SubscriptionStatusCreated, SubscriptionStatusTrial, true},
		{"authenticated to trial", SubscriptionStatusAuthenticated, SubscriptionStatusTrial, true},
		{"trial to active", SubscriptionStatusTrial, SubscriptionStatusActive, true},
		{"active never falls back to trial", SubscriptionStatusActive, SubscriptionStatusTrial, false},
		{"active never falls back to authenticated", SubscriptionStatusActive, SubscriptionStatusAuthenticated, false},
		{"cancelled stays cancelled on late activation", SubscriptionStatusCancelled, SubscriptionStatusActive, false},
		{"cancelled may expire", SubscriptionStatusCancelled, SubscriptionStatusExpired, true},
		{"expired is terminal", SubscriptionStatusExpired, SubscriptionStatusActive, false},
		{"same status is a no-op", SubscriptionStatusActive, SubscriptionStatusActive, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Subscription{Status: tc.from}
			if got := s.Transition(tc.to); got != tc.changed {
				t.Fatalf("expected changed=%v, but got %v", tc.changed, got)
			}
			if tc.changed && s.Status != tc.to {
				t.Errorf("expected status %s, but got %s", tc.to, s.Status)
			}
			if !tc.changed && s.Status != tc.from {
				t.Errorf("expected status to stay %s, but got %s", tc.from, s.Status)
			}
		})
	}
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ends := at.Add(10 * 24 * time.Hour)
	s := &Subscription{Status: SubscriptionStatusActive, AutoRenew: true, EndsAt: &ends, GatewaySubscriptionID: strPtr("gw_1")}

	if !s.Cancel("user request", at) {
		t.Fatal("expected first cancel to change the subscription")
	}
	if s.Cancel("payment failed", at.Add(time.Hour)) {
		t.Error("expected replayed cancel to be a no-op")
	}
	if !s.CancelledAt.Equal(at) || s.CancellationReason != "user request" {
		t.Errorf("expected first cancel to win, but got %v / %q", s.CancelledAt, s.CancellationReason)
	}
	if s.AutoRenew {
		t.Error("expected auto renew to be off")
	}
	if got := s.PaidThrough(); got == nil || !got.Equal(ends) {
		t.Errorf("expected cancelled subscription to keep paid-through %v, but got %v", ends, got)
	}
}

func TestSubscriptionExtendTo(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &Subscription{}
	s.ExtendTo(base.Add(30 * 24 * time.Hour))
	if s.ExtendTo(base) {
		t.Error("expected an earlier period end to be ignored")
	}
	if !s.EndsAt.Equal(base.Add(30 * 24 * time.Hour)) {
		t.Errorf("unexpected ends_at %v", s.EndsAt)
	}
}

func TestSubscriptionPredicates(t *testing.T) {
	noMandate := &Subscription{Status: SubscriptionStatusActive}
	if noMandate.MandateLive() || noMandate.InFlight() || noMandate.Usable() {
		t.Error("expected a subscription without gateway id to be neither live nor usable")
	}
	created := &Subscription{Status: SubscriptionStatusCreated, GatewaySubscriptionID: strPtr("gw_1")}
	if created.MandateLive() {
		t.Error("expected created mandate not to be live")
	}
	if !created.InFlight() {
		t.Error("expected created mandate with gateway id to be in flight")
	}
	halted := &Subscription{Status: SubscriptionStatusHalted, GatewaySubscriptionID: strPtr("gw_1")}
	if halted.Usable() {
		t.Error("expected halted mandate not to be usable")
	}
}

// --- Payment Model Tests ---

func TestPaymentStatusRules(t *testing.T) {
	t.Run("should not fail a captured payment", func(t *testing.T) {
		p, _ := NewPayment("u-1", 100, "INR")
		p.MarkSucceeded(time.Now())
		if p.MarkFailed("late failure") {
			t.Fatal("expected failure after success to be ignored")
		}
		if p.Status != PaymentStatusSuccess {
			t.Errorf("expected success, but got %s", p.Status)
		}
	})

	t.Run("should not resurrect a refunded payment", func(t *testing.T) {
		p, _ := NewPayment("u-1", 100, "INR")
		p.MarkSucceeded(time.Now())
		p.UpsertRefund(Refund{ID: "rfnd_1", Amount: 100, Status: "processed"}, true)
		if p.MarkSucceeded(time.Now()) {
			t.Fatal("expected replayed capture to leave refunded payment alone")
		}
	})
}

func TestPaymentUpsertRefund(t *testing.T) {
	p, _ := NewPayment("u-1", 100, "INR")
	p.MarkSucceeded(time.Now())

	p.UpsertRefund(Refund{ID: "rfnd_1", Amount: 50, Status: "created"}, false)
	p.UpsertRefund(Refund{ID: "rfnd_1", Amount: 50, Status: "created"}, false)
	if got := len(p.Refunds()); got != 1 {
		t.Fatalf("expected 1 refund entry, but got %d", got)
	}
	if p.Status != PaymentStatusSuccess {
		t.Errorf("expected status to stay success until processed, but got %s", p.Status)
	}

	p.UpsertRefund(Refund{ID: "rfnd_1", Amount: 50, Status: "processed"}, true)
	refunds := p.Refunds()
	if len(refunds) != 1 || refunds[0].Status != "processed" {
		t.Fatalf("expected single processed entry, but got %+v", refunds)
	}
	if p.Status != PaymentStatusRefunded {
		t.Errorf("expected refunded, but got %s", p.Status)
	}
}

func TestPaymentRefundsFromJSON(t *testing.T) {
	p := &Payment{Metadata: map[string]any{
		"refunds": []any{
			map[string]any{"id": "rfnd_1", "amount": float64(40), "status": "processed", "created_at": "2025-03-01T00:00:00Z"},
		},
	}}
	refunds := p.Refunds()
	if len(refunds) != 1 || refunds[0].Amount != 40 || refunds[0].ID != "rfnd_1" {
		t.Fatalf("unexpected decoded refunds: %+v", refunds)
	}
}

func TestIDs(t *testing.T) {
	if id := NewSubscriptionID(); !ValidSubscriptionID(id) {
		t.Errorf("expected %q to be a subscription id", id)
	}
	if id := NewPaymentID(); !ValidPaymentID(id) || ValidSubscriptionID(id) {
		t.Errorf("expected %q to be a payment id only", id)
	}
}
