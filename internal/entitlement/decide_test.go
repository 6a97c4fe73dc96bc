//go:build !integration

package entitlement_test

import (
	"fmt"
	"testing"
	"time"

	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/entitlement"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func paidUser(paidAt time.Time) *model.User {
	return &model.User{ID: "u-1", HasPaidVerificationFee: true, VerificationFeePaidAt: ptr(paidAt)}
}

func mandate(status model.SubscriptionStatus, autoRenew bool, endsAt *time.Time) *model.Subscription {
	return &model.Subscription{
		ID:                    "sub_1",
		UserID:                "u-1",
		GatewaySubscriptionID: ptr("gw_sub_1"),
		Status:                status,
		AutoRenew:             autoRenew,
		EndsAt:                endsAt,
	}
}

var allStatuses = []model.SubscriptionStatus{
	model.SubscriptionStatusCreated,
	model.SubscriptionStatusTrial,
	model.SubscriptionStatusAuthenticated,
	model.SubscriptionStatusActive,
	model.SubscriptionStatusPending,
	model.SubscriptionStatusHalted,
	model.SubscriptionStatusCancelled,
	model.SubscriptionStatusExpired,
}

func TestDecide_NoAccessWithoutPayment(t *testing.T) {
	settings := entitlement.DefaultSettings()
	far := t0.Add(365 * 24 * time.Hour)

	for _, st := range allStatuses {
		for _, autoRenew := range []bool{true, false} {
			for _, withGateway := range []bool{true, false} {
				name := fmt.Sprintf("%s/auto_renew=%v/gateway=%v", st, autoRenew, withGateway)
				t.Run(name, func(t *testing.T) {
					// --- Arrange ---
					user := &model.User{ID: "u-1"}
					sub := mandate(st, autoRenew, &far)
					if !withGateway {
						sub.GatewaySubscriptionID = nil
					}

					// --- Act ---
					d := entitlement.Decide(user, sub, settings, t0)

					// --- Assert ---
					if d.AccessActive {
						t.Fatalf("expected no access for a user who never paid, but got %+v", d)
					}
					if d.RealCategory != model.CategoryNew || d.Category != model.CategoryNew {
						t.Errorf("expected category new, but got real=%s effective=%s", d.RealCategory, d.Category)
					}
					if d.ShouldPromptAutopay {
						t.Error("expected no autopay prompt for a new user")
					}
				})
			}
		}
	}
}

func TestDecide_GraceWindow(t *testing.T) {
	settings := entitlement.DefaultSettings()
	user := paidUser(t0)

	t.Run("should grant access just before the window closes", func(t *testing.T) {
		d := entitlement.Decide(user, nil, settings, t0.Add(6*24*time.Hour+23*time.Hour))
		if !d.AccessActive || d.RealCategory != model.CategoryLapsedGrace {
			t.Fatalf("expected lapsed grace with access, but got %+v", d)
		}
		if d.Category != model.CategoryPremiumAutorenew {
			t.Errorf("expected effective category premium, but got %s", d.Category)
		}
		if want := t0.Add(7 * 24 * time.Hour); !d.AccessEndsAt.Equal(want) {
			t.Errorf("expected access to end at %v, but got %v", want, d.AccessEndsAt)
		}
	})

	t.Run("should deny access just after the window closes", func(t *testing.T) {
		d := entitlement.Decide(user, nil, settings, t0.Add(7*24*time.Hour+time.Hour))
		if d.AccessActive {
			t.Fatalf("expected no access, but got %+v", d)
		}
		if d.Category != model.CategoryLapsedGrace || d.RealCategory != model.CategoryLapsedGrace {
			t.Errorf("expected lapsed grace, but got real=%s effective=%s", d.RealCategory, d.Category)
		}
		if !d.ShouldPromptAutopay {
			t.Error("expected autopay prompt once access has lapsed")
		}
	})

	t.Run("should deny access exactly at the boundary", func(t *testing.T) {
		d := entitlement.Decide(user, nil, settings, t0.Add(7*24*time.Hour))
		if d.AccessActive {
			t.Fatal("expected the window to be half-open")
		}
	})

	t.Run("should honour a later paid-through date", func(t *testing.T) {
		ends := t0.Add(20 * 24 * time.Hour)
		sub := mandate(model.SubscriptionStatusActive, false, &ends)
		d := entitlement.Decide(user, sub, settings, t0.Add(10*24*time.Hour))
		if !d.AccessActive || !d.AccessEndsAt.Equal(ends) {
			t.Fatalf("expected access until %v, but got %+v", ends, d)
		}
	})

	t.Run("should keep paid time after a user cancellation", func(t *testing.T) {
		ends := t0.Add(20 * 24 * time.Hour)
		sub := mandate(model.SubscriptionStatusCancelled, false, &ends)
		d := entitlement.Decide(user, sub, settings, t0.Add(15*24*time.Hour))
		if !d.AccessActive {
			t.Fatalf("expected paid-for time to survive cancellation, but got %+v", d)
		}
	})

	t.Run("should ignore ends_at of an expired subscription", func(t *testing.T) {
		ends := t0.Add(20 * 24 * time.Hour)
		sub := mandate(model.SubscriptionStatusExpired, false, &ends)
		d := entitlement.Decide(user, sub, settings, t0.Add(10*24*time.Hour))
		if d.AccessActive {
			t.Fatalf("expected expired subscription not to extend access, but got %+v", d)
		}
	})

	t.Run("should use the configured window", func(t *testing.T) {
		short := entitlement.Settings{GraceWindow: 24 * time.Hour, PromptCooldown: time.Hour}
		d := entitlement.Decide(user, nil, short, t0.Add(25*time.Hour))
		if d.AccessActive {
			t.Fatal("expected a one day window to have closed")
		}
	})
}

func TestDecide_PremiumAutorenew(t *testing.T) {
	settings := entitlement.DefaultSettings()

	t.Run("should be premium with a live renewing mandate and no end date", func(t *testing.T) {
		user := paidUser(t0)
		sub := mandate(model.SubscriptionStatusActive, true, nil)
		d := entitlement.Decide(user, sub, settings, t0.Add(400*24*time.Hour))
		if !d.AccessActive || d.RealCategory != model.CategoryPremiumAutorenew {
			t.Fatalf("expected premium autorenew, but got %+v", d)
		}
		if d.AccessEndsAt != nil {
			t.Errorf("expected no end date, but got %v", d.AccessEndsAt)
		}
		if d.ShouldPromptAutopay {
			t.Error("expected no prompt for a premium user")
		}
	})

	for _, st := range []model.SubscriptionStatus{model.SubscriptionStatusTrial, model.SubscriptionStatusAuthenticated} {
		t.Run("should treat "+string(st)+" as live", func(t *testing.T) {
			d := entitlement.Decide(paidUser(t0), mandate(st, true, nil), settings, t0)
			if d.RealCategory != model.CategoryPremiumAutorenew {
				t.Fatalf("expected premium autorenew, but got %s", d.RealCategory)
			}
		})
	}

	t.Run("should not be premium when autopay was disabled", func(t *testing.T) {
		d := entitlement.Decide(paidUser(t0), mandate(model.SubscriptionStatusActive, false, nil), settings, t0.Add(time.Hour))
		if d.RealCategory != model.CategoryLapsedGrace {
			t.Fatalf("expected lapsed grace, but got %s", d.RealCategory)
		}
	})

	t.Run("should not be premium when a live mandate has no gateway id", func(t *testing.T) {
		sub := mandate(model.SubscriptionStatusActive, true, nil)
		sub.GatewaySubscriptionID = nil
		d := entitlement.Decide(paidUser(t0), sub, settings, t0.Add(time.Hour))
		if d.RealCategory != model.CategoryLapsedGrace {
			t.Fatalf("expected lapsed grace, but got %s", d.RealCategory)
		}
	})
}

func TestDecide_AdminOverride(t *testing.T) {
	settings := entitlement.DefaultSettings()

	cases := []struct {
		name string
		user *model.User
		sub  *model.Subscription
	}{
		{"unpaid without subscription", &model.User{ID: "u-1", AdminForcedPremium: true}, nil},
		{"unpaid with created row", &model.User{ID: "u-1", AdminForcedPremium: true}, mandate(model.SubscriptionStatusCreated, true, nil)},
		{"lapsed", func() *model.User { u := paidUser(t0); u.AdminForcedPremium = true; return u }(), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := entitlement.Decide(tc.user, tc.sub, settings, t0.Add(100*24*time.Hour))
			if !d.AccessActive || d.RealCategory != model.CategoryPremiumAutorenew {
				t.Fatalf("expected admin override to grant premium, but got %+v", d)
			}
			if d.AccessEndsAt != nil {
				t.Errorf("expected no end date for override without renewing mandate, but got %v", d.AccessEndsAt)
			}
		})
	}
}

func TestDecide_PromptCooldown(t *testing.T) {
	settings := entitlement.DefaultSettings()
	now := t0.Add(2 * 24 * time.Hour)

	t.Run("should prompt when never prompted", func(t *testing.T) {
		d := entitlement.Decide(paidUser(t0), nil, settings, now)
		if !d.ShouldPromptAutopay {
			t.Fatal("expected prompt")
		}
	})

	t.Run("should not prompt again inside the cooldown", func(t *testing.T) {
		u := paidUser(t0)
		u.LastAutopayPromptAt = ptr(now.Add(-29 * 24 * time.Hour))
		d := entitlement.Decide(u, nil, settings, now)
		if d.ShouldPromptAutopay {
			t.Fatal("expected prompt to be throttled")
		}
	})

	t.Run("should prompt again after the cooldown", func(t *testing.T) {
		u := paidUser(t0)
		u.LastAutopayPromptAt = ptr(now.Add(-31 * 24 * time.Hour))
		d := entitlement.Decide(u, nil, settings, now)
		if !d.ShouldPromptAutopay {
			t.Fatal("expected prompt after cooldown")
		}
	})

	t.Run("should always prompt once access has lapsed", func(t *testing.T) {
		u := paidUser(t0)
		later := t0.Add(10 * 24 * time.Hour)
		u.LastAutopayPromptAt = ptr(later.Add(-time.Hour))
		d := entitlement.Decide(u, nil, settings, later)
		if !d.ShouldPromptAutopay {
			t.Fatal("expected prompt regardless of cooldown when access is gone")
		}
	})
}

func TestDecide_HaltedMandateFallsBackToOriginalPayment(t *testing.T) {
	// --- Arrange ---
	settings := entitlement.DefaultSettings()
	user := paidUser(t0)
	haltedAt := t0.Add(3 * 24 * time.Hour)
	sub := mandate(model.SubscriptionStatusCancelled, false, nil)
	sub.CancelledAt = &haltedAt
	sub.CancellationReason = "payment failed"

	// --- Act ---
	d := entitlement.Decide(user, sub, settings, t0.Add(8*24*time.Hour))

	// --- Assert ---
	if d.RealCategory != model.CategoryLapsedGrace {
		t.Fatalf("expected lapsed grace, but got %s", d.RealCategory)
	}
	if want := t0.Add(7 * 24 * time.Hour); !d.AccessEndsAt.Equal(want) {
		t.Errorf("expected grace measured from first payment (%v), but got %v", want, d.AccessEndsAt)
	}
	if d.AccessActive {
		t.Error("expected access to have ended")
	}
}

func TestDecide_EffectiveNeverUpgradesWithoutAccess(t *testing.T) {
	settings := entitlement.DefaultSettings()
	users := []*model.User{
		{ID: "u-1"},
		paidUser(t0),
		{ID: "u-1", AdminForcedPremium: true},
	}
	subs := []*model.Subscription{
		nil,
		mandate(model.SubscriptionStatusActive, true, nil),
		mandate(model.SubscriptionStatusCancelled, false, ptr(t0.Add(48*time.Hour))),
	}
	for i, u := range users {
		for j, s := range subs {
			for _, offset := range []time.Duration{0, 6 * 24 * time.Hour, 30 * 24 * time.Hour} {
				d := entitlement.Decide(u, s, settings, t0.Add(offset))
				if !d.Category.Valid() || !d.RealCategory.Valid() {
					t.Fatalf("case %d/%d: invalid category %+v", i, j, d)
				}
				if d.Category == model.CategoryPremiumAutorenew && !d.AccessActive {
					t.Fatalf("case %d/%d: premium shown without access: %+v", i, j, d)
				}
				if d.Category != d.RealCategory && d.RealCategory != model.CategoryLapsedGrace {
					t.Fatalf("case %d/%d: only lapsed grace may be masked: %+v", i, j, d)
				}
			}
		}
	}
}

func TestDecide_NilAndDeletedUser(t *testing.T) {
	d := entitlement.Decide(nil, nil, entitlement.DefaultSettings(), t0)
	if d.AccessActive || d.RealCategory != model.CategoryNew {
		t.Fatalf("expected new without access, but got %+v", d)
	}
	u := paidUser(t0)
	u.DeletedAt = ptr(t0)
	d = entitlement.Decide(u, nil, entitlement.DefaultSettings(), t0)
	if d.AccessActive {
		t.Fatal("expected deleted user to have no access")
	}
}

func TestDecide_FlagWithoutTimestamp(t *testing.T) {
	settings := entitlement.DefaultSettings()
	user := &model.User{ID: "u-1", HasPaidVerificationFee: true}
	far := t0.Add(30 * 24 * time.Hour)

	t.Run("should honour a live autorenew mandate", func(t *testing.T) {
		d := entitlement.Decide(user, mandate(model.SubscriptionStatusActive, true, &far), settings, t0)
		if !d.AccessActive || d.RealCategory != model.CategoryPremiumAutorenew {
			t.Fatalf("expected premium autorenew, but got %+v", d)
		}
	})

	t.Run("should fall back to lapsed without access", func(t *testing.T) {
		d := entitlement.Decide(user, nil, settings, t0)
		if d.AccessActive || d.RealCategory != model.CategoryLapsedGrace {
			t.Fatalf("expected lapsed grace without access, but got %+v", d)
		}
		if d.AccessEndsAt != nil {
			t.Errorf("expected no end date, but got %v", d.AccessEndsAt)
		}
	})
}
