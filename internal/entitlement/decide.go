// Package entitlement decides what a user may access. It performs no I/O;
// callers load the inputs and pass the clock in.
package entitlement

import (
	"time"

	"premium-entitlement/internal/domain/model"
)

const (
	DefaultGraceWindow    = 7 * 24 * time.Hour
	DefaultPromptCooldown = 30 * 24 * time.Hour
)

type Settings struct {
	// GraceWindow is measured from the first verification payment.
	GraceWindow time.Duration
	// PromptCooldown throttles the enable-autopay prompt.
	PromptCooldown time.Duration
}

func DefaultSettings() Settings {
	return Settings{GraceWindow: DefaultGraceWindow, PromptCooldown: DefaultPromptCooldown}
}

func (s Settings) withDefaults() Settings {
	if s.GraceWindow <= 0 {
		s.GraceWindow = DefaultGraceWindow
	}
	if s.PromptCooldown <= 0 {
		s.PromptCooldown = DefaultPromptCooldown
	}
	return s
}

// Decide evaluates the three categories in priority order:
//
//  1. PremiumAutorenew: paid once and a live mandate renews, or admin override.
//  2. LapsedGrace: paid once, no renewing mandate. Access lasts for the grace
//     window, or until a later paid-through date on the latest subscription.
//  3. New: never paid. No access, whatever the subscription row says.
//
// latest may be nil.
func Decide(user *model.User, latest *model.Subscription, settings Settings, now time.Time) model.AccessDecision {
	if user.IsZero() || user.IsDeleted() {
		return model.AccessDecision{Category: model.CategoryNew, RealCategory: model.CategoryNew}
	}
	settings = settings.withDefaults()

	hasPaid := user.HasPaidVerificationFee
	autopayOn := latest != nil && latest.AutoRenew && latest.MandateLive()

	var d model.AccessDecision
	switch {
	case (hasPaid && autopayOn) || user.AdminForcedPremium:
		d.RealCategory = model.CategoryPremiumAutorenew
		d.AccessActive = true
		if hasPaid && autopayOn {
			d.AccessEndsAt = copyTime(latest.EndsAt)
		}

	case hasPaid:
		d.RealCategory = model.CategoryLapsedGrace
		// without a paid-at timestamp only a paid-through date grants access
		var ends *time.Time
		if user.VerificationFeePaidAt != nil {
			v := user.VerificationFeePaidAt.Add(settings.GraceWindow)
			ends = &v
		}
		if latest != nil {
			if paid := latest.PaidThrough(); paid != nil && (ends == nil || paid.After(*ends)) {
				ends = copyTime(paid)
			}
		}
		d.AccessEndsAt = ends
		d.AccessActive = ends != nil && now.Before(*ends)
		d.ShouldPromptAutopay = !d.AccessActive ||
			user.LastAutopayPromptAt == nil ||
			!now.Before(user.LastAutopayPromptAt.Add(settings.PromptCooldown))

	default:
		d.RealCategory = model.CategoryNew
	}

	d.Category = Effective(d.RealCategory, d.AccessActive)
	return d
}

// Effective maps the real category to the one the UI shows. A lapsed user
// who still has access is shown as premium.
func Effective(real model.AccessCategory, active bool) model.AccessCategory {
	if real == model.CategoryLapsedGrace && active {
		return model.CategoryPremiumAutorenew
	}
	return real
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
