package model

import "time"

// AccessCategory is the closed set of entitlement outcomes.
type AccessCategory string

const (
	CategoryNew              AccessCategory = "new"
	CategoryPremiumAutorenew AccessCategory = "premium_autorenew"
	CategoryLapsedGrace      AccessCategory = "lapsed_grace"
)

var AccessCategories = []AccessCategory{CategoryNew, CategoryPremiumAutorenew, CategoryLapsedGrace}

func (c AccessCategory) Valid() bool {
	switch c {
	case CategoryNew, CategoryPremiumAutorenew, CategoryLapsedGrace:
		return true
	}
	return false
}

func (c AccessCategory) String() string { return string(c) }

// AccessDecision is the entitlement result.
// Category is what the UI renders; RealCategory is what billing logic uses.
// A lapsed user still inside the grace window is shown as premium.
type AccessDecision struct {
	Category            AccessCategory
	RealCategory        AccessCategory
	AccessActive        bool
	AccessEndsAt        *time.Time
	ShouldPromptAutopay bool
}

// Premium reports whether the user gets premium content right now.
func (d AccessDecision) Premium() bool { return d.AccessActive }
