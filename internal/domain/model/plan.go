package model

import (
	"time"

	"premium-entitlement/internal/domain"
)

// Plan is a purchasable recurring plan mirrored from the gateway catalogue.
type Plan struct {
	ID            string
	Name          string
	GatewayPlanID string // plan id on the gateway side, required to create a mandate
	Active        bool
	Amount        int64 // minor units
	Currency      string
	IntervalDays  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subscribable reports whether a mandate can be created against the plan.
func (p *Plan) Subscribable() error {
	if p == nil {
		return domain.ErrNotFound
	}
	if !p.Active {
		return domain.ErrPlanInactive
	}
	if p.GatewayPlanID == "" {
		return domain.NewValidationError("plan_id", "plan is not linked to a gateway plan")
	}
	return nil
}
