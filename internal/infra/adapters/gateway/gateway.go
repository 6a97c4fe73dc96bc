// Package gateway holds the billing gateway adapters.
package gateway

import (
	"fmt"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/ports/adapter"
)

// New builds the adapter named by cfg.Provider.
func New(cfg config.GatewayConfig) (adapter.BillingGateway, error) {
	switch cfg.Provider {
	case "razorpay":
		return NewRazorpayGateway(cfg)
	case "noop":
		return NewNoopGateway(cfg.KeySecret), nil
	default:
		return nil, fmt.Errorf("%w: unknown gateway provider %q", domain.ErrConfiguration, cfg.Provider)
	}
}
