package repository

import (
	"context"

	"premium-entitlement/internal/domain/model"
)

// SubscriptionRepository is the port for gateway mandates mirrored locally.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByGatewayID(ctx context.Context, tx Tx, gatewayID string) (*model.Subscription, error)
	// FindLatestByUser returns the most recently created subscription.
	FindLatestByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Subscription, error)
}
