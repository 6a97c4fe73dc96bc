package repository

import (
	"context"
	"time"

	"premium-entitlement/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

// UserRepository never writes the payment flags from Save. Flags are written
// by SavePaymentFlags only, which implementations must keep monotonic.
type UserRepository interface {
	// FindByID locks the row when tx is a transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	Save(ctx context.Context, tx Tx, u *model.User) error
	SavePaymentFlags(ctx context.Context, tx Tx, u *model.User) error
	SetAdminOverride(ctx context.Context, tx Tx, id string, forced bool) error
	TouchAutopayPrompt(ctx context.Context, tx Tx, id string, at time.Time) error
}
