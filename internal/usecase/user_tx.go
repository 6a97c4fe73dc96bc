package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/infra/metrics"
)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// userTx runs fn in a serializable transaction whose first statement locks
// the user row. Serialization conflicts rerun fn up to maxRetry more times.
// A missing or deleted user is reported as missing.
func userTx(
	ctx context.Context,
	tm repository.TransactionManager,
	users repository.UserRepository,
	maxRetry int,
	userID string,
	missing error,
	fn func(ctx context.Context, tx repository.Tx, u *model.User) error,
) error {
	for attempt := 0; ; attempt++ {
		err := tm.WithTx(ctx, serializable, func(ctx context.Context, tx repository.Tx) error {
			u, err := users.FindByID(ctx, tx, userID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if u == nil || u.IsDeleted() {
				return fmt.Errorf("user %s: %w", userID, missing)
			}
			return fn(ctx, tx, u)
		})
		if err == nil || !errors.Is(err, domain.ErrTxConflict) || attempt >= maxRetry {
			return err
		}
		metrics.IncTxRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
}
