package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_id, gateway_subscription_id, status, auto_renew, is_trial, starts_at, ends_at, trial_ends_at, cancelled_at, cancellation_reason, checkout_flow, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, gateway_subscription_id=$4, status=$5, auto_renew=$6, is_trial=$7, starts_at=$8,
  ends_at=$9, trial_ends_at=$10, cancelled_at=$11, cancellation_reason=$12, checkout_flow=$13, updated_at=$15;`
	if s == nil || s.ID == "" || !s.Status.Valid() {
		return domain.ErrInvalidArgument
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.PlanID, s.GatewaySubscriptionID, s.Status, s.AutoRenew, s.IsTrial, s.StartsAt,
		s.EndsAt, s.TrialEndsAt, s.CancelledAt, s.CancellationReason, s.CheckoutFlow, s.CreatedAt, s.UpdatedAt)
	return writeErr(err)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, tx)
	return r.one(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gatewayID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id=$1`, tx)
	return r.one(ctx, tx, q, gatewayID)
}

func (r *subscriptionRepo) FindLatestByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, tx)
	return r.one(ctx, tx, q, userID)
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, scanErr(err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, s)
	}
	return out, scanErr(rows.Err())
}

func (r *subscriptionRepo) one(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return s, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.GatewaySubscriptionID, &s.Status, &s.AutoRenew, &s.IsTrial,
		&s.StartsAt, &s.EndsAt, &s.TrialEndsAt, &s.CancelledAt, &s.CancellationReason, &s.CheckoutFlow,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
