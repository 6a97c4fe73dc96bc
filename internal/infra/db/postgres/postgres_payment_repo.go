package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, subscription_id, gateway_payment_id, gateway_order_id, status, amount, currency, paid_at, failure_reason, metadata, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  subscription_id=$3, gateway_payment_id=$4, gateway_order_id=$5, status=$6, amount=$7, currency=$8,
  paid_at=$9, failure_reason=$10, metadata=$11, updated_at=$13;`
	if p == nil || p.ID == "" || p.UserID == "" {
		return domain.ErrInvalidArgument
	}
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.SubscriptionID, p.GatewayPaymentID, p.GatewayOrderID, p.Status, p.Amount, p.Currency,
		p.PaidAt, p.FailureReason, meta, p.CreatedAt, p.UpdatedAt)
	return writeErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	return r.one(ctx, tx, q, id)
}

func (r *paymentRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, gatewayPaymentID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id=$1`, tx)
	return r.one(ctx, tx, q, gatewayPaymentID)
}

// FindByGatewayOrderID returns the oldest payment for the order.
func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id=$1 ORDER BY created_at ASC LIMIT 1`, tx)
	return r.one(ctx, tx, q, gatewayOrderID)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	return r.many(ctx, tx, q, userID, limit)
}

func (r *paymentRepo) ListCreatedBetween(ctx context.Context, tx repository.Tx, from, to time.Time) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	return r.many(ctx, tx, q, from.UTC(), to.UTC())
}

func (r *paymentRepo) one(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) many(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, scanErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, p)
	}
	return out, scanErr(rows.Err())
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	err := row.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.GatewayPaymentID, &p.GatewayOrderID, &p.Status,
		&p.Amount, &p.Currency, &p.PaidAt, &p.FailureReason, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p, nil
}
