package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `id, name, gateway_plan_id, active, amount, currency, interval_days, created_at, updated_at`

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	const q = `
INSERT INTO plans (` + planColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name=$2, gateway_plan_id=$3, active=$4, amount=$5, currency=$6, interval_days=$7, updated_at=$9;`
	if p == nil || p.ID == "" {
		return domain.ErrInvalidArgument
	}
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.GatewayPlanID, p.Active, p.Amount, p.Currency, p.IntervalDays, p.CreatedAt, p.UpdatedAt)
	return writeErr(err)
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	const q = `SELECT ` + planColumns + ` FROM plans WHERE id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p := &model.Plan{}
	if err := row.Scan(&p.ID, &p.Name, &p.GatewayPlanID, &p.Active, &p.Amount, &p.Currency, &p.IntervalDays, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return p, nil
}

func (r *planRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	const q = `SELECT ` + planColumns + ` FROM plans WHERE active ORDER BY amount ASC, id ASC`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, scanErr(err)
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p := &model.Plan{}
		if err := rows.Scan(&p.ID, &p.Name, &p.GatewayPlanID, &p.Active, &p.Amount, &p.Currency, &p.IntervalDays, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, p)
	}
	return out, scanErr(rows.Err())
}
