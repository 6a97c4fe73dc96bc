package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, email, phone, has_paid_verification_fee, verification_fee_paid_at, admin_forced_premium, last_autopay_prompt_at, created_at, updated_at, deleted_at`

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.HasPaidVerificationFee, &u.VerificationFeePaidAt,
		&u.AdminForcedPremium, &u.LastAutopayPromptAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		return nil, scanErr(err)
	}
	return u, nil
}

// Save upserts profile fields. Payment flags and the admin override are
// deliberately absent from the update list.
func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, phone, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  email=$2, phone=$3, updated_at=$5, deleted_at=$6;`
	if u.IsZero() {
		return domain.ErrInvalidArgument
	}
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.Phone, u.CreatedAt, u.UpdatedAt, u.DeletedAt)
	return writeErr(err)
}

// SavePaymentFlags can only raise the flag and only fills the first paid time.
func (r *userRepo) SavePaymentFlags(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
UPDATE users SET
  has_paid_verification_fee = has_paid_verification_fee OR $2,
  verification_fee_paid_at  = COALESCE(verification_fee_paid_at, $3),
  updated_at = NOW()
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, u.ID, u.HasPaidVerificationFee, u.VerificationFeePaidAt)
	if err != nil {
		return writeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepo) SetAdminOverride(ctx context.Context, tx repository.Tx, id string, forced bool) error {
	const q = `UPDATE users SET admin_forced_premium=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, forced)
	if err != nil {
		return writeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepo) TouchAutopayPrompt(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE users SET last_autopay_prompt_at=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at.UTC())
	if err != nil {
		return writeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
