// File: internal/usecase/access_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/entitlement"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
)

// AccessView is the decision plus the fields the client renders around it.
type AccessView struct {
	UserID                 string
	Decision               model.AccessDecision
	HasPaidVerificationFee bool
	SubscriptionStatus     model.SubscriptionStatus
	NextBillingDate        *time.Time
	AutoRenew              bool
	Pricing                config.PricingConfig
}

type AccessUseCase struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	cfg   *config.Holder
	log   *zerolog.Logger
	now   func() time.Time
}

func NewAccessUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, cfg *config.Holder, logger *zerolog.Logger) *AccessUseCase {
	return &AccessUseCase{
		users: users,
		subs:  subs,
		cfg:   cfg,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Settings returns the entitlement settings of the current config snapshot.
func Settings(cfg *config.Config) entitlement.Settings {
	return entitlement.Settings{
		GraceWindow:    cfg.Entitlement.GraceWindow,
		PromptCooldown: cfg.Entitlement.PromptCooldown,
	}
}

// Get decides access for userID. A user without a ledger row is New.
func (uc *AccessUseCase) Get(ctx context.Context, userID string) (*AccessView, error) {
	defer logging.TraceDuration(uc.log, "AccessUC.Get")()
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "must not be empty")
	}
	u, latest, err := loadDecisionInputs(ctx, uc.users, uc.subs, userID)
	if err != nil {
		return nil, err
	}
	cfg := uc.cfg.Current()
	d := entitlement.Decide(u, latest, Settings(cfg), uc.now())
	metrics.IncEntitlementDecision(d.Category.String(), d.RealCategory.String())

	v := &AccessView{
		UserID:   userID,
		Decision: d,
		Pricing:  cfg.Pricing,
	}
	if u != nil {
		v.HasPaidVerificationFee = u.HasPaidVerificationFee
	}
	if latest != nil {
		v.SubscriptionStatus = latest.Status
		v.AutoRenew = latest.AutoRenew
		if latest.AutoRenew && latest.MandateLive() {
			v.NextBillingDate = latest.EndsAt
		}
	}
	return v, nil
}

// MarkAutopayPrompted starts the prompt cooldown.
func (uc *AccessUseCase) MarkAutopayPrompted(ctx context.Context, userID string) error {
	defer logging.TraceDuration(uc.log, "AccessUC.MarkAutopayPrompted")()
	if userID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	return uc.users.TouchAutopayPrompt(ctx, repository.NoTX, userID, uc.now())
}

// loadDecisionInputs reads the user and latest subscription without locks.
// Either may be nil.
func loadDecisionInputs(ctx context.Context, users repository.UserRepository, subs repository.SubscriptionRepository, userID string) (*model.User, *model.Subscription, error) {
	u, err := users.FindByID(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, nil
	}
	latest, err := subs.FindLatestByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	return u, latest, nil
}
