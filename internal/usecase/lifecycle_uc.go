// File: internal/usecase/lifecycle_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/command"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
	red "premium-entitlement/internal/infra/redis"
)

// Lifecycle actions, also used as rate limit and metric labels.
const (
	ActionSubscribe      = "subscribe"
	ActionCancel         = "cancel"
	ActionEnableAutopay  = "autopay_enable"
	ActionDisableAutopay = "autopay_disable"
	ActionRetry          = "retry"
	ActionVerify         = "verify"
)

// Customer identifies the caller. Contact details are only used to prefill
// the gateway checkout and to provision the ledger row on first subscribe.
type Customer struct {
	UserID string
	Email  string
	Phone  string
}

// LifecycleResult is what every lifecycle command hands back to the client.
type LifecycleResult struct {
	Subscription *model.Subscription
	Flow         model.CheckoutFlow
	CheckoutKey  string
	MandateID    string
	ShortURL     string
}

type LifecycleUseCase struct {
	users      repository.UserRepository
	subs       repository.SubscriptionRepository
	plans      repository.PlanRepository
	tm         repository.TransactionManager
	gateway    adapter.BillingGateway
	locker     adapter.Locker
	limiter    adapter.RateLimiter
	reconciler *Reconciler
	cfg        *config.Holder
	log        *zerolog.Logger
	now        func() time.Time
}

func NewLifecycleUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	tm repository.TransactionManager,
	gateway adapter.BillingGateway,
	locker adapter.Locker,
	limiter adapter.RateLimiter,
	reconciler *Reconciler,
	cfg *config.Holder,
	logger *zerolog.Logger,
) *LifecycleUseCase {
	return &LifecycleUseCase{
		users:      users,
		subs:       subs,
		plans:      plans,
		tm:         tm,
		gateway:    gateway,
		locker:     locker,
		limiter:    limiter,
		reconciler: reconciler,
		cfg:        cfg,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe starts a checkout for planID.
//
// A mandate still in flight is handed back unchanged. Otherwise a created row
// is committed first, the gateway is called outside any transaction, and the
// returned gateway id is attached afterwards. If the gateway call fails the
// row stays created without a gateway id and the next Subscribe reuses it.
func (uc *LifecycleUseCase) Subscribe(ctx context.Context, c Customer, planID string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.Subscribe")()
	defer uc.count(ActionSubscribe, &err)
	ctx = logging.WithUserID(ctx, c.UserID)
	log := logging.With(ctx, uc.log)

	if strings.TrimSpace(planID) == "" {
		return nil, domain.NewValidationError("plan_id", "must not be empty")
	}
	if err := uc.throttle(ctx, c.UserID, ActionSubscribe); err != nil {
		return nil, err
	}

	cfg := uc.cfg.Current()
	lockKey := red.UserActionLockKey(c.UserID, ActionSubscribe)
	token, err := uc.locker.TryLock(ctx, lockKey, 2*cfg.Gateway.Timeout+5*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := uc.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); uerr != nil {
			log.Warn().Err(uerr).Msg("release subscribe lock")
		}
	}()

	plan, err := uc.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if err := plan.Subscribable(); err != nil {
		return nil, err
	}

	user, err := uc.ensureUser(ctx, c)
	if err != nil {
		return nil, err
	}

	history, err := uc.subs.ListByUser(ctx, repository.NoTX, c.UserID, 20)
	if err != nil {
		return nil, err
	}
	for _, s := range history {
		if s.InFlight() {
			log.Info().Str("subscription_id", s.ID).Msg("subscribe re-entered, returning in-flight mandate")
			metrics.IncCheckoutFlow(string(model.FlowExisting))
			return uc.result(s, model.FlowExisting, ""), nil
		}
	}
	var latest *model.Subscription
	if len(history) > 0 {
		latest = history[0]
	}
	if user.AdminForcedPremium || (latest != nil && latest.AutoRenew && latest.MandateLive()) {
		return nil, domain.ErrAlreadySubscribed
	}

	flow := model.FlowNew
	if user.HasPaidVerificationFee {
		flow = model.FlowReenable
	}

	sub, err := uc.prepareRow(ctx, c.UserID, plan.ID, flow)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, cfg.Gateway.Timeout)
	defer cancel()
	mandate, err := uc.gateway.CreateMandate(gctx, adapter.MandateRequest{
		PlanGatewayID:   plan.GatewayPlanID,
		TotalCount:      cfg.Gateway.TotalCount,
		SkipIntroCharge: flow == model.FlowReenable,
		IntroAmount:     cfg.Pricing.IntroAmount,
		IntroCurrency:   cfg.Pricing.Currency,
		CustomerEmail:   c.Email,
		CustomerPhone:   c.Phone,
		Notes: map[string]string{
			command.NoteUserID:         c.UserID,
			command.NoteSubscriptionID: sub.ID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("create mandate failed, row left in created")
		return nil, gatewayErr(err)
	}

	sub, err = uc.attachMandate(ctx, c.UserID, sub.ID, mandate.ID)
	if err != nil {
		// The gateway notes still point at sub.ID, so the first webhook links it.
		log.Error().Err(err).Str("mandate_id", mandate.ID).Msg("attach mandate failed")
		return nil, err
	}

	metrics.IncCheckoutFlow(string(flow))
	log.Info().
		Str("subscription_id", sub.ID).
		Str("mandate_id", mandate.ID).
		Str("flow", string(flow)).
		Bool("skip_intro", flow == model.FlowReenable).
		Msg("checkout created")
	return uc.result(sub, flow, mandate.ShortURL), nil
}

// ensureUser provisions the ledger row the first time a user subscribes.
func (uc *LifecycleUseCase) ensureUser(ctx context.Context, c Customer) (*model.User, error) {
	u, err := uc.users.FindByID(ctx, repository.NoTX, c.UserID)
	if err == nil && u != nil {
		if u.IsDeleted() {
			return nil, fmt.Errorf("user %s: %w", c.UserID, domain.ErrNotFound)
		}
		return u, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u, err = model.NewUser(c.UserID, c.Email, c.Phone)
	if err != nil {
		return nil, err
	}
	if err := uc.users.Save(ctx, repository.NoTX, u); err != nil {
		return nil, err
	}
	return uc.users.FindByID(ctx, repository.NoTX, c.UserID)
}

// prepareRow reuses the newest created row without a gateway id, or commits a
// new one.
func (uc *LifecycleUseCase) prepareRow(ctx context.Context, userID, planID string, flow model.CheckoutFlow) (*model.Subscription, error) {
	var out *model.Subscription
	err := uc.inUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		latest, err := uc.subs.FindLatestByUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if latest != nil && latest.Status == model.SubscriptionStatusCreated && !latest.HasMandate() {
			latest.PlanID = planID
			latest.CheckoutFlow = flow
			latest.AutoRenew = true
			latest.UpdatedAt = uc.now()
			out = latest
		} else {
			s, err := model.NewSubscription(userID, planID, flow)
			if err != nil {
				return err
			}
			out = s
		}
		return uc.subs.Save(ctx, tx, out)
	})
	return out, err
}

func (uc *LifecycleUseCase) attachMandate(ctx context.Context, userID, subID, mandateID string) (*model.Subscription, error) {
	var out *model.Subscription
	err := uc.inUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		if s.HasMandate() && s.MandateID() != mandateID {
			return fmt.Errorf("%w: subscription %s already linked to %s", domain.ErrConflict, s.ID, s.MandateID())
		}
		out = s
		if !s.AttachMandate(mandateID) {
			return nil
		}
		return uc.subs.Save(ctx, tx, s)
	})
	return out, err
}

// Cancel stops renewals at the gateway, then records the cancellation.
// Paid-for time keeps counting. Cancelling twice returns the first result.
func (uc *LifecycleUseCase) Cancel(ctx context.Context, userID, reason string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.Cancel")()
	defer uc.count(ActionCancel, &err)
	ctx = logging.WithUserID(ctx, userID)

	if err := uc.throttle(ctx, userID, ActionCancel); err != nil {
		return nil, err
	}
	latest, err := uc.latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, domain.ErrNoCancellableSubscription
	}
	if latest.Status == model.SubscriptionStatusCancelled {
		return uc.result(latest, latest.CheckoutFlow, ""), nil
	}
	now := uc.now()
	windowOpen := latest.EndsAt != nil && latest.EndsAt.After(now)
	if !latest.MandateLive() && !(latest.HasMandate() && windowOpen) {
		return nil, domain.ErrNoCancellableSubscription
	}

	if latest.Usable() {
		gctx, cancel := context.WithTimeout(ctx, uc.cfg.Current().Gateway.Timeout)
		defer cancel()
		if _, err := uc.gateway.CancelMandate(gctx, latest.MandateID(), true); err != nil {
			return nil, gatewayErr(err)
		}
	}

	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "user requested"
	}
	var out *model.Subscription
	err = uc.inUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, latest.ID)
		if err != nil {
			return err
		}
		out = s
		if !s.Cancel(reason, now) {
			return nil
		}
		return uc.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	logging.With(ctx, uc.log).Info().Str("subscription_id", out.ID).Str("reason", reason).Msg("subscription cancelled")
	return uc.result(out, out.CheckoutFlow, ""), nil
}

// EnableAutopay needs a mandate the gateway can still charge. A user without
// one must subscribe again.
func (uc *LifecycleUseCase) EnableAutopay(ctx context.Context, userID string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.EnableAutopay")()
	defer uc.count(ActionEnableAutopay, &err)
	return uc.setAutoRenew(ctx, userID, ActionEnableAutopay, true)
}

func (uc *LifecycleUseCase) DisableAutopay(ctx context.Context, userID string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.DisableAutopay")()
	defer uc.count(ActionDisableAutopay, &err)
	return uc.setAutoRenew(ctx, userID, ActionDisableAutopay, false)
}

func (uc *LifecycleUseCase) setAutoRenew(ctx context.Context, userID, action string, on bool) (*LifecycleResult, error) {
	ctx = logging.WithUserID(ctx, userID)
	if err := uc.throttle(ctx, userID, action); err != nil {
		return nil, err
	}
	var out *model.Subscription
	err := uc.inUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindLatestByUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if s == nil {
			if on {
				return domain.ErrNoMandate
			}
			return fmt.Errorf("%w: no subscription", domain.ErrNotFound)
		}
		if on && !s.Usable() {
			return domain.ErrNoMandate
		}
		out = s
		if s.AutoRenew == on {
			return nil
		}
		s.AutoRenew = on
		s.UpdatedAt = uc.now()
		return uc.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return uc.result(out, out.CheckoutFlow, ""), nil
}

// RetryPayment re-surfaces the identifiers of a mandate that reached the
// gateway but was never confirmed, so no second mandate is created.
func (uc *LifecycleUseCase) RetryPayment(ctx context.Context, userID string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.RetryPayment")()
	defer uc.count(ActionRetry, &err)
	ctx = logging.WithUserID(ctx, userID)

	if err := uc.throttle(ctx, userID, ActionRetry); err != nil {
		return nil, err
	}
	history, err := uc.subs.ListByUser(ctx, repository.NoTX, userID, 20)
	if err != nil {
		return nil, err
	}
	for _, s := range history {
		if s.Status == model.SubscriptionStatusCreated && s.HasMandate() {
			return uc.result(s, s.CheckoutFlow, ""), nil
		}
	}
	return nil, domain.ErrNoPendingSubscription
}

// VerifyPayment is the client-side confirmation. It runs the same command a
// subscription.authenticated webhook carrying the payment would, so the two
// paths may arrive in either order, or both.
func (uc *LifecycleUseCase) VerifyPayment(ctx context.Context, userID, mandateID, paymentID, signature string) (res *LifecycleResult, err error) {
	defer logging.TraceDuration(uc.log, "LifecycleUC.VerifyPayment")()
	defer uc.count(ActionVerify, &err)
	ctx = logging.WithUserID(ctx, userID)

	switch {
	case strings.TrimSpace(mandateID) == "":
		return nil, domain.NewValidationError("subscription_id", "must not be empty")
	case strings.TrimSpace(paymentID) == "":
		return nil, domain.NewValidationError("payment_id", "must not be empty")
	case strings.TrimSpace(signature) == "":
		return nil, domain.NewValidationError("signature", "must not be empty")
	}
	if err := uc.throttle(ctx, userID, ActionVerify); err != nil {
		return nil, err
	}

	ok, err := uc.gateway.VerifySignature(mandateID, paymentID, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		logging.With(ctx, uc.log).Warn().Str("mandate_id", mandateID).Str("payment_id", paymentID).Msg("payment signature mismatch")
		return nil, domain.ErrInvalidPaymentSignature
	}

	cmd := command.AuthenticateMandate{
		Mandate: command.MandateRef{MandateID: mandateID},
		Payment: &command.PaymentRef{
			GatewayPaymentID: paymentID,
			MandateID:        mandateID,
			Currency:         uc.cfg.Current().Entitlement.VerificationCurrency,
			CapturedAt:       uc.now(),
		},
		UserID: userID,
	}
	if err := uc.reconciler.Apply(WithSource(ctx, SourceVerify), cmd); err != nil {
		if domain.IsUnknownEntity(err) {
			return nil, fmt.Errorf("%w: mandate %s", domain.ErrNotFound, mandateID)
		}
		return nil, err
	}

	s, err := uc.subs.FindByGatewayID(ctx, repository.NoTX, mandateID)
	if err != nil {
		return nil, err
	}
	return uc.result(s, s.CheckoutFlow, ""), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (uc *LifecycleUseCase) result(s *model.Subscription, flow model.CheckoutFlow, shortURL string) *LifecycleResult {
	return &LifecycleResult{
		Subscription: s,
		Flow:         flow,
		CheckoutKey:  uc.gateway.CheckoutKey(),
		MandateID:    s.MandateID(),
		ShortURL:     shortURL,
	}
}

func (uc *LifecycleUseCase) latest(ctx context.Context, userID string) (*model.Subscription, error) {
	s, err := uc.subs.FindLatestByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s, nil
}

// throttle applies the per-user fixed window. A limiter outage lets the call
// through; the subscribe lock still prevents duplicate mandates.
func (uc *LifecycleUseCase) throttle(ctx context.Context, userID, action string) error {
	if userID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	rl := uc.cfg.Current().RateLimit
	ok, err := uc.limiter.Allow(ctx, red.UserActionKey(userID, action), rl.LifecycleLimit, rl.LifecycleWindow)
	if err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Str("action", action).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		metrics.IncRateLimitTriggered(action)
		return domain.ErrRateLimited
	}
	return nil
}

func (uc *LifecycleUseCase) inUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	return userTx(ctx, uc.tm, uc.users, uc.cfg.Current().Database.MaxTxRetry, userID, domain.ErrNotFound,
		func(ctx context.Context, tx repository.Tx, _ *model.User) error { return fn(ctx, tx) })
}

func (uc *LifecycleUseCase) count(action string, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
		if k := domain.KindOf(*err); k != nil {
			result = kindLabel(k)
		}
	}
	metrics.IncLifecycleAction(action, result)
}

// gatewayErr makes sure a failed gateway call always carries the Gateway kind.
func gatewayErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrGateway) || domain.KindOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
}

func kindLabel(k error) string {
	switch k {
	case domain.ErrValidation:
		return "validation"
	case domain.ErrAuthentication:
		return "authentication"
	case domain.ErrConfiguration:
		return "configuration"
	case domain.ErrNotFound:
		return "not_found"
	case domain.ErrConflict:
		return "conflict"
	case domain.ErrGateway:
		return "gateway"
	case domain.ErrReconciliation:
		return "reconciliation"
	}
	return "error"
}
