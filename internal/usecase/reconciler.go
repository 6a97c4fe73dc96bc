// File: internal/usecase/reconciler.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/command"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
)

// evidenceOrderPrefix keys the payment recorded for a mandate authentication
// that arrived without a payment entity.
const evidenceOrderPrefix = "mandate_auth:"

// Paid flag sources, for metrics and logs.
const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
)

type sourceKey struct{}

// WithSource tags ctx with the entry point that produced a command.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceWebhook
}

// Reconciler applies commands to the ledger. Each Apply runs in one
// serializable transaction that first locks the owning user's row, and is
// retried when the database reports a serialization conflict.
type Reconciler struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	tm       repository.TransactionManager
	cfg      *config.Holder
	log      *zerolog.Logger
	now      func() time.Time
}

func NewReconciler(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	tm repository.TransactionManager,
	cfg *config.Holder,
	logger *zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		users:    users,
		subs:     subs,
		payments: payments,
		tm:       tm,
		cfg:      cfg,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply is idempotent for every command: rows are found by gateway id before
// anything is created and every assignment is absolute.
func (r *Reconciler) Apply(ctx context.Context, cmd command.Command) (err error) {
	defer logging.TraceDuration(r.log, "Reconciler.Apply")()
	defer func() {
		result := "ok"
		switch {
		case err == nil:
		case domain.IsUnknownEntity(err):
			result = "unknown_entity"
		default:
			result = "error"
		}
		metrics.IncReconcileCommand(cmd.Name(), result)
	}()

	switch c := cmd.(type) {
	case command.CapturePayment:
		return r.capturePayment(ctx, c)
	case command.FailPayment:
		return r.failPayment(ctx, c)
	case command.AuthenticateMandate:
		return r.applyMandate(ctx, c.Mandate, c.Payment, c.UserID, model.SubscriptionStatusTrial)
	case command.ActivateMandate:
		return r.applyMandate(ctx, c.Mandate, c.Payment, "", model.SubscriptionStatusActive)
	case command.ChargeMandate:
		return r.applyMandate(ctx, c.Mandate, c.Payment, "", model.SubscriptionStatusActive)
	case command.HaltMandate:
		return r.stopMandate(ctx, c.Mandate, func(s *model.Subscription, now time.Time) bool {
			return s.Cancel("payment failed", now)
		})
	case command.CancelMandate:
		return r.stopMandate(ctx, c.Mandate, func(s *model.Subscription, now time.Time) bool {
			return s.Cancel("", now)
		})
	case command.EndMandate:
		return r.stopMandate(ctx, c.Mandate, func(s *model.Subscription, _ time.Time) bool {
			changed := s.Transition(model.SubscriptionStatusExpired)
			if s.AutoRenew {
				s.AutoRenew = false
				changed = true
			}
			return changed
		})
	case command.RecordRefund:
		return r.recordRefund(ctx, c)
	case command.NoOp:
		return nil
	default:
		return fmt.Errorf("%w: unsupported command %T", domain.ErrReconciliation, cmd)
	}
}

// ---------------------------------------------------------------------------
// Per-user transaction
// ---------------------------------------------------------------------------

// withUserTx runs fn holding the user row. An unknown user means the event
// references nothing we know.
func (r *Reconciler) withUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx, u *model.User) error) error {
	return userTx(ctx, r.tm, r.users, r.cfg.Current().Database.MaxTxRetry, userID, domain.ErrUnknownEntity, fn)
}

// recordSuccessfulPayment is the only caller of model.RecordSuccessfulPayment.
// It is reached from webhook commands and from VerifyPayment, both through Apply.
func (r *Reconciler) recordSuccessfulPayment(ctx context.Context, tx repository.Tx, u *model.User, p *model.Payment) error {
	currency := r.cfg.Current().Entitlement.VerificationCurrency
	if !model.RecordSuccessfulPayment(u, p, currency) {
		return nil
	}
	if err := r.users.SavePaymentFlags(ctx, tx, u); err != nil {
		return err
	}
	source := sourceFrom(ctx)
	metrics.IncPaidFlagRaised(source)
	logging.With(ctx, r.log).Info().
		Str("payment_id", p.ID).
		Str("source", source).
		Time("paid_at", *u.VerificationFeePaidAt).
		Msg("verification fee recorded")
	return nil
}

// ---------------------------------------------------------------------------
// Owner resolution (read-only, outside the transaction)
// ---------------------------------------------------------------------------

func (r *Reconciler) ownerOfPayment(ctx context.Context, ref command.PaymentRef, hint string) (string, error) {
	if hint != "" {
		return hint, nil
	}
	if ref.GatewayPaymentID != "" {
		if p, err := r.payments.FindByGatewayPaymentID(ctx, repository.NoTX, ref.GatewayPaymentID); err == nil && p != nil {
			return p.UserID, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	if ref.GatewayOrderID != "" {
		if p, err := r.payments.FindByGatewayOrderID(ctx, repository.NoTX, ref.GatewayOrderID); err == nil && p != nil {
			return p.UserID, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	return r.ownerOfMandate(ctx, ref.MandateID, ref.Notes, "")
}

func (r *Reconciler) ownerOfMandate(ctx context.Context, mandateID string, notes map[string]string, hint string) (string, error) {
	if hint != "" {
		return hint, nil
	}
	if mandateID != "" {
		if s, err := r.subs.FindByGatewayID(ctx, repository.NoTX, mandateID); err == nil && s != nil {
			return s.UserID, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	if id := command.SubscriptionHint(notes); id != "" {
		if s, err := r.subs.FindByID(ctx, repository.NoTX, id); err == nil && s != nil {
			return s.UserID, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}
	if id := command.UserHint(notes); id != "" {
		return id, nil
	}
	what := mandateID
	if what == "" {
		what = "entity without gateway id"
	}
	return "", fmt.Errorf("%s: %w", what, domain.ErrUnknownEntity)
}

// ---------------------------------------------------------------------------
// Lookups inside the transaction
// ---------------------------------------------------------------------------

// findSubscription locates the local row for a mandate. A row created before
// the gateway call is found through the notes and gets the gateway id attached.
func (r *Reconciler) findSubscription(ctx context.Context, tx repository.Tx, userID, mandateID string, notes map[string]string) (*model.Subscription, error) {
	if mandateID != "" {
		s, err := r.subs.FindByGatewayID(ctx, tx, mandateID)
		if err == nil && s != nil {
			if s.UserID != userID {
				return nil, domain.ErrSubscriptionOwnerMismatch
			}
			return s, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if id := command.SubscriptionHint(notes); id != "" {
		s, err := r.subs.FindByID(ctx, tx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if s != nil && s.UserID == userID && (!s.HasMandate() || s.MandateID() == mandateID) {
			s.AttachMandate(mandateID)
			return s, nil
		}
	}
	return nil, nil
}

// upsertPayment finds the payment by gateway payment id, then by order id,
// and creates it when neither exists.
func (r *Reconciler) upsertPayment(ctx context.Context, tx repository.Tx, userID string, ref command.PaymentRef, sub *model.Subscription) (*model.Payment, error) {
	var p *model.Payment
	if ref.GatewayPaymentID != "" {
		found, err := r.payments.FindByGatewayPaymentID(ctx, tx, ref.GatewayPaymentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		p = found
	}
	if p == nil && ref.GatewayOrderID != "" {
		found, err := r.payments.FindByGatewayOrderID(ctx, tx, ref.GatewayOrderID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if found != nil && (found.GatewayPaymentID == nil || *found.GatewayPaymentID == ref.GatewayPaymentID) {
			p = found
		}
	}
	if p == nil {
		created, err := model.NewPayment(userID, ref.Amount, ref.Currency)
		if err != nil {
			return nil, err
		}
		p = created
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("%w: payment %s belongs to another user", domain.ErrReconciliation, p.ID)
	}

	if ref.GatewayPaymentID != "" {
		id := ref.GatewayPaymentID
		p.GatewayPaymentID = &id
	}
	if ref.GatewayOrderID != "" && p.GatewayOrderID == nil {
		id := ref.GatewayOrderID
		p.GatewayOrderID = &id
	}
	if ref.Amount > 0 {
		p.Amount = ref.Amount
	}
	if ref.Currency != "" {
		p.Currency = ref.Currency
	}
	if sub != nil && p.SubscriptionID == nil {
		id := sub.ID
		p.SubscriptionID = &id
	}
	return p, nil
}

func (r *Reconciler) paidAt(ref command.PaymentRef) time.Time {
	if !ref.CapturedAt.IsZero() {
		return ref.CapturedAt
	}
	return r.now()
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (r *Reconciler) capturePayment(ctx context.Context, c command.CapturePayment) error {
	userID, err := r.ownerOfPayment(ctx, c.Payment, c.UserID)
	if err != nil {
		return err
	}
	ctx = logging.WithUserID(ctx, userID)
	return r.withUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx, u *model.User) error {
		sub, err := r.findSubscription(ctx, tx, u.ID, c.Payment.MandateID, c.Payment.Notes)
		if err != nil {
			return err
		}
		if sub != nil {
			if err := r.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
		}
		p, err := r.capture(ctx, tx, u.ID, c.Payment, sub)
		if err != nil {
			return err
		}
		return r.recordSuccessfulPayment(ctx, tx, u, p)
	})
}

// capture saves the payment as succeeded and returns it.
func (r *Reconciler) capture(ctx context.Context, tx repository.Tx, userID string, ref command.PaymentRef, sub *model.Subscription) (*model.Payment, error) {
	p, err := r.upsertPayment(ctx, tx, userID, ref, sub)
	if err != nil {
		return nil, err
	}
	if p.MarkSucceeded(r.paidAt(ref)) {
		metrics.IncPaymentTransition(string(model.PaymentStatusSuccess), p.Currency)
		metrics.AddCaptured(p.Currency, p.Amount)
	}
	if err := r.payments.Save(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reconciler) failPayment(ctx context.Context, c command.FailPayment) error {
	userID, err := r.ownerOfPayment(ctx, c.Payment, "")
	if err != nil {
		return err
	}
	ctx = logging.WithUserID(ctx, userID)
	return r.withUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx, u *model.User) error {
		sub, err := r.findSubscription(ctx, tx, u.ID, c.Payment.MandateID, c.Payment.Notes)
		if err != nil {
			return err
		}
		p, err := r.upsertPayment(ctx, tx, u.ID, c.Payment, sub)
		if err != nil {
			return err
		}
		reason := c.Payment.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		if !p.MarkFailed(reason) {
			logging.With(ctx, r.log).Debug().Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("late failure ignored")
			return nil
		}
		metrics.IncPaymentTransition(string(model.PaymentStatusFailed), p.Currency)
		return r.payments.Save(ctx, tx, p)
	})
}

// applyMandate handles authenticated, activated and charged: move the status
// forward, extend the paid period, record the payment and raise the flag.
func (r *Reconciler) applyMandate(ctx context.Context, m command.MandateRef, pay *command.PaymentRef, hint string, next model.SubscriptionStatus) error {
	userID, err := r.ownerOfMandate(ctx, m.MandateID, m.Notes, hint)
	if err != nil {
		return err
	}
	ctx = logging.WithUserID(ctx, userID)
	return r.withUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx, u *model.User) error {
		sub, err := r.findSubscription(ctx, tx, u.ID, m.MandateID, m.Notes)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("mandate %s: %w", m.MandateID, domain.ErrUnknownEntity)
		}

		sub.Transition(next)
		if sub.StartsAt == nil && m.CurrentStart != nil {
			start := *m.CurrentStart
			sub.StartsAt = &start
		}
		if m.CurrentEnd != nil {
			sub.ExtendTo(*m.CurrentEnd)
		}
		if next == model.SubscriptionStatusTrial && sub.TrialEndsAt == nil && m.ChargeAt != nil {
			t := *m.ChargeAt
			sub.TrialEndsAt = &t
		}
		if err := r.subs.Save(ctx, tx, sub); err != nil {
			return err
		}

		// Without a payment entity the authorisation itself is the evidence.
		ref := command.PaymentRef{
			GatewayOrderID: evidenceOrderPrefix + m.MandateID,
			MandateID:      m.MandateID,
			Currency:       r.cfg.Current().Entitlement.VerificationCurrency,
		}
		if pay != nil {
			ref = *pay
			if ref.MandateID == "" {
				ref.MandateID = m.MandateID
			}
		}
		p, err := r.capture(ctx, tx, u.ID, ref, sub)
		if err != nil {
			return err
		}
		return r.recordSuccessfulPayment(ctx, tx, u, p)
	})
}

// stopMandate handles halted, cancelled and ended mandates. The paid flag and
// the admin override are never touched here.
func (r *Reconciler) stopMandate(ctx context.Context, m command.MandateRef, mutate func(*model.Subscription, time.Time) bool) error {
	userID, err := r.ownerOfMandate(ctx, m.MandateID, m.Notes, "")
	if err != nil {
		return err
	}
	ctx = logging.WithUserID(ctx, userID)
	return r.withUserTx(ctx, userID, func(ctx context.Context, tx repository.Tx, u *model.User) error {
		sub, err := r.findSubscription(ctx, tx, u.ID, m.MandateID, m.Notes)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("mandate %s: %w", m.MandateID, domain.ErrUnknownEntity)
		}
		if !mutate(sub, r.now()) {
			return nil
		}
		return r.subs.Save(ctx, tx, sub)
	})
}

func (r *Reconciler) recordRefund(ctx context.Context, c command.RecordRefund) error {
	existing, err := r.payments.FindByGatewayPaymentID(ctx, repository.NoTX, c.Refund.GatewayPaymentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if existing == nil {
		return fmt.Errorf("payment %s: %w", c.Refund.GatewayPaymentID, domain.ErrUnknownEntity)
	}
	ctx = logging.WithUserID(ctx, existing.UserID)
	return r.withUserTx(ctx, existing.UserID, func(ctx context.Context, tx repository.Tx, u *model.User) error {
		p, err := r.payments.FindByGatewayPaymentID(ctx, tx, c.Refund.GatewayPaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("payment %s: %w", c.Refund.GatewayPaymentID, domain.ErrUnknownEntity)
		}
		processed := c.Refund.Status == "processed"
		wasRefunded := p.Status == model.PaymentStatusRefunded
		if !p.UpsertRefund(model.Refund{
			ID:        c.Refund.RefundID,
			Amount:    c.Refund.Amount,
			Status:    c.Refund.Status,
			CreatedAt: c.Refund.CreatedAt,
		}, processed) {
			return nil
		}
		if !wasRefunded && p.Status == model.PaymentStatusRefunded {
			metrics.IncPaymentTransition(string(model.PaymentStatusRefunded), p.Currency)
		}
		return r.payments.Save(ctx, tx, p)
	})
}
