// File: internal/usecase/admin_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/entitlement"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
)

// UserReport is everything support needs to explain a user's access.
type UserReport struct {
	User          *model.User
	Decision      model.AccessDecision
	Subscriptions []*model.Subscription
	Payments      []*model.Payment
}

// Mismatch kinds in a reconciliation report.
const (
	MismatchMissingLocally   = "missing_locally"
	MismatchMissingAtGateway = "missing_at_gateway"
	MismatchStatus           = "status_mismatch"
)

type PaymentMismatch struct {
	Kind             string
	GatewayPaymentID string
	LocalPaymentID   string
	GatewayStatus    string
	LocalStatus      model.PaymentStatus
	Amount           int64
	Currency         string
}

type SettlementTotals struct {
	Count  int
	Amount int64
	Fees   int64
	Tax    int64
}

// ReconciliationReport compares the gateway's view of a window with ours.
type ReconciliationReport struct {
	Window          adapter.Window
	GatewayPayments int
	LocalPayments   int
	Matched         int
	Mismatches      []PaymentMismatch
	Settlements     SettlementTotals
}

type AdminUseCase struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	gateway  adapter.BillingGateway
	cfg      *config.Holder
	log      *zerolog.Logger
	now      func() time.Time
}

func NewAdminUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	gateway adapter.BillingGateway,
	cfg *config.Holder,
	logger *zerolog.Logger,
) *AdminUseCase {
	return &AdminUseCase{
		users:    users,
		subs:     subs,
		payments: payments,
		gateway:  gateway,
		cfg:      cfg,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetOverride is the only writer of admin_forced_premium.
func (uc *AdminUseCase) SetOverride(ctx context.Context, actor, userID string, forced bool) (err error) {
	defer logging.TraceDuration(uc.log, "AdminUC.SetOverride")()
	defer func() { metrics.IncAdminAction("set_override", statusLabel(err)) }()
	if userID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	if err := uc.users.SetAdminOverride(ctx, repository.NoTX, userID, forced); err != nil {
		return err
	}
	logging.With(logging.WithUserID(ctx, userID), uc.log).Info().
		Str("actor", actor).
		Bool("forced", forced).
		Msg("admin override changed")
	return nil
}

// Inspect returns the user, the current decision and recent ledger rows.
func (uc *AdminUseCase) Inspect(ctx context.Context, userID string) (*UserReport, error) {
	defer logging.TraceDuration(uc.log, "AdminUC.Inspect")()
	u, latest, err := loadDecisionInputs(ctx, uc.users, uc.subs, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.ErrNotFound
	}
	subs, err := uc.subs.ListByUser(ctx, repository.NoTX, userID, 50)
	if err != nil {
		return nil, err
	}
	pays, err := uc.payments.ListByUser(ctx, repository.NoTX, userID, 50)
	if err != nil {
		return nil, err
	}
	return &UserReport{
		User:          u,
		Decision:      entitlement.Decide(u, latest, Settings(uc.cfg.Current()), uc.now()),
		Subscriptions: subs,
		Payments:      pays,
	}, nil
}

// Decide evaluates access at an arbitrary instant, for support tooling.
func (uc *AdminUseCase) Decide(ctx context.Context, userID string, at time.Time) (model.AccessDecision, error) {
	u, latest, err := loadDecisionInputs(ctx, uc.users, uc.subs, userID)
	if err != nil {
		return model.AccessDecision{}, err
	}
	if at.IsZero() {
		at = uc.now()
	}
	return entitlement.Decide(u, latest, Settings(uc.cfg.Current()), at), nil
}

// FetchMandate reads the gateway's current view of a mandate.
func (uc *AdminUseCase) FetchMandate(ctx context.Context, mandateID string) (adapter.Mandate, error) {
	defer logging.TraceDuration(uc.log, "AdminUC.FetchMandate")()
	if mandateID == "" {
		return adapter.Mandate{}, domain.NewValidationError("mandate_id", "must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.Current().Gateway.Timeout)
	defer cancel()
	m, err := uc.gateway.FetchMandate(ctx, mandateID)
	if err != nil {
		return adapter.Mandate{}, gatewayErr(err)
	}
	return m, nil
}

// ReconciliationReport lists gateway payments and settlements for w and
// diffs them against local payments. It only reads.
func (uc *AdminUseCase) ReconciliationReport(ctx context.Context, w adapter.Window) (*ReconciliationReport, error) {
	defer logging.TraceDuration(uc.log, "AdminUC.ReconciliationReport")()
	if !w.To.After(w.From) {
		return nil, domain.NewValidationError("window", "to must be after from")
	}

	var (
		remote      []adapter.GatewayPayment
		settlements []adapter.Settlement
		local       []*model.Payment
	)
	timeout := 2 * uc.cfg.Current().Gateway.Timeout
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		var err error
		remote, err = uc.gateway.ListPayments(c, w)
		return gatewayErr(err)
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		var err error
		settlements, err = uc.gateway.ListSettlements(c, w)
		return gatewayErr(err)
	})
	g.Go(func() error {
		var err error
		local, err = uc.payments.ListCreatedBetween(gctx, repository.NoTX, w.From, w.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := diffPayments(remote, local)
	rep.Window = w
	for _, s := range settlements {
		rep.Settlements.Count++
		rep.Settlements.Amount += s.Amount
		rep.Settlements.Fees += s.Fees
		rep.Settlements.Tax += s.Tax
	}
	metrics.IncAdminAction("reconciliation_report", "ok")
	return rep, nil
}

func diffPayments(remote []adapter.GatewayPayment, local []*model.Payment) *ReconciliationReport {
	rep := &ReconciliationReport{GatewayPayments: len(remote)}
	byGatewayID := make(map[string]*model.Payment, len(local))
	for _, p := range local {
		if p.GatewayPaymentID == nil {
			continue
		}
		rep.LocalPayments++
		byGatewayID[*p.GatewayPaymentID] = p
	}

	seen := make(map[string]bool, len(remote))
	for _, gp := range remote {
		seen[gp.ID] = true
		p, ok := byGatewayID[gp.ID]
		if !ok {
			// only captured money needs a local row
			if gp.Status == "captured" || gp.Status == "refunded" {
				rep.Mismatches = append(rep.Mismatches, PaymentMismatch{
					Kind:             MismatchMissingLocally,
					GatewayPaymentID: gp.ID,
					GatewayStatus:    gp.Status,
					Amount:           gp.Amount,
					Currency:         gp.Currency,
				})
			}
			continue
		}
		if statusAgrees(gp.Status, p.Status) {
			rep.Matched++
			continue
		}
		rep.Mismatches = append(rep.Mismatches, PaymentMismatch{
			Kind:             MismatchStatus,
			GatewayPaymentID: gp.ID,
			LocalPaymentID:   p.ID,
			GatewayStatus:    gp.Status,
			LocalStatus:      p.Status,
			Amount:           gp.Amount,
			Currency:         gp.Currency,
		})
	}

	for id, p := range byGatewayID {
		if seen[id] || p.Status != model.PaymentStatusSuccess {
			continue
		}
		rep.Mismatches = append(rep.Mismatches, PaymentMismatch{
			Kind:             MismatchMissingAtGateway,
			GatewayPaymentID: id,
			LocalPaymentID:   p.ID,
			LocalStatus:      p.Status,
			Amount:           p.Amount,
			Currency:         p.Currency,
		})
	}
	sort.Slice(rep.Mismatches, func(i, j int) bool {
		if rep.Mismatches[i].Kind != rep.Mismatches[j].Kind {
			return rep.Mismatches[i].Kind < rep.Mismatches[j].Kind
		}
		return rep.Mismatches[i].GatewayPaymentID < rep.Mismatches[j].GatewayPaymentID
	})
	return rep
}

// statusAgrees maps gateway payment states onto ours.
func statusAgrees(gateway string, local model.PaymentStatus) bool {
	switch gateway {
	case "captured":
		return local == model.PaymentStatusSuccess
	case "refunded":
		return local == model.PaymentStatusRefunded
	case "failed":
		return local == model.PaymentStatusFailed
	case "created", "authorized":
		return local == model.PaymentStatusPending || local == model.PaymentStatusSuccess
	}
	return false
}

// ReloadConfig swaps in a fresh config snapshot from disk.
func (uc *AdminUseCase) ReloadConfig(ctx context.Context, actor string) (err error) {
	defer func() { metrics.IncAdminAction("config_reload", statusLabel(err)) }()
	if _, err := uc.cfg.Reload(); err != nil {
		logging.With(ctx, uc.log).Error().Err(err).Str("actor", actor).Msg("config reload failed, keeping previous snapshot")
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	logging.With(ctx, uc.log).Info().Str("actor", actor).Msg("config reloaded")
	return nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
