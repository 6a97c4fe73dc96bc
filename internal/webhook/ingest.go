package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/command"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
)

// Applier executes a command against the ledger. It must be idempotent.
type Applier interface {
	Apply(ctx context.Context, cmd command.Command) error
}

type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnknownEntity Outcome = "unknown_entity"
	OutcomeRejected      Outcome = "rejected"
	OutcomeFailed        Outcome = "failed"
)

// Delivery is one inbound request as the transport saw it.
type Delivery struct {
	EventID   string
	Signature string
	Body      []byte
}

type Result struct {
	Event   string
	Command string
	Outcome Outcome
}

type Ingest struct {
	verifier *Verifier
	applier  Applier
	log      *zerolog.Logger
}

func NewIngest(verifier *Verifier, applier Applier, log *zerolog.Logger) *Ingest {
	return &Ingest{verifier: verifier, applier: applier, log: log}
}

// Handle verifies, parses, translates and applies one delivery.
//
// Returned errors carry a domain kind: Configuration for a missing secret,
// Validation for a missing signature or malformed body, Authentication for
// a bad signature. Any other non-nil error means the ledger write failed and
// the gateway should redeliver. Events that reference nothing we know are
// logged and reported as OutcomeUnknownEntity with a nil error.
func (in *Ingest) Handle(ctx context.Context, d Delivery) (res Result, err error) {
	start := time.Now()
	ctx = logging.WithEventID(ctx, d.EventID)
	log := logging.With(ctx, in.log)
	defer func() {
		metrics.ObserveWebhook(string(res.Outcome), time.Since(start))
	}()

	if err := in.verifier.Verify(d.Body, d.Signature); err != nil {
		res.Outcome = OutcomeRejected
		metrics.IncWebhookSignatureFailure(signatureReason(err))
		log.Warn().Err(err).Msg("webhook rejected")
		return res, err
	}

	env, err := Parse(d.Body)
	if err != nil {
		res.Outcome = OutcomeRejected
		metrics.IncWebhookEvent("", string(res.Outcome))
		log.Warn().Err(err).Msg("webhook payload unreadable")
		return res, err
	}
	res.Event = env.Event
	ctx = logging.WithEntityID(ctx, env.EntityID())
	log = logging.With(ctx, in.log)

	cmd, err := Translate(env)
	if err != nil {
		res.Outcome = OutcomeRejected
		metrics.IncWebhookEvent(env.Event, string(res.Outcome))
		log.Warn().Err(err).Str("event", env.Event).Msg("webhook event malformed")
		return res, err
	}
	res.Command = cmd.Name()

	if noop, ok := cmd.(command.NoOp); ok {
		res.Outcome = OutcomeIgnored
		metrics.IncWebhookEvent(env.Event, string(res.Outcome))
		log.Info().Str("event", env.Event).Str("reason", noop.Reason).Msg("webhook ignored")
		return res, nil
	}

	if err := in.applier.Apply(ctx, cmd); err != nil {
		if domain.IsUnknownEntity(err) {
			res.Outcome = OutcomeUnknownEntity
			metrics.IncWebhookEvent(env.Event, string(res.Outcome))
			log.Warn().Err(err).Str("event", env.Event).Str("command", res.Command).Msg("webhook references unknown entity")
			return res, nil
		}
		res.Outcome = OutcomeFailed
		metrics.IncWebhookEvent(env.Event, string(res.Outcome))
		log.Error().Err(err).Str("event", env.Event).Str("command", res.Command).Msg("webhook apply failed")
		return res, err
	}

	res.Outcome = OutcomeProcessed
	metrics.IncWebhookEvent(env.Event, string(res.Outcome))
	log.Info().Str("event", env.Event).Str("command", res.Command).Msg("webhook processed")
	return res, nil
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrWebhookSecretMissing):
		return "secret_missing"
	case errors.Is(err, domain.ErrMissingSignature):
		return "missing"
	default:
		return "mismatch"
	}
}
