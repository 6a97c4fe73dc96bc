package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/webhook"
)

// WebhookService ingests one gateway delivery.
type WebhookService interface {
	Handle(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Lifecycle LifecycleService
	Access    AccessService
	Admin     AdminService
	Webhooks  WebhookService
	Checks    map[string]HealthCheck
}

type Server struct {
	cfg       *config.Holder
	lifecycle LifecycleService
	access    AccessService
	admin     AdminService
	webhooks  WebhookService
	checks    map[string]HealthCheck
	auth      *Authenticator
	log       *zerolog.Logger
	server    *http.Server
}

func NewServer(cfg *config.Holder, deps Deps, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		lifecycle: deps.Lifecycle,
		access:    deps.Access,
		admin:     deps.Admin,
		webhooks:  deps.Webhooks,
		checks:    deps.Checks,
		auth:      NewAuthenticator(cfg),
		log:       logger,
	}
	s.server = &http.Server{
		Addr:              cfg.Current().HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Authenticator() *Authenticator { return s.auth }

// Handler builds the router. The request timeout is read once here; it only
// changes on restart.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.cfg.Current().HTTP.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/billing", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Client)
		r.Get("/access", s.handleGetAccess)
		r.Post("/access/prompted", s.handleMarkPrompted)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Post("/subscriptions/cancel", s.handleCancel)
		r.Post("/subscriptions/autopay/enable", s.handleEnableAutopay)
		r.Post("/subscriptions/autopay/disable", s.handleDisableAutopay)
		r.Post("/subscriptions/retry", s.handleRetry)
		r.Post("/payments/verify", s.handleVerify)
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.auth.Admin)
		r.Get("/users/{userID}", s.handleInspect)
		r.Put("/users/{userID}/override", s.handleSetOverride)
		r.Get("/users/{userID}/decision", s.handleDecide)
		r.Get("/mandates/{mandateID}", s.handleFetchMandate)
		r.Get("/reconciliation", s.handleReconciliation)
		r.Post("/config/reload", s.handleReload)
	})
	return r
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	out := map[string]string{"status": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			out[name] = "down"
			out["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}
