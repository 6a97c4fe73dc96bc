// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/infra/adapters/gateway"
	pg "premium-entitlement/internal/infra/db/postgres"
	httpapi "premium-entitlement/internal/infra/http"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/infra/metrics"
	red "premium-entitlement/internal/infra/redis"
	"premium-entitlement/internal/usecase"
	"premium-entitlement/internal/webhook"
)

// set with -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	migrate := flag.Bool("migrate", true, "apply the embedded schema on start")
	watchConfig := flag.Bool("watch-config", false, "reload when the config file changes, not only on SIGHUP")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, *migrate, *watchConfig, logger); err != nil {
		logger.Fatal().Err(err).Msg("billing service stopped")
	}
}

func run(cfg *config.Config, migrate, watchConfig bool, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if migrate {
		if err := pg.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	users := pg.NewUserRepo(pool)
	subs := pg.NewSubscriptionRepo(pool)
	payments := pg.NewPaymentRepo(pool)
	plans := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient, cfg.Redis.TTL, logger)
	tm := pg.NewTxManager(pool)

	// ---- Gateway ----
	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		return err
	}
	logger.Info().Str("provider", gw.Name()).Msg("billing gateway ready")

	// ---- Use cases ----
	reconciler := usecase.NewReconciler(users, subs, payments, tm, holder, logger)
	lifecycle := usecase.NewLifecycleUseCase(users, subs, plans, tm, gw,
		red.NewLocker(redisClient), red.NewRateLimiter(redisClient), reconciler, holder, logger)
	access := usecase.NewAccessUseCase(users, subs, holder, logger)
	admin := usecase.NewAdminUseCase(users, subs, payments, gw, holder, logger)

	// the secret is read per delivery so a reload rotates it
	verifier := webhook.NewVerifier(func() string { return holder.Current().Gateway.WebhookSecret })
	if cfg.Gateway.WebhookSecret == "" {
		logger.Warn().Msg("gateway.webhook_secret is empty, webhooks will be rejected")
	}

	srv := httpapi.NewServer(holder, httpapi.Deps{
		Lifecycle: lifecycle,
		Access:    access,
		Admin:     admin,
		Webhooks:  webhook.NewIngest(verifier, reconciler, logger),
		Checks: map[string]httpapi.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    redisClient.Ping,
		},
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), holder.Current().HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})
	watcher := config.NewWatcher(holder, logger, watchConfig)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { forwardHangup(gctx, watcher); return nil })
	g.Go(func() error { poolStats(gctx, pool, 15*time.Second); return nil })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("bye")
	return nil
}

// forwardHangup turns SIGHUP into a config reload.
func forwardHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			w.Trigger()
		}
	}
}

func poolStats(ctx context.Context, pool *pgxpool.Pool, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := pool.Stat()
			metrics.SetPoolConnections(st.MaxConns(), st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}
