package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/infra/adapters/gateway"
	pg "premium-entitlement/internal/infra/db/postgres"
	httpapi "premium-entitlement/internal/infra/http"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/usecase"
)

// operator is the slice of the admin use case the CLI drives.
type operator interface {
	SetOverride(ctx context.Context, actor, userID string, forced bool) error
	Inspect(ctx context.Context, userID string) (*usecase.UserReport, error)
	Decide(ctx context.Context, userID string, at time.Time) (model.AccessDecision, error)
	FetchMandate(ctx context.Context, mandateID string) (adapter.Mandate, error)
	ReconciliationReport(ctx context.Context, w adapter.Window) (*usecase.ReconciliationReport, error)
}

// env is everything a command may need. close releases connections.
type env struct {
	cfg     *config.Holder
	admin   operator
	migrate func(ctx context.Context) error
	close   func()
}

type envOpener func(ctx context.Context, cfgPath string, log *zerolog.Logger) (*env, error)

// openEnv connects to postgres and builds the gateway client. Redis is not
// needed by any operator command.
func openEnv(ctx context.Context, cfgPath string, log *zerolog.Logger) (*env, error) {
	cfg, err := config.LoadConfig(cfgPath, false)
	if err != nil {
		return nil, err
	}
	holder := config.NewHolder(cfg)
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		pool.Close()
		return nil, err
	}
	admin := usecase.NewAdminUseCase(pg.NewUserRepo(pool), pg.NewSubscriptionRepo(pool), pg.NewPaymentRepo(pool), gw, holder, log)
	return &env{
		cfg:     holder,
		admin:   admin,
		migrate: func(ctx context.Context) error { return pg.Migrate(ctx, pool) },
		close:   pool.Close,
	}, nil
}

func newRootCmd(open envOpener) *cobra.Command {
	var (
		cfgPath string
		actor   string
		timeout time.Duration
		e       *env
		cancel  context.CancelFunc = func() {}
	)

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator commands for the billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var ctx context.Context
			ctx, cancel = context.WithTimeout(cmd.Context(), timeout)
			cmd.SetContext(ctx)
			log := logging.NewWithWriter(cmd.ErrOrStderr(), config.LogConfig{Level: "warn", Format: "console"}, true)
			var err error
			e, err = open(ctx, cfgPath, log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e != nil && e.close != nil {
				e.close()
			}
			cancel()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to YAML config file")
	root.PersistentFlags().StringVar(&actor, "actor", "billingctl", "operator name recorded on writes")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the command")

	envFn := func() *env { return e }
	root.AddCommand(
		newReconcileCmd(envFn),
		newMandateCmd(envFn),
		newInspectCmd(envFn),
		newDecideCmd(envFn),
		newOverrideCmd(envFn, &actor),
		newMigrateCmd(envFn),
		newTokenCmd(envFn),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReconcileCmd(e func() *env) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare gateway payments and settlements with the ledger",
		Example: `  billingctl reconcile --from 2026-10-01 --to 2026-10-02
  billingctl reconcile --from 2026-10-01T00:00:00Z --to 2026-10-01T12:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseInstant(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			t, err := parseInstant(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			rep, err := e().admin.ReconciliationReport(cmd.Context(), adapter.Window{From: f, To: t})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if len(rep.Mismatches) > 0 {
				return fmt.Errorf("%d mismatches", len(rep.Mismatches))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC 3339 or YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC 3339 or YYYY-MM-DD (exclusive)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date or RFC 3339 time", s)
	}
	return t.UTC(), nil
}

func newMandateCmd(e func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "mandate <gateway-subscription-id>",
		Short: "Fetch a mandate from the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e().admin.FetchMandate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newInspectCmd(e func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user-id>",
		Short: "Show a user's ledger rows and current decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := e().admin.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func newDecideCmd(e func() *env) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "decide <user-id>",
		Short: "Evaluate the access decision, optionally at another instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				var err error
				if when, err = parseInstant(at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			d, err := e().admin.Decide(cmd.Context(), args[0], when)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant, defaults to now")
	return cmd
}

func newOverrideCmd(e func() *env, actor *string) *cobra.Command {
	var on, off bool
	cmd := &cobra.Command{
		Use:   "override <user-id>",
		Short: "Force premium on or off for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == off {
				return errors.New("exactly one of --on or --off is required")
			}
			if err := e().admin.SetOverride(cmd.Context(), *actor, args[0], on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "override for %s set to %t\n", args[0], on)
			return nil
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "grant premium regardless of payments")
	cmd.Flags().BoolVar(&off, "off", false, "clear the override")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	return cmd
}

func newMigrateCmd(e func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e().migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newTokenCmd(e func() *env) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an API token for a user or an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != httpapi.RoleClient && role != httpapi.RoleAdmin {
				return fmt.Errorf("--role must be %s or %s", httpapi.RoleClient, httpapi.RoleAdmin)
			}
			tok, err := httpapi.NewAuthenticator(e().cfg).Mint(role, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", httpapi.RoleClient, "client or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	return cmd
}
