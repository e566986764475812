package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/sellhub/pkg/app"
	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// TokenCreator issues API tokens
type TokenCreator interface {
	Create(ctx context.Context, accountID int64, req *auth.CreateTokenRequest) (*auth.CreateTokenResponse, error)
}

// Reconciler runs the order maintenance passes
type Reconciler interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// Backend is what the commands need from a wired application
type Backend interface {
	Migrate(ctx context.Context) (int, error)
	Tokens() TokenCreator
	Orders() Reconciler
	// PollsProcessor is false when charges cannot be looked up from this
	// process, as with the in-memory sandbox
	PollsProcessor() bool
	Close(ctx context.Context) error
}

// Deps can be replaced in tests. Nil fields use the real implementations.
type Deps struct {
	LoadConfig func() (*config.Config, error)
	Open       func(ctx context.Context, cfg *config.Config, logger *observability.Logger) (Backend, error)
}

func (d *Deps) applyDefaults() {
	if d.LoadConfig == nil {
		d.LoadConfig = config.LoadConfig
	}
	if d.Open == nil {
		d.Open = openApp
	}
}

type appBackend struct {
	app *app.App
}

func (b appBackend) Migrate(ctx context.Context) (int, error) { return b.app.Migrate(ctx) }
func (b appBackend) Tokens() TokenCreator { return b.app.Tokens }
func (b appBackend) Orders() Reconciler { return b.app.Orders }
func (b appBackend) PollsProcessor() bool { return b.app.PollsProcessor() }
func (b appBackend) Close(ctx context.Context) error { return b.app.Close(ctx) }

func openApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (Backend, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appBackend{a}, nil
}

// NewRootCommand creates the sellhub-cli root command
func NewRootCommand(deps Deps) *cobra.Command {
	deps.applyDefaults()

	root := &cobra.Command{
		Use:           "sellhub-cli",
		Short:         "Sellhub administration",
		Long:          "Administrative commands for a sellhub deployment. Configuration is read from SELLHUB_* environment variables.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newMigrateCommand(deps))
	root.AddCommand(newQuoteCommand())
	root.AddCommand(newTokenCommand(deps))
	root.AddCommand(newReconcileCommand(deps))

	return root
}

// withBackend loads configuration, opens the backend for the duration of fn
// and closes it afterwards
func withBackend(cmd *cobra.Command, deps Deps, fn func(ctx context.Context, b Backend, cfg *config.Config) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}

	level, _ := cmd.Flags().GetString("log-level")
	logger := observability.NewLogger(observability.ParseLogLevel(level), cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := deps.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open sellhub: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Close failed")
		}
	}()

	return fn(ctx, b, cfg)
}
