package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/sellhub/pkg/api"
	"github.com/platinummonkey/sellhub/pkg/app"
	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/middleware"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/webhooks"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "Apply pending migrations before serving")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "sellhub").
		WithField("version", version)

	if err := run(cfg, logger, *migrate); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *observability.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if migrate {
		applied, err := a.Migrate(ctx)
		if err != nil {
			a.Close(context.Background())
			return err
		}
		logger.WithField("applied", applied).Info("Migrations complete")
	}

	a.DB.StartHealthCheckRoutine(ctx, 30*time.Second, a.Metrics)
	if err := a.Fees.Watch(ctx); err != nil {
		logger.WithError(err).Warn("Fee schedule reload disabled")
	}

	limit := middleware.PerMinuteRateLimitConfig(cfg.Server.RateLimitPerMinute)
	local := middleware.NewRateLimitMiddleware().WithAnonymousLimit(limit)
	local.StartCleanup(ctx)
	rateLimit := middleware.NewDistributedRateLimitMiddleware(a.Redis, logger).
		WithAnonymousLimit(limit).
		WithLocalFallback(local)

	server := api.NewServer(api.Deps{
		Orders:         a.Orders,
		Catalog:        a.Catalog,
		Coupons:        a.Coupons,
		Affiliates:     a.Affiliates,
		Clicks:         a.Attributor,
		Accounts:       a.Accounts,
		KYC:            a.KYC,
		Ledger:         a.Ledger,
		Tokens:         a.Tokens,
		Events:         a.Events,
		Webhooks:       webhooks.NewHandlers(a.WebhookStore, a.Webhooks),
		RateLimit:      rateLimit.Handler,
		Metrics:        a.Metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Checkout.AllowedOrigins,
		PublicBaseURL:  cfg.Checkout.PublicBaseURL,
		SessionCookie:  cfg.Checkout.SessionCookieName,
		SecureCookies:  strings.HasPrefix(cfg.Checkout.PublicBaseURL, "https://"),
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "sellhub"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, a.HealthChecker(version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, a.Registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("app", a.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, apiServer, "api") })
	g.Go(func() error { return serve(logger, healthServer, "health") })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return shutdown.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func serve(logger *observability.Logger, srv *http.Server, name string) error {
	logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
