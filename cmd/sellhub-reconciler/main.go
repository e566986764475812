package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/sellhub/pkg/app"
	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

var version = "dev"

var (
	runOnce    = flag.Bool("run-once", false, "Run both jobs once and exit")
	jobTimeout = flag.Duration("job-timeout", 5*time.Minute, "Upper bound on a single job run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "sellhub-reconciler").
		WithField("version", version)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to start")
		os.Exit(1)
	}

	j := &jobs{orders: a.Orders, cfg: cfg, logger: logger, timeout: *jobTimeout, pollProcessor: a.PollsProcessor()}

	if *runOnce {
		err := j.runOnce()
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.WithError(cerr).Warn("Close failed")
		}
		if err != nil {
			logger.WithError(err).Error("Reconciliation failed")
			os.Exit(1)
		}
		logger.Info("Reconciliation completed")
		return
	}

	c := cron.New(cron.WithChain(
		cron.Recover(observability.NewCronLogger(logger)),
		cron.SkipIfStillRunning(observability.NewCronLogger(logger)),
	))
	if err := j.schedule(c); err != nil {
		logger.WithError(err).Error("Failed to schedule jobs")
		a.Close(context.Background())
		os.Exit(1)
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

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, healthServer)
	shutdown.RegisterShutdownFunc("cron", func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("running jobs did not finish: %w", ctx.Err())
		}
	})
	shutdown.RegisterShutdownFunc("app", a.Close)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	c.Start()
	logger.Info("Reconciler started")

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown failed")
		os.Exit(1)
	}
	logger.Info("Reconciler stopped")
}
