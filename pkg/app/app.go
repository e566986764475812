// Package app wires the sellhub services from configuration. The API server,
// the reconciler and the admin CLI all build the same App so that orders are
// settled by identical code whichever binary touches them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/kyc"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/storage"
	"github.com/platinummonkey/sellhub/pkg/storage/postgres"
	"github.com/platinummonkey/sellhub/pkg/webhooks"
)

// App holds the wired services
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	OTel     *observability.OTelMetrics

	DB      *postgres.ConnectionManager
	Redis   *redis.Client
	Objects storage.ObjectStore
	Fees    *config.FeeScheduleStore

	Catalog      catalog.Service
	Coupons      coupons.Service
	Accounts     producers.Service
	Affiliates   affiliates.Service
	Clicks       *affiliates.ClickStore
	Attributor   *affiliates.Attributor
	KYC          kyc.Service
	Ledger       *ledger.Ledger
	Tokens       *auth.PostgresTokenStore
	Gateway      processor.Gateway
	Events       *processor.Verifier
	WebhookStore webhooks.Store
	Webhooks     *webhooks.Dispatcher
	Orders       *orders.Service

	// Sandbox is set when the sandbox processor is configured
	Sandbox *processor.Sandbox

	providers *observability.OTelProviders
}

// New connects to the configured backends and builds every service. The
// returned App must be closed.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.providers, err = observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(a.Registry)
	a.OTel, err = observability.NewOTelMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create OTel instruments: %w", err)
	}

	a.DB, err = postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	a.Redis, err = postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.Objects, err = postgres.NewObjectStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	a.Fees, err = config.NewFeeScheduleStore(cfg.Checkout.FeeSchedulePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee schedule: %w", err)
	}

	a.Gateway, err = a.newGateway()
	if err != nil {
		return nil, err
	}

	a.wireServices()
	return a, nil
}

func (a *App) newGateway() (processor.Gateway, error) {
	cfg := a.Config.Processor
	a.Events = processor.NewVerifier(cfg.WebhookSecret)

	if cfg.Type == "http" {
		gw, err := processor.NewHTTPGateway(processor.HTTPConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, a.Metrics, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create processor gateway: %w", err)
		}
		return gw, nil
	}

	a.Logger.Warn("Using the sandbox payment processor")
	a.Sandbox = processor.NewSandbox()
	a.Sandbox.AutoCapture = cfg.SandboxAutoCapture
	return a.Sandbox, nil
}

func (a *App) wireServices() {
	db := a.DB.Primary()

	catalogSvc := catalog.NewPostgresService(db)
	catalogSvc.SetDefaultAttributionWindow(a.Config.Checkout.DefaultAttributionWindow)
	a.Catalog = catalog.NewCachedCatalog(catalogSvc, a.Config.Storage.OfferCacheSize, a.Config.Storage.OfferCacheTTL, a.Metrics)

	a.Coupons = coupons.NewPostgresService(db)
	a.Accounts = producers.NewPostgresService(db)
	a.Affiliates = affiliates.NewPostgresService(db)
	a.Clicks = affiliates.NewClickStore(a.Redis)
	a.Attributor = affiliates.NewAttributor(a.Clicks, a.Affiliates, a.Metrics)
	a.Ledger = ledger.New(db).ReadFrom(a.DB.Replica)
	a.Tokens = auth.NewPostgresTokenStore(db)

	a.WebhookStore = webhooks.NewPostgresStore(db)
	a.Webhooks = webhooks.NewDispatcher(a.WebhookStore, webhooks.Config{
		Timeout:         a.Config.Webhooks.Timeout,
		RatePerSecond:   a.Config.Webhooks.RatePerSecond,
		Burst:           a.Config.Webhooks.Burst,
		DeliveryLogSize: a.Config.Webhooks.DeliveryLogSize,
	}, a.Metrics, a.Logger)

	a.KYC = kyc.NewPostgresService(db, a.Objects, a.Accounts, a.Webhooks, a.Logger)

	accounting := coupons.NewAccounting(a.Logger, a.Metrics)
	a.Orders = orders.NewService(orders.Deps{
		Store:      orders.NewPostgresStore(db, a.Ledger, accounting),
		Catalog:    a.Catalog,
		Accounts:   a.Accounts,
		Coupons:    a.Coupons,
		Attributor: a.Attributor,
		Gateway:    a.Gateway,
		Fees:       a.Fees,
		Publisher:  a.Webhooks,
		Metrics:    a.Metrics,
		OTel:       a.OTel,
		Logger:     a.Logger,
		BatchSize:  a.Config.Reconciler.BatchSize,
	})

	if a.Sandbox != nil {
		a.Sandbox.OnEvent = a.applySandboxEvent
	}
}

// applySandboxEvent feeds sandbox status changes to the order service the
// way the processor's webhook would. It runs outside the caller because the
// sandbox emits from inside CreateCharge and Refund.
func (a *App) applySandboxEvent(ev processor.Event) {
	observability.Go(a.Logger, "sandbox-event", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result, err := a.Orders.ApplyPaymentEvent(ctx, ev)
		log := a.Logger.WithFields(map[string]interface{}{"event_id": ev.ID, "charge_id": ev.ChargeID})
		if err != nil {
			log.WithError(err).Warn("Sandbox event not applied")
			return
		}
		log.WithField("outcome", result.Outcome).Debug("Sandbox event applied")
	})
}

// PollsProcessor reports whether pending charges can be looked up at the
// processor. Sandbox charges live only in the process that created them.
func (a *App) PollsProcessor() bool {
	return a.Sandbox == nil
}

// HealthChecker probes the database, Redis and the object store
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	checker := observability.NewHealthChecker(a.DB.Primary(), a.Redis, version)
	checker.AddCheck("postgres_replicas", false, a.DB.HealthCheck)
	checker.AddCheck("object_store", false, a.Objects.Ping)
	return checker
}

// Migrate applies pending schema migrations
func (a *App) Migrate(ctx context.Context) (int, error) {
	return postgres.Migrate(ctx, a.DB.Primary(), a.Logger)
}

// Close waits for in-flight webhook deliveries and releases connections
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Webhooks != nil {
		if err := a.Webhooks.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook deliveries: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
