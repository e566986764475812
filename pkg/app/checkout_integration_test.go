//go:build integration

package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/storage/postgres"
	"github.com/platinummonkey/sellhub/pkg/storage/postgres/pgtest"
)

// newTestApp wires the services over a migrated container database and an
// in-memory redis, with the sandbox processor
func newTestApp(t *testing.T) *App {
	t.Helper()
	db := pgtest.SetupPostgresContainer(t)
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Checkout.DefaultAttributionWindow = 30 * 24 * time.Hour
	cfg.Storage.OfferCacheSize = 16
	cfg.Storage.OfferCacheTTL = time.Minute
	cfg.Reconciler.BatchSize = 10
	cfg.Processor.WebhookSecret = "whsec_test"

	logger := observability.NewLogger(observability.WarnLevel, io.Discard)
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		DB:       postgres.NewConnectionManagerFromDB(db, logger),
		Redis:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
	a.Metrics = observability.NewMetrics(a.Registry)

	var err error
	a.OTel, err = observability.NewOTelMetrics()
	require.NoError(t, err)
	a.Fees, err = config.NewFeeScheduleStore("", logger)
	require.NoError(t, err)
	a.Gateway, err = a.newGateway()
	require.NoError(t, err)
	a.wireServices()

	t.Cleanup(func() {
		_ = a.Webhooks.Wait(context.Background())
		a.Redis.Close()
	})
	return a
}

func TestCheckoutSettlesThroughSandbox(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	seller, err := a.Accounts.CreateAccount(ctx, &producers.CreateAccountRequest{Name: "Ana Courses", Email: "ana@example.com"})
	require.NoError(t, err)
	require.NoError(t, a.Accounts.SetKYCStatus(ctx, a.DB.Primary(), seller.ID, producers.KYCStatusApproved))

	product, err := a.Catalog.CreateProduct(ctx, seller.ID, &catalog.CreateProductRequest{Name: "Go in Practice"})
	require.NoError(t, err)
	_, err = a.Catalog.CreateOffer(ctx, seller.ID, &catalog.CreateOfferRequest{
		ProductID:  product.ID,
		Slug:       "go-in-practice",
		Title:      "Go in Practice",
		PriceCents: 9790,
		Currency:   "USD",
	})
	require.NoError(t, err)

	result, err := a.Orders.Checkout(ctx, &orders.CheckoutRequest{
		Buyer:     orders.Buyer{Name: "Bruno", Email: "Bruno@Example.com"},
		Slug:      "go-in-practice",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPending, result.Order.Status)
	assert.Equal(t, "bruno@example.com", result.Order.Buyer.Email)
	assert.Equal(t, money.Cents(9790), result.Order.TotalCents)

	_, err = a.Sandbox.Settle(result.Order.ProcessorChargeID, processor.StatusSucceeded)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := a.Orders.Status(ctx, result.Order.ID)
		return err == nil && st.Status == orders.StatusPaid
	}, 10*time.Second, 50*time.Millisecond)

	entries, err := a.Ledger.Entries(ctx, result.Order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var credited money.Cents
	for _, e := range entries {
		assert.Equal(t, ledger.KindSale, e.Kind)
		credited += e.AmountCents
	}
	assert.Equal(t, result.Order.TotalCents, credited, "the split accounts for every cent")
}

func TestCheckoutRejectsUnverifiedSeller(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	seller, err := a.Accounts.CreateAccount(ctx, &producers.CreateAccountRequest{Name: "New Seller", Email: "new@example.com"})
	require.NoError(t, err)
	product, err := a.Catalog.CreateProduct(ctx, seller.ID, &catalog.CreateProductRequest{Name: "Ebook"})
	require.NoError(t, err)
	_, err = a.Catalog.CreateOffer(ctx, seller.ID, &catalog.CreateOfferRequest{
		ProductID: product.ID, Slug: "ebook", Title: "Ebook", PriceCents: 1000, Currency: "USD",
	})
	require.NoError(t, err)

	_, err = a.Orders.Checkout(ctx, &orders.CheckoutRequest{
		Buyer: orders.Buyer{Name: "Carla", Email: "carla@example.com"},
		Slug:  "ebook",
	})
	assert.ErrorIs(t, err, producers.ErrSellerNotVerified)
}
