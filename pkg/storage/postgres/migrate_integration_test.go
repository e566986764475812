//go:build integration

package postgres_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/observability"
	sellpg "github.com/platinummonkey/sellhub/pkg/storage/postgres"
	"github.com/platinummonkey/sellhub/pkg/storage/postgres/pgtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db := pgtest.SetupPostgresContainer(t)
	ctx := context.Background()

	applied, err := sellpg.Migrate(ctx, db, observability.NewLogger(observability.WarnLevel, io.Discard))
	require.NoError(t, err)
	assert.Zero(t, applied)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('orders', 'ledger_entries', 'coupon_redemptions')",
	).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestRefundedNeverExceedsTotal(t *testing.T) {
	db := pgtest.SetupPostgresContainer(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO accounts (id, name, slug, email) VALUES (1, 'P', 'p', 'p@example.com')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO products (id, producer_id, name) VALUES (1, 1, 'Course')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO offers (id, product_id, producer_id, slug, title, price_cents, currency) VALUES (1, 1, 1, 'course', 'Course', 1000, 'BRL')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (id, producer_id, offer_id, product_id, buyer_name, buyer_email, quote, total_cents, currency, status, refunded_cents)
		VALUES ('7c9e6679-7425-40de-944b-e07fc1f90ae7', 1, 1, 1, 'B', 'b@example.com', '{}', 1000, 'BRL', 'paid', 1001)`)
	assert.Error(t, err)
}
