package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/storage"
	"github.com/platinummonkey/sellhub/pkg/storage/postgres"
)

func testConfig() *config.Config {
	cfg := &config.Config{Storage: storage.DefaultConfig()}
	cfg.Processor.Type = "sandbox"
	cfg.Processor.Timeout = time.Second
	return cfg
}

func TestNewGatewaySandbox(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig()
	cfg.Processor.SandboxAutoCapture = true
	a := &App{Config: cfg, Logger: observability.NewLogger(observability.InfoLevel, &logs)}

	gw, err := a.newGateway()
	require.NoError(t, err)
	require.NotNil(t, a.Sandbox)
	assert.Same(t, a.Sandbox, gw)
	assert.True(t, a.Sandbox.AutoCapture)
	assert.NotNil(t, a.Events)
	assert.Contains(t, logs.String(), "sandbox payment processor")
}

func TestNewGatewayHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.Processor.Type = "http"
	cfg.Processor.BaseURL = "https://processor.example.com"
	cfg.Processor.WebhookSecret = "whsec"
	a := &App{Config: cfg, Logger: observability.NewLogger(observability.InfoLevel, nil)}

	gw, err := a.newGateway()
	require.NoError(t, err)
	assert.IsType(t, &processor.HTTPGateway{}, gw)
	assert.Nil(t, a.Sandbox)

	cfg.Processor.BaseURL = "not a url"
	_, err = a.newGateway()
	assert.Error(t, err)
}

func TestNewFailsWithoutDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.PostgresURL = "postgres://sellhub@127.0.0.1:1/sellhub?sslmode=disable&connect_timeout=1"
	cfg.Storage.PostgresTimeout = time.Second

	a, err := New(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, nil))
	assert.Nil(t, a)
	assert.ErrorContains(t, err, "failed to connect to postgres")
}

func TestHealthChecker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	objects, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	a := &App{DB: postgres.NewConnectionManagerFromDB(db, nil), Redis: rdb, Objects: objects}
	status := a.HealthChecker("test").Check(context.Background())

	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "object_store")
	assert.Contains(t, status.Dependencies, "postgres_replicas")

	mr.Close()
	status = a.HealthChecker("test").Check(context.Background())
	assert.Equal(t, observability.StatusDegraded, status.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseEmptyApp(t *testing.T) {
	a := &App{}
	assert.NoError(t, a.Close(context.Background()))
}
