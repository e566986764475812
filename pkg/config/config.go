package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Checkout and settlement
	Checkout CheckoutConfig

	// Payment processor
	Processor ProcessorConfig

	// Reconciler schedules
	Reconciler ReconcilerConfig

	// Outbound producer notifications
	Webhooks WebhooksConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Requests per minute per client for the public checkout routes
	RateLimitPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// CheckoutConfig controls order lifetime, attribution and fees
type CheckoutConfig struct {
	// Pending orders older than this are expired
	OrderTTL time.Duration

	// Attribution window used when a product does not set one
	DefaultAttributionWindow time.Duration

	// Optional YAML fee schedule; the built-in schedule is used when empty
	FeeSchedulePath string

	// Public base URL used for affiliate redirects
	PublicBaseURL string

	// Cookie carrying the buyer session id for attribution
	SessionCookieName string

	// Origins allowed to call the checkout routes from a browser
	AllowedOrigins []string
}

// ProcessorConfig selects and configures the payment gateway
type ProcessorConfig struct {
	// "sandbox" or "http"
	Type          string
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    uint

	// Sandbox only: succeed new charges immediately
	SandboxAutoCapture bool
}

// ReconcilerConfig holds cron specs for the background jobs
type ReconcilerConfig struct {
	ExpireSchedule    string
	ReconcileSchedule string

	// Only pending orders at least this old are polled at the processor
	ReconcileAfter time.Duration
	BatchSize      int
}

// WebhooksConfig controls outbound delivery
type WebhooksConfig struct {
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	DeliveryLogSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Checkout:      loadCheckoutConfig(),
		Processor:     loadProcessorConfig(),
		Reconciler:    loadReconcilerConfig(),
		Webhooks:      loadWebhooksConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("SELLHUB_HOST", "0.0.0.0"),
		Port:               getEnv("SELLHUB_PORT", "8080"),
		ReadTimeout:        getEnvDuration("SELLHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("SELLHUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("SELLHUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("SELLHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("SELLHUB_HEALTH_PORT", "9090"),
		RateLimitPerMinute: getEnvInt("SELLHUB_RATE_LIMIT_PER_MINUTE", 120),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("SELLHUB_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("SELLHUB_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("SELLHUB_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("SELLHUB_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("SELLHUB_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Object storage for KYC documents
	if storeType := getEnv("SELLHUB_OBJECT_STORE", ""); storeType != "" {
		cfg.ObjectStoreType = storeType
	}
	if fsRoot := getEnv("SELLHUB_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// S3 config
	if s3Endpoint := getEnv("SELLHUB_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("SELLHUB_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("SELLHUB_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("SELLHUB_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("SELLHUB_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	cfg.S3UsePathStyle = getEnvBool("SELLHUB_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	if redisURL := getEnv("SELLHUB_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("SELLHUB_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("SELLHUB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("SELLHUB_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("SELLHUB_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Offer cache
	if size := getEnvInt("SELLHUB_OFFER_CACHE_SIZE", 0); size > 0 {
		cfg.OfferCacheSize = size
	}
	if ttl := getEnvDuration("SELLHUB_OFFER_CACHE_TTL", 0); ttl > 0 {
		cfg.OfferCacheTTL = ttl
	}

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SELLHUB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SELLHUB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SELLHUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SELLHUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SELLHUB_OTEL_SERVICE_NAME", "sellhub"),
		OTelServiceVersion: getEnv("SELLHUB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SELLHUB_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SELLHUB_OTEL_SAMPLE_RATIO", 1.0),
	}
}

func loadCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		OrderTTL:                 getEnvDuration("SELLHUB_ORDER_TTL", 30*time.Minute),
		DefaultAttributionWindow: getEnvDuration("SELLHUB_ATTRIBUTION_WINDOW", 30*24*time.Hour),
		FeeSchedulePath:          getEnv("SELLHUB_FEE_SCHEDULE", ""),
		PublicBaseURL:            getEnv("SELLHUB_PUBLIC_BASE_URL", "http://localhost:8080"),
		SessionCookieName:        getEnv("SELLHUB_SESSION_COOKIE", "sellhub_session"),
		AllowedOrigins:           getEnvList("SELLHUB_ALLOWED_ORIGINS"),
	}
}

func loadProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Type:          getEnv("SELLHUB_PROCESSOR", "sandbox"),
		BaseURL:       getEnv("SELLHUB_PROCESSOR_URL", ""),
		APIKey:        getEnv("SELLHUB_PROCESSOR_API_KEY", ""),
		WebhookSecret: getEnv("SELLHUB_PROCESSOR_WEBHOOK_SECRET", ""),
		Timeout:       getEnvDuration("SELLHUB_PROCESSOR_TIMEOUT", 10*time.Second),
		MaxRetries:    uint(getEnvInt("SELLHUB_PROCESSOR_MAX_RETRIES", 3)),

		SandboxAutoCapture: getEnvBool("SELLHUB_SANDBOX_AUTO_CAPTURE", false),
	}
}

func loadReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		ExpireSchedule:    getEnv("SELLHUB_EXPIRE_SCHEDULE", "@every 1m"),
		ReconcileSchedule: getEnv("SELLHUB_RECONCILE_SCHEDULE", "@every 5m"),
		ReconcileAfter:    getEnvDuration("SELLHUB_RECONCILE_AFTER", 10*time.Minute),
		BatchSize:         getEnvInt("SELLHUB_RECONCILE_BATCH_SIZE", 100),
	}
}

func loadWebhooksConfig() WebhooksConfig {
	return WebhooksConfig{
		Timeout:         getEnvDuration("SELLHUB_WEBHOOK_TIMEOUT", 10*time.Second),
		RatePerSecond:   getEnvFloat("SELLHUB_WEBHOOK_RATE", 5),
		Burst:           getEnvInt("SELLHUB_WEBHOOK_BURST", 10),
		DeliveryLogSize: getEnvInt("SELLHUB_WEBHOOK_LOG_SIZE", 100),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Storage.ObjectStoreType {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object store")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object store")
		}
	default:
		return fmt.Errorf("invalid object store type: %s (must be filesystem or s3)", c.Storage.ObjectStoreType)
	}

	switch c.Processor.Type {
	case "sandbox":
	case "http":
		if c.Processor.BaseURL == "" {
			return fmt.Errorf("processor URL is required for http processor")
		}
		if c.Processor.WebhookSecret == "" {
			return fmt.Errorf("processor webhook secret is required for http processor")
		}
	default:
		return fmt.Errorf("invalid processor type: %s (must be sandbox or http)", c.Processor.Type)
	}

	if c.Checkout.OrderTTL <= 0 {
		return fmt.Errorf("order TTL must be positive")
	}
	if c.Checkout.DefaultAttributionWindow <= 0 {
		return fmt.Errorf("attribution window must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// OTel returns the tracing settings in the form observability expects
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
