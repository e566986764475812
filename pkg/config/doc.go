// Package config loads sellhub configuration from SELLHUB_* environment
// variables and manages the platform fee schedule.
//
// Server settings:
//
//	SELLHUB_HOST="0.0.0.0"
//	SELLHUB_PORT="8080"
//	SELLHUB_HEALTH_PORT="9090"
//	SELLHUB_RATE_LIMIT_PER_MINUTE="120"
//
// Storage settings:
//
//	SELLHUB_POSTGRES_URL="postgres://localhost/sellhub?sslmode=disable"
//	SELLHUB_REDIS_URL="redis://localhost:6379/0"
//	SELLHUB_OBJECT_STORE="s3"  # filesystem, s3
//	SELLHUB_S3_BUCKET="sellhub-kyc"
//
// Checkout and processor settings:
//
//	SELLHUB_ORDER_TTL="30m"
//	SELLHUB_ATTRIBUTION_WINDOW="720h"
//	SELLHUB_FEE_SCHEDULE="/etc/sellhub/fees.yaml"
//	SELLHUB_PROCESSOR="http"  # sandbox, http
//	SELLHUB_PROCESSOR_URL="https://api.processor.example"
//	SELLHUB_PROCESSOR_WEBHOOK_SECRET="whsec_..."
//
// The fee schedule file is YAML:
//
//	default_plan: standard
//	plans:
//	  standard: {percent_bps: 999, fixed_cents: 149}
//	  pro: {percent_bps: 699, fixed_cents: 99}
//
// FeeScheduleStore.Watch reloads it on change; an invalid edit is logged and
// the previous schedule stays active.
package config
