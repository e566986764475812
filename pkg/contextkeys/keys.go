// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/sellhub/pkg/contextkeys"
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: All producer and admin API endpoints
	// Type: *auth.AuthContext
	AuthKey Key = "auth_context"

	// AccountKey contains *producers.Account
	// Set by: middleware.AccountContextMiddleware (pkg/middleware/account.go)
	// Required by: Tenant-scoped producer endpoints
	// Type: *producers.Account
	AccountKey Key = "account"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, processor idempotency logging, tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// AccountIDKey contains the authenticated account id
	// Set by: Auth middleware after token validation
	// Used by: Logger
	// Type: int64
	AccountIDKey Key = "account_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers and services that need request-scoped logging
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// SessionKey contains the buyer's attribution session id
	// Set by: checkout handlers from the sellhub_session cookie
	// Used by: Affiliate attribution
	// Type: string
	SessionKey Key = "session_id"
)

// Helper functions for type-safe context operations

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithAccount adds the seller account to the context
func WithAccount(ctx context.Context, account interface{}) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAccountID adds the authenticated account id to the context
func WithAccountID(ctx context.Context, accountID int64) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithSession adds the attribution session id to the context
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionKey, sessionID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetAccountID retrieves the authenticated account id from context
func GetAccountID(ctx context.Context) int64 {
	if id, ok := ctx.Value(AccountIDKey).(int64); ok {
		return id
	}
	return 0
}

// GetSession retrieves the attribution session id from context
func GetSession(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionKey).(string); ok {
		return sessionID
	}
	return ""
}
