// Package middleware provides HTTP middleware for token authentication,
// account context and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware validates "Authorization: Bearer sellhub_..." against the
// token store and adds the *auth.AuthContext and account id to the request:
//
//	authMW := middleware.NewAuthMiddleware(tokenStore, false)
//	producer.Use(authMW.Handler)
//
// AccountContextMiddleware loads the authenticated producer account. It must
// run after AuthMiddleware:
//
//	producer.Use(middleware.AccountContextMiddleware(accounts))
//
// RequireScope and RequireWriteScope gate routes on token scopes:
//
//	admin.Use(middleware.RequireScope(auth.ScopeAdmin))
//
// DistributedRateLimitMiddleware counts requests in Redis so limits hold
// across instances. RateLimitMiddleware is the in-process fallback used when
// Redis is not configured.
//
// # Rate Limiting
//
// Anonymous (by client IP): 100 req/min, 10 burst
// Per account: 1000 req/min, 50 burst
//
// The Redis limiter fails open: a Redis error is logged and the request is
// served.
package middleware
