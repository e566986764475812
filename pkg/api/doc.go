// Package api provides the HTTP API server for sellhub.
//
// # Overview
//
// The API is built on gorilla/mux and split into three surfaces with their
// own middleware:
//
//   - Public checkout: offer lookup, quotes, order placement, order status
//     polling and affiliate referral links. CORS enabled, rate limited per
//     client IP, every buyer gets a sellhub_session cookie.
//   - Producer API under /api/v1: Bearer token authentication, the account
//     loaded into the context, write scope required for mutations.
//   - Admin API under /api/v1/admin: requires the admin scope.
//
// Processor callbacks at POST /processor/events are authenticated by their
// HMAC signature instead of a token.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Orders:   orderService,
//		Catalog:  catalogService,
//		Tokens:   tokenStore,
//		Events:   processor.NewVerifier(secret),
//		...
//	})
//	http.ListenAndServe(":8080", server)
//
// # Public Endpoints
//
//	GET  /checkout/{slug}            Offer with product and bumps
//	POST /checkout/{slug}/quote      Price a selection of bumps and coupon
//	POST /checkout/{slug}/orders     Place an order
//	GET  /orders/{id}/status         Poll an order's payment status
//	GET  /r/{code}?offer={slug}      Record a referral click and redirect
//	POST /processor/events           Signed payment processor events
//
// # Producer Endpoints
//
//	GET|PATCH       /api/v1/account
//	GET             /api/v1/ledger/balances
//	GET|POST        /api/v1/tokens, DELETE /api/v1/tokens/{id}
//	GET|POST        /api/v1/products, GET|PATCH /api/v1/products/{id}
//	GET|PUT         /api/v1/products/{id}/coproducers
//	GET|POST        /api/v1/offers, GET|PATCH /api/v1/offers/{id}
//	POST            /api/v1/offers/{id}/bumps
//	PATCH|DELETE    /api/v1/offers/{id}/bumps/{bump_id}
//	GET|POST        /api/v1/coupons, GET|PATCH /api/v1/coupons/{id}
//	GET             /api/v1/affiliations, PATCH /api/v1/affiliations/{id}
//	GET|POST        /api/v1/promotions
//	GET             /api/v1/orders, GET /api/v1/orders/{id}
//	POST            /api/v1/orders/{id}/refunds
//	GET             /api/v1/orders/{id}/splits
//	GET|POST        /api/v1/kyc/submissions, GET /api/v1/kyc/submissions/{id}
//	POST            /api/v1/kyc/submissions/{id}/submit
//	PUT             /api/v1/kyc/submissions/{id}/documents/{kind}
//	GET             /api/v1/kyc/submissions/{id}/documents/{doc_id}
//	GET|POST        /api/v1/webhooks, GET|PATCH|DELETE /api/v1/webhooks/{id}
//
// # Admin Endpoints
//
//	GET  /api/v1/admin/kyc/pending
//	POST /api/v1/admin/kyc/submissions/{id}/review
//	GET  /api/v1/admin/kyc/submissions/{id}/documents/{doc_id}
//
// # Errors
//
// Errors are JSON {"error": "..."}. Domain sentinel errors map to 404, 409
// or 422; malformed and invalid bodies to 400; authentication to 401/403.
package api
