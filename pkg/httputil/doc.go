// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "invalid input")
//
// Every error body is {"error": "..."}; validation failures add a
// "details" map keyed by JSON field name.
//
// # Service Errors
//
// Handlers return domain sentinel errors and let an ErrorMapper pick the
// status:
//
//	errs := httputil.NewErrorMapper().
//		Map(http.StatusNotFound, orders.ErrNotFound).
//		Map(http.StatusConflict, coupons.ErrCouponExhausted)
//	errs.WriteServiceError(w, r, err)
//
// Validation errors and malformed requests are always 400. Anything
// unmapped is logged and reported as a bare 500.
//
// # Request Parsing
//
//	var req catalog.CreateProductRequest
//	if err := httputil.ParseJSON(r, &req); err != nil {
//		errs.WriteServiceError(w, r, err)
//		return
//	}
//
// ParseJSON rejects unknown fields and runs go-playground/validator tags.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)
package httputil
