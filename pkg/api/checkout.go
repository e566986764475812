package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/orders"
)

// DefaultSessionCookie names the buyer session cookie
const DefaultSessionCookie = "sellhub_session"

// sessionMaxAge outlives any attribution window a product may configure
const sessionMaxAge = 400 * 24 * time.Hour

// sessionMiddleware gives every buyer a session id, minting a cookie the
// first time. Clicks and checkouts made with one id are attributed together.
func sessionMiddleware(cookieName string, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if c, err := r.Cookie(cookieName); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					sessionID = c.Value
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   int(sessionMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithSession(r.Context(), sessionID)))
		})
	}
}

// CheckoutHandlers serves the public checkout flow
type CheckoutHandlers struct {
	orders OrderService
	errs   *httputil.ErrorMapper
}

// NewCheckoutHandlers creates checkout handlers
func NewCheckoutHandlers(orders OrderService, errs *httputil.ErrorMapper) *CheckoutHandlers {
	return &CheckoutHandlers{orders: orders, errs: errs}
}

// RegisterRoutes registers checkout routes
func (h *CheckoutHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/checkout/{slug}", h.getOffer).Methods("GET")
	router.HandleFunc("/checkout/{slug}/quote", h.quote).Methods("POST", "OPTIONS")
	router.HandleFunc("/checkout/{slug}/orders", h.placeOrder).Methods("POST", "OPTIONS")
	router.HandleFunc("/orders/{id}/status", h.orderStatus).Methods("GET")
}

// getOffer handles GET /checkout/{slug}
func (h *CheckoutHandlers) getOffer(w http.ResponseWriter, r *http.Request) {
	slug, err := httputil.ParsePathString(r, "slug")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	offer, err := h.orders.Offer(r.Context(), slug)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, offer)
}

// quote handles POST /checkout/{slug}/quote
func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	slug, err := httputil.ParsePathString(r, "slug")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req orders.QuoteRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	preview, err := h.orders.Quote(r.Context(), slug, &req, contextkeys.GetSession(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, preview)
}

// placeOrder handles POST /checkout/{slug}/orders
func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	slug, err := httputil.ParsePathString(r, "slug")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req orders.CheckoutRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	req.Slug = slug
	req.SessionID = contextkeys.GetSession(r.Context())

	result, err := h.orders.Checkout(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// orderStatus handles GET /orders/{id}/status
func (h *CheckoutHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	status, err := h.orders.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// writeError reports an unknown coupon code as a rejected coupon rather
// than a missing resource
func (h *CheckoutHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, coupons.ErrNotFound) {
		httputil.WriteError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.errs.WriteServiceError(w, r, err)
}
