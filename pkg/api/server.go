package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/kyc"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/middleware"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/webhooks"
)

// OrderService runs checkouts and settlement. Implemented by *orders.Service.
type OrderService interface {
	Offer(ctx context.Context, slug string) (*catalog.Offer, error)
	Quote(ctx context.Context, slug string, req *orders.QuoteRequest, sessionID string) (*orders.Preview, error)
	Checkout(ctx context.Context, req *orders.CheckoutRequest) (*orders.CheckoutResult, error)
	Status(ctx context.Context, id string) (*orders.OrderStatus, error)
	Get(ctx context.Context, producerID int64, id string) (*orders.Order, error)
	List(ctx context.Context, producerID int64, filter orders.ListFilter) ([]*orders.Order, error)
	ApplyPaymentEvent(ctx context.Context, ev processor.Event) (*orders.EventResult, error)
	RequestRefund(ctx context.Context, producerID int64, orderID string, amount money.Cents) (*processor.Charge, error)
}

// LedgerReader reads settlement entries. Implemented by *ledger.Ledger.
type LedgerReader interface {
	Entries(ctx context.Context, orderID string) ([]*ledger.Entry, error)
	Balances(ctx context.Context, accountID int64) ([]*ledger.Balance, error)
}

// ClickTracker records referral clicks. Implemented by *affiliates.Attributor.
type ClickTracker interface {
	Track(ctx context.Context, aff *affiliates.Affiliation, product *catalog.Product, sessionID string, at time.Time) (*affiliates.Click, error)
}

// EventParser authenticates processor event payloads. Implemented by
// *processor.Verifier.
type EventParser interface {
	ParseEvent(header string, payload []byte) (*processor.Event, error)
}

// Deps are the services behind the HTTP API
type Deps struct {
	Orders     OrderService
	Catalog    catalog.Service
	Coupons    coupons.Service
	Affiliates affiliates.Service
	Clicks     ClickTracker
	Accounts   producers.Service
	KYC        kyc.Service
	Ledger     LedgerReader
	Tokens     auth.TokenStore
	Events     EventParser
	Webhooks   *webhooks.Handlers

	// RateLimit is applied to public routes and, after authentication, to
	// producer routes. Nil disables rate limiting.
	RateLimit mux.MiddlewareFunc

	Metrics *observability.Metrics
	Logger  *observability.Logger

	// AllowedOrigins may call the public checkout routes cross-origin
	AllowedOrigins []string
	// PublicBaseURL prefixes referral redirects to checkout pages
	PublicBaseURL string
	// SessionCookie names the buyer session cookie
	SessionCookie string
	// SecureCookies marks the session cookie Secure
	SecureCookies bool
}

// Server represents our API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	if deps.SessionCookie == "" {
		deps.SessionCookie = DefaultSessionCookie
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
	}
	s.setupRoutes(deps, newErrorMapper())
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Deps, errs *httputil.ErrorMapper) {
	// request id first so recovery and access logs carry it
	s.router.Use(httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	))
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	// Processor callbacks are authenticated by signature
	NewProcessorHandlers(deps.Events, deps.Orders, errs).RegisterRoutes(s.router)

	authn := middleware.NewAuthMiddleware(deps.Tokens, false)

	// Admin routes
	admin := s.router.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(authn.Handler, middleware.RequireScope(auth.ScopeAdmin))
	NewKYCReviewHandlers(deps.KYC, errs).RegisterRoutes(admin)

	// Producer routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(authn.Handler, middleware.AccountContextMiddleware(deps.Accounts), middleware.RequireWriteScope)
	if deps.RateLimit != nil {
		api.Use(deps.RateLimit)
	}
	NewAccountHandlers(deps.Accounts, deps.Ledger, deps.Tokens, errs).RegisterRoutes(api)
	NewCatalogHandlers(deps.Catalog, errs).RegisterRoutes(api)
	NewCouponHandlers(deps.Coupons, errs).RegisterRoutes(api)
	NewAffiliationHandlers(deps.Affiliates, deps.Catalog, errs).RegisterRoutes(api)
	NewOrderHandlers(deps.Orders, deps.Ledger, errs).RegisterRoutes(api)
	NewKYCHandlers(deps.KYC, errs).RegisterRoutes(api)
	if deps.Webhooks != nil {
		deps.Webhooks.RegisterRoutes(api)
	}

	// Public checkout routes
	public := s.router.NewRoute().Subrouter()
	public.Use(httputil.CORSMiddleware(deps.AllowedOrigins))
	if deps.RateLimit != nil {
		public.Use(deps.RateLimit)
	}
	public.Use(sessionMiddleware(deps.SessionCookie, deps.SecureCookies))
	NewCheckoutHandlers(deps.Orders, errs).RegisterRoutes(public)
	NewReferralHandlers(deps.Affiliates, deps.Catalog, deps.Clicks, deps.PublicBaseURL, errs).RegisterRoutes(public)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}
