package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// ReferralHandlers serves affiliate referral links
type ReferralHandlers struct {
	affiliates affiliates.Service
	catalog    catalog.Service
	clicks     ClickTracker
	baseURL    string
	errs       *httputil.ErrorMapper
	now        func() time.Time
}

// NewReferralHandlers creates referral handlers. Redirects point at
// baseURL/checkout/{slug}.
func NewReferralHandlers(affiliates affiliates.Service, catalog catalog.Service, clicks ClickTracker, baseURL string, errs *httputil.ErrorMapper) *ReferralHandlers {
	return &ReferralHandlers{
		affiliates: affiliates,
		catalog:    catalog,
		clicks:     clicks,
		baseURL:    strings.TrimRight(baseURL, "/"),
		errs:       errs,
		now:        time.Now,
	}
}

// RegisterRoutes registers referral routes
func (h *ReferralHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/r/{code}", h.follow).Methods("GET")
}

// follow handles GET /r/{code}?offer={slug}. The click is recorded against
// the buyer session and the buyer is redirected to the offer, or to the
// product's first active offer when none is named. A click that cannot be
// recorded never blocks the redirect.
func (h *ReferralHandlers) follow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, err := httputil.ParsePathString(r, "code")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	aff, err := h.affiliates.GetByCode(ctx, code)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	product, err := h.catalog.GetProductByID(ctx, aff.ProductID)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	offer, err := h.target(r, aff, product)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"affiliation_id": aff.ID,
		"product_id":     product.ID,
	})
	click, err := h.clicks.Track(ctx, aff, product, contextkeys.GetSession(ctx), h.now())
	switch {
	case errors.Is(err, affiliates.ErrAffiliationNotActive):
		logger.Debug("Referral click not credited")
	case err != nil:
		logger.WithError(err).Warn("Failed to record referral click")
	default:
		logger.WithField("click_id", click.ID).Debug("Referral click recorded")
	}

	http.Redirect(w, r, h.baseURL+"/checkout/"+url.PathEscape(offer.Slug), http.StatusFound)
}

// target picks the offer a referral link lands on
func (h *ReferralHandlers) target(r *http.Request, aff *affiliates.Affiliation, product *catalog.Product) (*catalog.Offer, error) {
	if slug := r.URL.Query().Get("offer"); slug != "" {
		offer, err := h.catalog.GetOfferBySlug(r.Context(), slug)
		if err != nil {
			return nil, err
		}
		if offer.ProductID != aff.ProductID || !offer.Active {
			return nil, catalog.ErrOfferNotFound
		}
		return offer, nil
	}

	offers, err := h.catalog.ListOffers(r.Context(), product.ProducerID)
	if err != nil {
		return nil, err
	}
	for _, offer := range offers {
		if offer.ProductID == product.ID && offer.Active {
			return offer, nil
		}
	}
	return nil, catalog.ErrOfferNotFound
}
