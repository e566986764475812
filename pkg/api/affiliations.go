package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
)

// AffiliationHandlers serves both sides of an affiliation: producers
// approving affiliates for their products and affiliates joining products
type AffiliationHandlers struct {
	affiliates affiliates.Service
	catalog    catalog.Service
	errs       *httputil.ErrorMapper
}

// NewAffiliationHandlers creates affiliation handlers
func NewAffiliationHandlers(affiliates affiliates.Service, catalog catalog.Service, errs *httputil.ErrorMapper) *AffiliationHandlers {
	return &AffiliationHandlers{affiliates: affiliates, catalog: catalog, errs: errs}
}

// RegisterRoutes registers affiliation routes
func (h *AffiliationHandlers) RegisterRoutes(router *mux.Router) {
	// Producer side
	router.HandleFunc("/affiliations", h.listForProducer).Methods("GET")
	router.HandleFunc("/affiliations/{id}", h.updateAffiliation).Methods("PATCH")

	// Affiliate side
	router.HandleFunc("/promotions", h.join).Methods("POST")
	router.HandleFunc("/promotions", h.listForAffiliate).Methods("GET")
}

func (h *AffiliationHandlers) listForProducer(w http.ResponseWriter, r *http.Request) {
	list, err := h.affiliates.ListForProducer(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*affiliates.Affiliation{}
	}
	httputil.WriteSuccess(w, list)
}

func (h *AffiliationHandlers) updateAffiliation(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req affiliates.UpdateAffiliationRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	aff, err := h.affiliates.Update(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, aff)
}

// join handles POST /promotions. The new affiliation waits for the
// producer's approval.
func (h *AffiliationHandlers) join(w http.ResponseWriter, r *http.Request) {
	var req affiliates.JoinRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	product, err := h.catalog.GetProductByID(r.Context(), req.ProductID)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	aff, err := h.affiliates.Join(r.Context(), contextkeys.GetAccountID(r.Context()), product)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, aff)
}

func (h *AffiliationHandlers) listForAffiliate(w http.ResponseWriter, r *http.Request) {
	list, err := h.affiliates.ListForAffiliate(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*affiliates.Affiliation{}
	}
	httputil.WriteSuccess(w, list)
}
