package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// CatalogHandlers manages a producer's products, offers, bumps and
// co-producers
type CatalogHandlers struct {
	catalog catalog.Service
	errs    *httputil.ErrorMapper
}

// NewCatalogHandlers creates catalog handlers
func NewCatalogHandlers(catalog catalog.Service, errs *httputil.ErrorMapper) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, errs: errs}
}

// RegisterRoutes registers catalog routes
func (h *CatalogHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/products", h.createProduct).Methods("POST")
	router.HandleFunc("/products", h.listProducts).Methods("GET")
	router.HandleFunc("/products/{id}", h.getProduct).Methods("GET")
	router.HandleFunc("/products/{id}", h.updateProduct).Methods("PATCH")

	// Co-producers
	router.HandleFunc("/products/{id}/coproducers", h.listCoProducers).Methods("GET")
	router.HandleFunc("/products/{id}/coproducers", h.setCoProducers).Methods("PUT")

	router.HandleFunc("/offers", h.createOffer).Methods("POST")
	router.HandleFunc("/offers", h.listOffers).Methods("GET")
	router.HandleFunc("/offers/{id}", h.getOffer).Methods("GET")
	router.HandleFunc("/offers/{id}", h.updateOffer).Methods("PATCH")

	// Bumps
	router.HandleFunc("/offers/{id}/bumps", h.addBump).Methods("POST")
	router.HandleFunc("/offers/{id}/bumps/{bump_id}", h.updateBump).Methods("PATCH")
	router.HandleFunc("/offers/{id}/bumps/{bump_id}", h.deleteBump).Methods("DELETE")
}

// CoProducersRequest replaces a product's co-producer assignments
type CoProducersRequest struct {
	CoProducers []split.CoProducer `json:"co_producers" validate:"max=20,dive"`
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreateProductRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, product)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []*catalog.Product{}
	}
	httputil.WriteSuccess(w, products)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, product)
}

func (h *CatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req catalog.UpdateProductRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, product)
}

func (h *CatalogHandlers) listCoProducers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	// Ownership check; co-producer listings are not scoped by producer
	if _, err := h.catalog.GetProduct(r.Context(), contextkeys.GetAccountID(r.Context()), id); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	coProducers, err := h.catalog.ListCoProducers(r.Context(), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if coProducers == nil {
		coProducers = []split.CoProducer{}
	}
	httputil.WriteSuccess(w, CoProducersRequest{CoProducers: coProducers})
}

func (h *CatalogHandlers) setCoProducers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req CoProducersRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	if err := h.catalog.SetCoProducers(r.Context(), contextkeys.GetAccountID(r.Context()), id, req.CoProducers); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if req.CoProducers == nil {
		req.CoProducers = []split.CoProducer{}
	}
	httputil.WriteSuccess(w, req)
}

func (h *CatalogHandlers) createOffer(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreateOfferRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	offer, err := h.catalog.CreateOffer(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, offer)
}

// listOffers supports ?active=true|false
func (h *CatalogHandlers) listOffers(w http.ResponseWriter, r *http.Request) {
	onlyActive, err := httputil.ParseQueryBool(r, "active", false)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	filter := r.URL.Query().Get("active") != ""

	offers, err := h.catalog.ListOffers(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	list := make([]*catalog.Offer, 0, len(offers))
	for _, o := range offers {
		if !filter || o.Active == onlyActive {
			list = append(list, o)
		}
	}
	httputil.WriteSuccess(w, list)
}

func (h *CatalogHandlers) getOffer(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	offer, err := h.catalog.GetOffer(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, offer)
}

func (h *CatalogHandlers) updateOffer(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req catalog.UpdateOfferRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	offer, err := h.catalog.UpdateOffer(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, offer)
}

func (h *CatalogHandlers) addBump(w http.ResponseWriter, r *http.Request) {
	offerID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req catalog.CreateBumpRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	bump, err := h.catalog.AddBump(r.Context(), contextkeys.GetAccountID(r.Context()), offerID, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, bump)
}

func (h *CatalogHandlers) updateBump(w http.ResponseWriter, r *http.Request) {
	offerID, bumpID, ok := h.bumpPath(w, r)
	if !ok {
		return
	}

	var req catalog.UpdateBumpRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	bump, err := h.catalog.UpdateBump(r.Context(), contextkeys.GetAccountID(r.Context()), offerID, bumpID, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bump)
}

func (h *CatalogHandlers) deleteBump(w http.ResponseWriter, r *http.Request) {
	offerID, bumpID, ok := h.bumpPath(w, r)
	if !ok {
		return
	}

	if err := h.catalog.DeleteBump(r.Context(), contextkeys.GetAccountID(r.Context()), offerID, bumpID); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *CatalogHandlers) bumpPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	offerID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return 0, 0, false
	}
	bumpID, err := httputil.ParsePathInt64(r, "bump_id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return 0, 0, false
	}
	return offerID, bumpID, true
}
