package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/httputil"
)

// CouponHandlers manages a producer's coupons
type CouponHandlers struct {
	coupons coupons.Service
	errs    *httputil.ErrorMapper
}

// NewCouponHandlers creates coupon handlers
func NewCouponHandlers(coupons coupons.Service, errs *httputil.ErrorMapper) *CouponHandlers {
	return &CouponHandlers{coupons: coupons, errs: errs}
}

// RegisterRoutes registers coupon routes
func (h *CouponHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/coupons", h.createCoupon).Methods("POST")
	router.HandleFunc("/coupons", h.listCoupons).Methods("GET")
	router.HandleFunc("/coupons/{id}", h.getCoupon).Methods("GET")
	router.HandleFunc("/coupons/{id}", h.updateCoupon).Methods("PATCH")
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupons.CreateCouponRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	coupon, err := h.coupons.Create(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, coupon)
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.List(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*coupons.Coupon{}
	}
	httputil.WriteSuccess(w, list)
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	coupon, err := h.coupons.Get(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, coupon)
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req coupons.UpdateCouponRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	coupon, err := h.coupons.Update(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, coupon)
}
