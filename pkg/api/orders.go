package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/orders"
)

// OrderHandlers serves a producer's orders, refunds and splits
type OrderHandlers struct {
	orders OrderService
	ledger LedgerReader
	errs   *httputil.ErrorMapper
}

// NewOrderHandlers creates order handlers
func NewOrderHandlers(orders OrderService, ledger LedgerReader, errs *httputil.ErrorMapper) *OrderHandlers {
	return &OrderHandlers{orders: orders, ledger: ledger, errs: errs}
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders", h.listOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.getOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/refunds", h.refundOrder).Methods("POST")
	router.HandleFunc("/orders/{id}/splits", h.orderSplits).Methods("GET")
}

// RefundRequest asks for a refund. Without an amount the whole remaining
// balance is refunded.
type RefundRequest struct {
	AmountCents *money.Cents `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
}

// listOrders handles GET /orders?status=&limit=&offset=
func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := orders.ListFilter{Status: orders.Status(httputil.ParseQueryString(r, "status", ""))}
	if filter.Status != "" && !filter.Status.Valid() {
		h.errs.WriteServiceError(w, r, fmt.Errorf("%w: %s", orders.ErrInvalidStatus, filter.Status))
		return
	}
	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 50); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	list, err := h.orders.List(r.Context(), contextkeys.GetAccountID(r.Context()), filter)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	httputil.WriteSuccess(w, list)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, order)
}

// refundOrder handles POST /orders/{id}/refunds. The refund is requested from
// the processor; the order changes when its refund event arrives, so the
// response is 202 with the processor's charge.
func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.load(w, r)
	if !ok {
		return
	}

	var req RefundRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	amount := order.Refundable()
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	if amount == 0 {
		h.errs.WriteServiceError(w, r, orders.ErrNotRefundable)
		return
	}

	charge, err := h.orders.RequestRefund(r.Context(), order.ProducerID, order.ID, amount)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteAccepted(w, charge)
}

// orderSplits handles GET /orders/{id}/splits
func (h *OrderHandlers) orderSplits(w http.ResponseWriter, r *http.Request) {
	order, ok := h.load(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.Entries(r.Context(), order.ID)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	httputil.WriteSuccess(w, entries)
}

// load fetches the path's order, scoped to the caller's account
func (h *OrderHandlers) load(w http.ResponseWriter, r *http.Request) (*orders.Order, bool) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	order, err := h.orders.Get(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	return order, true
}
