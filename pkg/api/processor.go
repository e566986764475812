package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/orders"
	"github.com/platinummonkey/sellhub/pkg/processor"
)

// ProcessorHandlers receives payment processor callbacks
type ProcessorHandlers struct {
	events EventParser
	orders OrderService
	errs   *httputil.ErrorMapper
}

// NewProcessorHandlers creates processor callback handlers
func NewProcessorHandlers(events EventParser, orders OrderService, errs *httputil.ErrorMapper) *ProcessorHandlers {
	return &ProcessorHandlers{events: events, orders: orders, errs: errs}
}

// RegisterRoutes registers processor routes
func (h *ProcessorHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/processor/events", h.receiveEvent).Methods("POST")
}

// receiveEvent handles POST /processor/events. Every verified event that was
// recorded is acknowledged with 200, including duplicates and events that
// were rejected for the wrong amount, so the processor stops redelivering
// them. Only failures to record ask for a retry.
func (h *ProcessorHandlers) receiveEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read body")
		return
	}

	ev, err := h.events.ParseEvent(r.Header.Get(processor.SignatureHeader), payload)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	result, err := h.orders.ApplyPaymentEvent(r.Context(), *ev)
	if err != nil && !errors.Is(err, orders.ErrAmountMismatch) {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
