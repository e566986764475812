package webhooks

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
)

// Handlers provides the producer-facing endpoint management API. Routes must
// be mounted behind token authentication.
type Handlers struct {
	store      Store
	dispatcher *Dispatcher
	errs       *httputil.ErrorMapper
}

// NewHandlers creates webhook handlers
func NewHandlers(store Store, dispatcher *Dispatcher) *Handlers {
	return &Handlers{
		store:      store,
		dispatcher: dispatcher,
		errs: httputil.NewErrorMapper().
			Map(http.StatusNotFound, ErrNotFound).
			Map(http.StatusUnprocessableEntity, ErrInvalidURL, ErrNoEvents, ErrUnknownEvent),
	}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createWebhook).Methods("POST")
	router.HandleFunc("/webhooks", h.listWebhooks).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.getWebhook).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods("PATCH")
	router.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods("GET")
}

// createWebhook handles POST /webhooks. The signing secret is only returned here.
func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	webhook, err := h.store.Create(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, webhook)
}

// listWebhooks handles GET /webhooks
func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.store.List(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	for _, webhook := range webhooks {
		webhook.Secret = ""
	}
	if webhooks == nil {
		webhooks = []*Webhook{}
	}
	httputil.WriteSuccess(w, webhooks)
}

// getWebhook handles GET /webhooks/{id}
func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}
	webhook.Secret = ""
	httputil.WriteSuccess(w, webhook)
}

// updateWebhook handles PATCH /webhooks/{id}
func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	var req UpdateWebhookRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	webhook, err := h.store.Update(r.Context(), contextkeys.GetAccountID(r.Context()), id, &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	webhook.Secret = ""
	httputil.WriteSuccess(w, webhook)
}

// deleteWebhook handles DELETE /webhooks/{id}
func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	if err := h.store.Delete(r.Context(), contextkeys.GetAccountID(r.Context()), id); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listDeliveries handles GET /webhooks/{id}/deliveries
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	deliveries := h.dispatcher.Deliveries(webhook.ID, limit)
	if deliveries == nil {
		deliveries = []*DeliveryLog{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"deliveries": deliveries,
		"stats":      h.dispatcher.Stats(webhook.ID),
	})
}

// load fetches the path's webhook, scoped to the caller's account
func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*Webhook, bool) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	webhook, err := h.store.Get(r.Context(), contextkeys.GetAccountID(r.Context()), id)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return nil, false
	}
	return webhook, true
}
