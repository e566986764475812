package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
)

type handlerStore struct {
	Store
	webhooks map[int64]*Webhook
	nextID   int64
}

func (s *handlerStore) Create(ctx context.Context, accountID int64, req *CreateWebhookRequest) (*Webhook, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}
	s.nextID++
	wh := &Webhook{ID: s.nextID, AccountID: accountID, URL: req.URL, Events: req.Events, Secret: "whsec_test", Active: true}
	s.webhooks[wh.ID] = wh
	copied := *wh
	return &copied, nil
}

func (s *handlerStore) Get(ctx context.Context, accountID, id int64) (*Webhook, error) {
	wh, ok := s.webhooks[id]
	if !ok || wh.AccountID != accountID {
		return nil, ErrNotFound
	}
	copied := *wh
	return &copied, nil
}

func (s *handlerStore) List(ctx context.Context, accountID int64) ([]*Webhook, error) {
	var out []*Webhook
	for _, wh := range s.webhooks {
		if wh.AccountID == accountID {
			copied := *wh
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *handlerStore) Delete(ctx context.Context, accountID, id int64) error {
	if _, err := s.Get(ctx, accountID, id); err != nil {
		return err
	}
	delete(s.webhooks, id)
	return nil
}

func newHandlerRouter(store *handlerStore, accountID int64) http.Handler {
	router := mux.NewRouter()
	NewHandlers(store, NewDispatcher(store, Config{}, nil, nil)).RegisterRoutes(router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r.WithContext(contextkeys.WithAccountID(r.Context(), accountID)))
	})
}

func TestHandlersLifecycle(t *testing.T) {
	store := &handlerStore{webhooks: map[int64]*Webhook{}}
	owner := newHandlerRouter(store, 1)
	other := newHandlerRouter(store, 2)

	rec := httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks",
		strings.NewReader(`{"url":"https://hooks.example.com/sellhub","events":["order.paid"]}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "whsec_test", created.Secret)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "whsec_")

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "whsec_")

	rec = httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/1/deliveries", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deliveries":[]`)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/webhooks/1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlersCreateValidation(t *testing.T) {
	store := &handlerStore{webhooks: map[int64]*Webhook{}}
	router := newHandlerRouter(store, 1)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing url", `{"events":["order.paid"]}`, http.StatusBadRequest},
		{"no events", `{"url":"https://x.example.com","events":[]}`, http.StatusBadRequest},
		{"unknown event", `{"url":"https://x.example.com","events":["order.shipped"]}`, http.StatusUnprocessableEntity},
		{"ftp url", `{"url":"ftp://x.example.com","events":["order.paid"]}`, http.StatusUnprocessableEntity},
		{"malformed", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
