package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/producers"
)

type mockAccounts struct {
	producers.Service
	accounts map[int64]*producers.Account
	err      error
}

func (m *mockAccounts) GetAccount(ctx context.Context, id int64) (*producers.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	return nil, producers.ErrNotFound
}

func TestAccountContextMiddleware(t *testing.T) {
	accounts := &mockAccounts{accounts: map[int64]*producers.Account{
		1: {ID: 1, Name: "Ana", Status: producers.AccountStatusActive},
		2: {ID: 2, Name: "Bruno", Status: producers.AccountStatusSuspended},
	}}
	mw := AccountContextMiddleware(accounts)

	tests := []struct {
		name         string
		method       string
		accountID    int64
		noAuth       bool
		expectedCode int
	}{
		{"active account", http.MethodPost, 1, false, http.StatusOK},
		{"suspended account can read", http.MethodGet, 2, false, http.StatusOK},
		{"suspended account cannot write", http.MethodPost, 2, false, http.StatusForbidden},
		{"unknown account", http.MethodGet, 99, false, http.StatusUnauthorized},
		{"no auth", http.MethodGet, 0, true, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loaded *producers.Account
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				loaded = GetAccount(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/products", nil)
			if !tt.noAuth {
				req = withAuth(req, &auth.AuthContext{AccountID: tt.accountID})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, w.Code)
			}
			if tt.expectedCode == http.StatusOK && (loaded == nil || loaded.ID != tt.accountID) {
				t.Errorf("expected account %d in context, got %+v", tt.accountID, loaded)
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		handler := AccountContextMiddleware(&mockAccounts{err: errors.New("boom")})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withAuth(httptest.NewRequest("GET", "/", nil), &auth.AuthContext{AccountID: 1}))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
	})
}
