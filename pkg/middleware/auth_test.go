package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/contextkeys"
)

// mockTokenStore embeds the interface so tests only implement Validate
type mockTokenStore struct {
	auth.TokenStore
	tokens map[string]*auth.AuthContext
	errs   map[string]error
}

func (m *mockTokenStore) Validate(ctx context.Context, token string) (*auth.AuthContext, error) {
	if err, ok := m.errs[token]; ok {
		return nil, err
	}
	if authCtx, ok := m.tokens[token]; ok {
		return authCtx, nil
	}
	return nil, auth.ErrInvalidToken
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{
		tokens: map[string]*auth.AuthContext{
			"sellhub_good": {AccountID: 7, Scopes: []auth.Scope{auth.ScopeRead}},
		},
		errs: map[string]error{
			"sellhub_revoked": auth.ErrTokenRevoked,
			"sellhub_expired": auth.ErrTokenExpired,
			"sellhub_dberr":   errors.New("connection refused"),
		},
	}
}

func withAuth(r *http.Request, authCtx *auth.AuthContext) *http.Request {
	return r.WithContext(contextkeys.WithAuth(r.Context(), authCtx))
}

func TestAuthMiddleware_Handler(t *testing.T) {
	store := newMockTokenStore()

	t.Run("rejects request without Authorization header when required", func(t *testing.T) {
		handler := NewAuthMiddleware(store, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
		if body := w.Body.String(); body != `{"error":"missing authorization header"}` {
			t.Errorf("unexpected body: %s", body)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
	})

	t.Run("allows request without Authorization header when optional", func(t *testing.T) {
		handlerCalled := false
		handler := NewAuthMiddleware(store, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			if GetAuthContext(r) != nil {
				t.Error("expected no auth context")
			}
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		if !handlerCalled {
			t.Error("handler should have been called")
		}
	})

	t.Run("sets auth context and account id for a valid token", func(t *testing.T) {
		var got *auth.AuthContext
		var accountID int64
		handler := NewAuthMiddleware(store, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetAuthContext(r)
			accountID = contextkeys.GetAccountID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer sellhub_good")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got == nil || got.AccountID != 7 {
			t.Fatalf("expected auth context for account 7, got %+v", got)
		}
		if accountID != 7 {
			t.Errorf("expected account id 7 in context, got %d", accountID)
		}
	})

	testCases := []struct {
		name         string
		header       string
		expectedCode int
		expectedBody string
	}{
		{"no Bearer prefix", "token123", http.StatusUnauthorized, `{"error":"invalid authorization header format"}`},
		{"Basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, `{"error":"invalid authorization header format"}`},
		{"Bearer without token", "Bearer", http.StatusUnauthorized, `{"error":"invalid authorization header format"}`},
		{"unknown token", "Bearer sellhub_unknown", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"revoked token", "Bearer sellhub_revoked", http.StatusUnauthorized, `{"error":"token revoked"}`},
		{"expired token", "Bearer sellhub_expired", http.StatusUnauthorized, `{"error":"token expired"}`},
		{"store failure", "Bearer sellhub_dberr", http.StatusServiceUnavailable, `{"error":"authentication unavailable"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthMiddleware(store, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", tc.header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tc.expectedCode {
				t.Errorf("expected status %d, got %d", tc.expectedCode, w.Code)
			}
			if body := w.Body.String(); body != tc.expectedBody {
				t.Errorf("expected body %s, got %s", tc.expectedBody, body)
			}
		})
	}
}

func TestGetAuthContext(t *testing.T) {
	t.Run("returns auth context when present", func(t *testing.T) {
		expected := &auth.AuthContext{AccountID: 123, Scopes: []auth.Scope{auth.ScopeRead}}
		req := withAuth(httptest.NewRequest("GET", "/test", nil), expected)

		if got := GetAuthContext(req); got != expected {
			t.Error("returned auth context does not match expected")
		}
	})

	t.Run("returns nil when auth context not in request", func(t *testing.T) {
		if GetAuthContext(httptest.NewRequest("GET", "/test", nil)) != nil {
			t.Error("expected nil auth context")
		}
	})

	t.Run("returns nil when context value is wrong type", func(t *testing.T) {
		ctx := contextkeys.WithAuth(context.Background(), "wrong_type")
		req := httptest.NewRequest("GET", "/test", nil).WithContext(ctx)
		if GetAuthContext(req) != nil {
			t.Error("expected nil auth context for wrong type")
		}
	})
}

func TestRequireScope(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name         string
		authCtx      *auth.AuthContext
		scope        auth.Scope
		expectedCode int
	}{
		{"has scope", &auth.AuthContext{Scopes: []auth.Scope{auth.ScopeRead}}, auth.ScopeRead, http.StatusOK},
		{"write implies read", &auth.AuthContext{Scopes: []auth.Scope{auth.ScopeWrite}}, auth.ScopeRead, http.StatusOK},
		{"wildcard", &auth.AuthContext{Scopes: []auth.Scope{auth.ScopeAll}}, auth.ScopeAdmin, http.StatusOK},
		{"missing scope", &auth.AuthContext{Scopes: []auth.Scope{auth.ScopeWrite}}, auth.ScopeAdmin, http.StatusForbidden},
		{"empty scopes", &auth.AuthContext{}, auth.ScopeRead, http.StatusForbidden},
		{"no auth context", nil, auth.ScopeRead, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authCtx != nil {
				req = withAuth(req, tt.authCtx)
			}
			w := httptest.NewRecorder()
			RequireScope(tt.scope)(ok).ServeHTTP(w, req)

			if w.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, w.Code)
			}
		})
	}
}

func TestRequireWriteScope(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	readOnly := &auth.AuthContext{Scopes: []auth.Scope{auth.ScopeRead}}

	w := httptest.NewRecorder()
	RequireWriteScope(ok).ServeHTTP(w, withAuth(httptest.NewRequest("GET", "/orders", nil), readOnly))
	if w.Code != http.StatusOK {
		t.Errorf("GET with read scope: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	RequireWriteScope(ok).ServeHTTP(w, withAuth(httptest.NewRequest("POST", "/products", nil), readOnly))
	if w.Code != http.StatusForbidden {
		t.Errorf("POST with read scope: expected 403, got %d", w.Code)
	}
	if body := w.Body.String(); body != `{"error":"insufficient permissions"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	w := httptest.NewRecorder()
	unauthorizedResponse(w, "test error")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
	if body := w.Body.String(); body != `{"error":"test error"}` {
		t.Errorf("expected body %s, got %s", `{"error":"test error"}`, body)
	}
}
