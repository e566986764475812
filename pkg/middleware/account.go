package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/producers"
)

// AccountContextMiddleware loads the authenticated account into the request
// context. It must run after AuthMiddleware.
//
// Suspended accounts keep read access so they can still see their orders and
// balance; writes are rejected with 403.
func AccountContextMiddleware(accounts producers.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				unauthorizedResponse(w, "authentication required")
				return
			}

			account, err := accounts.GetAccount(r.Context(), authCtx.AccountID)
			if errors.Is(err, producers.ErrNotFound) {
				unauthorizedResponse(w, "account not found")
				return
			}
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("failed to load account")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
				return
			}

			if account.Status == producers.AccountStatusSuspended && !isReadOnly(r.Method) {
				forbiddenResponse(w, "account suspended")
				return
			}

			ctx := contextkeys.WithAccount(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccount returns the account loaded by AccountContextMiddleware
func GetAccount(r *http.Request) *producers.Account {
	account, ok := r.Context().Value(contextkeys.AccountKey).(*producers.Account)
	if !ok {
		return nil
	}
	return account
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
