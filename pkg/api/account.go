package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/contextkeys"
	"github.com/platinummonkey/sellhub/pkg/httputil"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/middleware"
	"github.com/platinummonkey/sellhub/pkg/producers"
)

// AccountHandlers serves the caller's own account: profile, balances and
// API tokens
type AccountHandlers struct {
	accounts producers.Service
	ledger   LedgerReader
	tokens   auth.TokenStore
	errs     *httputil.ErrorMapper
}

// NewAccountHandlers creates account handlers
func NewAccountHandlers(accounts producers.Service, ledger LedgerReader, tokens auth.TokenStore, errs *httputil.ErrorMapper) *AccountHandlers {
	return &AccountHandlers{accounts: accounts, ledger: ledger, tokens: tokens, errs: errs}
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/account", h.getAccount).Methods("GET")
	router.HandleFunc("/account", h.updateAccount).Methods("PATCH")
	router.HandleFunc("/ledger/balances", h.balances).Methods("GET")

	// Tokens
	router.HandleFunc("/tokens", h.createToken).Methods("POST")
	router.HandleFunc("/tokens", h.listTokens).Methods("GET")
	router.HandleFunc("/tokens/{id}", h.revokeToken).Methods("DELETE")
}

func (h *AccountHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.GetAccount(r))
}

func (h *AccountHandlers) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req producers.UpdateAccountRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	account, err := h.accounts.UpdateAccount(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// balances handles GET /ledger/balances, one row per currency
func (h *AccountHandlers) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.Balances(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if balances == nil {
		balances = []*ledger.Balance{}
	}
	httputil.WriteSuccess(w, balances)
}

// createToken handles POST /tokens. A token can only grant scopes its
// creator holds. The plaintext token is returned once.
func (h *AccountHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateTokenRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	caller := middleware.GetAuthContext(r)
	for _, scope := range req.Scopes {
		if !auth.ValidScope(scope) {
			h.errs.WriteServiceError(w, r, fmt.Errorf("%w: %s", auth.ErrInvalidScope, scope))
			return
		}
		if caller == nil || !grants(caller, scope) {
			httputil.WriteForbidden(w, fmt.Sprintf("cannot grant scope %q", scope))
			return
		}
	}

	created, err := h.tokens.Create(r.Context(), contextkeys.GetAccountID(r.Context()), &req)
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *AccountHandlers) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.List(r.Context(), contextkeys.GetAccountID(r.Context()))
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}
	httputil.WriteSuccess(w, tokens)
}

func (h *AccountHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}

	if err := h.tokens.Revoke(r.Context(), contextkeys.GetAccountID(r.Context()), id); err != nil {
		h.errs.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// grants reports whether caller may hand out scope. The wildcard is only
// grantable by a wildcard token.
func grants(caller *auth.AuthContext, scope auth.Scope) bool {
	if scope == auth.ScopeAll {
		for _, s := range caller.Scopes {
			if s == auth.ScopeAll {
				return true
			}
		}
		return false
	}
	return caller.HasScope(scope)
}
