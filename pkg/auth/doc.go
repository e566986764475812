// Package auth provides API token management for sellhub accounts.
//
// # Tokens
//
// Tokens are opaque bearer credentials:
//
//	sellhub_<base64url(32 random bytes)>
//
// Only the SHA256 hash is stored; the plaintext is returned once at
// creation. The first 8 encoded characters are kept as a display prefix so
// accounts can tell their tokens apart.
//
// # Scopes
//
//	read   - read catalog, orders, ledger and KYC state
//	write  - manage the account's resources (implies read)
//	admin  - platform operations such as KYC review
//	*      - everything
//
// # Usage
//
//	store := auth.NewPostgresTokenStore(db)
//	resp, err := store.Create(ctx, accountID, &auth.CreateTokenRequest{
//		Name:   "storefront",
//		Scopes: []auth.Scope{auth.ScopeRead, auth.ScopeWrite},
//	})
//
//	authCtx, err := store.Validate(ctx, bearer)
//	if authCtx.HasScope(auth.ScopeWrite) { ... }
package auth
