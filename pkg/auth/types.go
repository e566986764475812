package auth

import (
	"errors"
	"time"
)

// Scope represents API token scopes
type Scope string

const (
	ScopeRead  Scope = "read"  // Read catalog, orders, ledger and KYC state
	ScopeWrite Scope = "write" // Manage catalog, coupons, affiliations, refunds and webhooks
	ScopeAdmin Scope = "admin" // Platform operations such as KYC review
	ScopeAll   Scope = "*"     // All permissions
)

// ValidScope reports whether s is a known scope
func ValidScope(s Scope) bool {
	switch s {
	case ScopeRead, ScopeWrite, ScopeAdmin, ScopeAll:
		return true
	}
	return false
}

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRevoked  = errors.New("token revoked")
	ErrTokenNotFound = errors.New("token not found")
	ErrInvalidScope  = errors.New("invalid scope")
)

// APIToken represents an API token
type APIToken struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	Scopes      []Scope    `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateTokenRequest represents request to create a token
type CreateTokenRequest struct {
	Name      string     `json:"name" validate:"required,max=255"`
	Scopes    []Scope    `json:"scopes" validate:"required,min=1"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateTokenResponse carries the plaintext token, shown once
type CreateTokenResponse struct {
	Token    string    `json:"token"`
	APIToken *APIToken `json:"api_token"`
}

// AuthContext holds the authenticated account
type AuthContext struct {
	AccountID int64
	Token     *APIToken
	Scopes    []Scope
}

// HasScope checks if the context has a specific scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	for _, s := range ac.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
		// write implies read
		if s == ScopeWrite && scope == ScopeRead {
			return true
		}
	}
	return false
}
