package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// TokenStore manages API token lifecycle
type TokenStore interface {
	Create(ctx context.Context, accountID int64, req *CreateTokenRequest) (*CreateTokenResponse, error)
	Validate(ctx context.Context, token string) (*AuthContext, error)
	List(ctx context.Context, accountID int64) ([]*APIToken, error)
	Revoke(ctx context.Context, accountID, tokenID int64) error
}

const tokenColumns = `id, account_id, token_hash, token_prefix, name, scopes, expires_at, last_used_at, revoked_at, created_at`

// lastUsedGranularity limits last_used_at writes to one per token per minute
const lastUsedGranularity = time.Minute

// PostgresTokenStore implements TokenStore using PostgreSQL
type PostgresTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresTokenStore creates a new PostgreSQL-backed token store
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db, now: time.Now}
}

var _ TokenStore = (*PostgresTokenStore)(nil)

// Create generates and stores a token. The plaintext token is only in the
// response.
func (s *PostgresTokenStore) Create(ctx context.Context, accountID int64, req *CreateTokenRequest) (*CreateTokenResponse, error) {
	for _, scope := range req.Scopes {
		if !ValidScope(scope) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, ErrTokenExpired
	}

	issued, err := IssueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		AccountID:   accountID,
		TokenHash:   issued.Hash,
		TokenPrefix: issued.Prefix,
		Name:        req.Name,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (account_id, name, token_hash, token_prefix, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, accountID, req.Name, issued.Hash, issued.Prefix, pq.Array(scopeStrings(req.Scopes)), req.ExpiresAt,
	).Scan(&apiToken.ID, &apiToken.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	return &CreateTokenResponse{Token: issued.Plaintext, APIToken: apiToken}, nil
}

// Validate resolves a bearer token to its account
func (s *PostgresTokenStore) Validate(ctx context.Context, token string) (*AuthContext, error) {
	if err := CheckTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	apiToken, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = $1`, HashToken(token)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now()
	if apiToken.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if apiToken.ExpiresAt != nil && !now.Before(*apiToken.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if apiToken.LastUsedAt == nil || now.Sub(*apiToken.LastUsedAt) >= lastUsedGranularity {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, apiToken.ID, now,
		); err == nil {
			apiToken.LastUsedAt = &now
		}
	}

	return &AuthContext{
		AccountID: apiToken.AccountID,
		Token:     apiToken,
		Scopes:    apiToken.Scopes,
	}, nil
}

// List returns an account's tokens, newest first
func (s *PostgresTokenStore) List(ctx context.Context, accountID int64) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Revoke revokes one of an account's tokens
func (s *PostgresTokenStore) Revoke(ctx context.Context, accountID, tokenID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = $3
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
	`, tokenID, accountID, s.now())
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*APIToken, error) {
	var (
		t      APIToken
		scopes []string
	)
	var expiresAt, lastUsed, revoked sql.NullTime
	if err := row.Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.TokenPrefix, &t.Name, pq.Array(&scopes),
		&expiresAt, &lastUsed, &revoked, &t.CreatedAt); err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		t.Scopes = append(t.Scopes, Scope(scope))
	}
	t.ExpiresAt = timePtr(expiresAt)
	t.LastUsedAt = timePtr(lastUsed)
	t.RevokedAt = timePtr(revoked)
	return &t, nil
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
