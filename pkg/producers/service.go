package producers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sellhub/pkg/storage"
)

const accountColumns = `id, name, slug, email, fee_plan, status, kyc_status, created_at, updated_at`

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

var _ Service = (*PostgresService)(nil)

// CreateAccount creates a new account with KYC not started
func (s *PostgresService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	account := &Account{
		Name:      strings.TrimSpace(req.Name),
		Slug:      req.Slug,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		FeePlan:   req.FeePlan,
		Status:    AccountStatusActive,
		KYCStatus: KYCStatusNone,
	}
	if account.Slug == "" {
		account.Slug = generateSlug(account.Name)
	}
	if account.Slug == "" {
		return nil, fmt.Errorf("account slug is empty")
	}
	if account.FeePlan == "" {
		account.FeePlan = "standard"
	}

	query := `
		INSERT INTO accounts (name, slug, email, fee_plan, status, kyc_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, account.Name, account.Slug, account.Email,
		account.FeePlan, account.Status, account.KYCStatus).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if storage.IsUniqueViolation(err) {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// GetAccount retrieves an account by ID
func (s *PostgresService) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetAccountBySlug retrieves an account by slug
func (s *PostgresService) GetAccountBySlug(ctx context.Context, slug string) (*Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE slug = $1`, slug)
}

func (s *PostgresService) getAccount(ctx context.Context, query string, arg interface{}) (*Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListAccounts lists accounts newest first
func (s *PostgresService) ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateAccount applies the non-nil fields
func (s *PostgresService) UpdateAccount(ctx context.Context, id int64, req *UpdateAccountRequest) (*Account, error) {
	var sets []string
	var args []interface{}
	if req.Name != nil {
		args = append(args, strings.TrimSpace(*req.Name))
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if req.Email != nil {
		args = append(args, strings.ToLower(strings.TrimSpace(*req.Email)))
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	if len(sets) == 0 {
		return s.GetAccount(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE accounts SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), accountColumns)

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// SetStatus suspends or reactivates an account
func (s *PostgresService) SetStatus(ctx context.Context, id int64, status AccountStatus) error {
	if status != AccountStatusActive && status != AccountStatusSuspended {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	return s.exec(ctx, s.db, `UPDATE accounts SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
}

// SetFeePlan changes the account's fee plan
func (s *PostgresService) SetFeePlan(ctx context.Context, id int64, plan string) error {
	if plan == "" {
		return fmt.Errorf("fee plan is required")
	}
	return s.exec(ctx, s.db, `UPDATE accounts SET fee_plan = $1, updated_at = NOW() WHERE id = $2`, plan, id)
}

// SetKYCStatus records the verification outcome
func (s *PostgresService) SetKYCStatus(ctx context.Context, q storage.Querier, id int64, status KYCStatus) error {
	switch status {
	case KYCStatusNone, KYCStatusPending, KYCStatusApproved, KYCStatusRejected:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if q == nil {
		q = s.db
	}
	return s.exec(ctx, q, `UPDATE accounts SET kyc_status = $1, updated_at = NOW() WHERE id = $2`, status, id)
}

func (s *PostgresService) exec(ctx context.Context, q storage.Querier, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	account := &Account{}
	err := row.Scan(&account.ID, &account.Name, &account.Slug, &account.Email, &account.FeePlan,
		&account.Status, &account.KYCStatus, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// generateSlug generates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
