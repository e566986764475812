package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const webhookColumns = `id, account_id, url, events, secret, active, description, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Create registers an endpoint with a generated signing secret
func (s *PostgresStore) Create(ctx context.Context, accountID int64, req *CreateWebhookRequest) (*Webhook, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	webhook, err := scanWebhook(s.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (account_id, url, events, secret, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+webhookColumns,
		accountID, req.URL, pq.Array(eventStrings(req.Events)), secret, req.Description))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	return webhook, nil
}

// Get retrieves an account's webhook
func (s *PostgresStore) Get(ctx context.Context, accountID, id int64) (*Webhook, error) {
	webhook, err := scanWebhook(s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 AND account_id = $2`, id, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return webhook, nil
}

// List lists an account's webhooks
func (s *PostgresStore) List(ctx context.Context, accountID int64) ([]*Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE account_id = $1 ORDER BY id`, accountID)
}

// ListSubscribed lists the account's active webhooks subscribed to eventType
func (s *PostgresStore) ListSubscribed(ctx context.Context, accountID int64, eventType EventType) ([]*Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks
		WHERE account_id = $1 AND active AND $2 = ANY(events) ORDER BY id`, accountID, string(eventType))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

// Update applies the non-nil fields
func (s *PostgresStore) Update(ctx context.Context, accountID, id int64, req *UpdateWebhookRequest) (*Webhook, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
		set("url", *req.URL)
	}
	if req.Events != nil {
		if err := validateEvents(req.Events); err != nil {
			return nil, err
		}
		set("events", pq.Array(eventStrings(req.Events)))
	}
	if req.Active != nil {
		set("active", *req.Active)
	}
	if req.Description != nil {
		set("description", *req.Description)
	}
	if len(sets) == 0 {
		return s.Get(ctx, accountID, id)
	}

	args = append(args, id, accountID)
	query := fmt.Sprintf(`UPDATE webhooks SET %s, updated_at = NOW() WHERE id = $%d AND account_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), webhookColumns)
	webhook, err := scanWebhook(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}
	return webhook, nil
}

// Delete removes an account's webhook
func (s *PostgresStore) Delete(ctx context.Context, accountID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
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

func eventStrings(events []EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	w := &Webhook{}
	var events []string
	err := row.Scan(&w.ID, &w.AccountID, &w.URL, pq.Array(&events), &w.Secret, &w.Active,
		&w.Description, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Events = make([]EventType, len(events))
	for i, e := range events {
		w.Events[i] = EventType(e)
	}
	return w, nil
}
