// Package ledger records how each charge and refund was divided between the
// platform, producers, co-producers and affiliates.
//
// Sale entries are positive and refund entries negative. For one order, the
// sale entries sum to the charged total and each refund batch sums to the
// negated refund increment it reverses.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/split"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

// Kind distinguishes sale and refund entries
type Kind string

const (
	KindSale   Kind = "sale"
	KindRefund Kind = "refund"
)

var (
	ErrUnbalanced      = errors.New("ledger entries do not sum to the recorded amount")
	ErrAlreadyRecorded = errors.New("sale already recorded for order")
)

// Entry is one party's movement for an order
type Entry struct {
	ID          int64       `json:"id"`
	OrderID     string      `json:"order_id"`
	AccountID   int64       `json:"account_id"`
	Party       split.Party `json:"party"`
	Kind        Kind        `json:"kind"`
	AmountCents money.Cents `json:"amount_cents"`
	Currency    string      `json:"currency"`
	EventID     string      `json:"event_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Balance is an account's net position in one currency
type Balance struct {
	AccountID    int64       `json:"account_id"`
	Currency     string      `json:"currency"`
	SalesCents   money.Cents `json:"sales_cents"`
	RefundsCents money.Cents `json:"refunds_cents"`
	BalanceCents money.Cents `json:"balance_cents"`
}

const entryColumns = `id, order_id, account_id, party, kind, amount_cents, currency, COALESCE(event_id, ''), created_at`

// Ledger reads and writes ledger entries. Writes take the caller's
// transaction so entries land together with the order state change.
type Ledger struct {
	db     *sql.DB
	reader func() *sql.DB
}

// New creates a ledger
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// ReadFrom sends the reporting queries (Entries, Balances) to the
// connections returned by reader, typically a read replica. Settlement reads
// stay on the caller's transaction.
func (l *Ledger) ReadFrom(reader func() *sql.DB) *Ledger {
	l.reader = reader
	return l
}

func (l *Ledger) reportDB() *sql.DB {
	if l.reader != nil {
		if db := l.reader(); db != nil {
			return db
		}
	}
	return l.db
}

// RecordSale writes the sale split of an order. shares must sum to total.
func (l *Ledger) RecordSale(ctx context.Context, q storage.Querier, orderID, currency, eventID string, total money.Cents, shares []split.Share) error {
	if split.Sum(shares) != total {
		return fmt.Errorf("%w: sale shares sum to %d, total %d", ErrUnbalanced, split.Sum(shares), total)
	}
	var existing int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE order_id = $1 AND kind = $2`, orderID, KindSale,
	).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if existing > 0 {
		return ErrAlreadyRecorded
	}
	return l.insert(ctx, q, orderID, currency, eventID, KindSale, shares, 1)
}

// RecordRefund writes the reversal of delta cents. reversal holds positive
// per-party amounts that sum to delta; they are stored negated.
func (l *Ledger) RecordRefund(ctx context.Context, q storage.Querier, orderID, currency, eventID string, delta money.Cents, reversal []split.Share) error {
	if split.Sum(reversal) != delta {
		return fmt.Errorf("%w: refund shares sum to %d, delta %d", ErrUnbalanced, split.Sum(reversal), delta)
	}
	return l.insert(ctx, q, orderID, currency, eventID, KindRefund, reversal, -1)
}

func (l *Ledger) insert(ctx context.Context, q storage.Querier, orderID, currency, eventID string, kind Kind, shares []split.Share, sign money.Cents) error {
	var event interface{}
	if eventID != "" {
		event = eventID
	}
	for _, s := range shares {
		if s.Amount == 0 {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries (order_id, account_id, party, kind, amount_cents, currency, event_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, orderID, s.AccountID, s.Party, kind, sign*s.Amount, currency, event); err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}
	return nil
}

// SaleShares returns the original split of an order
func (l *Ledger) SaleShares(ctx context.Context, q storage.Querier, orderID string) ([]split.Share, error) {
	return l.shares(ctx, q, orderID, KindSale, 1)
}

// ReversedShares returns how much of each party's share has been refunded so
// far, as positive amounts
func (l *Ledger) ReversedShares(ctx context.Context, q storage.Querier, orderID string) ([]split.Share, error) {
	return l.shares(ctx, q, orderID, KindRefund, -1)
}

func (l *Ledger) shares(ctx context.Context, q storage.Querier, orderID string, kind Kind, sign money.Cents) ([]split.Share, error) {
	if q == nil {
		q = l.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT party, account_id, SUM(amount_cents)
		FROM ledger_entries
		WHERE order_id = $1 AND kind = $2
		GROUP BY party, account_id
		ORDER BY CASE party WHEN 'platform' THEN 0 WHEN 'affiliate' THEN 1 WHEN 'coproducer' THEN 2 ELSE 3 END, account_id
	`, orderID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger shares: %w", err)
	}
	defer rows.Close()

	var shares []split.Share
	for rows.Next() {
		var s split.Share
		if err := rows.Scan(&s.Party, &s.AccountID, &s.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan ledger share: %w", err)
		}
		s.Amount *= sign
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// Entries lists every entry of an order in insertion order
func (l *Ledger) Entries(ctx context.Context, orderID string) ([]*Entry, error) {
	rows, err := l.reportDB().QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.OrderID, &e.AccountID, &e.Party, &e.Kind, &e.AmountCents,
			&e.Currency, &e.EventID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balances returns the account's totals per currency
func (l *Ledger) Balances(ctx context.Context, accountID int64) ([]*Balance, error) {
	rows, err := l.reportDB().QueryContext(ctx, `
		SELECT currency,
			COALESCE(SUM(amount_cents) FILTER (WHERE kind = 'sale'), 0),
			COALESCE(-SUM(amount_cents) FILTER (WHERE kind = 'refund'), 0)
		FROM ledger_entries
		WHERE account_id = $1
		GROUP BY currency
		ORDER BY currency
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()

	var balances []*Balance
	for rows.Next() {
		b := &Balance{AccountID: accountID}
		if err := rows.Scan(&b.Currency, &b.SalesCents, &b.RefundsCents); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.BalanceCents = b.SalesCents - b.RefundsCents
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
