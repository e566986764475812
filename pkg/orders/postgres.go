package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/split"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

const orderColumns = `id, producer_id, offer_id, product_id, buyer_name, buyer_email, quote,
	total_cents, currency, coupon_id, session_id, status, processor_charge_id, refunded_cents,
	preview_affiliate_id, affiliate_id, affiliation_id, created_at, paid_at, updated_at`

// outcomeReceived marks a claimed event until its outcome is resolved in
// the same transaction
const outcomeReceived = "received"

// PostgresStore implements Store on PostgreSQL. Ledger and coupon writes go
// through the ledger and coupon accounting on the order's transaction.
type PostgresStore struct {
	db      *sql.DB
	ledger  *ledger.Ledger
	coupons *coupons.Accounting
}

// NewPostgresStore creates a PostgreSQL-backed order store
func NewPostgresStore(db *sql.DB, l *ledger.Ledger, accounting *coupons.Accounting) *PostgresStore {
	return &PostgresStore{db: db, ledger: l, coupons: accounting}
}

var _ Store = (*PostgresStore)(nil)

// Get returns an order by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	return getOrder(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// List returns a producer's orders, newest first
func (s *PostgresStore) List(ctx context.Context, producerID int64, filter ListFilter) ([]*Order, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE producer_id = $1`
	args := []interface{}{producerID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListPending returns pending order ids created before cutoff
func (s *PostgresStore) ListPending(ctx context.Context, cutoff time.Time, withCharge bool, limit int) ([]string, error) {
	query := `SELECT id FROM orders WHERE status = 'pending' AND created_at < $1`
	if withCharge {
		query += ` AND processor_charge_id IS NOT NULL ORDER BY last_polled_at NULLS FIRST, created_at LIMIT $2`
	} else {
		query += ` ORDER BY created_at LIMIT $2`
	}

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkPolled sets last_polled_at
func (s *PostgresStore) MarkPolled(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE orders SET last_polled_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to mark order polled: %w", err)
	}
	return nil
}

// InTx runs fn in a database transaction
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return storage.InTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&postgresTx{tx: tx, store: s})
	})
}

type postgresTx struct {
	tx    *sql.Tx
	store *PostgresStore
}

func (t *postgresTx) Insert(ctx context.Context, o *Order) error {
	quote, err := json.Marshal(o.Quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, producer_id, offer_id, product_id, buyer_name, buyer_email, quote,
			total_cents, currency, coupon_id, session_id, status, preview_affiliate_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, o.ID, o.ProducerID, o.OfferID, o.ProductID, o.Buyer.Name, o.Buyer.Email, quote,
		o.TotalCents, o.Currency, nullInt64(o.CouponID), o.SessionID, o.Status, nullInt64(o.PreviewAffiliateID),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (t *postgresTx) Lock(ctx context.Context, id string) (*Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *postgresTx) LockByCharge(ctx context.Context, chargeID string) (*Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE processor_charge_id = $1 FOR UPDATE`, chargeID)
}

func (t *postgresTx) Update(ctx context.Context, o *Order) error {
	var chargeID interface{}
	if o.ProcessorChargeID != "" {
		chargeID = o.ProcessorChargeID
	}
	var paidAt interface{}
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	err := t.tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, processor_charge_id = $3, refunded_cents = $4,
			affiliate_id = $5, affiliation_id = $6, paid_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, o.ID, o.Status, chargeID, o.RefundedCents, nullInt64(o.AffiliateID), nullInt64(o.AffiliationID), paidAt,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (t *postgresTx) SetChargeID(ctx context.Context, orderID, chargeID string) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET processor_charge_id = $2, updated_at = NOW()
		WHERE id = $1 AND processor_charge_id IS NULL
	`, orderID, chargeID); err != nil {
		return fmt.Errorf("failed to store charge id: %w", err)
	}
	return nil
}

func (t *postgresTx) ClaimEvent(ctx context.Context, ev processor.Event) (bool, error) {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_events (id, charge_id, status, amount_cents, refunded_cents, outcome, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.ChargeID, ev.Status, ev.AmountCents, ev.RefundedCents, outcomeReceived, occurred)
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}
	return n == 1, nil
}

func (t *postgresTx) ResolveEvent(ctx context.Context, eventID, orderID string, outcome EventOutcome) error {
	var order interface{}
	if orderID != "" {
		order = orderID
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE payment_events SET order_id = $2, outcome = $3 WHERE id = $1`, eventID, order, outcome,
	); err != nil {
		return fmt.Errorf("failed to resolve payment event: %w", err)
	}
	return nil
}

func (t *postgresTx) ReserveCoupon(ctx context.Context, couponID int64, orderID string) error {
	return t.store.coupons.Reserve(ctx, t.tx, couponID, orderID)
}

func (t *postgresTx) CommitCoupon(ctx context.Context, orderID string) error {
	_, err := t.store.coupons.Commit(ctx, t.tx, orderID)
	return err
}

func (t *postgresTx) ReleaseCoupon(ctx context.Context, orderID string) error {
	_, err := t.store.coupons.Release(ctx, t.tx, orderID)
	return err
}

func (t *postgresTx) RecordSale(ctx context.Context, o *Order, eventID string, shares []split.Share) error {
	return t.store.ledger.RecordSale(ctx, t.tx, o.ID, o.Currency, eventID, o.TotalCents, shares)
}

func (t *postgresTx) RecordRefund(ctx context.Context, o *Order, eventID string, delta money.Cents, reversal []split.Share) error {
	return t.store.ledger.RecordRefund(ctx, t.tx, o.ID, o.Currency, eventID, delta, reversal)
}

func (t *postgresTx) SaleShares(ctx context.Context, orderID string) ([]split.Share, error) {
	return t.store.ledger.SaleShares(ctx, t.tx, orderID)
}

func (t *postgresTx) ReversedShares(ctx context.Context, orderID string) ([]split.Share, error) {
	return t.store.ledger.ReversedShares(ctx, t.tx, orderID)
}

func getOrder(ctx context.Context, q storage.Querier, query string, arg interface{}) (*Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o        Order
		quote    []byte
		chargeID sql.NullString
		paidAt   sql.NullTime
	)
	var couponID, previewAff, affiliate, affiliation sql.NullInt64
	if err := row.Scan(&o.ID, &o.ProducerID, &o.OfferID, &o.ProductID, &o.Buyer.Name, &o.Buyer.Email, &quote,
		&o.TotalCents, &o.Currency, &couponID, &o.SessionID, &o.Status, &chargeID, &o.RefundedCents,
		&previewAff, &affiliate, &affiliation, &o.CreatedAt, &paidAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if len(quote) > 0 {
		o.Quote = &pricing.Quote{}
		if err := json.Unmarshal(quote, o.Quote); err != nil {
			return nil, fmt.Errorf("failed to decode quote: %w", err)
		}
	}
	o.CouponID = int64Ptr(couponID)
	o.PreviewAffiliateID = int64Ptr(previewAff)
	o.AffiliateID = int64Ptr(affiliate)
	o.AffiliationID = int64Ptr(affiliation)
	o.ProcessorChargeID = chargeID.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
