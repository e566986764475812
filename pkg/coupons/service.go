package coupons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/sellhub/pkg/storage"
)

const couponColumns = `id, producer_id, code, kind, percent_bps, amount_cents, product_ids, apply_to_bumps,
		min_subtotal_cents, max_redemptions, used_count, reserved_count, valid_from, valid_until,
		active, created_at, updated_at`

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

var _ Service = (*PostgresService)(nil)

// Create creates an active coupon
func (s *PostgresService) Create(ctx context.Context, producerID int64, req *CreateCouponRequest) (*Coupon, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	productIDs := req.ProductIDs
	if productIDs == nil {
		productIDs = []int64{}
	}

	query := `
		INSERT INTO coupons (producer_id, code, kind, percent_bps, amount_cents, product_ids, apply_to_bumps,
			min_subtotal_cents, max_redemptions, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + couponColumns

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, producerID, NormalizeCode(req.Code), req.Kind,
		req.PercentBps, req.AmountCents, pq.Array(productIDs), req.ApplyToBumps, req.MinSubtotalCents,
		req.MaxRedemptions, req.ValidFrom, req.ValidUntil))
	if storage.IsUniqueViolation(err) {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}
	return coupon, nil
}

// Get retrieves a producer's coupon by id
func (s *PostgresService) Get(ctx context.Context, producerID, couponID int64) (*Coupon, error) {
	return s.get(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1 AND producer_id = $2`, couponID, producerID)
}

// GetByCode retrieves a producer's coupon by its code, case-insensitively
func (s *PostgresService) GetByCode(ctx context.Context, producerID int64, code string) (*Coupon, error) {
	return s.get(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 AND producer_id = $2`,
		NormalizeCode(code), producerID)
}

func (s *PostgresService) get(ctx context.Context, query string, args ...interface{}) (*Coupon, error) {
	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return coupon, nil
}

// List lists the producer's coupons
func (s *PostgresService) List(ctx context.Context, producerID int64) ([]*Coupon, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE producer_id = $1 ORDER BY id`, producerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, coupon)
	}
	return coupons, rows.Err()
}

// Update applies the non-nil fields. Lowering MaxRedemptions below current
// usage is allowed and simply stops new reservations.
func (s *PostgresService) Update(ctx context.Context, producerID, couponID int64, req *UpdateCouponRequest) (*Coupon, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Active != nil {
		set("active", *req.Active)
	}
	if req.MaxRedemptions != nil {
		if *req.MaxRedemptions < 0 {
			return nil, fmt.Errorf("%w: negative max redemptions", ErrInvalidCoupon)
		}
		set("max_redemptions", *req.MaxRedemptions)
	}
	if req.ValidUntil != nil {
		set("valid_until", *req.ValidUntil)
	}
	if len(sets) == 0 {
		return s.Get(ctx, producerID, couponID)
	}

	args = append(args, couponID, producerID)
	query := fmt.Sprintf(`UPDATE coupons SET %s, updated_at = NOW() WHERE id = $%d AND producer_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), couponColumns)
	return s.get(ctx, query, args...)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCoupon(row rowScanner) (*Coupon, error) {
	c := &Coupon{}
	var validFrom, validUntil sql.NullTime
	err := row.Scan(&c.ID, &c.ProducerID, &c.Code, &c.Kind, &c.PercentBps, &c.AmountCents,
		pq.Array(&c.ProductIDs), &c.ApplyToBumps, &c.MinSubtotalCents, &c.MaxRedemptions,
		&c.UsedCount, &c.ReservedCount, &validFrom, &validUntil, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if validFrom.Valid {
		c.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		c.ValidUntil = &validUntil.Time
	}
	return c, nil
}
