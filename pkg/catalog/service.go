package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/split"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

const productColumns = `id, producer_id, name, description, active, affiliation_enabled,
		affiliate_commission_bps, attribution_window_seconds, created_at, updated_at`

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db            *sql.DB
	defaultWindow time.Duration
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, defaultWindow: DefaultAttributionWindow}
}

// SetDefaultAttributionWindow sets the window given to products created
// without one
func (s *PostgresService) SetDefaultAttributionWindow(d time.Duration) {
	if d > 0 {
		s.defaultWindow = d
	}
}

var _ Service = (*PostgresService)(nil)

// CreateProduct creates an active product
func (s *PostgresService) CreateProduct(ctx context.Context, producerID int64, req *CreateProductRequest) (*Product, error) {
	if !req.AffiliateCommissionBps.Valid() {
		return nil, ErrInvalidCommission
	}
	window := s.defaultWindow
	if req.AttributionWindowSeconds > 0 {
		window = time.Duration(req.AttributionWindowSeconds) * time.Second
	}

	query := `
		INSERT INTO products (producer_id, name, description, affiliation_enabled,
			affiliate_commission_bps, attribution_window_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + productColumns

	product, err := scanProduct(s.db.QueryRowContext(ctx, query, producerID, strings.TrimSpace(req.Name),
		req.Description, req.AffiliationEnabled, req.AffiliateCommissionBps, int64(window/time.Second)))
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

// GetProduct retrieves a product owned by the producer
func (s *PostgresService) GetProduct(ctx context.Context, producerID, productID int64) (*Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND producer_id = $2`, productID, producerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// GetProductByID retrieves a product regardless of owner, for checkout and
// affiliate flows
func (s *PostgresService) GetProductByID(ctx context.Context, productID int64) (*Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// ListProducts lists the producer's products
func (s *PostgresService) ListProducts(ctx context.Context, producerID int64) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE producer_id = $1 ORDER BY id`, producerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// UpdateProduct applies the non-nil fields
func (s *PostgresService) UpdateProduct(ctx context.Context, producerID, productID int64, req *UpdateProductRequest) (*Product, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		set("name", strings.TrimSpace(*req.Name))
	}
	if req.Description != nil {
		set("description", *req.Description)
	}
	if req.Active != nil {
		set("active", *req.Active)
	}
	if req.AffiliationEnabled != nil {
		set("affiliation_enabled", *req.AffiliationEnabled)
	}
	if req.AffiliateCommissionBps != nil {
		if !req.AffiliateCommissionBps.Valid() {
			return nil, ErrInvalidCommission
		}
		set("affiliate_commission_bps", *req.AffiliateCommissionBps)
	}
	if req.AttributionWindowSeconds != nil {
		if *req.AttributionWindowSeconds <= 0 {
			return nil, ErrInvalidWindow
		}
		set("attribution_window_seconds", *req.AttributionWindowSeconds)
	}
	if len(sets) == 0 {
		return s.GetProduct(ctx, producerID, productID)
	}

	args = append(args, productID, producerID)
	query := fmt.Sprintf(`UPDATE products SET %s, updated_at = NOW() WHERE id = $%d AND producer_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), productColumns)

	product, err := scanProduct(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// ListCoProducers returns the product's co-producers in ascending account id
func (s *PostgresService) ListCoProducers(ctx context.Context, productID int64) ([]split.CoProducer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, share_bps FROM co_producers WHERE product_id = $1 ORDER BY account_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list co-producers: %w", err)
	}
	defer rows.Close()

	var coProducers []split.CoProducer
	for rows.Next() {
		var cp split.CoProducer
		if err := rows.Scan(&cp.AccountID, &cp.ShareBps); err != nil {
			return nil, fmt.Errorf("failed to scan co-producer: %w", err)
		}
		coProducers = append(coProducers, cp)
	}
	return coProducers, rows.Err()
}

// SetCoProducers replaces the product's co-producer set. Orders already paid
// keep the split recorded in the ledger.
func (s *PostgresService) SetCoProducers(ctx context.Context, producerID, productID int64, coProducers []split.CoProducer) error {
	if err := split.ValidateCoProducers(producerID, coProducers); err != nil {
		return err
	}
	if _, err := s.GetProduct(ctx, producerID, productID); err != nil {
		return err
	}

	sorted := append([]split.CoProducer(nil), coProducers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	return storage.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM co_producers WHERE product_id = $1`, productID); err != nil {
			return fmt.Errorf("failed to clear co-producers: %w", err)
		}
		for _, cp := range sorted {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO co_producers (product_id, account_id, share_bps) VALUES ($1, $2, $3)`,
				productID, cp.AccountID, cp.ShareBps,
			); err != nil {
				return fmt.Errorf("failed to insert co-producer %d: %w", cp.AccountID, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*Product, error) {
	p := &Product{}
	var commission int64
	err := row.Scan(&p.ID, &p.ProducerID, &p.Name, &p.Description, &p.Active, &p.AffiliationEnabled,
		&commission, &p.AttributionWindowSecs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.AffiliateCommissionBps = money.BasisPoints(commission)
	return p, nil
}
