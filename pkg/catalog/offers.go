package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sellhub/pkg/storage"
)

const offerColumns = `o.id, o.product_id, o.producer_id, o.slug, o.title, o.price_cents, o.currency,
		o.active, o.created_at, o.updated_at`

const bumpColumns = `id, offer_id, product_id, title, price_cents, position, active`

// CreateOffer creates a checkout link for one of the producer's products
func (s *PostgresService) CreateOffer(ctx context.Context, producerID int64, req *CreateOfferRequest) (*Offer, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !ValidSlug(slug) {
		return nil, ErrInvalidSlug
	}
	currency := strings.ToUpper(req.Currency)
	if !currencyPattern.MatchString(currency) {
		return nil, ErrInvalidCurrency
	}
	if !req.PriceCents.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, req.PriceCents)
	}
	if _, err := s.GetProduct(ctx, producerID, req.ProductID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO offers AS o (product_id, producer_id, slug, title, price_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + offerColumns

	offer, err := scanOffer(s.db.QueryRowContext(ctx, query, req.ProductID, producerID, slug,
		strings.TrimSpace(req.Title), req.PriceCents, currency))
	if storage.IsUniqueViolation(err) {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	offer.Bumps = []Bump{}
	return offer, nil
}

// GetOffer retrieves a producer's offer with its bumps
func (s *PostgresService) GetOffer(ctx context.Context, producerID, offerID int64) (*Offer, error) {
	offer, err := scanOffer(s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers o WHERE o.id = $1 AND o.producer_id = $2`, offerID, producerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	if offer.Bumps, err = s.listBumps(ctx, offer.ID); err != nil {
		return nil, err
	}
	return offer, nil
}

// GetOfferBySlug retrieves an offer with its product and bumps for checkout.
// Inactive offers are returned; callers check Sellable.
func (s *PostgresService) GetOfferBySlug(ctx context.Context, slug string) (*Offer, error) {
	query := `
		SELECT ` + offerColumns + `,
			p.id, p.producer_id, p.name, p.description, p.active, p.affiliation_enabled,
			p.affiliate_commission_bps, p.attribution_window_seconds, p.created_at, p.updated_at
		FROM offers o
		JOIN products p ON p.id = o.product_id
		WHERE o.slug = $1
	`
	o := &Offer{}
	p := &Product{}
	err := s.db.QueryRowContext(ctx, query, strings.ToLower(slug)).Scan(
		&o.ID, &o.ProductID, &o.ProducerID, &o.Slug, &o.Title, &o.PriceCents, &o.Currency,
		&o.Active, &o.CreatedAt, &o.UpdatedAt,
		&p.ID, &p.ProducerID, &p.Name, &p.Description, &p.Active, &p.AffiliationEnabled,
		&p.AffiliateCommissionBps, &p.AttributionWindowSecs, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	o.Product = p
	if o.Bumps, err = s.listBumps(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOffers lists the producer's offers without bumps
func (s *PostgresService) ListOffers(ctx context.Context, producerID int64) ([]*Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers o WHERE o.producer_id = $1 ORDER BY o.id`, producerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// UpdateOffer applies the non-nil fields. Pending orders keep the quote they
// were created with.
func (s *PostgresService) UpdateOffer(ctx context.Context, producerID, offerID int64, req *UpdateOfferRequest) (*Offer, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Title != nil {
		set("title", strings.TrimSpace(*req.Title))
	}
	if req.PriceCents != nil {
		if !req.PriceCents.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, *req.PriceCents)
		}
		set("price_cents", *req.PriceCents)
	}
	if req.Active != nil {
		set("active", *req.Active)
	}
	if len(sets) == 0 {
		return s.GetOffer(ctx, producerID, offerID)
	}

	args = append(args, offerID, producerID)
	query := fmt.Sprintf(`UPDATE offers AS o SET %s, updated_at = NOW() WHERE o.id = $%d AND o.producer_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), offerColumns)

	offer, err := scanOffer(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	if offer.Bumps, err = s.listBumps(ctx, offer.ID); err != nil {
		return nil, err
	}
	return offer, nil
}

// AddBump attaches another of the producer's products to the offer
func (s *PostgresService) AddBump(ctx context.Context, producerID, offerID int64, req *CreateBumpRequest) (*Bump, error) {
	if !req.PriceCents.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, req.PriceCents)
	}
	offer, err := s.GetOffer(ctx, producerID, offerID)
	if err != nil {
		return nil, err
	}
	if req.ProductID == offer.ProductID {
		return nil, ErrBumpSameProduct
	}
	product, err := s.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.ProducerID != producerID {
		return nil, ErrBumpForeignProduct
	}

	query := `
		INSERT INTO order_bumps (offer_id, product_id, title, price_cents, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + bumpColumns

	bump, err := scanBump(s.db.QueryRowContext(ctx, query, offerID, req.ProductID,
		strings.TrimSpace(req.Title), req.PriceCents, req.Position))
	if storage.IsUniqueViolation(err) {
		return nil, ErrDuplicateBump
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add bump: %w", err)
	}
	return bump, nil
}

// UpdateBump applies the non-nil fields
func (s *PostgresService) UpdateBump(ctx context.Context, producerID, offerID, bumpID int64, req *UpdateBumpRequest) (*Bump, error) {
	if req.PriceCents != nil && !req.PriceCents.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, *req.PriceCents)
	}
	if _, err := s.GetOffer(ctx, producerID, offerID); err != nil {
		return nil, err
	}

	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Title != nil {
		set("title", strings.TrimSpace(*req.Title))
	}
	if req.PriceCents != nil {
		set("price_cents", *req.PriceCents)
	}
	if req.Position != nil {
		set("position", *req.Position)
	}
	if req.Active != nil {
		set("active", *req.Active)
	}

	var row *sql.Row
	if len(sets) == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+bumpColumns+` FROM order_bumps WHERE id = $1 AND offer_id = $2`, bumpID, offerID)
	} else {
		args = append(args, bumpID, offerID)
		query := fmt.Sprintf(`UPDATE order_bumps SET %s WHERE id = $%d AND offer_id = $%d RETURNING %s`,
			strings.Join(sets, ", "), len(args)-1, len(args), bumpColumns)
		row = s.db.QueryRowContext(ctx, query, args...)
	}

	bump, err := scanBump(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBumpNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update bump: %w", err)
	}
	return bump, nil
}

// DeleteBump detaches a bump from the offer
func (s *PostgresService) DeleteBump(ctx context.Context, producerID, offerID, bumpID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM order_bumps b
		USING offers o
		WHERE b.id = $1 AND b.offer_id = $2 AND o.id = b.offer_id AND o.producer_id = $3
	`, bumpID, offerID, producerID)
	if err != nil {
		return fmt.Errorf("failed to delete bump: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBumpNotFound
	}
	return nil
}

func (s *PostgresService) listBumps(ctx context.Context, offerID int64) ([]Bump, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bumpColumns+` FROM order_bumps WHERE offer_id = $1 ORDER BY position, id`, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bumps: %w", err)
	}
	defer rows.Close()

	bumps := []Bump{}
	for rows.Next() {
		bump, err := scanBump(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bump: %w", err)
		}
		bumps = append(bumps, *bump)
	}
	return bumps, rows.Err()
}

func scanOffer(row rowScanner) (*Offer, error) {
	o := &Offer{}
	err := row.Scan(&o.ID, &o.ProductID, &o.ProducerID, &o.Slug, &o.Title, &o.PriceCents, &o.Currency,
		&o.Active, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanBump(row rowScanner) (*Bump, error) {
	b := &Bump{}
	if err := row.Scan(&b.ID, &b.OfferID, &b.ProductID, &b.Title, &b.PriceCents, &b.Position, &b.Active); err != nil {
		return nil, err
	}
	return b, nil
}
