package affiliates

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

const affiliationColumns = `id, product_id, producer_id, affiliate_id, code, commission_bps, status, created_at, updated_at`

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

var _ Service = (*PostgresService)(nil)

// Join creates a pending affiliation with a fresh referral code
func (s *PostgresService) Join(ctx context.Context, affiliateID int64, product *catalog.Product) (*Affiliation, error) {
	if product.ProducerID == affiliateID {
		return nil, ErrSelfAffiliation
	}
	if !product.AffiliationEnabled {
		return nil, ErrAffiliationDisabled
	}
	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO affiliations (product_id, producer_id, affiliate_id, code, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + affiliationColumns

	aff, err := scanAffiliation(s.db.QueryRowContext(ctx, query,
		product.ID, product.ProducerID, affiliateID, code, StatusPending))
	if storage.IsUniqueViolation(err) {
		return nil, ErrAlreadyAffiliated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create affiliation: %w", err)
	}
	return aff, nil
}

// Get retrieves an affiliation by id
func (s *PostgresService) Get(ctx context.Context, id int64) (*Affiliation, error) {
	return s.get(ctx, `SELECT `+affiliationColumns+` FROM affiliations WHERE id = $1`, id)
}

// GetByCode retrieves an affiliation by its referral code
func (s *PostgresService) GetByCode(ctx context.Context, code string) (*Affiliation, error) {
	return s.get(ctx, `SELECT `+affiliationColumns+` FROM affiliations WHERE code = $1`,
		strings.ToLower(strings.TrimSpace(code)))
}

func (s *PostgresService) get(ctx context.Context, query string, args ...interface{}) (*Affiliation, error) {
	aff, err := scanAffiliation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliation: %w", err)
	}
	return aff, nil
}

// ListForProducer lists affiliations on the producer's products
func (s *PostgresService) ListForProducer(ctx context.Context, producerID int64) ([]*Affiliation, error) {
	return s.list(ctx, `SELECT `+affiliationColumns+` FROM affiliations WHERE producer_id = $1 ORDER BY id`, producerID)
}

// ListForAffiliate lists the account's own affiliations
func (s *PostgresService) ListForAffiliate(ctx context.Context, affiliateID int64) ([]*Affiliation, error) {
	return s.list(ctx, `SELECT `+affiliationColumns+` FROM affiliations WHERE affiliate_id = $1 ORDER BY id`, affiliateID)
}

func (s *PostgresService) list(ctx context.Context, query string, id int64) ([]*Affiliation, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliations: %w", err)
	}
	defer rows.Close()

	var affs []*Affiliation
	for rows.Next() {
		aff, err := scanAffiliation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan affiliation: %w", err)
		}
		affs = append(affs, aff)
	}
	return affs, rows.Err()
}

// Update changes status or commission of an affiliation on the producer's
// product. Revoking stops future attribution, including for clicks already
// recorded.
func (s *PostgresService) Update(ctx context.Context, producerID, id int64, req *UpdateAffiliationRequest) (*Affiliation, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Status != nil {
		switch *req.Status {
		case StatusPending, StatusApproved, StatusRevoked:
		default:
			return nil, ErrInvalidStatus
		}
		set("status", *req.Status)
	}
	if req.CommissionBps != nil {
		if !req.CommissionBps.Valid() {
			return nil, ErrInvalidCommission
		}
		set("commission_bps", *req.CommissionBps)
	}
	if len(sets) == 0 {
		aff, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if aff.ProducerID != producerID {
			return nil, ErrNotFound
		}
		return aff, nil
	}

	args = append(args, id, producerID)
	query := fmt.Sprintf(`UPDATE affiliations SET %s, updated_at = NOW() WHERE id = $%d AND producer_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), affiliationColumns)
	return s.get(ctx, query, args...)
}

func generateCode() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate affiliation code: %w", err)
	}
	return strings.ToLower(codeEncoding.EncodeToString(b)), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAffiliation(row rowScanner) (*Affiliation, error) {
	a := &Affiliation{}
	err := row.Scan(&a.ID, &a.ProductID, &a.ProducerID, &a.AffiliateID, &a.Code,
		&a.CommissionBps, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}
