package affiliates

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/money"
)

// Status is the lifecycle state of an affiliation
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRevoked  Status = "revoked"
)

var (
	ErrNotFound             = errors.New("affiliation not found")
	ErrSelfAffiliation      = errors.New("producers cannot affiliate to their own products")
	ErrAlreadyAffiliated    = errors.New("account is already affiliated to this product")
	ErrAffiliationDisabled  = errors.New("product does not accept affiliates")
	ErrAffiliationNotActive = errors.New("affiliation is not approved")
	ErrInvalidStatus        = errors.New("invalid affiliation status")
	ErrInvalidCommission    = errors.New("commission must be between 0 and 10000 basis points")
)

// Affiliation allows an affiliate account to promote a product
type Affiliation struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	ProducerID  int64  `json:"producer_id"`
	AffiliateID int64  `json:"affiliate_id"`
	Code        string `json:"code"`
	// CommissionBps overrides the product default when non-zero
	CommissionBps money.BasisPoints `json:"commission_bps"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Eligible reports whether the affiliation may receive clicks and commissions
// for the product
func (a *Affiliation) Eligible(product *catalog.Product) bool {
	return a.Status == StatusApproved && product != nil &&
		product.AffiliationEnabled && product.ID == a.ProductID
}

// Commission is the rate paid on a sale of product
func (a *Affiliation) Commission(product *catalog.Product) money.BasisPoints {
	if a.CommissionBps > 0 {
		return a.CommissionBps
	}
	if product == nil {
		return 0
	}
	return product.AffiliateCommissionBps
}

// JoinRequest is an affiliate asking to promote a product
type JoinRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

// UpdateAffiliationRequest is a producer's decision on an affiliation
type UpdateAffiliationRequest struct {
	Status        *Status            `json:"status,omitempty" validate:"omitempty,oneof=pending approved revoked"`
	CommissionBps *money.BasisPoints `json:"commission_bps,omitempty" validate:"omitempty,gte=0,lte=10000"`
}

// Service manages affiliations
type Service interface {
	Join(ctx context.Context, affiliateID int64, product *catalog.Product) (*Affiliation, error)
	Get(ctx context.Context, id int64) (*Affiliation, error)
	GetByCode(ctx context.Context, code string) (*Affiliation, error)
	ListForProducer(ctx context.Context, producerID int64) ([]*Affiliation, error)
	ListForAffiliate(ctx context.Context, affiliateID int64) ([]*Affiliation, error)
	Update(ctx context.Context, producerID, id int64, req *UpdateAffiliationRequest) (*Affiliation, error)
}
