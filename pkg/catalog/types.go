package catalog

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/split"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrOfferNotFound      = errors.New("offer not found")
	ErrBumpNotFound       = errors.New("bump not found")
	ErrSlugTaken          = errors.New("offer slug already taken")
	ErrInvalidSlug        = errors.New("offer slug must be lowercase letters, digits and dashes")
	ErrInvalidCurrency    = errors.New("currency must be a three letter ISO code")
	ErrBumpSameProduct    = errors.New("bump cannot sell the offer's own product")
	ErrBumpForeignProduct = errors.New("bump product belongs to another producer")
	ErrDuplicateBump      = errors.New("product is already a bump on this offer")
	ErrInvalidCommission  = errors.New("commission must be between 0 and 10000 basis points")
	ErrInvalidWindow      = errors.New("attribution window must be positive")
	ErrInvalidPrice       = errors.New("price must be between 0 and the maximum amount")
)

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// DefaultAttributionWindow applies to products created without one
const DefaultAttributionWindow = 30 * 24 * time.Hour

// Product is something a producer sells
type Product struct {
	ID                     int64             `json:"id"`
	ProducerID             int64             `json:"producer_id"`
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	Active                 bool              `json:"active"`
	AffiliationEnabled     bool              `json:"affiliation_enabled"`
	AffiliateCommissionBps money.BasisPoints `json:"affiliate_commission_bps"`
	AttributionWindowSecs  int64             `json:"attribution_window_seconds"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// AttributionWindow is how far back a click may be and still earn commission
func (p *Product) AttributionWindow() time.Duration {
	if p.AttributionWindowSecs <= 0 {
		return DefaultAttributionWindow
	}
	return time.Duration(p.AttributionWindowSecs) * time.Second
}

// Offer is a checkout link for a product at a price
type Offer struct {
	ID         int64       `json:"id"`
	ProductID  int64       `json:"product_id"`
	ProducerID int64       `json:"producer_id"`
	Slug       string      `json:"slug"`
	Title      string      `json:"title"`
	PriceCents money.Cents `json:"price_cents"`
	Currency   string      `json:"currency"`
	Active     bool        `json:"active"`
	Bumps      []Bump      `json:"bumps"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// Product is populated by slug lookups used at checkout
	Product *Product `json:"product,omitempty"`
}

// Sellable reports whether the offer and its product accept checkouts
func (o *Offer) Sellable() bool {
	return o.Active && (o.Product == nil || o.Product.Active)
}

// PricingItem converts the offer to the main line input
func (o *Offer) PricingItem() pricing.Item {
	return pricing.Item{ProductID: o.ProductID, Title: o.Title, PriceCents: o.PriceCents}
}

// BumpOptions converts the bumps in display order
func (o *Offer) BumpOptions() []pricing.BumpOption {
	options := make([]pricing.BumpOption, 0, len(o.Bumps))
	for _, b := range o.Bumps {
		options = append(options, pricing.BumpOption{
			ID:         b.ID,
			ProductID:  b.ProductID,
			Title:      b.Title,
			PriceCents: b.PriceCents,
			Active:     b.Active,
		})
	}
	return options
}

// Bump is an add-on product offered at checkout
type Bump struct {
	ID         int64       `json:"id"`
	OfferID    int64       `json:"offer_id"`
	ProductID  int64       `json:"product_id"`
	Title      string      `json:"title"`
	PriceCents money.Cents `json:"price_cents"`
	Position   int         `json:"position"`
	Active     bool        `json:"active"`
}

// CreateProductRequest represents request to create a product
type CreateProductRequest struct {
	Name                     string            `json:"name" validate:"required,max=255"`
	Description              string            `json:"description,omitempty"`
	AffiliationEnabled       bool              `json:"affiliation_enabled"`
	AffiliateCommissionBps   money.BasisPoints `json:"affiliate_commission_bps" validate:"gte=0,lte=10000"`
	AttributionWindowSeconds int64             `json:"attribution_window_seconds,omitempty" validate:"gte=0"`
}

// UpdateProductRequest represents request to update a product
type UpdateProductRequest struct {
	Name                     *string            `json:"name,omitempty" validate:"omitempty,max=255"`
	Description              *string            `json:"description,omitempty"`
	Active                   *bool              `json:"active,omitempty"`
	AffiliationEnabled       *bool              `json:"affiliation_enabled,omitempty"`
	AffiliateCommissionBps   *money.BasisPoints `json:"affiliate_commission_bps,omitempty"`
	AttributionWindowSeconds *int64             `json:"attribution_window_seconds,omitempty"`
}

// CreateOfferRequest represents request to create an offer
type CreateOfferRequest struct {
	ProductID  int64       `json:"product_id" validate:"required"`
	Slug       string      `json:"slug" validate:"required,max=100"`
	Title      string      `json:"title" validate:"required,max=255"`
	PriceCents money.Cents `json:"price_cents" validate:"gte=0"`
	Currency   string      `json:"currency" validate:"required,len=3"`
}

// UpdateOfferRequest represents request to update an offer
type UpdateOfferRequest struct {
	Title      *string      `json:"title,omitempty" validate:"omitempty,max=255"`
	PriceCents *money.Cents `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Active     *bool        `json:"active,omitempty"`
}

// CreateBumpRequest represents request to attach a bump to an offer
type CreateBumpRequest struct {
	ProductID  int64       `json:"product_id" validate:"required"`
	Title      string      `json:"title" validate:"required,max=255"`
	PriceCents money.Cents `json:"price_cents" validate:"gte=0"`
	Position   int         `json:"position"`
}

// UpdateBumpRequest represents request to update a bump
type UpdateBumpRequest struct {
	Title      *string      `json:"title,omitempty" validate:"omitempty,max=255"`
	PriceCents *money.Cents `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Position   *int         `json:"position,omitempty"`
	Active     *bool        `json:"active,omitempty"`
}

// Service is the catalog store. Producer-side calls are scoped by producer id.
type Service interface {
	CreateProduct(ctx context.Context, producerID int64, req *CreateProductRequest) (*Product, error)
	GetProduct(ctx context.Context, producerID, productID int64) (*Product, error)
	GetProductByID(ctx context.Context, productID int64) (*Product, error)
	ListProducts(ctx context.Context, producerID int64) ([]*Product, error)
	UpdateProduct(ctx context.Context, producerID, productID int64, req *UpdateProductRequest) (*Product, error)

	CreateOffer(ctx context.Context, producerID int64, req *CreateOfferRequest) (*Offer, error)
	GetOffer(ctx context.Context, producerID, offerID int64) (*Offer, error)
	GetOfferBySlug(ctx context.Context, slug string) (*Offer, error)
	ListOffers(ctx context.Context, producerID int64) ([]*Offer, error)
	UpdateOffer(ctx context.Context, producerID, offerID int64, req *UpdateOfferRequest) (*Offer, error)

	AddBump(ctx context.Context, producerID, offerID int64, req *CreateBumpRequest) (*Bump, error)
	UpdateBump(ctx context.Context, producerID, offerID, bumpID int64, req *UpdateBumpRequest) (*Bump, error)
	DeleteBump(ctx context.Context, producerID, offerID, bumpID int64) error

	ListCoProducers(ctx context.Context, productID int64) ([]split.CoProducer, error)
	SetCoProducers(ctx context.Context, producerID, productID int64, coProducers []split.CoProducer) error
}

// ValidSlug reports whether s is an acceptable offer slug
func ValidSlug(s string) bool {
	return len(s) <= 100 && slugPattern.MatchString(s)
}
