package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/pricing"
)

// Kind is how a coupon discounts
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

// RedemptionStatus is the state of a coupon use by one order
type RedemptionStatus string

const (
	RedemptionReserved  RedemptionStatus = "reserved"
	RedemptionCommitted RedemptionStatus = "committed"
	RedemptionReleased  RedemptionStatus = "released"
)

var (
	ErrNotFound            = errors.New("coupon not found")
	ErrCodeTaken           = errors.New("coupon code already exists")
	ErrInvalidCoupon       = errors.New("invalid coupon")
	ErrCouponInactive      = errors.New("coupon is not active")
	ErrCouponNotStarted    = errors.New("coupon is not valid yet")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrCouponNotApplicable = errors.New("coupon does not apply to this product")
	ErrCouponExhausted     = errors.New("coupon has no redemptions left")
	ErrAlreadyReserved     = errors.New("coupon already reserved for this order")
)

// Coupon is a producer's discount code
type Coupon struct {
	ID               int64             `json:"id"`
	ProducerID       int64             `json:"producer_id"`
	Code             string            `json:"code"`
	Kind             Kind              `json:"kind"`
	PercentBps       money.BasisPoints `json:"percent_bps,omitempty"`
	AmountCents      money.Cents       `json:"amount_cents,omitempty"`
	ProductIDs       []int64           `json:"product_ids"`
	ApplyToBumps     bool              `json:"apply_to_bumps"`
	MinSubtotalCents money.Cents       `json:"min_subtotal_cents"`
	MaxRedemptions   int64             `json:"max_redemptions"`
	UsedCount        int64             `json:"used_count"`
	ReservedCount    int64             `json:"reserved_count"`
	ValidFrom        *time.Time        `json:"valid_from,omitempty"`
	ValidUntil       *time.Time        `json:"valid_until,omitempty"`
	Active           bool              `json:"active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NormalizeCode upper-cases and trims a coupon code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon can be used for productID at now. Capacity is
// checked against committed and reserved uses; the reservation itself is the
// authoritative check.
func Validate(c *Coupon, productID int64, now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrCouponNotStarted
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return ErrCouponExpired
	}
	if len(c.ProductIDs) > 0 && !containsID(c.ProductIDs, productID) {
		return ErrCouponNotApplicable
	}
	if c.MaxRedemptions > 0 && c.UsedCount+c.ReservedCount >= c.MaxRedemptions {
		return ErrCouponExhausted
	}
	return nil
}

// Terms converts the coupon to pricing input
func (c *Coupon) Terms() *pricing.CouponTerms {
	terms := &pricing.CouponTerms{
		Code:             c.Code,
		ApplyToBumps:     c.ApplyToBumps,
		MinSubtotalCents: c.MinSubtotalCents,
	}
	switch c.Kind {
	case KindPercent:
		terms.PercentBps = c.PercentBps
	case KindFixed:
		terms.AmountCents = c.AmountCents
	}
	return terms
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CreateCouponRequest represents request to create a coupon
type CreateCouponRequest struct {
	Code             string            `json:"code" validate:"required,max=64"`
	Kind             Kind              `json:"kind" validate:"required,oneof=percent fixed"`
	PercentBps       money.BasisPoints `json:"percent_bps" validate:"gte=0,lte=10000"`
	AmountCents      money.Cents       `json:"amount_cents" validate:"gte=0"`
	ProductIDs       []int64           `json:"product_ids"`
	ApplyToBumps     bool              `json:"apply_to_bumps"`
	MinSubtotalCents money.Cents       `json:"min_subtotal_cents" validate:"gte=0"`
	MaxRedemptions   int64             `json:"max_redemptions" validate:"gte=0"`
	ValidFrom        *time.Time        `json:"valid_from,omitempty"`
	ValidUntil       *time.Time        `json:"valid_until,omitempty"`
}

// Validate checks the discount definition is consistent
func (r *CreateCouponRequest) Validate() error {
	if NormalizeCode(r.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	switch r.Kind {
	case KindPercent:
		if r.PercentBps <= 0 || !r.PercentBps.Valid() || r.AmountCents != 0 {
			return fmt.Errorf("%w: percent coupons need 1..10000 basis points and no amount", ErrInvalidCoupon)
		}
	case KindFixed:
		if r.AmountCents <= 0 || !r.AmountCents.Valid() || r.PercentBps != 0 {
			return fmt.Errorf("%w: fixed coupons need a positive amount and no percent", ErrInvalidCoupon)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCoupon, r.Kind)
	}
	if r.MinSubtotalCents < 0 || r.MaxRedemptions < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidCoupon)
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidUntil.After(*r.ValidFrom) {
		return fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidCoupon)
	}
	return nil
}

// UpdateCouponRequest represents request to update a coupon
type UpdateCouponRequest struct {
	Active         *bool      `json:"active,omitempty"`
	MaxRedemptions *int64     `json:"max_redemptions,omitempty" validate:"omitempty,gte=0"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
}

// Service manages coupon definitions
type Service interface {
	Create(ctx context.Context, producerID int64, req *CreateCouponRequest) (*Coupon, error)
	Get(ctx context.Context, producerID, couponID int64) (*Coupon, error)
	GetByCode(ctx context.Context, producerID int64, code string) (*Coupon, error)
	List(ctx context.Context, producerID int64) ([]*Coupon, error)
	Update(ctx context.Context, producerID, couponID int64, req *UpdateCouponRequest) (*Coupon, error)
}
