package orders

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// Status is the lifecycle state of an order
type Status string

const (
	StatusPending           Status = "pending"
	StatusPaid              Status = "paid"
	StatusFailed            Status = "failed"
	StatusExpired           Status = "expired"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusExpired, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// CanTransition reports whether an order in from may move to to
func CanTransition(from, to Status) bool {
	switch to {
	case StatusPaid:
		return from == StatusPending || from == StatusFailed || from == StatusExpired
	case StatusFailed, StatusExpired:
		return from == StatusPending
	case StatusPartiallyRefunded, StatusRefunded:
		return from == StatusPaid || from == StatusPartiallyRefunded
	}
	return false
}

// EventOutcome is what applying a payment event did
type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeDuplicate EventOutcome = "duplicate"
	OutcomeStale     EventOutcome = "stale"
	OutcomeRejected  EventOutcome = "rejected"
	OutcomeUnmatched EventOutcome = "unmatched"
)

// Notification event types published after settlement
const (
	EventOrderPaid     = "order.paid"
	EventOrderFailed   = "order.failed"
	EventOrderRefunded = "order.refunded"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrOfferUnavailable = errors.New("offer is not available")
	ErrAmountMismatch   = errors.New("paid amount does not match order total")
	ErrNotRefundable    = errors.New("order is not refundable")
	ErrRefundExceeds    = errors.New("refund exceeds remaining amount")
	ErrInvalidAmount    = errors.New("refund amount must be positive")
	ErrInvalidStatus    = errors.New("invalid order status")
)

// Buyer identifies who is paying
type Buyer struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// Order is one checkout of an offer
type Order struct {
	ID                 string         `json:"id"`
	ProducerID         int64          `json:"producer_id"`
	OfferID            int64          `json:"offer_id"`
	ProductID          int64          `json:"product_id"`
	Buyer              Buyer          `json:"buyer"`
	Quote              *pricing.Quote `json:"quote"`
	TotalCents         money.Cents    `json:"total_cents"`
	Currency           string         `json:"currency"`
	CouponID           *int64         `json:"coupon_id,omitempty"`
	SessionID          string         `json:"-"`
	Status             Status         `json:"status"`
	ProcessorChargeID  string         `json:"processor_charge_id,omitempty"`
	RefundedCents      money.Cents    `json:"refunded_cents"`
	PreviewAffiliateID *int64         `json:"preview_affiliate_id,omitempty"`
	AffiliateID        *int64         `json:"affiliate_id,omitempty"`
	AffiliationID      *int64         `json:"affiliation_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	PaidAt             *time.Time     `json:"paid_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Refundable is what can still be refunded
func (o *Order) Refundable() money.Cents {
	if o.Status != StatusPaid && o.Status != StatusPartiallyRefunded {
		return 0
	}
	return o.TotalCents - o.RefundedCents
}

// OrderStatus is the public view polled by the checkout page
type OrderStatus struct {
	ID            string      `json:"id"`
	Status        Status      `json:"status"`
	TotalCents    money.Cents `json:"total_cents"`
	RefundedCents money.Cents `json:"refunded_cents"`
	Currency      string      `json:"currency"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// QuoteRequest is the buyer's selection on a checkout page
type QuoteRequest struct {
	BumpIDs    []int64 `json:"bump_ids,omitempty" validate:"max=20,dive,gt=0"`
	CouponCode string  `json:"coupon_code,omitempty" validate:"max=64"`
}

// CheckoutRequest places an order
type CheckoutRequest struct {
	QuoteRequest
	Buyer Buyer `json:"buyer" validate:"required"`

	// Slug and SessionID come from the URL and the session cookie
	Slug      string `json:"-"`
	SessionID string `json:"-"`
}

// Preview is a priced checkout with the affiliate that would be credited now
type Preview struct {
	Offer     *catalog.Offer          `json:"offer"`
	Quote     *pricing.Quote          `json:"quote"`
	Affiliate *affiliates.Attribution `json:"affiliate,omitempty"`

	coupon *int64
}

// CheckoutResult is a placed order and where the buyer pays for it
type CheckoutResult struct {
	Order      *Order `json:"order"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// EventResult reports the effect of a payment event
type EventResult struct {
	Outcome EventOutcome `json:"outcome"`
	From    Status       `json:"from,omitempty"`
	Order   *Order       `json:"order,omitempty"`
}

// ListFilter narrows producer order listings
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Store persists orders. Everything that must be atomic with a status
// change runs on a Tx.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, producerID int64, filter ListFilter) ([]*Order, error)
	// ListPending returns ids of pending orders created before cutoff,
	// oldest first. withCharge limits them to orders that reached the
	// processor and orders them by least recently polled instead, so
	// charges that stay pending do not starve the rest.
	ListPending(ctx context.Context, cutoff time.Time, withCharge bool, limit int) ([]string, error)
	// MarkPolled records that the order's charge was checked at the processor
	MarkPolled(ctx context.Context, id string, at time.Time) error
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional half of Store
type Tx interface {
	Insert(ctx context.Context, o *Order) error
	Lock(ctx context.Context, id string) (*Order, error)
	LockByCharge(ctx context.Context, chargeID string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	// SetChargeID stores the charge id unless one is already set
	SetChargeID(ctx context.Context, orderID, chargeID string) error

	// ClaimEvent records the event id and reports false if it was seen
	// before. Concurrent claims of one id serialize on the primary key.
	ClaimEvent(ctx context.Context, ev processor.Event) (bool, error)
	ResolveEvent(ctx context.Context, eventID, orderID string, outcome EventOutcome) error

	ReserveCoupon(ctx context.Context, couponID int64, orderID string) error
	CommitCoupon(ctx context.Context, orderID string) error
	ReleaseCoupon(ctx context.Context, orderID string) error

	RecordSale(ctx context.Context, o *Order, eventID string, shares []split.Share) error
	RecordRefund(ctx context.Context, o *Order, eventID string, delta money.Cents, reversal []split.Share) error
	SaleShares(ctx context.Context, orderID string) ([]split.Share, error)
	ReversedShares(ctx context.Context, orderID string) ([]split.Share, error)
}
