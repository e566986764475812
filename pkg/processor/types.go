// Package processor talks to the payment processor that captures buyer
// payments.
//
// Charges are created with the order id as idempotency key, so a retried
// checkout never charges twice. The processor reports status changes
// asynchronously through signed events; the reconciler also polls charges
// that stay pending.
package processor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
)

// Status is a charge status as reported by the processor
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

var (
	ErrChargeNotFound   = errors.New("charge not found")
	ErrDeclined         = errors.New("charge declined")
	ErrRefundExceeds    = errors.New("refund exceeds captured amount")
	ErrNotRefundable    = errors.New("charge is not refundable")
	ErrInvalidSignature = errors.New("invalid processor signature")
	ErrStaleSignature   = errors.New("processor signature timestamp outside tolerance")
	ErrInvalidEvent     = errors.New("invalid processor event")
	ErrUnavailable      = errors.New("processor unavailable")
)

// Customer is the buyer as sent to the processor
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChargeRequest asks the processor to collect a payment
type ChargeRequest struct {
	// Reference is the order id; it doubles as the idempotency key
	Reference   string      `json:"reference"`
	AmountCents money.Cents `json:"amount_cents"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	Customer    Customer    `json:"customer"`
}

// Charge is the processor's view of a payment
type Charge struct {
	ID            string      `json:"id"`
	Reference     string      `json:"reference"`
	Status        Status      `json:"status"`
	AmountCents   money.Cents `json:"amount_cents"`
	RefundedCents money.Cents `json:"refunded_cents"`
	Currency      string      `json:"currency"`
	// PaymentURL is where the buyer completes the payment, if the
	// processor hosts the payment page
	PaymentURL string    `json:"payment_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Event is a charge status change delivered by the processor.
// RefundedCents is cumulative. Reference echoes the charge request's
// reference when the processor knows it.
type Event struct {
	ID            string      `json:"id"`
	ChargeID      string      `json:"charge_id"`
	Reference     string      `json:"reference,omitempty"`
	Status        Status      `json:"status"`
	AmountCents   money.Cents `json:"amount_cents"`
	RefundedCents money.Cents `json:"refunded_cents"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// Validate checks the event is complete
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing id"))
	case e.ChargeID == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing charge_id"))
	case !e.Status.Valid():
		return errors.Join(ErrInvalidEvent, errors.New("unknown status "+string(e.Status)))
	case e.AmountCents < 0 || e.RefundedCents < 0:
		return errors.Join(ErrInvalidEvent, errors.New("negative amount"))
	}
	return nil
}

// EventFromCharge builds the synthetic event for a polled charge
func EventFromCharge(c *Charge) Event {
	return Event{
		ID:            PollEventID(c),
		ChargeID:      c.ID,
		Reference:     c.Reference,
		Status:        c.Status,
		AmountCents:   c.AmountCents,
		RefundedCents: c.RefundedCents,
		OccurredAt:    c.UpdatedAt,
	}
}

// PollEventID identifies an observed charge state, so polling the same state
// twice applies it once
func PollEventID(c *Charge) string {
	return "poll:" + c.ID + ":" + string(c.Status) + ":" + strconv.FormatInt(int64(c.RefundedCents), 10)
}

// Gateway is a payment processor client
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	Refund(ctx context.Context, chargeID string, amount money.Cents) (*Charge, error)
}
