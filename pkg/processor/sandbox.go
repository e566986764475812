package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/sellhub/pkg/money"
)

// DeclineDomain makes the sandbox decline charges for buyers at this email
// domain
const DeclineDomain = "@decline.test"

// Sandbox is an in-process processor for development and tests. Charge ids
// are sequential and charges stay pending until Settle is called, unless
// AutoCapture is set.
type Sandbox struct {
	mu          sync.Mutex
	charges     map[string]*Charge
	byReference map[string]string
	seq         int
	now         func() time.Time

	// AutoCapture succeeds new charges immediately
	AutoCapture bool
	// OnEvent receives every status change, as the processor's webhook would
	OnEvent func(Event)
}

var _ Gateway = (*Sandbox)(nil)

// NewSandbox creates an empty sandbox
func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:     make(map[string]*Charge),
		byReference: make(map[string]string),
		now:         time.Now,
	}
}

// CreateCharge creates a pending charge, or returns the existing charge for
// the same reference
func (s *Sandbox) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.AmountCents <= 0 || !req.AmountCents.Valid() {
		return nil, fmt.Errorf("%w: invalid amount %d", ErrDeclined, req.AmountCents)
	}
	if strings.HasSuffix(strings.ToLower(req.Customer.Email), DeclineDomain) {
		return nil, ErrDeclined
	}

	s.mu.Lock()
	if id, ok := s.byReference[req.Reference]; ok && req.Reference != "" {
		c := *s.charges[id]
		s.mu.Unlock()
		return &c, nil
	}
	s.seq++
	c := &Charge{
		ID:          fmt.Sprintf("ch_sandbox_%06d", s.seq),
		Reference:   req.Reference,
		Status:      StatusPending,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		UpdatedAt:   s.now(),
	}
	s.charges[c.ID] = c
	s.byReference[req.Reference] = c.ID
	created := *c
	s.mu.Unlock()

	if s.AutoCapture {
		if _, err := s.Settle(c.ID, StatusSucceeded); err != nil {
			return nil, err
		}
	}
	return &created, nil
}

// GetCharge returns a copy of the charge
func (s *Sandbox) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	copied := *c
	return &copied, nil
}

// Refund refunds amount cents of a succeeded charge
func (s *Sandbox) Refund(ctx context.Context, chargeID string, amount money.Cents) (*Charge, error) {
	s.mu.Lock()
	c, ok := s.charges[chargeID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrChargeNotFound
	}
	if c.Status != StatusSucceeded && c.Status != StatusRefunded {
		s.mu.Unlock()
		return nil, ErrNotRefundable
	}
	if amount <= 0 || c.RefundedCents+amount > c.AmountCents {
		s.mu.Unlock()
		return nil, ErrRefundExceeds
	}
	c.RefundedCents += amount
	c.Status = StatusRefunded
	c.UpdatedAt = s.now()
	updated := *c
	s.mu.Unlock()

	s.emit(&updated)
	return &updated, nil
}

// Settle moves a pending charge to succeeded or failed
func (s *Sandbox) Settle(chargeID string, status Status) (*Charge, error) {
	if status != StatusSucceeded && status != StatusFailed {
		return nil, fmt.Errorf("cannot settle to %q", status)
	}
	s.mu.Lock()
	c, ok := s.charges[chargeID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrChargeNotFound
	}
	if c.Status != StatusPending {
		s.mu.Unlock()
		return nil, fmt.Errorf("charge %s is %s", chargeID, c.Status)
	}
	c.Status = status
	c.UpdatedAt = s.now()
	updated := *c
	s.mu.Unlock()

	s.emit(&updated)
	return &updated, nil
}

func (s *Sandbox) emit(c *Charge) {
	if s.OnEvent == nil {
		return
	}
	event := EventFromCharge(c)
	event.ID = "sandbox:" + strings.TrimPrefix(event.ID, "poll:")
	s.OnEvent(event)
}
