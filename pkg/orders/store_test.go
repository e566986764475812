package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/ledger"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/split"
)

type memEntry struct {
	orderID string
	kind    ledger.Kind
	eventID string
	share   split.Share
}

type memState struct {
	orders      map[string]Order
	events      map[string]EventOutcome
	eventOrders map[string]string
	redemptions map[string]coupons.RedemptionStatus
	couponLeft  map[int64]int
	entries     []memEntry
}

func (s memState) clone() memState {
	c := memState{
		orders:      make(map[string]Order, len(s.orders)),
		events:      make(map[string]EventOutcome, len(s.events)),
		eventOrders: make(map[string]string, len(s.eventOrders)),
		redemptions: make(map[string]coupons.RedemptionStatus, len(s.redemptions)),
		couponLeft:  make(map[int64]int, len(s.couponLeft)),
		entries:     append([]memEntry(nil), s.entries...),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.eventOrders {
		c.eventOrders[k] = v
	}
	for k, v := range s.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range s.couponLeft {
		c.couponLeft[k] = v
	}
	return c
}

// memStore is an in-memory Store. Transactions are serialized and roll back
// by restoring a snapshot.
type memStore struct {
	mu     sync.Mutex
	state  memState
	polled map[string]time.Time
	now    func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		state: memState{
			orders:      map[string]Order{},
			events:      map[string]EventOutcome{},
			eventOrders: map[string]string{},
			redemptions: map[string]coupons.RedemptionStatus{},
			couponLeft:  map[int64]int{},
		},
		polled: map[string]time.Time{},
		now:    now,
	}
}

func (s *memStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *memStore) List(ctx context.Context, producerID int64, filter ListFilter) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.state.orders {
		if o.ProducerID == producerID && (filter.Status == "" || o.Status == filter.Status) {
			o := o
			out = append(out, &o)
		}
	}
	return out, nil
}

func (s *memStore) ListPending(ctx context.Context, cutoff time.Time, withCharge bool, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []Order
	for _, o := range s.state.orders {
		if o.Status != StatusPending || !o.CreatedAt.Before(cutoff) {
			continue
		}
		if withCharge && o.ProcessorChargeID == "" {
			continue
		}
		pending = append(pending, o)
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if withCharge {
			pa, pb := s.polled[a.ID], s.polled[b.ID]
			if !pa.Equal(pb) {
				return pa.Before(pb)
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	ids := make([]string, 0, len(pending))
	for _, o := range pending {
		ids = append(ids, o.ID)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) MarkPolled(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled[id] = at
	return nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *memStore) order(id string) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.orders[id]
}

func (s *memStore) redemption(orderID string) coupons.RedemptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.redemptions[orderID]
}

func (s *memStore) outcome(eventID string) EventOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.events[eventID]
}

// ledgerTotals sums ledger amounts per kind and party key for an order
func (s *memStore) ledgerTotals(orderID string) map[ledger.Kind]map[string]money.Cents {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[ledger.Kind]map[string]money.Cents{
		ledger.KindSale:   {},
		ledger.KindRefund: {},
	}
	for _, e := range s.state.entries {
		if e.orderID == orderID {
			out[e.kind][e.share.Key()] += e.share.Amount
		}
	}
	return out
}

type memTx struct {
	s *memStore
}

func (t *memTx) Insert(ctx context.Context, o *Order) error {
	if _, ok := t.s.state.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	o.CreatedAt = t.s.now()
	o.UpdatedAt = o.CreatedAt
	t.s.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) Lock(ctx context.Context, id string) (*Order, error) {
	o, ok := t.s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) LockByCharge(ctx context.Context, chargeID string) (*Order, error) {
	for _, o := range t.s.state.orders {
		if o.ProcessorChargeID == chargeID {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) Update(ctx context.Context, o *Order) error {
	if _, ok := t.s.state.orders[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = t.s.now()
	t.s.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) SetChargeID(ctx context.Context, orderID, chargeID string) error {
	o, ok := t.s.state.orders[orderID]
	if ok && o.ProcessorChargeID == "" {
		o.ProcessorChargeID = chargeID
		t.s.state.orders[orderID] = o
	}
	return nil
}

func (t *memTx) ClaimEvent(ctx context.Context, ev processor.Event) (bool, error) {
	if _, ok := t.s.state.events[ev.ID]; ok {
		return false, nil
	}
	t.s.state.events[ev.ID] = outcomeReceived
	return true, nil
}

func (t *memTx) ResolveEvent(ctx context.Context, eventID, orderID string, outcome EventOutcome) error {
	t.s.state.events[eventID] = outcome
	t.s.state.eventOrders[eventID] = orderID
	return nil
}

func (t *memTx) ReserveCoupon(ctx context.Context, couponID int64, orderID string) error {
	if left, limited := t.s.state.couponLeft[couponID]; limited {
		if left == 0 {
			return coupons.ErrCouponExhausted
		}
		t.s.state.couponLeft[couponID] = left - 1
	}
	t.s.state.redemptions[orderID] = coupons.RedemptionReserved
	return nil
}

func (t *memTx) CommitCoupon(ctx context.Context, orderID string) error {
	if _, ok := t.s.state.redemptions[orderID]; ok {
		t.s.state.redemptions[orderID] = coupons.RedemptionCommitted
	}
	return nil
}

func (t *memTx) ReleaseCoupon(ctx context.Context, orderID string) error {
	if t.s.state.redemptions[orderID] == coupons.RedemptionReserved {
		t.s.state.redemptions[orderID] = coupons.RedemptionReleased
	}
	return nil
}

func (t *memTx) RecordSale(ctx context.Context, o *Order, eventID string, shares []split.Share) error {
	if split.Sum(shares) != o.TotalCents {
		return ledger.ErrUnbalanced
	}
	for _, e := range t.s.state.entries {
		if e.orderID == o.ID && e.kind == ledger.KindSale {
			return ledger.ErrAlreadyRecorded
		}
	}
	for _, sh := range shares {
		if sh.Amount != 0 {
			t.s.state.entries = append(t.s.state.entries, memEntry{orderID: o.ID, kind: ledger.KindSale, eventID: eventID, share: sh})
		}
	}
	return nil
}

func (t *memTx) RecordRefund(ctx context.Context, o *Order, eventID string, delta money.Cents, reversal []split.Share) error {
	if split.Sum(reversal) != delta {
		return ledger.ErrUnbalanced
	}
	for _, sh := range reversal {
		sh.Amount = -sh.Amount
		t.s.state.entries = append(t.s.state.entries, memEntry{orderID: o.ID, kind: ledger.KindRefund, eventID: eventID, share: sh})
	}
	return nil
}

func (t *memTx) SaleShares(ctx context.Context, orderID string) ([]split.Share, error) {
	return t.shares(orderID, ledger.KindSale, 1), nil
}

func (t *memTx) ReversedShares(ctx context.Context, orderID string) ([]split.Share, error) {
	return t.shares(orderID, ledger.KindRefund, -1), nil
}

func (t *memTx) shares(orderID string, kind ledger.Kind, sign money.Cents) []split.Share {
	var out []split.Share
	index := map[string]int{}
	for _, e := range t.s.state.entries {
		if e.orderID != orderID || e.kind != kind {
			continue
		}
		key := e.share.Key()
		if i, ok := index[key]; ok {
			out[i].Amount += sign * e.share.Amount
			continue
		}
		index[key] = len(out)
		sh := e.share
		sh.Amount = sign * sh.Amount
		out = append(out, sh)
	}
	return out
}
