package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/sellhub/pkg/affiliates"
	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/coupons"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/pricing"
	"github.com/platinummonkey/sellhub/pkg/processor"
	"github.com/platinummonkey/sellhub/pkg/producers"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// Attributor resolves the affiliate credited for a sale
type Attributor interface {
	Attribute(ctx context.Context, sessionID string, product *catalog.Product, asOf time.Time) (*affiliates.Attribution, error)
}

// FeeRules resolves a producer's fee plan
type FeeRules interface {
	Rule(plan string) (split.FeeRule, error)
}

// Publisher notifies producers of order events
type Publisher interface {
	Publish(ctx context.Context, accountID int64, eventType string, data interface{})
}

// Deps are the collaborators of a Service
type Deps struct {
	Store      Store
	Catalog    catalog.Service
	Accounts   producers.Service
	Coupons    coupons.Service
	Attributor Attributor
	Gateway    processor.Gateway
	Fees       FeeRules
	Publisher  Publisher
	Metrics    *observability.Metrics
	OTel       *observability.OTelMetrics
	Logger     *observability.Logger

	// BatchSize bounds how many orders one reconciler pass touches
	BatchSize int
}

// Service runs checkouts and applies payment events to orders
type Service struct {
	store      Store
	catalog    catalog.Service
	accounts   producers.Service
	coupons    coupons.Service
	attributor Attributor
	gateway    processor.Gateway
	fees       FeeRules
	publisher  Publisher
	metrics    *observability.Metrics
	otel       *observability.OTelMetrics
	logger     *observability.Logger
	batchSize  int
	now        func() time.Time
}

// NewService creates an order service
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Service{
		store:      deps.Store,
		catalog:    deps.Catalog,
		accounts:   deps.Accounts,
		coupons:    deps.Coupons,
		attributor: deps.Attributor,
		gateway:    deps.Gateway,
		fees:       deps.Fees,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		otel:       deps.OTel,
		logger:     logger.WithField("component", "orders"),
		batchSize:  batch,
		now:        time.Now,
	}
}

// Offer returns a sellable offer for the checkout page
func (s *Service) Offer(ctx context.Context, slug string) (*catalog.Offer, error) {
	offer, err := s.catalog.GetOfferBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if offer.Product == nil {
		product, err := s.catalog.GetProductByID(ctx, offer.ProductID)
		if err != nil {
			return nil, err
		}
		withProduct := *offer
		withProduct.Product = product
		offer = &withProduct
	}
	if !offer.Sellable() {
		return nil, ErrOfferUnavailable
	}

	seller, err := s.accounts.GetAccount(ctx, offer.ProducerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller: %w", err)
	}
	if err := seller.CanSell(); err != nil {
		return nil, err
	}
	return offer, nil
}

// Quote prices a checkout without placing an order. The affiliate is what
// attribution would resolve right now and is for display only.
func (s *Service) Quote(ctx context.Context, slug string, req *QuoteRequest, sessionID string) (*Preview, error) {
	offer, err := s.Offer(ctx, slug)
	if err != nil {
		return nil, err
	}
	preview := &Preview{Offer: offer}

	var terms *pricing.CouponTerms
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err := s.coupons.GetByCode(ctx, offer.ProducerID, code)
		if err != nil {
			return nil, err
		}
		if err := coupons.Validate(coupon, offer.ProductID, s.now()); err != nil {
			return nil, err
		}
		terms = coupon.Terms()
		id := coupon.ID
		preview.coupon = &id
	}

	preview.Quote, err = pricing.Compute(pricing.Input{
		Currency:        offer.Currency,
		Main:            offer.PricingItem(),
		Bumps:           offer.BumpOptions(),
		SelectedBumpIDs: req.BumpIDs,
		Coupon:          terms,
	})
	if err != nil {
		return nil, err
	}

	if s.attributor != nil && sessionID != "" {
		attr, err := s.attributor.Attribute(ctx, sessionID, offer.Product, s.now())
		if err != nil {
			s.logger.WithError(err).WithField("offer", offer.Slug).Warn("Attribution preview failed")
		} else {
			preview.Affiliate = attr
		}
	}
	return preview, nil
}

// Checkout places an order. Free orders are paid immediately; everything
// else gets a charge at the processor and settles when its event arrives.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (result *CheckoutResult, err error) {
	start := s.now()
	defer func() {
		s.otel.RecordCheckout(ctx, s.now().Sub(start), err)
	}()

	preview, err := s.Quote(ctx, req.Slug, &req.QuoteRequest, req.SessionID)
	if err != nil {
		return nil, err
	}

	offer := preview.Offer
	o := &Order{
		ID:         newOrderID(),
		ProducerID: offer.ProducerID,
		OfferID:    offer.ID,
		ProductID:  offer.ProductID,
		Buyer: Buyer{
			Name:  strings.TrimSpace(req.Buyer.Name),
			Email: strings.ToLower(strings.TrimSpace(req.Buyer.Email)),
		},
		Quote:      preview.Quote,
		TotalCents: preview.Quote.Total,
		Currency:   preview.Quote.Currency,
		CouponID:   preview.coupon,
		SessionID:  req.SessionID,
		Status:     StatusPending,
	}
	if preview.Affiliate != nil {
		id := preview.Affiliate.AffiliateID
		o.PreviewAffiliateID = &id
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		if o.CouponID != nil {
			if err := tx.ReserveCoupon(ctx, *o.CouponID, o.ID); err != nil {
				return err
			}
		}
		if preview.Quote.Free() {
			return s.markPaid(ctx, tx, o, "", s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countOrder(StatusPending)

	logger := s.logger.WithFields(map[string]interface{}{
		"order_id": o.ID,
		"offer":    offer.Slug,
		"total":    o.TotalCents.String(),
	})

	if o.Status == StatusPaid {
		logger.Info("Free order settled")
		s.afterTransition(ctx, StatusPending, o, 0)
		return &CheckoutResult{Order: o}, nil
	}

	callStart := time.Now()
	charge, err := s.gateway.CreateCharge(ctx, processor.ChargeRequest{
		Reference:   o.ID,
		AmountCents: o.TotalCents,
		Currency:    o.Currency,
		Description: offer.Title,
		Customer:    processor.Customer{Name: o.Buyer.Name, Email: o.Buyer.Email},
	})
	s.otel.RecordProcessorCall(ctx, "create_charge", time.Since(callStart), err)
	if err != nil {
		logger.WithError(err).Warn("Charge creation failed")
		s.failCheckout(ctx, o.ID)
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}

	if err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.SetChargeID(ctx, o.ID, charge.ID)
	}); err != nil {
		return nil, err
	}

	// the charge may already have settled through its event
	current, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	logger.WithField("charge_id", charge.ID).Info("Order placed")
	return &CheckoutResult{Order: current, PaymentURL: charge.PaymentURL}, nil
}

func (s *Service) failCheckout(ctx context.Context, orderID string) {
	var failed *Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, StatusFailed) {
			return nil
		}
		if err := s.markFailed(ctx, tx, o); err != nil {
			return err
		}
		failed = o
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to mark order failed")
		return
	}
	if failed != nil {
		s.afterTransition(ctx, StatusPending, failed, 0)
	}
}

// Status returns the public status of an order
func (s *Service) Status(ctx context.Context, id string) (*OrderStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &OrderStatus{
		ID:            o.ID,
		Status:        o.Status,
		TotalCents:    o.TotalCents,
		RefundedCents: o.RefundedCents,
		Currency:      o.Currency,
		UpdatedAt:     o.UpdatedAt,
	}, nil
}

// Get returns one of a producer's orders
func (s *Service) Get(ctx context.Context, producerID int64, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ProducerID != producerID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns a producer's orders
func (s *Service) List(ctx context.Context, producerID int64, filter ListFilter) ([]*Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.store.List(ctx, producerID, filter)
}

// ApplyPaymentEvent applies a processor event to its order. Duplicate
// events are no-ops and events that do not fit the order's state are
// recorded as stale. A succeeded event for the wrong amount is recorded as
// rejected and returns ErrAmountMismatch.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev processor.Event) (*EventResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	var (
		result       *EventResult
		rejected     error
		prevRefunded money.Cents
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		rejected = nil
		claimed, err := tx.ClaimEvent(ctx, ev)
		if err != nil {
			return err
		}
		if !claimed {
			result = &EventResult{Outcome: OutcomeDuplicate}
			return nil
		}

		o, err := s.lockForEvent(ctx, tx, ev)
		if errors.Is(err, ErrNotFound) {
			result = &EventResult{Outcome: OutcomeUnmatched}
			return tx.ResolveEvent(ctx, ev.ID, "", OutcomeUnmatched)
		}
		if err != nil {
			return err
		}

		from := o.Status
		prevRefunded = o.RefundedCents
		outcome, err := s.settle(ctx, tx, o, ev)
		if errors.Is(err, ErrAmountMismatch) {
			rejected = err
		} else if err != nil {
			return err
		}
		if err := tx.ResolveEvent(ctx, ev.ID, o.ID, outcome); err != nil {
			return err
		}
		result = &EventResult{Outcome: outcome, From: from, Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentEventsTotal.WithLabelValues(string(ev.Status), string(result.Outcome)).Inc()
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"event_id":  ev.ID,
		"charge_id": ev.ChargeID,
		"outcome":   result.Outcome,
	})
	switch result.Outcome {
	case OutcomeApplied:
		logger.WithFields(map[string]interface{}{
			"order_id": result.Order.ID,
			"from":     result.From,
			"to":       result.Order.Status,
		}).Info("Payment event applied")
		s.afterTransition(ctx, result.From, result.Order, result.Order.RefundedCents-prevRefunded)
	case OutcomeRejected:
		logger.WithError(rejected).WithField("order_id", result.Order.ID).Warn("Payment event rejected")
	case OutcomeUnmatched:
		logger.Warn("Payment event matches no order")
	default:
		logger.Debug("Payment event ignored")
	}
	return result, rejected
}

// lockForEvent finds the event's order by charge id, falling back to the
// reference for events that arrive before the charge id was stored
func (s *Service) lockForEvent(ctx context.Context, tx Tx, ev processor.Event) (*Order, error) {
	o, err := tx.LockByCharge(ctx, ev.ChargeID)
	if !errors.Is(err, ErrNotFound) || ev.Reference == "" {
		return o, err
	}
	if _, perr := uuid.Parse(ev.Reference); perr != nil {
		return nil, ErrNotFound
	}
	o, err = tx.Lock(ctx, ev.Reference)
	if err != nil {
		return nil, err
	}
	if o.ProcessorChargeID != "" && o.ProcessorChargeID != ev.ChargeID {
		return nil, ErrNotFound
	}
	if o.ProcessorChargeID == "" {
		if err := tx.SetChargeID(ctx, o.ID, ev.ChargeID); err != nil {
			return nil, err
		}
		o.ProcessorChargeID = ev.ChargeID
	}
	return o, nil
}

func (s *Service) settle(ctx context.Context, tx Tx, o *Order, ev processor.Event) (EventOutcome, error) {
	switch ev.Status {
	case processor.StatusSucceeded:
		if !CanTransition(o.Status, StatusPaid) {
			return OutcomeStale, nil
		}
		if ev.AmountCents != o.TotalCents {
			return OutcomeRejected, fmt.Errorf("%w: charged %d, order total %d", ErrAmountMismatch, ev.AmountCents, o.TotalCents)
		}
		paidAt := ev.OccurredAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		return OutcomeApplied, s.markPaid(ctx, tx, o, ev.ID, paidAt)

	case processor.StatusFailed:
		if !CanTransition(o.Status, StatusFailed) {
			return OutcomeStale, nil
		}
		return OutcomeApplied, s.markFailed(ctx, tx, o)

	case processor.StatusRefunded:
		return s.applyRefund(ctx, tx, o, ev)
	}
	return OutcomeStale, nil
}

// markPaid resolves final attribution as of the order's creation, writes
// the sale split and commits the coupon
func (s *Service) markPaid(ctx context.Context, tx Tx, o *Order, eventID string, paidAt time.Time) error {
	product, err := s.catalog.GetProductByID(ctx, o.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}

	var attr *affiliates.Attribution
	if s.attributor != nil && o.SessionID != "" {
		attr, err = s.attributor.Attribute(ctx, o.SessionID, product, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to resolve attribution: %w", err)
		}
	}

	shares, err := s.computeSplit(ctx, o, attr)
	if err != nil {
		return err
	}
	if err := tx.RecordSale(ctx, o, eventID, shares); err != nil {
		return err
	}
	if o.CouponID != nil {
		if err := tx.CommitCoupon(ctx, o.ID); err != nil {
			return err
		}
	}

	o.Status = StatusPaid
	o.PaidAt = &paidAt
	o.AffiliateID, o.AffiliationID = nil, nil
	if attr != nil {
		affiliateID, affiliationID := attr.AffiliateID, attr.AffiliationID
		o.AffiliateID, o.AffiliationID = &affiliateID, &affiliationID
	}
	return tx.Update(ctx, o)
}

func (s *Service) computeSplit(ctx context.Context, o *Order, attr *affiliates.Attribution) ([]split.Share, error) {
	seller, err := s.accounts.GetAccount(ctx, o.ProducerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller: %w", err)
	}
	fee, err := s.fees.Rule(seller.FeePlan)
	if err != nil {
		return nil, err
	}
	coProducers, err := s.catalog.ListCoProducers(ctx, o.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load co-producers: %w", err)
	}

	policy := split.Policy{
		ProducerID:  o.ProducerID,
		Fee:         fee,
		CoProducers: coProducers,
	}
	if attr != nil {
		policy.Affiliate = &split.Affiliate{AccountID: attr.AffiliateID, CommissionBps: attr.CommissionBps}
	}
	return split.Compute(o.TotalCents, policy)
}

func (s *Service) markFailed(ctx context.Context, tx Tx, o *Order) error {
	if o.CouponID != nil {
		if err := tx.ReleaseCoupon(ctx, o.ID); err != nil {
			return err
		}
	}
	o.Status = StatusFailed
	return tx.Update(ctx, o)
}

// applyRefund moves the order to the event's cumulative refunded amount.
// Only the increment over what was already reversed hits the ledger.
func (s *Service) applyRefund(ctx context.Context, tx Tx, o *Order, ev processor.Event) (EventOutcome, error) {
	refunded := ev.RefundedCents
	if refunded > o.TotalCents {
		refunded = o.TotalCents
	}
	delta := refunded - o.RefundedCents
	to := StatusPartiallyRefunded
	if refunded == o.TotalCents {
		to = StatusRefunded
	}
	if delta <= 0 || !CanTransition(o.Status, to) {
		return OutcomeStale, nil
	}

	original, err := tx.SaleShares(ctx, o.ID)
	if err != nil {
		return "", err
	}
	reversed, err := tx.ReversedShares(ctx, o.ID)
	if err != nil {
		return "", err
	}
	reversal, err := split.Reverse(original, reversed, delta)
	if err != nil {
		return "", fmt.Errorf("failed to compute refund split: %w", err)
	}
	if err := tx.RecordRefund(ctx, o, ev.ID, delta, reversal); err != nil {
		return "", err
	}

	o.RefundedCents = refunded
	o.Status = to
	return OutcomeApplied, tx.Update(ctx, o)
}

// afterTransition publishes the notification and metrics of a committed
// status change
func (s *Service) afterTransition(ctx context.Context, from Status, o *Order, refundDelta money.Cents) {
	s.countOrder(o.Status)

	var amount money.Cents
	switch o.Status {
	case StatusPaid:
		amount = o.TotalCents
		if s.metrics != nil {
			s.metrics.GrossCentsTotal.WithLabelValues(o.Currency).Add(float64(o.TotalCents))
		}
		s.publish(ctx, o, EventOrderPaid)
	case StatusFailed:
		s.publish(ctx, o, EventOrderFailed)
	case StatusRefunded, StatusPartiallyRefunded:
		amount = refundDelta
		if s.metrics != nil {
			s.metrics.RefundedCentsTotal.WithLabelValues(o.Currency).Add(float64(refundDelta))
		}
		s.publish(ctx, o, EventOrderRefunded)
	}
	s.otel.RecordSettlement(ctx, string(from), string(o.Status), o.Currency, int64(amount))
}

func (s *Service) publish(ctx context.Context, o *Order, eventType string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, o.ProducerID, eventType, o)
}

func (s *Service) countOrder(status Status) {
	if s.metrics != nil {
		s.metrics.OrdersTotal.WithLabelValues(string(status)).Inc()
	}
}

// ExpireStale expires pending orders created more than olderThan ago and
// releases their coupons. A payment that still arrives later settles the
// order anyway.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.store.ListPending(ctx, cutoff, false, s.batchSize)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var o *Order
		err := s.store.InTx(ctx, func(tx Tx) error {
			locked, err := tx.Lock(ctx, id)
			if err != nil {
				return err
			}
			if locked.Status != StatusPending || !locked.CreatedAt.Before(cutoff) {
				return nil
			}
			if locked.CouponID != nil {
				if err := tx.ReleaseCoupon(ctx, locked.ID); err != nil {
					return err
				}
			}
			locked.Status = StatusExpired
			if err := tx.Update(ctx, locked); err != nil {
				return err
			}
			o = locked
			return nil
		})
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Error("Failed to expire order")
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if o != nil {
			expired++
			s.countOrder(StatusExpired)
			s.otel.RecordSettlement(ctx, string(StatusPending), string(StatusExpired), o.Currency, 0)
		}
	}
	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired stale orders")
	}
	return expired, errors.Join(errs...)
}

// ReconcilePending polls the processor for pending orders with a charge
// created more than olderThan ago and applies what it reports. It returns
// how many orders changed.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.store.ListPending(ctx, s.now().Add(-olderThan), true, s.batchSize)
	if err != nil {
		return 0, err
	}

	var (
		applied int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		changed, err := s.reconcile(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("Failed to reconcile order")
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if changed {
			applied++
		}
	}
	if applied > 0 {
		s.logger.WithField("count", applied).Info("Reconciled pending orders")
	}
	return applied, errors.Join(errs...)
}

func (s *Service) reconcile(ctx context.Context, id string) (bool, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if o.Status != StatusPending || o.ProcessorChargeID == "" {
		return false, nil
	}
	// marked before the call so a charge the processor cannot answer for
	// moves to the back of the queue too
	if err := s.store.MarkPolled(ctx, o.ID, s.now()); err != nil {
		return false, err
	}
	callStart := time.Now()
	charge, err := s.gateway.GetCharge(ctx, o.ProcessorChargeID)
	s.otel.RecordProcessorCall(ctx, "get_charge", time.Since(callStart), err)
	if err != nil {
		return false, err
	}
	if charge.Status == processor.StatusPending {
		return false, nil
	}

	ev := processor.EventFromCharge(charge)
	if ev.Reference == "" {
		ev.Reference = o.ID
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	result, err := s.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		return false, err
	}
	return result.Outcome == OutcomeApplied, nil
}

// RequestRefund asks the processor to refund amount of an order. The order
// and ledger change only when the processor's refund event arrives.
func (s *Service) RequestRefund(ctx context.Context, producerID int64, orderID string, amount money.Cents) (*processor.Charge, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	o, err := s.Get(ctx, producerID, orderID)
	if err != nil {
		return nil, err
	}
	if o.ProcessorChargeID == "" || o.Refundable() == 0 {
		return nil, ErrNotRefundable
	}
	if amount > o.Refundable() {
		return nil, fmt.Errorf("%w: %s left", ErrRefundExceeds, o.Refundable())
	}

	callStart := time.Now()
	charge, err := s.gateway.Refund(ctx, o.ProcessorChargeID, amount)
	s.otel.RecordProcessorCall(ctx, "refund", time.Since(callStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to request refund: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"order_id":  o.ID,
		"charge_id": o.ProcessorChargeID,
		"amount":    amount.String(),
	}).Info("Refund requested")
	return charge, nil
}

func newOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
