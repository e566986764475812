package coupons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/storage"
)

// Transition is the effect an accounting call had
type Transition string

const (
	TransitionNone      Transition = "none"
	TransitionReserved  Transition = "reserved"
	TransitionCommitted Transition = "committed"
	TransitionReleased  Transition = "released"
)

// Accounting moves coupon usage through reserved, committed and released.
// Every method runs on the caller's transaction so coupon counters change
// atomically with the order they belong to. Each order holds at most one
// redemption row, which makes every transition idempotent.
type Accounting struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAccounting creates coupon accounting
func NewAccounting(logger *observability.Logger, metrics *observability.Metrics) *Accounting {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Accounting{logger: logger.WithField("component", "coupons"), metrics: metrics}
}

// Reserve takes one unit of capacity for the order. It fails with
// ErrCouponExhausted when Used+Reserved has reached MaxRedemptions.
func (a *Accounting) Reserve(ctx context.Context, q storage.Querier, couponID int64, orderID string) error {
	var id int64
	err := q.QueryRowContext(ctx, `
		UPDATE coupons
		SET reserved_count = reserved_count + 1, updated_at = NOW()
		WHERE id = $1 AND active
		  AND (max_redemptions = 0 OR used_count + reserved_count < max_redemptions)
		RETURNING id
	`, couponID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCouponExhausted
	}
	if err != nil {
		return fmt.Errorf("failed to reserve coupon: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO coupon_redemptions (order_id, coupon_id, status) VALUES ($1, $2, $3)`,
		orderID, couponID, RedemptionReserved)
	if storage.IsUniqueViolation(err) {
		return ErrAlreadyReserved
	}
	if err != nil {
		return fmt.Errorf("failed to record coupon redemption: %w", err)
	}

	a.record(TransitionReserved)
	return nil
}

// Commit counts the order's use of the coupon. A reservation released by
// expiry is still committed when the payment arrives late, even over
// capacity. Orders without a redemption and already committed redemptions
// are no-ops.
func (a *Accounting) Commit(ctx context.Context, q storage.Querier, orderID string) (Transition, error) {
	couponID, status, err := a.lockRedemption(ctx, q, orderID)
	if err != nil || status == "" {
		return TransitionNone, err
	}

	switch status {
	case RedemptionReserved:
		if _, err := q.ExecContext(ctx, `
			UPDATE coupons
			SET reserved_count = reserved_count - 1, used_count = used_count + 1, updated_at = NOW()
			WHERE id = $1
		`, couponID); err != nil {
			return TransitionNone, fmt.Errorf("failed to commit coupon: %w", err)
		}
	case RedemptionReleased:
		var used, reserved, max int64
		if err := q.QueryRowContext(ctx, `
			UPDATE coupons
			SET used_count = used_count + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING used_count, reserved_count, max_redemptions
		`, couponID).Scan(&used, &reserved, &max); err != nil {
			return TransitionNone, fmt.Errorf("failed to commit coupon: %w", err)
		}
		if max > 0 && used+reserved > max {
			a.logger.WithFields(map[string]interface{}{
				"coupon_id": couponID,
				"order_id":  orderID,
				"used":      used,
				"max":       max,
			}).Warn("Late payment committed coupon over capacity")
		}
	default:
		return TransitionNone, nil
	}

	if err := a.setStatus(ctx, q, orderID, RedemptionCommitted); err != nil {
		return TransitionNone, err
	}
	a.record(TransitionCommitted)
	return TransitionCommitted, nil
}

// Release returns a reservation's capacity. Only reserved redemptions move.
func (a *Accounting) Release(ctx context.Context, q storage.Querier, orderID string) (Transition, error) {
	couponID, status, err := a.lockRedemption(ctx, q, orderID)
	if err != nil || status != RedemptionReserved {
		return TransitionNone, err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE coupons
		SET reserved_count = reserved_count - 1, updated_at = NOW()
		WHERE id = $1
	`, couponID); err != nil {
		return TransitionNone, fmt.Errorf("failed to release coupon: %w", err)
	}
	if err := a.setStatus(ctx, q, orderID, RedemptionReleased); err != nil {
		return TransitionNone, err
	}
	a.record(TransitionReleased)
	return TransitionReleased, nil
}

func (a *Accounting) lockRedemption(ctx context.Context, q storage.Querier, orderID string) (int64, RedemptionStatus, error) {
	var couponID int64
	var status RedemptionStatus
	err := q.QueryRowContext(ctx,
		`SELECT coupon_id, status FROM coupon_redemptions WHERE order_id = $1 FOR UPDATE`, orderID,
	).Scan(&couponID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to load coupon redemption: %w", err)
	}
	return couponID, status, nil
}

func (a *Accounting) setStatus(ctx context.Context, q storage.Querier, orderID string, status RedemptionStatus) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE coupon_redemptions SET status = $1, updated_at = NOW() WHERE order_id = $2`,
		status, orderID,
	); err != nil {
		return fmt.Errorf("failed to update coupon redemption: %w", err)
	}
	return nil
}

func (a *Accounting) record(t Transition) {
	if a.metrics != nil {
		a.metrics.CouponReservationsTotal.WithLabelValues(string(t)).Inc()
	}
}
