package coupons

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

const orderID = "0190a5c4-1f5e-7d2a-9a51-3e0c2b1f8d00"

func newMockAccounting(t *testing.T) (*Accounting, sqlmock.Sqlmock, *sql.DB, *observability.Metrics, *bytes.Buffer) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewAccounting(observability.NewLogger(observability.InfoLevel, buf), metrics), mock, db, metrics, buf
}

func TestReserve(t *testing.T) {
	acct, mock, db, metrics, _ := newMockAccounting(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE coupons\s+SET reserved_count = reserved_count \+ 1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO coupon_redemptions`).
		WithArgs(orderID, int64(4), RedemptionReserved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, acct.Reserve(context.Background(), db, 4, orderID))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CouponReservationsTotal.WithLabelValues("reserved")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveExhausted(t *testing.T) {
	acct, mock, db, _, _ := newMockAccounting(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE coupons`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := acct.Reserve(context.Background(), db, 4, orderID)
	assert.ErrorIs(t, err, ErrCouponExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveTwiceForOrder(t *testing.T) {
	acct, mock, db, _, _ := newMockAccounting(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE coupons`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO coupon_redemptions`).WillReturnError(&pq.Error{Code: "23505"})

	err := acct.Reserve(context.Background(), db, 4, orderID)
	assert.ErrorIs(t, err, ErrAlreadyReserved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectLock(mock sqlmock.Sqlmock, status RedemptionStatus) {
	q := mock.ExpectQuery(`SELECT coupon_id, status FROM coupon_redemptions WHERE order_id = \$1 FOR UPDATE`).
		WithArgs(orderID)
	if status == "" {
		q.WillReturnError(sql.ErrNoRows)
		return
	}
	q.WillReturnRows(sqlmock.NewRows([]string{"coupon_id", "status"}).AddRow(4, string(status)))
}

func TestCommitReserved(t *testing.T) {
	acct, mock, db, metrics, _ := newMockAccounting(t)
	defer db.Close()

	expectLock(mock, RedemptionReserved)
	mock.ExpectExec(`SET reserved_count = reserved_count - 1, used_count = used_count \+ 1`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE coupon_redemptions SET status = \$1`).
		WithArgs(RedemptionCommitted, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transition, err := acct.Commit(context.Background(), db, orderID)
	require.NoError(t, err)
	assert.Equal(t, TransitionCommitted, transition)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CouponReservationsTotal.WithLabelValues("committed")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitReleasedOverCapacityWarns(t *testing.T) {
	acct, mock, db, _, buf := newMockAccounting(t)
	defer db.Close()

	expectLock(mock, RedemptionReleased)
	mock.ExpectQuery(`SET used_count = used_count \+ 1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"used_count", "reserved_count", "max_redemptions"}).AddRow(3, 0, 2))
	mock.ExpectExec(`UPDATE coupon_redemptions SET status = \$1`).
		WithArgs(RedemptionCommitted, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transition, err := acct.Commit(context.Background(), db, orderID)
	require.NoError(t, err)
	assert.Equal(t, TransitionCommitted, transition)
	assert.Contains(t, buf.String(), "over capacity")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitNoops(t *testing.T) {
	for _, status := range []RedemptionStatus{RedemptionCommitted, ""} {
		t.Run(string(status), func(t *testing.T) {
			acct, mock, db, _, _ := newMockAccounting(t)
			defer db.Close()

			expectLock(mock, status)
			transition, err := acct.Commit(context.Background(), db, orderID)
			require.NoError(t, err)
			assert.Equal(t, TransitionNone, transition)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRelease(t *testing.T) {
	acct, mock, db, _, _ := newMockAccounting(t)
	defer db.Close()

	expectLock(mock, RedemptionReserved)
	mock.ExpectExec(`SET reserved_count = reserved_count - 1, updated_at`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE coupon_redemptions SET status = \$1`).
		WithArgs(RedemptionReleased, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transition, err := acct.Release(context.Background(), db, orderID)
	require.NoError(t, err)
	assert.Equal(t, TransitionReleased, transition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseOnlyMovesReserved(t *testing.T) {
	for _, status := range []RedemptionStatus{RedemptionCommitted, RedemptionReleased, ""} {
		t.Run(string(status), func(t *testing.T) {
			acct, mock, db, _, _ := newMockAccounting(t)
			defer db.Close()

			expectLock(mock, status)
			transition, err := acct.Release(context.Background(), db, orderID)
			require.NoError(t, err)
			assert.Equal(t, TransitionNone, transition)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
