package pricing

import (
	"testing"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput() Input {
	return Input{
		Currency: "brl",
		Main:     Item{ProductID: 1, Title: "Course", PriceCents: 9790},
		Bumps: []BumpOption{
			{ID: 10, ProductID: 2, Title: "Workbook", PriceCents: 1990, Active: true},
			{ID: 11, ProductID: 3, Title: "Templates", PriceCents: 2990, Active: true},
			{ID: 12, ProductID: 4, Title: "Retired", PriceCents: 500, Active: false},
		},
	}
}

func TestComputeMainOnly(t *testing.T) {
	q, err := Compute(testInput())
	require.NoError(t, err)

	assert.Equal(t, "BRL", q.Currency)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, LineMain, q.Lines[0].Kind)
	assert.Equal(t, money.Cents(9790), q.Subtotal)
	assert.Equal(t, money.Cents(0), q.Discount)
	assert.Equal(t, money.Cents(9790), q.Total)
	assert.False(t, q.Free())
	require.NoError(t, q.Validate())
}

func TestComputeBumpsFollowOfferOrder(t *testing.T) {
	in := testInput()
	in.SelectedBumpIDs = []int64{11, 10}

	q, err := Compute(in)
	require.NoError(t, err)

	require.Len(t, q.Lines, 3)
	assert.Equal(t, int64(10), q.Lines[1].BumpID)
	assert.Equal(t, int64(11), q.Lines[2].BumpID)
	assert.Equal(t, money.Cents(9790+1990+2990), q.Total)
	require.NoError(t, q.Validate())
}

func TestComputeBumpErrors(t *testing.T) {
	tests := []struct {
		name     string
		selected []int64
		wantErr  error
	}{
		{"duplicate", []int64{10, 10}, ErrDuplicateBump},
		{"unknown", []int64{99}, ErrUnknownBump},
		{"inactive", []int64{12}, ErrInactiveBump},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			in.SelectedBumpIDs = tt.selected
			_, err := Compute(in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestComputePercentCouponMainOnly(t *testing.T) {
	in := testInput()
	in.SelectedBumpIDs = []int64{10}
	in.Coupon = &CouponTerms{Code: "SAVE10", PercentBps: 1000}

	q, err := Compute(in)
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", q.CouponCode)
	assert.Equal(t, money.Cents(979), q.Lines[0].Discount)
	assert.Equal(t, money.Cents(0), q.Lines[1].Discount)
	assert.Equal(t, money.Cents(979), q.Discount)
	assert.Equal(t, money.Cents(9790+1990-979), q.Total)
	require.NoError(t, q.Validate())
}

func TestComputePercentCouponWithBumps(t *testing.T) {
	in := testInput()
	in.SelectedBumpIDs = []int64{10, 11}
	in.Coupon = &CouponTerms{Code: "ALL15", PercentBps: 1500, ApplyToBumps: true}

	q, err := Compute(in)
	require.NoError(t, err)

	// 15% of 14770 = 2215.5 rounds to 2216
	assert.Equal(t, money.Cents(2216), q.Discount)
	assert.Equal(t, money.Cents(14770-2216), q.Total)
	for _, l := range q.Lines {
		assert.True(t, l.Discount > 0)
		assert.True(t, l.Net >= 0)
	}
	require.NoError(t, q.Validate())
}

func TestComputeFixedCouponCappedAtBase(t *testing.T) {
	in := testInput()
	in.SelectedBumpIDs = []int64{10}
	in.Coupon = &CouponTerms{Code: "BIG", AmountCents: 50000}

	q, err := Compute(in)
	require.NoError(t, err)

	// only the main line is eligible
	assert.Equal(t, money.Cents(9790), q.Discount)
	assert.Equal(t, money.Cents(0), q.Lines[0].Net)
	assert.Equal(t, money.Cents(1990), q.Total)
	require.NoError(t, q.Validate())
}

func TestComputeFreeOrder(t *testing.T) {
	in := testInput()
	in.Coupon = &CouponTerms{Code: "FREE", PercentBps: money.FullRate}

	q, err := Compute(in)
	require.NoError(t, err)
	assert.True(t, q.Free())
	require.NoError(t, q.Validate())
}

func TestComputeCouponMinimum(t *testing.T) {
	in := testInput()
	in.Coupon = &CouponTerms{Code: "MIN", AmountCents: 500, MinSubtotalCents: 10000}

	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrCouponMinimumNotMet)

	// bumps count towards the minimum even when the coupon skips them
	in.SelectedBumpIDs = []int64{10}
	q, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(500), q.Discount)
}

func TestComputeInvalidInput(t *testing.T) {
	in := testInput()
	in.Currency = ""
	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrCurrencyRequired)

	in = testInput()
	in.Main.PriceCents = -1
	_, err = Compute(in)
	assert.ErrorIs(t, err, ErrNegativePrice)

	in = testInput()
	in.Coupon = &CouponTerms{Code: "BOTH", PercentBps: 100, AmountCents: 100}
	_, err = Compute(in)
	assert.ErrorIs(t, err, ErrInvalidCoupon)

	in = testInput()
	in.Coupon = &CouponTerms{Code: "NONE"}
	_, err = Compute(in)
	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestComputeDiscountAddsUpAcrossPrices(t *testing.T) {
	// discount distribution must always reconcile whatever the prices
	prices := []money.Cents{1, 3, 99, 101, 997, 1999, 4999, 12345}
	for _, main := range prices {
		for _, bump := range prices {
			in := Input{
				Currency:        "USD",
				Main:            Item{ProductID: 1, PriceCents: main},
				Bumps:           []BumpOption{{ID: 7, ProductID: 2, PriceCents: bump, Active: true}},
				SelectedBumpIDs: []int64{7},
				Coupon:          &CouponTerms{Code: "X", PercentBps: 3333, ApplyToBumps: true},
			}
			q, err := Compute(in)
			require.NoError(t, err)
			require.NoError(t, q.Validate(), "main=%d bump=%d", main, bump)
		}
	}
}
