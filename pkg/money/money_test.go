package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name   string
		amount Cents
		bps    BasisPoints
		want   Cents
	}{
		{"zero amount", 0, 500, 0},
		{"zero rate", 9790, 0, 0},
		{"exact", 10000, 500, 500},
		{"above half rounds up", 9790, 499, 489}, // 488.521
		{"half rounds up", 5, 1000, 1},           // 0.5
		{"below half rounds down", 4, 1249, 0},   // 0.4996
		{"full rate", 12345, FullRate, 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentOf(tt.amount, tt.bps))
		})
	}
}

func TestFloorPercentOf(t *testing.T) {
	assert.Equal(t, Cents(4500), FloorPercentOf(9000, 5000))
	assert.Equal(t, Cents(0), FloorPercentOf(5, 1000))
	assert.Equal(t, Cents(488), FloorPercentOf(9790, 499))
	assert.Equal(t, Cents(-488), FloorPercentOf(-9790, 499))
}

func TestPercentOfLargeAmountDoesNotOverflow(t *testing.T) {
	got := PercentOf(MaxAmount, FullRate)
	assert.Equal(t, MaxAmount, got)
}

func TestAllocate(t *testing.T) {
	t.Run("sums to total", func(t *testing.T) {
		parts, err := Allocate(100, []Cents{1, 1, 1})
		require.NoError(t, err)
		assert.Equal(t, []Cents{34, 33, 33}, parts)
	})

	t.Run("proportional", func(t *testing.T) {
		parts, err := Allocate(1000, []Cents{9000, 1000})
		require.NoError(t, err)
		assert.Equal(t, []Cents{900, 100}, parts)
	})

	t.Run("largest remainder wins", func(t *testing.T) {
		// 10 * 2/7 = 2.857, 10 * 5/7 = 7.142
		parts, err := Allocate(10, []Cents{2, 5})
		require.NoError(t, err)
		assert.Equal(t, []Cents{3, 7}, parts)
	})

	t.Run("ties go to lower index", func(t *testing.T) {
		parts, err := Allocate(1, []Cents{5, 5})
		require.NoError(t, err)
		assert.Equal(t, []Cents{1, 0}, parts)
	})

	t.Run("zero weights go to first", func(t *testing.T) {
		parts, err := Allocate(7, []Cents{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []Cents{7, 0}, parts)
	})

	t.Run("zero total", func(t *testing.T) {
		parts, err := Allocate(0, []Cents{3, 4})
		require.NoError(t, err)
		assert.Equal(t, []Cents{0, 0}, parts)
	})

	t.Run("no weights", func(t *testing.T) {
		_, err := Allocate(5, nil)
		assert.ErrorIs(t, err, ErrNoWeights)

		parts, err := Allocate(0, nil)
		require.NoError(t, err)
		assert.Empty(t, parts)
	})

	t.Run("negative input", func(t *testing.T) {
		_, err := Allocate(-1, []Cents{1})
		assert.ErrorIs(t, err, ErrNegativeAmount)

		_, err = Allocate(1, []Cents{1, -1})
		assert.ErrorIs(t, err, ErrNegativeAmount)
	})

	t.Run("large values", func(t *testing.T) {
		parts, err := Allocate(MaxAmount, []Cents{MaxAmount, MaxAmount, 1})
		require.NoError(t, err)
		assert.Equal(t, MaxAmount, Sum(parts...))
	})
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Cents
		wantErr error
	}{
		{"97.90", 9790, nil},
		{"97.9", 9790, nil},
		{"97", 9700, nil},
		{"0.01", 1, nil},
		{"0", 0, nil},
		{"1.234", 0, ErrInvalidAmount},
		{"97.900", 0, ErrInvalidAmount},
		{"9.79e1", 0, ErrInvalidAmount},
		{"1.", 0, ErrInvalidAmount},
		{".50", 0, ErrInvalidAmount},
		{"+1.00", 0, ErrInvalidAmount},
		{" 1.00", 0, ErrInvalidAmount},
		{"-1.00", 0, ErrNegativeAmount},
		{"-0.00", 0, ErrNegativeAmount},
		{"abc", 0, ErrInvalidAmount},
		{"", 0, ErrInvalidAmount},
		{"99999999999999", 0, ErrAmountTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "97.90", Format(9790))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "0.00", Format(0))
	assert.Equal(t, "-1.50", Format(-150))
	assert.Equal(t, "12.00", Cents(1200).String())
}

func TestBasisPointsValid(t *testing.T) {
	assert.True(t, BasisPoints(0).Valid())
	assert.True(t, FullRate.Valid())
	assert.False(t, BasisPoints(-1).Valid())
	assert.False(t, BasisPoints(10001).Valid())
}

func TestCentsValid(t *testing.T) {
	assert.True(t, Cents(0).Valid())
	assert.True(t, MaxAmount.Valid())
	assert.False(t, Cents(-1).Valid())
	assert.False(t, (MaxAmount + 1).Valid())
}
