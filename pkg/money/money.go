// Package money provides integer minor-unit arithmetic for prices, fees and splits.
//
// All amounts are int64 cents. Percentages are basis points (10000 = 100%).
// Nothing in this package uses floating point.
package money

import (
	"errors"
	"fmt"
	"math/bits"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents is an amount in the currency's minor unit
type Cents int64

// BasisPoints is a rate where 10000 represents 100%
type BasisPoints int64

const (
	// FullRate is 100% expressed in basis points
	FullRate BasisPoints = 10000

	// MaxAmount bounds any single amount accepted from callers
	MaxAmount Cents = 1_000_000_000_000
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountTooLarge = errors.New("amount exceeds maximum")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNoWeights      = errors.New("cannot allocate a non-zero amount without weights")
)

// amountPattern is plain decimal notation with at most two fractional digits
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// String renders the amount with two decimal places
func (c Cents) String() string {
	return Format(c)
}

// Valid reports whether the amount is non-negative and within MaxAmount
func (c Cents) Valid() bool {
	return c >= 0 && c <= MaxAmount
}

// Valid reports whether the rate is within [0, 100%]
func (b BasisPoints) Valid() bool {
	return b >= 0 && b <= FullRate
}

// PercentOf returns amount*bps/10000 rounded half away from zero
func PercentOf(amount Cents, bps BasisPoints) Cents {
	neg := false
	a, r := int64(amount), int64(bps)
	if a < 0 {
		a, neg = -a, !neg
	}
	if r < 0 {
		r, neg = -r, !neg
	}
	hi, lo := bits.Mul64(uint64(a), uint64(r))
	q, rem := bits.Div64(hi, lo, uint64(FullRate))
	if rem*2 >= uint64(FullRate) {
		q++
	}
	if neg {
		return -Cents(q)
	}
	return Cents(q)
}

// FloorPercentOf returns amount*bps/10000 truncated toward zero
func FloorPercentOf(amount Cents, bps BasisPoints) Cents {
	if amount < 0 || bps < 0 {
		return -FloorPercentOf(abs(amount), BasisPoints(abs(Cents(bps))))
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(bps))
	q, _ := bits.Div64(hi, lo, uint64(FullRate))
	return Cents(q)
}

// Min returns the smaller amount
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Sum adds amounts
func Sum(amounts ...Cents) Cents {
	var total Cents
	for _, a := range amounts {
		total += a
	}
	return total
}

// Allocate splits total across weights proportionally using the largest
// remainder method. The result always sums to total. Leftover cents go to the
// largest fractional remainders, ties to the lower index. When every weight is
// zero the whole amount goes to index 0.
func Allocate(total Cents, weights []Cents) ([]Cents, error) {
	if total < 0 {
		return nil, ErrNegativeAmount
	}
	if len(weights) == 0 {
		if total == 0 {
			return nil, nil
		}
		return nil, ErrNoWeights
	}

	var sum uint64
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("weight %d: %w", i, ErrNegativeAmount)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, uint64(w), 0)
		if carry != 0 {
			return nil, ErrAmountTooLarge
		}
	}

	out := make([]Cents, len(weights))
	if sum == 0 {
		out[0] = total
		return out, nil
	}

	type remainder struct {
		index int
		value uint64
	}
	remainders := make([]remainder, len(weights))
	var allocated Cents
	for i, w := range weights {
		// total*w/sum never exceeds total because w <= sum
		hi, lo := bits.Mul64(uint64(total), uint64(w))
		q, r := bits.Div64(hi, lo, sum)
		out[i] = Cents(q)
		allocated += Cents(q)
		remainders[i] = remainder{index: i, value: r}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value > remainders[b].value
	})
	for i := 0; allocated < total; i++ {
		out[remainders[i%len(remainders)].index]++
		allocated++
	}

	return out, nil
}

// ParseAmount parses a decimal string such as "97.90" into cents. Only plain
// notation with at most two fractional digits is accepted.
func ParseAmount(s string) (Cents, error) {
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeAmount
	}
	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q must be a plain decimal with at most two decimal places", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	minor := d.Shift(2)
	if minor.GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, ErrAmountTooLarge
	}
	return Cents(minor.IntPart()), nil
}

// Format renders cents as a fixed two-decimal string
func Format(c Cents) string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

func abs(c Cents) Cents {
	if c < 0 {
		return -c
	}
	return c
}
