// Package pricing computes checkout quotes.
//
// A quote is built from an offer's main item, the buyer's selected order
// bumps and an optional coupon. The computation is pure: callers load the
// offer and coupon and pass their terms in, and the same input always yields
// the same quote.
//
// Every line keeps Amount - Discount = Net >= 0 and the line nets sum to the
// quote total.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sellhub/pkg/money"
)

// LineKind identifies what a quote line charges for
type LineKind string

const (
	LineMain LineKind = "main"
	LineBump LineKind = "bump"
)

var (
	ErrNegativePrice       = errors.New("price must not be negative")
	ErrDuplicateBump       = errors.New("bump selected more than once")
	ErrUnknownBump         = errors.New("bump is not offered with this checkout")
	ErrInactiveBump        = errors.New("bump is not active")
	ErrInvalidCoupon       = errors.New("coupon must define exactly one of percent or amount")
	ErrCouponMinimumNotMet = errors.New("order subtotal is below the coupon minimum")
	ErrCurrencyRequired    = errors.New("currency is required")
	ErrSubtotalOutOfBounds = errors.New("subtotal exceeds maximum amount")
)

// Item is the main product sold by an offer
type Item struct {
	ProductID  int64       `json:"product_id"`
	Title      string      `json:"title"`
	PriceCents money.Cents `json:"price_cents"`
}

// BumpOption is an order bump attached to an offer
type BumpOption struct {
	ID         int64       `json:"id"`
	ProductID  int64       `json:"product_id"`
	Title      string      `json:"title"`
	PriceCents money.Cents `json:"price_cents"`
	Active     bool        `json:"active"`
}

// CouponTerms are the parts of a coupon that affect price
type CouponTerms struct {
	Code             string            `json:"code"`
	PercentBps       money.BasisPoints `json:"percent_bps,omitempty"`
	AmountCents      money.Cents       `json:"amount_cents,omitempty"`
	ApplyToBumps     bool              `json:"apply_to_bumps"`
	MinSubtotalCents money.Cents       `json:"min_subtotal_cents,omitempty"`
}

// Input describes one checkout to price
type Input struct {
	Currency string
	Main     Item
	// Bumps are the offer's bumps in display order
	Bumps []BumpOption
	// SelectedBumpIDs are the bumps the buyer ticked, in any order
	SelectedBumpIDs []int64
	Coupon          *CouponTerms
}

// Line is one charged item of a quote
type Line struct {
	Kind      LineKind    `json:"kind"`
	ProductID int64       `json:"product_id"`
	BumpID    int64       `json:"bump_id,omitempty"`
	Title     string      `json:"title"`
	Amount    money.Cents `json:"amount_cents"`
	Discount  money.Cents `json:"discount_cents"`
	Net       money.Cents `json:"net_cents"`
}

// Quote is the priced result of a checkout
type Quote struct {
	Lines      []Line      `json:"lines"`
	Subtotal   money.Cents `json:"subtotal_cents"`
	Discount   money.Cents `json:"discount_cents"`
	Total      money.Cents `json:"total_cents"`
	Currency   string      `json:"currency"`
	CouponCode string      `json:"coupon_code,omitempty"`
}

// Free reports whether nothing needs to be charged
func (q *Quote) Free() bool {
	return q.Total == 0
}

// Validate checks the quote arithmetic
func (q *Quote) Validate() error {
	var subtotal, discount, net money.Cents
	for i, l := range q.Lines {
		if l.Amount < 0 || l.Discount < 0 || l.Net < 0 {
			return fmt.Errorf("line %d has a negative amount", i)
		}
		if l.Amount-l.Discount != l.Net {
			return fmt.Errorf("line %d: amount %d - discount %d != net %d", i, l.Amount, l.Discount, l.Net)
		}
		subtotal += l.Amount
		discount += l.Discount
		net += l.Net
	}
	if subtotal != q.Subtotal || discount != q.Discount || net != q.Total {
		return fmt.Errorf("quote totals do not match lines")
	}
	if q.Subtotal-q.Discount != q.Total {
		return fmt.Errorf("subtotal %d - discount %d != total %d", q.Subtotal, q.Discount, q.Total)
	}
	return nil
}

// Validate checks the coupon terms are well formed
func (c *CouponTerms) Validate() error {
	hasPercent := c.PercentBps != 0
	hasAmount := c.AmountCents != 0
	if hasPercent == hasAmount {
		return ErrInvalidCoupon
	}
	if hasPercent && (c.PercentBps < 0 || c.PercentBps > money.FullRate) {
		return fmt.Errorf("%w: percent out of range", ErrInvalidCoupon)
	}
	if c.AmountCents < 0 || c.MinSubtotalCents < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidCoupon)
	}
	return nil
}

// Compute prices a checkout
func Compute(in Input) (*Quote, error) {
	if strings.TrimSpace(in.Currency) == "" {
		return nil, ErrCurrencyRequired
	}
	if in.Main.PriceCents < 0 {
		return nil, ErrNegativePrice
	}

	lines := []Line{{
		Kind:      LineMain,
		ProductID: in.Main.ProductID,
		Title:     in.Main.Title,
		Amount:    in.Main.PriceCents,
	}}

	bumpLines, err := selectBumps(in.Bumps, in.SelectedBumpIDs)
	if err != nil {
		return nil, err
	}
	lines = append(lines, bumpLines...)

	var subtotal money.Cents
	for _, l := range lines {
		subtotal += l.Amount
	}
	if subtotal > money.MaxAmount {
		return nil, ErrSubtotalOutOfBounds
	}

	q := &Quote{
		Currency: strings.ToUpper(in.Currency),
		Subtotal: subtotal,
	}

	if in.Coupon != nil {
		if err := applyCoupon(lines, subtotal, in.Coupon); err != nil {
			return nil, err
		}
		q.CouponCode = in.Coupon.Code
	}

	for i := range lines {
		lines[i].Net = lines[i].Amount - lines[i].Discount
		q.Discount += lines[i].Discount
	}
	q.Lines = lines
	q.Total = q.Subtotal - q.Discount

	return q, nil
}

// selectBumps returns one line per selected bump in the offer's order
func selectBumps(options []BumpOption, selected []int64) ([]Line, error) {
	if len(selected) == 0 {
		return nil, nil
	}

	want := make(map[int64]bool, len(selected))
	for _, id := range selected {
		if want[id] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateBump, id)
		}
		want[id] = true
	}

	lines := make([]Line, 0, len(selected))
	for _, b := range options {
		if !want[b.ID] {
			continue
		}
		if !b.Active {
			return nil, fmt.Errorf("%w: %d", ErrInactiveBump, b.ID)
		}
		if b.PriceCents < 0 {
			return nil, ErrNegativePrice
		}
		lines = append(lines, Line{
			Kind:      LineBump,
			ProductID: b.ProductID,
			BumpID:    b.ID,
			Title:     b.Title,
			Amount:    b.PriceCents,
		})
		delete(want, b.ID)
	}

	for _, id := range selected {
		if want[id] {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBump, id)
		}
	}

	return lines, nil
}

// applyCoupon sets Discount on the eligible lines
func applyCoupon(lines []Line, subtotal money.Cents, c *CouponTerms) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MinSubtotalCents > 0 && subtotal < c.MinSubtotalCents {
		return fmt.Errorf("%w: need %s, have %s", ErrCouponMinimumNotMet, c.MinSubtotalCents, subtotal)
	}

	eligible := make([]int, 0, len(lines))
	weights := make([]money.Cents, 0, len(lines))
	var base money.Cents
	for i, l := range lines {
		if l.Kind == LineBump && !c.ApplyToBumps {
			continue
		}
		eligible = append(eligible, i)
		weights = append(weights, l.Amount)
		base += l.Amount
	}

	var discount money.Cents
	if c.PercentBps > 0 {
		discount = money.PercentOf(base, c.PercentBps)
	} else {
		discount = money.Min(c.AmountCents, base)
	}
	if discount == 0 {
		return nil
	}

	parts, err := money.Allocate(discount, weights)
	if err != nil {
		return fmt.Errorf("failed to allocate discount: %w", err)
	}
	for j, idx := range eligible {
		lines[idx].Discount = parts[j]
	}
	return nil
}
