// Package split divides a charge between the platform, the producer, its
// co-producers and an attributed affiliate.
//
// # Algorithm
//
// Given a charge total T:
//
//	fee      = min(T, PercentOf(T, fee.PercentBps) + fee.FixedCents)
//	net      = T - fee
//	aff      = FloorPercentOf(net, affiliate.CommissionBps)
//	pool     = net - aff
//	coprod_i = FloorPercentOf(pool, share_i)   (ascending account id)
//	producer = pool - sum(coprod_i)
//
// Rounding losses always land on the producer, so shares sum exactly to T.
//
// # Refunds
//
// Reverse spreads a refund increment over what is still unreversed of each
// share. Repeated partial refunds never reverse more than a party received
// and a full refund reverses every share exactly.
package split

import (
	"errors"
	"fmt"
	"sort"

	"github.com/platinummonkey/sellhub/pkg/money"
)

// Party is the role a share is paid to
type Party string

const (
	PartyPlatform   Party = "platform"
	PartyProducer   Party = "producer"
	PartyCoProducer Party = "coproducer"
	PartyAffiliate  Party = "affiliate"
)

// PlatformAccountID is the account id used for platform fee shares
const PlatformAccountID int64 = 0

var (
	ErrInvalidCommission = errors.New("commission must be between 0 and 10000 basis points")
	ErrInvalidShare      = errors.New("co-producer share must be positive")
	ErrSharesExceedTotal = errors.New("co-producer shares exceed 100%")
	ErrSelfShare         = errors.New("producer cannot share with itself")
	ErrDuplicateParty    = errors.New("duplicate co-producer")
	ErrInvalidFee        = errors.New("invalid fee rule")
	ErrNegativeTotal     = errors.New("charge total must not be negative")
	ErrReversalExceeds   = errors.New("refund exceeds unreversed amount")
	ErrShareMismatch     = errors.New("reversed shares do not match original shares")
)

// FeeRule is the platform fee charged on a sale
type FeeRule struct {
	PercentBps money.BasisPoints `json:"percent_bps" yaml:"percent_bps"`
	FixedCents money.Cents       `json:"fixed_cents" yaml:"fixed_cents"`
}

// Validate checks the rule is usable
func (f FeeRule) Validate() error {
	if !f.PercentBps.Valid() {
		return fmt.Errorf("%w: percent %d out of range", ErrInvalidFee, f.PercentBps)
	}
	if f.FixedCents < 0 {
		return fmt.Errorf("%w: fixed fee is negative", ErrInvalidFee)
	}
	return nil
}

// Affiliate is the attributed affiliate of a sale
type Affiliate struct {
	AccountID     int64             `json:"account_id"`
	CommissionBps money.BasisPoints `json:"commission_bps"`
}

// CoProducer is a revenue share on a product
type CoProducer struct {
	AccountID int64             `json:"account_id"`
	ShareBps  money.BasisPoints `json:"share_bps"`
}

// Policy is everything needed to split one charge
type Policy struct {
	ProducerID  int64
	Fee         FeeRule
	Affiliate   *Affiliate
	CoProducers []CoProducer
}

// Share is one party's part of a charge
type Share struct {
	Party     Party       `json:"party"`
	AccountID int64       `json:"account_id"`
	Amount    money.Cents `json:"amount_cents"`
}

// Key identifies the party a share belongs to
func (s Share) Key() string {
	return fmt.Sprintf("%s:%d", s.Party, s.AccountID)
}

// ValidateCoProducers checks a set of co-producer shares for a producer
func ValidateCoProducers(producerID int64, coProducers []CoProducer) error {
	seen := make(map[int64]bool, len(coProducers))
	var total money.BasisPoints
	for _, c := range coProducers {
		if c.ShareBps <= 0 || c.ShareBps > money.FullRate {
			return fmt.Errorf("%w: account %d", ErrInvalidShare, c.AccountID)
		}
		if c.AccountID == producerID {
			return ErrSelfShare
		}
		if seen[c.AccountID] {
			return fmt.Errorf("%w: account %d", ErrDuplicateParty, c.AccountID)
		}
		seen[c.AccountID] = true
		total += c.ShareBps
	}
	if total > money.FullRate {
		return ErrSharesExceedTotal
	}
	return nil
}

// Validate checks the policy
func (p Policy) Validate() error {
	if err := p.Fee.Validate(); err != nil {
		return err
	}
	if p.Affiliate != nil {
		if !p.Affiliate.CommissionBps.Valid() {
			return ErrInvalidCommission
		}
		if p.Affiliate.AccountID == p.ProducerID {
			return fmt.Errorf("%w: affiliate", ErrSelfShare)
		}
	}
	return ValidateCoProducers(p.ProducerID, p.CoProducers)
}

// Compute splits total according to the policy. The producer share is always
// present; other zero shares are omitted.
func Compute(total money.Cents, p Policy) ([]Share, error) {
	if total < 0 {
		return nil, ErrNegativeTotal
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var fee money.Cents
	if total > 0 {
		fee = money.Min(total, money.PercentOf(total, p.Fee.PercentBps)+p.Fee.FixedCents)
	}
	net := total - fee

	shares := make([]Share, 0, 3+len(p.CoProducers))
	if fee > 0 {
		shares = append(shares, Share{Party: PartyPlatform, AccountID: PlatformAccountID, Amount: fee})
	}

	pool := net
	if p.Affiliate != nil {
		aff := money.FloorPercentOf(net, p.Affiliate.CommissionBps)
		if aff > 0 {
			shares = append(shares, Share{Party: PartyAffiliate, AccountID: p.Affiliate.AccountID, Amount: aff})
		}
		pool -= aff
	}

	coProducers := append([]CoProducer(nil), p.CoProducers...)
	sort.Slice(coProducers, func(i, j int) bool {
		return coProducers[i].AccountID < coProducers[j].AccountID
	})

	producer := pool
	for _, c := range coProducers {
		amount := money.FloorPercentOf(pool, c.ShareBps)
		if amount == 0 {
			continue
		}
		shares = append(shares, Share{Party: PartyCoProducer, AccountID: c.AccountID, Amount: amount})
		producer -= amount
	}
	shares = append(shares, Share{Party: PartyProducer, AccountID: p.ProducerID, Amount: producer})

	if sum := Sum(shares); sum != total {
		return nil, fmt.Errorf("split sums to %d, expected %d", sum, total)
	}
	return shares, nil
}

// Sum adds the share amounts
func Sum(shares []Share) money.Cents {
	var total money.Cents
	for _, s := range shares {
		total += s.Amount
	}
	return total
}

// Reverse computes the reversal of delta cents against the original shares.
// reversed holds what has already been reversed per party (positive amounts,
// any order). The returned shares are positive amounts to reverse now, in the
// order of original; parties with nothing to reverse are omitted.
func Reverse(original, reversed []Share, delta money.Cents) ([]Share, error) {
	if delta < 0 {
		return nil, ErrNegativeTotal
	}
	if delta == 0 {
		return nil, nil
	}

	done := make(map[string]money.Cents, len(reversed))
	for _, r := range reversed {
		done[r.Key()] += r.Amount
	}

	remaining := make([]money.Cents, len(original))
	var unreversed money.Cents
	for i, s := range original {
		left := s.Amount - done[s.Key()]
		if left < 0 {
			return nil, fmt.Errorf("%w: %s reversed %d of %d", ErrShareMismatch, s.Key(), done[s.Key()], s.Amount)
		}
		delete(done, s.Key())
		remaining[i] = left
		unreversed += left
	}
	for key, amount := range done {
		if amount != 0 {
			return nil, fmt.Errorf("%w: unknown party %s", ErrShareMismatch, key)
		}
	}
	if delta > unreversed {
		return nil, fmt.Errorf("%w: %d > %d", ErrReversalExceeds, delta, unreversed)
	}

	parts, err := money.Allocate(delta, remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate reversal: %w", err)
	}

	out := make([]Share, 0, len(original))
	for i, s := range original {
		if parts[i] == 0 {
			continue
		}
		out = append(out, Share{Party: s.Party, AccountID: s.AccountID, Amount: parts[i]})
	}
	return out, nil
}
