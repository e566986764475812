package affiliates

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// Outcomes recorded for resolutions
const (
	OutcomeAttributed = "attributed"
	OutcomeNoSession  = "no_session"
	OutcomeNoClick    = "no_click"
	OutcomeDisabled   = "disabled"
)

// Attribution is the affiliate credited with a sale
type Attribution struct {
	AffiliationID int64             `json:"affiliation_id"`
	AffiliateID   int64             `json:"affiliate_id"`
	CommissionBps money.BasisPoints `json:"commission_bps"`
	ClickID       string            `json:"click_id"`
	ClickedAt     time.Time         `json:"clicked_at"`
}

// Attributor resolves last-touch attribution from stored clicks
type Attributor struct {
	clicks  *ClickStore
	service Service
	metrics *observability.Metrics
}

// NewAttributor creates an attributor
func NewAttributor(clicks *ClickStore, service Service, metrics *observability.Metrics) *Attributor {
	return &Attributor{clicks: clicks, service: service, metrics: metrics}
}

// Attribute finds the affiliate credited for a sale of product made in
// sessionID at asOf. Checkout previews call it with the current time and
// settlement with the order's creation time. A nil result means no affiliate.
func (a *Attributor) Attribute(ctx context.Context, sessionID string, product *catalog.Product, asOf time.Time) (*Attribution, error) {
	outcome, attr, err := a.attribute(ctx, sessionID, product, asOf)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.AttributionTotal.WithLabelValues(outcome).Inc()
	}
	return attr, nil
}

func (a *Attributor) attribute(ctx context.Context, sessionID string, product *catalog.Product, asOf time.Time) (string, *Attribution, error) {
	if !product.AffiliationEnabled {
		return OutcomeDisabled, nil, nil
	}
	if sessionID == "" {
		return OutcomeNoSession, nil, nil
	}

	found := map[int64]*Affiliation{}
	valid := func(ctx context.Context, affiliationID int64) (bool, error) {
		aff, err := a.service.Get(ctx, affiliationID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		found[affiliationID] = aff
		return aff.Eligible(product), nil
	}

	candidate, err := a.clicks.Resolve(ctx, sessionID, product.ID, asOf, product.AttributionWindow(), valid)
	if err != nil {
		return "", nil, err
	}
	if candidate == nil {
		return OutcomeNoClick, nil, nil
	}

	aff := found[candidate.AffiliationID]
	return OutcomeAttributed, &Attribution{
		AffiliationID: aff.ID,
		AffiliateID:   aff.AffiliateID,
		CommissionBps: aff.Commission(product),
		ClickID:       candidate.ClickID,
		ClickedAt:     candidate.OccurredAt,
	}, nil
}

// Track records a click through an affiliation's referral link
func (a *Attributor) Track(ctx context.Context, aff *Affiliation, product *catalog.Product, sessionID string, at time.Time) (*Click, error) {
	if !aff.Eligible(product) {
		return nil, ErrAffiliationNotActive
	}
	click := &Click{
		AffiliationID: aff.ID,
		AffiliateID:   aff.AffiliateID,
		ProductID:     product.ID,
		SessionID:     sessionID,
		OccurredAt:    at,
	}
	if err := a.clicks.Record(ctx, click, product.AttributionWindow()); err != nil {
		return nil, err
	}
	return click, nil
}
