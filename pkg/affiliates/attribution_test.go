package affiliates

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

type mockService struct {
	Service
	affiliations map[int64]*Affiliation
}

func (m *mockService) Get(ctx context.Context, id int64) (*Affiliation, error) {
	if aff, ok := m.affiliations[id]; ok {
		return aff, nil
	}
	return nil, ErrNotFound
}

func TestAttribute(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestClickStore(t, now)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := &mockService{affiliations: map[int64]*Affiliation{
		1: {ID: 1, ProductID: 5, AffiliateID: 20, Status: StatusApproved},
		2: {ID: 2, ProductID: 5, AffiliateID: 21, Status: StatusApproved, CommissionBps: 5000},
		3: {ID: 3, ProductID: 5, AffiliateID: 22, Status: StatusRevoked},
	}}
	attributor := NewAttributor(store, svc, metrics)
	product := &catalog.Product{ID: 5, ProducerID: 1, AffiliationEnabled: true, AffiliateCommissionBps: 3000, AttributionWindowSecs: 86400}
	ctx := context.Background()

	_, err := attributor.Track(ctx, svc.affiliations[1], product, "s1", now.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = attributor.Track(ctx, svc.affiliations[2], product, "s1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = attributor.Track(ctx, svc.affiliations[3], product, "s1", now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrAffiliationNotActive)

	attr, err := attributor.Attribute(ctx, "s1", product, now)
	require.NoError(t, err)
	require.NotNil(t, attr)
	assert.Equal(t, int64(21), attr.AffiliateID)
	assert.Equal(t, money.BasisPoints(5000), attr.CommissionBps)

	// as of before the second click only the first one counts
	attr, err = attributor.Attribute(ctx, "s1", product, now.Add(-150*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, attr)
	assert.Equal(t, int64(20), attr.AffiliateID)
	assert.Equal(t, money.BasisPoints(3000), attr.CommissionBps)

	attr, err = attributor.Attribute(ctx, "", product, now)
	require.NoError(t, err)
	assert.Nil(t, attr)

	disabled := *product
	disabled.AffiliationEnabled = false
	attr, err = attributor.Attribute(ctx, "s1", &disabled, now)
	require.NoError(t, err)
	assert.Nil(t, attr)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AttributionTotal.WithLabelValues(OutcomeAttributed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AttributionTotal.WithLabelValues(OutcomeNoSession)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AttributionTotal.WithLabelValues(OutcomeDisabled)))
}

func TestAffiliationEligibility(t *testing.T) {
	product := &catalog.Product{ID: 5, AffiliationEnabled: true, AffiliateCommissionBps: 2500}
	aff := &Affiliation{ProductID: 5, Status: StatusApproved}

	assert.True(t, aff.Eligible(product))
	assert.Equal(t, money.BasisPoints(2500), aff.Commission(product))

	assert.False(t, (&Affiliation{ProductID: 6, Status: StatusApproved}).Eligible(product))
	assert.False(t, (&Affiliation{ProductID: 5, Status: StatusPending}).Eligible(product))
	assert.False(t, aff.Eligible(nil))
}
