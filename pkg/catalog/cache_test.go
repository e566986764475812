package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

// mockCatalog records slug lookups; unimplemented methods panic through the
// nil embedded interface
type mockCatalog struct {
	Service
	lookups       int32
	release       chan struct{}
	offers        map[string]*Offer
	updateOfferFn func(offerID int64) (*Offer, error)
}

func (m *mockCatalog) GetOfferBySlug(ctx context.Context, slug string) (*Offer, error) {
	atomic.AddInt32(&m.lookups, 1)
	if m.release != nil {
		<-m.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, ok := m.offers[slug]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

func (m *mockCatalog) UpdateOffer(ctx context.Context, producerID, offerID int64, req *UpdateOfferRequest) (*Offer, error) {
	return m.updateOfferFn(offerID)
}

func (m *mockCatalog) DeleteBump(ctx context.Context, producerID, offerID, bumpID int64) error {
	return nil
}

func (m *mockCatalog) UpdateProduct(ctx context.Context, producerID, productID int64, req *UpdateProductRequest) (*Product, error) {
	return &Product{ID: productID}, nil
}

func TestCachedCatalogHitsAndMisses(t *testing.T) {
	mock := &mockCatalog{offers: map[string]*Offer{"course": {ID: 20, ProductID: 10, Slug: "course"}}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cached := NewCachedCatalog(mock, 10, time.Minute, metrics)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		offer, err := cached.GetOfferBySlug(ctx, "course")
		require.NoError(t, err)
		assert.Equal(t, int64(20), offer.ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.lookups))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("offer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("offer")))

	_, err := cached.GetOfferBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrOfferNotFound)
	assert.Equal(t, 1, cached.Len(), "errors are not cached")
}

func TestCachedCatalogCollapsesConcurrentMisses(t *testing.T) {
	mock := &mockCatalog{
		offers:  map[string]*Offer{"course": {ID: 20, Slug: "course"}},
		release: make(chan struct{}),
	}
	cached := NewCachedCatalog(mock, 10, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.GetOfferBySlug(context.Background(), "course")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&mock.lookups) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(mock.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.lookups))
}

func TestCachedCatalogInvalidatesOnWrites(t *testing.T) {
	mock := &mockCatalog{offers: map[string]*Offer{
		"course": {ID: 20, ProductID: 10, Slug: "course"},
		"ebook":  {ID: 21, ProductID: 11, Slug: "ebook"},
	}}
	mock.updateOfferFn = func(offerID int64) (*Offer, error) {
		return &Offer{ID: offerID, Slug: "course"}, nil
	}
	cached := NewCachedCatalog(mock, 10, time.Minute, nil)
	ctx := context.Background()

	load := func() {
		_, err := cached.GetOfferBySlug(ctx, "course")
		require.NoError(t, err)
		_, err = cached.GetOfferBySlug(ctx, "ebook")
		require.NoError(t, err)
	}

	load()
	require.Equal(t, 2, cached.Len())

	_, err := cached.UpdateOffer(ctx, 1, 20, &UpdateOfferRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	load()
	require.NoError(t, cached.DeleteBump(ctx, 1, 21, 5))
	assert.Equal(t, 1, cached.Len())

	load()
	_, err = cached.UpdateProduct(ctx, 1, 10, &UpdateProductRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())
	_, ok := cached.offers.Peek("ebook")
	assert.True(t, ok)
}

func TestCachedCatalogDropsLoadRacingInvalidate(t *testing.T) {
	mock := &mockCatalog{
		offers:  map[string]*Offer{"course": {ID: 20, Slug: "course", PriceCents: 9790}},
		release: make(chan struct{}),
	}
	cached := NewCachedCatalog(mock, 10, time.Minute, nil)

	done := make(chan *Offer)
	go func() {
		offer, err := cached.GetOfferBySlug(context.Background(), "course")
		assert.NoError(t, err)
		done <- offer
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&mock.lookups) == 1 }, time.Second, time.Millisecond)

	// the price changes while the first load is still reading the old row
	cached.Invalidate("course")
	close(mock.release)
	stale := <-done
	assert.Equal(t, int64(9790), int64(stale.PriceCents))
	assert.Equal(t, 0, cached.Len(), "a load that raced an eviction is not cached")

	mock.release = nil
	mock.offers["course"] = &Offer{ID: 20, Slug: "course", PriceCents: 4990}
	offer, err := cached.GetOfferBySlug(context.Background(), "course")
	require.NoError(t, err)
	assert.Equal(t, int64(4990), int64(offer.PriceCents))
	assert.Equal(t, 1, cached.Len())
}

func TestCachedCatalogSharedLoadSurvivesCancelledCaller(t *testing.T) {
	mock := &mockCatalog{
		offers:  map[string]*Offer{"course": {ID: 20, Slug: "course"}},
		release: make(chan struct{}),
	}
	cached := NewCachedCatalog(mock, 10, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		_, err := cached.GetOfferBySlug(ctx, "course")
		errs <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&mock.lookups) == 1 }, time.Second, time.Millisecond)
	go func() {
		_, err := cached.GetOfferBySlug(context.Background(), "course")
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(mock.release)
	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)
	assert.Equal(t, 1, cached.Len())
}
