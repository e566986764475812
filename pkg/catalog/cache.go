package catalog

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

const offerCacheName = "offer"

// CachedCatalog serves checkout offer lookups from an expiring LRU. Concurrent
// misses for the same slug share one database query. Producer-side writes
// through this type evict the affected offers.
//
// Cached offers are shared; callers must not modify them.
type CachedCatalog struct {
	Service

	offers  *lru.LRU[string, *Offer]
	group   singleflight.Group
	metrics *observability.Metrics

	// generation advances on every eviction; a load that started before an
	// eviction returns its result without caching it
	mu         sync.Mutex
	generation uint64
}

// NewCachedCatalog wraps svc with an offer cache
func NewCachedCatalog(svc Service, size int, ttl time.Duration, metrics *observability.Metrics) *CachedCatalog {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedCatalog{
		Service: svc,
		offers:  lru.NewLRU[string, *Offer](size, nil, ttl),
		metrics: metrics,
	}
}

// GetOfferBySlug returns the cached offer or loads it
func (c *CachedCatalog) GetOfferBySlug(ctx context.Context, slug string) (*Offer, error) {
	if offer, ok := c.offers.Get(slug); ok {
		c.record(true)
		return offer, nil
	}
	c.record(false)

	v, err, _ := c.group.Do(slug, func() (interface{}, error) {
		gen := c.currentGeneration()
		// waiters share this load, so one caller going away must not fail the rest
		offer, err := c.Service.GetOfferBySlug(context.WithoutCancel(ctx), slug)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.offers.Add(slug, offer)
		}
		c.mu.Unlock()
		return offer, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Offer), nil
}

// Invalidate evicts one slug
func (c *CachedCatalog) Invalidate(slug string) {
	c.mu.Lock()
	c.generation++
	c.offers.Remove(slug)
	c.mu.Unlock()
	c.group.Forget(slug)
}

func (c *CachedCatalog) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Len returns the number of cached offers
func (c *CachedCatalog) Len() int {
	return c.offers.Len()
}

// UpdateProduct evicts every cached offer of the product
func (c *CachedCatalog) UpdateProduct(ctx context.Context, producerID, productID int64, req *UpdateProductRequest) (*Product, error) {
	product, err := c.Service.UpdateProduct(ctx, producerID, productID, req)
	if err != nil {
		return nil, err
	}
	c.evict(func(o *Offer) bool { return o.ProductID == productID })
	return product, nil
}

// UpdateOffer evicts the offer's slug
func (c *CachedCatalog) UpdateOffer(ctx context.Context, producerID, offerID int64, req *UpdateOfferRequest) (*Offer, error) {
	offer, err := c.Service.UpdateOffer(ctx, producerID, offerID, req)
	if err != nil {
		return nil, err
	}
	c.Invalidate(offer.Slug)
	return offer, nil
}

// AddBump evicts the offer
func (c *CachedCatalog) AddBump(ctx context.Context, producerID, offerID int64, req *CreateBumpRequest) (*Bump, error) {
	bump, err := c.Service.AddBump(ctx, producerID, offerID, req)
	if err != nil {
		return nil, err
	}
	c.evictOffer(offerID)
	return bump, nil
}

// UpdateBump evicts the offer
func (c *CachedCatalog) UpdateBump(ctx context.Context, producerID, offerID, bumpID int64, req *UpdateBumpRequest) (*Bump, error) {
	bump, err := c.Service.UpdateBump(ctx, producerID, offerID, bumpID, req)
	if err != nil {
		return nil, err
	}
	c.evictOffer(offerID)
	return bump, nil
}

// DeleteBump evicts the offer
func (c *CachedCatalog) DeleteBump(ctx context.Context, producerID, offerID, bumpID int64) error {
	if err := c.Service.DeleteBump(ctx, producerID, offerID, bumpID); err != nil {
		return err
	}
	c.evictOffer(offerID)
	return nil
}

func (c *CachedCatalog) evictOffer(offerID int64) {
	c.evict(func(o *Offer) bool { return o.ID == offerID })
}

func (c *CachedCatalog) evict(match func(*Offer) bool) {
	for _, slug := range c.offers.Keys() {
		if offer, ok := c.offers.Peek(slug); ok && match(offer) {
			c.Invalidate(slug)
		}
	}
}

func (c *CachedCatalog) record(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(offerCacheName).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(offerCacheName).Inc()
	}
}
