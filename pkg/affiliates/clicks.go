package affiliates

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ClickRetention keeps clicks past the attribution window so orders created
// before the window closed still resolve when their payment settles later.
const ClickRetention = 7 * 24 * time.Hour

var ErrInvalidClick = errors.New("invalid click")

// Click is one visit through an affiliate link
type Click struct {
	ID            string    `json:"id"`
	AffiliationID int64     `json:"affiliation_id"`
	AffiliateID   int64     `json:"affiliate_id"`
	ProductID     int64     `json:"product_id"`
	SessionID     string    `json:"session_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Candidate is a stored click as seen by resolution
type Candidate struct {
	ClickID       string
	AffiliationID int64
	OccurredAt    time.Time
}

// ClickStore keeps clicks per buyer session and product in Redis sorted sets.
// Scores are click times in unix milliseconds and members are
// "clickID|affiliationID".
type ClickStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewClickStore creates a click store
func NewClickStore(client *redis.Client) *ClickStore {
	return &ClickStore{client: client, prefix: "attr", now: time.Now}
}

func (s *ClickStore) key(sessionID string, productID int64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, sessionID, productID)
}

// Record stores a click. A zero ID gets a uuid v7, so ids of clicks recorded
// in the same millisecond still sort by creation.
func (s *ClickStore) Record(ctx context.Context, click *Click, window time.Duration) error {
	if click.SessionID == "" || click.ProductID <= 0 || click.AffiliationID <= 0 {
		return ErrInvalidClick
	}
	if click.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate click id: %w", err)
		}
		click.ID = id.String()
	}
	if click.OccurredAt.IsZero() {
		click.OccurredAt = s.now()
	}

	key := s.key(click.SessionID, click.ProductID)
	ttl := click.OccurredAt.Add(window + ClickRetention).Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	member := click.ID + "|" + strconv.FormatInt(click.AffiliationID, 10)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(click.OccurredAt.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(s.now().Add(-window-ClickRetention).UnixMilli(), 10))
	current := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}

	// A late click for an old visit must not shorten the key's life.
	if remaining := current.Val(); remaining < ttl {
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("failed to extend click expiry: %w", err)
		}
	}
	return nil
}

// Candidates returns clicks in [asOf-window, asOf], newest first. Clicks in
// the same millisecond are ordered by member descending.
func (s *ClickStore) Candidates(ctx context.Context, sessionID string, productID int64, asOf time.Time, window time.Duration) ([]Candidate, error) {
	if sessionID == "" {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(sessionID, productID), &redis.ZRangeBy{
		Max: strconv.FormatInt(asOf.UnixMilli(), 10),
		Min: strconv.FormatInt(asOf.Add(-window).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load clicks: %w", err)
	}

	candidates := make([]Candidate, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		clickID, affID, ok := strings.Cut(member, "|")
		if !ok {
			continue
		}
		affiliationID, err := strconv.ParseInt(affID, 10, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			ClickID:       clickID,
			AffiliationID: affiliationID,
			OccurredAt:    time.UnixMilli(int64(z.Score)),
		})
	}
	return candidates, nil
}

// Resolve returns the newest candidate accepted by valid, or nil when no
// click qualifies
func (s *ClickStore) Resolve(ctx context.Context, sessionID string, productID int64, asOf time.Time, window time.Duration,
	valid func(ctx context.Context, affiliationID int64) (bool, error)) (*Candidate, error) {
	candidates, err := s.Candidates(ctx, sessionID, productID, asOf, window)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		ok, err := valid(ctx, candidates[i].AffiliationID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
