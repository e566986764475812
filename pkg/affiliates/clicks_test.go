package affiliates

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClickStore(t *testing.T, now time.Time) (*ClickStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewClickStore(client)
	store.now = func() time.Time { return now }
	return store, mr
}

func TestRecordClick(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, mr := newTestClickStore(t, now)
	ctx := context.Background()

	click := &Click{AffiliationID: 3, AffiliateID: 9, ProductID: 5, SessionID: "s1", OccurredAt: now}
	require.NoError(t, store.Record(ctx, click, 24*time.Hour))
	assert.NotEmpty(t, click.ID)

	members, err := mr.ZMembers("attr:s1:5")
	require.NoError(t, err)
	assert.Equal(t, []string{click.ID + "|3"}, members)

	score, err := mr.ZScore("attr:s1:5", click.ID+"|3")
	require.NoError(t, err)
	assert.Equal(t, float64(now.UnixMilli()), score)
	assert.Equal(t, 24*time.Hour+ClickRetention, mr.TTL("attr:s1:5"))
}

func TestRecordClickRejectsIncomplete(t *testing.T) {
	store, _ := newTestClickStore(t, time.Now())
	assert.ErrorIs(t, store.Record(context.Background(), &Click{ProductID: 5, AffiliationID: 3}, time.Hour), ErrInvalidClick)
	assert.ErrorIs(t, store.Record(context.Background(), &Click{SessionID: "s", AffiliationID: 3}, time.Hour), ErrInvalidClick)
}

func TestLateClickDoesNotShortenExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, mr := newTestClickStore(t, now)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, &Click{AffiliationID: 1, ProductID: 5, SessionID: "s1", OccurredAt: now}, time.Hour))
	require.NoError(t, store.Record(ctx, &Click{AffiliationID: 2, ProductID: 5, SessionID: "s1", OccurredAt: now.Add(-30 * time.Minute)}, time.Hour))

	assert.Equal(t, time.Hour+ClickRetention, mr.TTL("attr:s1:5"))
}

func TestCandidatesWindowAndOrder(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestClickStore(t, now)
	ctx := context.Background()
	window := 24 * time.Hour

	record := func(id string, affiliationID int64, at time.Time) {
		require.NoError(t, store.Record(ctx, &Click{ID: id, AffiliationID: affiliationID, ProductID: 5, SessionID: "s1", OccurredAt: at}, window))
	}
	record("a", 1, now.Add(-25*time.Hour))
	record("b", 2, now.Add(-2*time.Hour))
	record("c", 3, now.Add(-time.Hour))
	record("d", 4, now.Add(-time.Hour))
	record("e", 5, now.Add(time.Minute))

	candidates, err := store.Candidates(ctx, "s1", 5, now, window)
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.ClickID)
	}
	// "a" is outside the window and "e" happened after asOf
	assert.Equal(t, []string{"d", "c", "b"}, ids)
	assert.Equal(t, int64(4), candidates[0].AffiliationID)
	assert.True(t, candidates[0].OccurredAt.Equal(now.Add(-time.Hour)))

	none, err := store.Candidates(ctx, "", 5, now, window)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolveSkipsInvalidAffiliations(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestClickStore(t, now)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, &Click{AffiliationID: 1, ProductID: 5, SessionID: "s1", OccurredAt: now.Add(-2 * time.Hour)}, 24*time.Hour))
	require.NoError(t, store.Record(ctx, &Click{AffiliationID: 2, ProductID: 5, SessionID: "s1", OccurredAt: now.Add(-time.Hour)}, 24*time.Hour))

	revoked := map[int64]bool{2: true}
	candidate, err := store.Resolve(ctx, "s1", 5, now, 24*time.Hour, func(ctx context.Context, id int64) (bool, error) {
		return !revoked[id], nil
	})
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, int64(1), candidate.AffiliationID)

	revoked[1] = true
	candidate, err = store.Resolve(ctx, "s1", 5, now, 24*time.Hour, func(ctx context.Context, id int64) (bool, error) {
		return !revoked[id], nil
	})
	require.NoError(t, err)
	assert.Nil(t, candidate)
}
