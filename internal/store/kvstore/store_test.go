package kvstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/store/storetest"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) domain.Store {
		s, _ := newTestStore(t, WithClock(clock.Now))
		return s
	})
}

func TestOpenFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), "redis://"+mr.Addr()+"/0", WithPoolSize(4))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(context.Background()))

	_, err = Open(context.Background(), "not a url")
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func TestHashLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	m := storetest.Market("a", `[0.5, 0.5]`)
	m.Closed = nil
	require.NoError(t, s.SaveMarket(ctx, m))

	assert.Equal(t, "1", mr.HGet("market:a", "active"))
	assert.Equal(t, "", mr.HGet("market:a", "closed"))
	assert.Equal(t, "", mr.HGet("market:a", "description"))
	assert.Equal(t, `["0.5","0.5"]`, mr.HGet("market:a", "outcome_prices"))
	assert.NotEmpty(t, mr.HGet("market:a", "first_seen_at"))

	ok, err := mr.SIsMember("markets:all", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetMarket(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got.Closed)
	assert.True(t, *got.Active)
}

func TestRecentEventsTrimmed(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	n := domain.MaxRecentEvents + 25
	for i := 0; i < n; i++ {
		m := storetest.Market(fmt.Sprintf("m%d", i), `["0.5","0.5"]`)
		require.NoError(t, s.SaveEvent(ctx, storetest.Event(domain.EventNewMarket, m, storetest.T0)))
	}

	list, err := mr.List("events:recent")
	require.NoError(t, err)
	assert.Len(t, list, domain.MaxRecentEvents)

	count, err := s.GetEventCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, count)

	recent, err := s.GetRecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fmt.Sprintf("Will m%d happen?", n-1), recent[0].Question)

	assert.Equal(t, fmt.Sprint(n), mustGet(t, mr, "stats:events:NewMarket"))
	assert.Equal(t, fmt.Sprint(n), mustGet(t, mr, "stats:events:total"))
}

func TestPriceHistoryScoredByMillis(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(storetest.T0)
	s, mr := newTestStore(t, WithClock(clock.Now))

	require.NoError(t, s.SavePriceHistory(ctx, "a", domain.StringPtr(`["0.5","0.5"]`), domain.StringPtr("10")))

	members, err := mr.ZMembers("market:a:price_history")
	require.NoError(t, err)
	require.Len(t, members, 1)
	score, err := mr.ZScore("market:a:price_history", members[0])
	require.NoError(t, err)
	assert.Equal(t, float64(storetest.T0.UnixMilli()), score)
}

func TestServerDownReturnsStorageError(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.GetMarketCount(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorage))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
