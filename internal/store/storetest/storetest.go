// Package storetest holds a conformance suite that every domain.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// Clock is a manually advanced clock for store tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Factory builds a fresh, empty store driven by clock. Init is called by the
// suite. The factory registers its own cleanup.
type Factory func(t *testing.T, clock *Clock) domain.Store

// T0 is the start time of every suite clock.
var T0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Market builds a minimal open market with the given id and prices.
func Market(id, prices string) domain.Market {
	return domain.Market{
		ConditionID:   id,
		Question:      "Will " + id + " happen?",
		Outcomes:      `["Yes","No"]`,
		OutcomePrices: domain.StringPtr(prices),
		Volume:        domain.StringPtr("1000"),
		Active:        domain.BoolPtr(true),
		Closed:        domain.BoolPtr(false),
	}
}

// Event builds an event for m at ts.
func Event(kind domain.EventKind, m domain.Market, ts time.Time) domain.MarketEvent {
	return domain.MarketEvent{ID: uuid.NewString(), Market: m, Timestamp: ts, Kind: kind}
}

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	setup := func(t *testing.T) (domain.Store, *Clock) {
		t.Helper()
		clock := NewClock(T0)
		s := newStore(t, clock)
		require.NoError(t, s.Init(context.Background()))
		return s, clock
	}

	t.Run("InitIdempotent", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.Init(context.Background()))
		n, err := s.GetMarketCount(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("GetUnknownMarket", func(t *testing.T) {
		s, _ := setup(t)
		m, err := s.GetMarket(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("UpsertPreservesFirstSeen", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		t0 := clock.Now()
		require.NoError(t, s.SaveMarket(ctx, Market("a", `[0.5,0.5]`)))

		var t1 time.Time
		for i := 0; i < 3; i++ {
			t1 = clock.Advance(time.Minute)
			m := Market("a", fmt.Sprintf(`["0.%d","0.%d"]`, 6+i, 4-i))
			m.Question = fmt.Sprintf("revision %d", i)
			require.NoError(t, s.SaveMarket(ctx, m))
		}

		got, err := s.GetMarket(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got)
		SameInstant(t, t0, got.FirstSeenAt)
		SameInstant(t, t1, got.LastUpdatedAt)
		assert.Equal(t, `["0.8","0.2"]`, got.PricesString())
		assert.Equal(t, "revision 2", got.Question)
	})

	t.Run("BatchUpsertPreservesFirstSeen", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		t0 := clock.Now()
		require.NoError(t, s.SaveMarket(ctx, Market("a", `["0.5","0.5"]`)))
		t1 := clock.Advance(time.Hour)
		require.NoError(t, s.SaveMarkets(ctx, []domain.Market{Market("a", `["0.7","0.3"]`), Market("b", `["0.1","0.9"]`)}))

		a, err := s.GetMarket(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, a)
		SameInstant(t, t0, a.FirstSeenAt)
		SameInstant(t, t1, a.LastUpdatedAt)

		b, err := s.GetMarket(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, b)
		SameInstant(t, t1, b.FirstSeenAt)
	})

	t.Run("BatchIngestion", func(t *testing.T) {
		ctx := context.Background()
		s, _ := setup(t)

		require.NoError(t, s.SaveMarkets(ctx, []domain.Market{Market("m1", `["0.5","0.5"]`), Market("m2", `["0.5","0.5"]`)}))
		require.NoError(t, s.SaveMarkets(ctx, []domain.Market{Market("m3", `["0.5","0.5"]`)}))
		require.NoError(t, s.SaveMarkets(ctx, nil))

		ids, err := s.GetAllMarketIDs(ctx)
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

		n, err := s.GetMarketCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("CountMatchesIDs", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		check := func() {
			ids, err := s.GetAllMarketIDs(ctx)
			require.NoError(t, err)
			n, err := s.GetMarketCount(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, len(ids), n)
		}

		check()
		for round := 0; round < 3; round++ {
			for i := 0; i <= round*2; i++ {
				require.NoError(t, s.SaveMarket(ctx, Market(fmt.Sprintf("m%d", i), `["0.5","0.5"]`)))
				check()
			}
			require.NoError(t, s.SaveMarkets(ctx, []domain.Market{Market("m0", `["0.5","0.5"]`), Market("batch", `["0.5","0.5"]`)}))
			check()
			clock.Advance(time.Second)
		}
	})

	t.Run("OptionalFieldsRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s, _ := setup(t)

		full := domain.Market{
			ConditionID:   "full",
			QuestionID:    domain.StringPtr("0xq"),
			Question:      "Full?",
			Description:   domain.StringPtr("all fields set"),
			MarketSlug:    domain.StringPtr("full"),
			Outcomes:      `["Yes","No"]`,
			OutcomePrices: domain.StringPtr(`[0.25, 0.75]`),
			Volume:        domain.StringPtr("1200.50"),
			Liquidity:     domain.StringPtr("300"),
			EndDate:       domain.StringPtr("2024-12-31T00:00:00Z"),
			Active:        domain.BoolPtr(true),
			Closed:        domain.BoolPtr(false),
		}
		sparse := domain.Market{ConditionID: "sparse", Question: "Sparse?", Outcomes: `[]`}
		require.NoError(t, s.SaveMarkets(ctx, []domain.Market{full, sparse}))

		got, err := s.GetMarket(ctx, "full")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, full.Canonical(), got.Market)
		assert.Equal(t, `["0.25","0.75"]`, got.PricesString())
		assert.Equal(t, "1200.5", got.VolumeString())

		got, err = s.GetMarket(ctx, "sparse")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sparse, got.Market)
	})

	t.Run("BlankOptionalsReadBackNil", func(t *testing.T) {
		ctx := context.Background()
		s, _ := setup(t)

		blank := Market("blank", "")
		blank.Volume = domain.StringPtr("")
		require.NoError(t, s.SaveMarket(ctx, blank))

		got, err := s.GetMarket(ctx, "blank")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.OutcomePrices)
		assert.Nil(t, got.Volume)
		assert.Equal(t, blank.Canonical(), got.Market)
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		t0 := clock.Now()
		require.NoError(t, s.SaveMarket(ctx, Market("shared", `["0.5","0.5"]`)))
		t1 := clock.Advance(time.Minute)

		const writers = 40
		errs := make(chan error, writers*6)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				own := Market(fmt.Sprintf("w%d", i), `["0.4","0.6"]`)
				prices := fmt.Sprintf(`["0.%d","0.%d"]`, 1+i%8, 9-i%8)

				errs <- s.SaveEvent(ctx, Event(domain.EventPriceChange, own, t1))
				errs <- s.SaveMarket(ctx, Market("shared", prices))
				errs <- s.SaveMarket(ctx, Market("fresh", prices))
				errs <- s.SaveMarket(ctx, own)
				errs <- s.SavePriceHistory(ctx, own.ConditionID, &prices, nil)
				if i%5 == 0 {
					errs <- s.SaveMarkets(ctx, []domain.Market{
						Market("shared", prices),
						Market("fresh", prices),
						Market(fmt.Sprintf("batch%d", i), prices),
					})
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		events, err := s.GetEventCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, writers, events)

		markets, err := s.GetMarketCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2+writers+writers/5, markets)

		shared, err := s.GetMarket(ctx, "shared")
		require.NoError(t, err)
		require.NotNil(t, shared)
		SameInstant(t, t0, shared.FirstSeenAt)
		SameInstant(t, t1, shared.LastUpdatedAt)

		fresh, err := s.GetMarket(ctx, "fresh")
		require.NoError(t, err)
		require.NotNil(t, fresh)
		SameInstant(t, t1, fresh.FirstSeenAt)

		history, err := s.GetPriceHistory(ctx, "w7", 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("EventCountMonotone", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		kinds := []domain.EventKind{
			domain.EventNewMarket, domain.EventPriceChange, domain.EventPriceChange,
			domain.EventVolumeUpdate, domain.EventMarketClosed,
		}
		for i, k := range kinds {
			before, err := s.GetEventCount(ctx)
			require.NoError(t, err)
			require.NoError(t, s.SaveEvent(ctx, Event(k, Market("a", `["0.5","0.5"]`), clock.Advance(time.Second))))
			after, err := s.GetEventCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, before+1, after, "event %d", i)
		}

		stats, err := s.GetEventStats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats["NewMarket"])
		assert.EqualValues(t, 2, stats["PriceChange"])
		assert.EqualValues(t, 1, stats["VolumeUpdate"])
		assert.EqualValues(t, 1, stats["MarketClosed"])
		assert.EqualValues(t, 5, stats[domain.StatsTotalKey])
	})

	t.Run("EmptyStats", func(t *testing.T) {
		s, _ := setup(t)
		stats, err := s.GetEventStats(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 0, stats[domain.StatsTotalKey])
		for _, k := range domain.EventKinds {
			assert.Contains(t, stats, string(k))
		}
	})

	t.Run("RecentEventsNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		var stamps []time.Time
		for i := 0; i < 5; i++ {
			ts := clock.Advance(time.Second)
			stamps = append(stamps, ts)
			m := Market(fmt.Sprintf("m%d", i), fmt.Sprintf(`["0.%d","0.%d"]`, i+1, 9-i))
			require.NoError(t, s.SaveEvent(ctx, Event(domain.EventNewMarket, m, ts)))
		}

		got, err := s.GetRecentEvents(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, rec := range got {
			src := 4 - i
			assert.Equal(t, domain.EventNewMarket, rec.Kind)
			assert.Equal(t, fmt.Sprintf("Will m%d happen?", src), rec.Question)
			assert.Equal(t, fmt.Sprintf(`["0.%d","0.%d"]`, src+1, 9-src), rec.OutcomePrices)
			SameInstant(t, stamps[src], rec.Timestamp)
		}
	})

	t.Run("PriceHistoryNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		s, clock := setup(t)

		var stamps []time.Time
		for i := 0; i < 4; i++ {
			stamps = append(stamps, clock.Advance(time.Second))
			prices := fmt.Sprintf(`[0.%d0, 0.%d0]`, i+1, 9-i)
			vol := fmt.Sprintf("%d.0", 1000+i)
			require.NoError(t, s.SavePriceHistory(ctx, "a", &prices, &vol))
		}
		require.NoError(t, s.SavePriceHistory(ctx, "other", domain.StringPtr(`["1","0"]`), nil))

		got, err := s.GetPriceHistory(ctx, "a", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, `["0.4","0.6"]`, got[0].OutcomePrices)
		assert.Equal(t, "1003", got[0].Volume)
		SameInstant(t, stamps[3], got[0].Timestamp)
		assert.Equal(t, `["0.3","0.7"]`, got[1].OutcomePrices)
		SameInstant(t, stamps[2], got[1].Timestamp)

		all, err := s.GetPriceHistory(ctx, "a", 100)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := s.GetPriceHistory(ctx, "missing", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

// SameInstant asserts that two times denote the same instant.
func SameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want.Format(time.RFC3339Nano), got.Format(time.RFC3339Nano))
}
