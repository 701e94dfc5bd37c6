package domain

import "context"

// Store persists markets, change events and price history. Implementations
// must be safe for concurrent use and must agree on observable behaviour:
//
//   - SaveMarket/SaveMarkets upsert by ConditionID, keep FirstSeenAt from the
//     first save and set LastUpdatedAt to the store clock.
//   - SaveEvent and SavePriceHistory append.
//   - GetMarket returns (nil, nil) for an unknown id.
//   - GetPriceHistory and GetRecentEvents return newest first.
//   - GetEventStats includes StatsTotalKey.
//
// Backend-internal failures are returned as *Error with KindStorage.
type Store interface {
	Init(ctx context.Context) error
	SaveMarket(ctx context.Context, m Market) error
	SaveMarkets(ctx context.Context, markets []Market) error
	SaveEvent(ctx context.Context, e MarketEvent) error
	SavePriceHistory(ctx context.Context, conditionID string, outcomePrices, volume *string) error

	GetMarket(ctx context.Context, conditionID string) (*StoredMarket, error)
	GetAllMarketIDs(ctx context.Context) ([]string, error)
	GetMarketCount(ctx context.Context) (int64, error)
	GetEventCount(ctx context.Context) (int64, error)
	GetPriceHistory(ctx context.Context, conditionID string, limit int) ([]PricePoint, error)
	GetRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	GetEventStats(ctx context.Context) (map[string]int64, error)

	Close() error
}

// MaxRecentEvents bounds the recent-event buffers of the KV and JSON stores.
const MaxRecentEvents = 1000

// MaxPriceHistory bounds the in-memory price history kept per market.
const MaxPriceHistory = 1000
