package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

const timeLayout = time.RFC3339Nano

// SaveMarket upserts a single market.
func (s *Store) SaveMarket(ctx context.Context, m domain.Market) error {
	pipe := s.rdb.TxPipeline()
	queueMarket(ctx, pipe, m.Canonical(), s.now())
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StorageError("kvstore: save market "+m.ConditionID, err)
	}
	return nil
}

// SaveMarkets pipelines the upsert of every market in one round trip.
func (s *Store) SaveMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	now := s.now()
	pipe := s.rdb.Pipeline()
	for _, m := range markets {
		queueMarket(ctx, pipe, m.Canonical(), now)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StorageError(fmt.Sprintf("kvstore: save %d markets", len(markets)), err)
	}
	return nil
}

// queueMarket writes the hash with a fresh last_updated_at, sets
// first_seen_at only when absent and registers the id in markets:all.
func queueMarket(ctx context.Context, pipe redis.Pipeliner, m domain.Market, now time.Time) {
	key := marketKey(m.ConditionID)
	ts := now.UTC().Format(timeLayout)

	fields := encodeMarket(m)
	fields["last_updated_at"] = ts
	pipe.HSet(ctx, key, fields)
	pipe.HSetNX(ctx, key, "first_seen_at", ts)
	pipe.SAdd(ctx, keyAllMarkets, m.ConditionID)
}

// GetMarket returns the stored market or nil when the id is unknown.
func (s *Store) GetMarket(ctx context.Context, conditionID string) (*domain.StoredMarket, error) {
	fields, err := s.rdb.HGetAll(ctx, marketKey(conditionID)).Result()
	if err != nil {
		return nil, domain.StorageError("kvstore: get market "+conditionID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sm, err := decodeMarket(fields)
	if err != nil {
		return nil, domain.StorageError("kvstore: decode market "+conditionID, err)
	}
	return sm, nil
}

// GetAllMarketIDs returns the members of markets:all.
func (s *Store) GetAllMarketIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyAllMarkets).Result()
	if err != nil {
		return nil, domain.StorageError("kvstore: get market ids", err)
	}
	return ids, nil
}

// GetMarketCount returns the cardinality of markets:all.
func (s *Store) GetMarketCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, keyAllMarkets).Result()
	if err != nil {
		return 0, domain.StorageError("kvstore: count markets", err)
	}
	return n, nil
}

// encodeMarket flattens a market into hash fields. Absent optionals become
// "" and booleans "1"/"0".
func encodeMarket(m domain.Market) map[string]any {
	return map[string]any{
		"condition_id":   m.ConditionID,
		"question_id":    domain.Deref(m.QuestionID),
		"question":       m.Question,
		"description":    domain.Deref(m.Description),
		"market_slug":    domain.Deref(m.MarketSlug),
		"outcomes":       m.Outcomes,
		"outcome_prices": domain.Deref(m.OutcomePrices),
		"volume":         domain.Deref(m.Volume),
		"liquidity":      domain.Deref(m.Liquidity),
		"end_date":       domain.Deref(m.EndDate),
		"active":         encodeBool(m.Active),
		"closed":         encodeBool(m.Closed),
	}
}

func decodeMarket(f map[string]string) (*domain.StoredMarket, error) {
	sm := &domain.StoredMarket{
		Market: domain.Market{
			ConditionID:   f["condition_id"],
			QuestionID:    domain.NonEmpty(f["question_id"]),
			Question:      f["question"],
			Description:   domain.NonEmpty(f["description"]),
			MarketSlug:    domain.NonEmpty(f["market_slug"]),
			Outcomes:      f["outcomes"],
			OutcomePrices: domain.NonEmpty(f["outcome_prices"]),
			Volume:        domain.NonEmpty(f["volume"]),
			Liquidity:     domain.NonEmpty(f["liquidity"]),
			EndDate:       domain.NonEmpty(f["end_date"]),
			Active:        decodeBool(f["active"]),
			Closed:        decodeBool(f["closed"]),
		},
	}

	var err error
	if sm.FirstSeenAt, err = parseTime(f["first_seen_at"]); err != nil {
		return nil, fmt.Errorf("first_seen_at: %w", err)
	}
	if sm.LastUpdatedAt, err = parseTime(f["last_updated_at"]); err != nil {
		return nil, fmt.Errorf("last_updated_at: %w", err)
	}
	return sm, nil
}

func encodeBool(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "1"
	default:
		return "0"
	}
}

func decodeBool(s string) *bool {
	switch s {
	case "1", "true":
		return domain.BoolPtr(true)
	case "0", "false":
		return domain.BoolPtr(false)
	default:
		return nil
	}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
