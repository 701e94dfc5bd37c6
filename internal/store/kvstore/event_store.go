package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// SaveEvent pushes the event onto events:recent, trims the list and bumps
// the per-kind and total counters in one MULTI/EXEC.
func (s *Store) SaveEvent(ctx context.Context, e domain.MarketEvent) error {
	e.Market = e.Market.Canonical()
	data, err := json.Marshal(e)
	if err != nil {
		return domain.StorageError("kvstore: marshal event", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, keyRecentEvents, data)
	pipe.LTrim(ctx, keyRecentEvents, 0, domain.MaxRecentEvents-1)
	pipe.Incr(ctx, eventStatsKey(e.Kind))
	pipe.Incr(ctx, keyEventsTotal)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StorageError(fmt.Sprintf("kvstore: save event %s for %s", e.Kind, e.Market.ConditionID), err)
	}
	return nil
}

// SavePriceHistory adds a price point scored by the current unix millis.
func (s *Store) SavePriceHistory(ctx context.Context, conditionID string, outcomePrices, volume *string) error {
	now := s.now().UTC()
	point := domain.PricePoint{
		OutcomePrices: domain.NormalizePrices(domain.Deref(outcomePrices)),
		Volume:        domain.NormalizeDecimal(domain.Deref(volume)),
		Timestamp:     now,
	}
	data, err := json.Marshal(point)
	if err != nil {
		return domain.StorageError("kvstore: marshal price point", err)
	}

	err = s.rdb.ZAdd(ctx, priceHistoryKey(conditionID), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return domain.StorageError("kvstore: save price history for "+conditionID, err)
	}
	return nil
}

// GetEventCount reads stats:events:total, which keeps counting after the
// recent list is trimmed.
func (s *Store) GetEventCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.Get(ctx, keyEventsTotal).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.StorageError("kvstore: count events", err)
	}
	return n, nil
}

// GetPriceHistory returns up to limit price points, newest first.
func (s *Store) GetPriceHistory(ctx context.Context, conditionID string, limit int) ([]domain.PricePoint, error) {
	if limit <= 0 {
		return []domain.PricePoint{}, nil
	}
	members, err := s.rdb.ZRevRange(ctx, priceHistoryKey(conditionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, domain.StorageError("kvstore: get price history for "+conditionID, err)
	}

	points := make([]domain.PricePoint, 0, len(members))
	for _, raw := range members {
		var p domain.PricePoint
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable price point",
				slog.String("condition_id", conditionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// GetRecentEvents returns up to limit events from the head of events:recent.
func (s *Store) GetRecentEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		return []domain.EventRecord{}, nil
	}
	items, err := s.rdb.LRange(ctx, keyRecentEvents, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, domain.StorageError("kvstore: get recent events", err)
	}

	records := make([]domain.EventRecord, 0, len(items))
	for _, raw := range items {
		var e domain.MarketEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable event", slog.String("error", err.Error()))
			continue
		}
		records = append(records, domain.EventRecord{
			Kind:          e.Kind,
			Question:      e.Market.Question,
			OutcomePrices: e.Market.PricesString(),
			Timestamp:     e.Timestamp.UTC(),
		})
	}
	return records, nil
}

// GetEventStats reads every per-kind counter; Total is their sum.
func (s *Store) GetEventStats(ctx context.Context) (map[string]int64, error) {
	keys := make([]string, len(domain.EventKinds))
	for i, k := range domain.EventKinds {
		keys[i] = eventStatsKey(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.StorageError("kvstore: get event stats", err)
	}

	stats := make(map[string]int64, len(keys)+1)
	var total int64
	for i, k := range domain.EventKinds {
		var n int64
		if v, ok := vals[i].(string); ok {
			n, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, domain.StorageError("kvstore: parse counter "+keys[i], err)
			}
		}
		stats[string(k)] = n
		total += n
	}
	stats[domain.StatsTotalKey] = total
	return stats, nil
}
