package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// SaveEvent appends an event row.
func (s *Store) SaveEvent(ctx context.Context, e domain.MarketEvent) error {
	m := e.Market.Canonical()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO market_events (
			event_id, condition_id, event_type, question,
			outcomes, outcome_prices, volume, liquidity, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, m.ConditionID, string(e.Kind), m.Question,
		m.Outcomes, nullString(m.OutcomePrices), nullString(m.Volume), nullString(m.Liquidity),
		formatTime(e.Timestamp),
	)
	if err != nil {
		return domain.StorageError(fmt.Sprintf("sqlstore: save event %s for %s", e.Kind, m.ConditionID), err)
	}
	return nil
}

// SavePriceHistory appends a price point stamped with the store clock.
func (s *Store) SavePriceHistory(ctx context.Context, conditionID string, outcomePrices, volume *string) error {
	var prices, vol *string
	if outcomePrices != nil {
		prices = domain.StringPtr(domain.NormalizePrices(*outcomePrices))
	}
	if volume != nil {
		vol = domain.StringPtr(domain.NormalizeDecimal(*volume))
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO price_history (condition_id, outcome_prices, volume, timestamp)
		VALUES (?, ?, ?, ?)`),
		conditionID, nullString(prices), nullString(vol), formatTime(s.now()),
	)
	if err != nil {
		return domain.StorageError("sqlstore: save price history for "+conditionID, err)
	}
	return nil
}

// GetEventCount returns the number of persisted events.
func (s *Store) GetEventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM market_events").Scan(&n); err != nil {
		return 0, domain.StorageError("sqlstore: count events", err)
	}
	return n, nil
}

// GetPriceHistory returns up to limit price points, newest first.
func (s *Store) GetPriceHistory(ctx context.Context, conditionID string, limit int) ([]domain.PricePoint, error) {
	if limit <= 0 {
		return []domain.PricePoint{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT outcome_prices, volume, timestamp
		FROM price_history
		WHERE condition_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`),
		conditionID, limit,
	)
	if err != nil {
		return nil, domain.StorageError("sqlstore: get price history for "+conditionID, err)
	}
	defer rows.Close()

	points := []domain.PricePoint{}
	for rows.Next() {
		var prices, volume sql.NullString
		var ts string
		if err := rows.Scan(&prices, &volume, &ts); err != nil {
			return nil, domain.StorageError("sqlstore: scan price point", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, domain.StorageError("sqlstore: parse price point timestamp", err)
		}
		points = append(points, domain.PricePoint{
			OutcomePrices: prices.String,
			Volume:        volume.String,
			Timestamp:     t,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlstore: iterate price history", err)
	}
	return points, nil
}

// GetRecentEvents returns up to limit events, newest first.
func (s *Store) GetRecentEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		return []domain.EventRecord{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT event_type, question, outcome_prices, timestamp
		FROM market_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, domain.StorageError("sqlstore: get recent events", err)
	}
	defer rows.Close()

	events := []domain.EventRecord{}
	for rows.Next() {
		var kind, question, ts string
		var prices sql.NullString
		if err := rows.Scan(&kind, &question, &prices, &ts); err != nil {
			return nil, domain.StorageError("sqlstore: scan event", err)
		}
		k, err := domain.ParseEventKind(kind)
		if err != nil {
			return nil, domain.StorageError("sqlstore: decode event", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, domain.StorageError("sqlstore: parse event timestamp", err)
		}
		events = append(events, domain.EventRecord{
			Kind:          k,
			Question:      question,
			OutcomePrices: prices.String,
			Timestamp:     t,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlstore: iterate events", err)
	}
	return events, nil
}

// GetEventStats returns per-kind event counts plus the Total pseudo-kind.
// Kinds with no events are reported as zero.
func (s *Store) GetEventStats(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event_type, COUNT(*) FROM market_events GROUP BY event_type")
	if err != nil {
		return nil, domain.StorageError("sqlstore: get event stats", err)
	}
	defer rows.Close()

	stats := make(map[string]int64, len(domain.EventKinds)+1)
	for _, k := range domain.EventKinds {
		stats[string(k)] = 0
	}
	var total int64
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, domain.StorageError("sqlstore: scan event stats", err)
		}
		stats[kind] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlstore: iterate event stats", err)
	}
	stats[domain.StatsTotalKey] = total
	return stats, nil
}
