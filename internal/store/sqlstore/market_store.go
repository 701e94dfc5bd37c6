package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const marketColumns = `condition_id, question_id, question, description, market_slug,
	outcomes, outcome_prices, volume, liquidity, end_date, active, closed,
	first_seen_at, last_updated_at`

// SaveMarket upserts a single market.
func (s *Store) SaveMarket(ctx context.Context, m domain.Market) error {
	if err := s.upsertMarket(ctx, s.db, m.Canonical(), s.now()); err != nil {
		return domain.StorageError("sqlstore: save market "+m.ConditionID, err)
	}
	return nil
}

// SaveMarkets upserts every market inside one transaction.
func (s *Store) SaveMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("sqlstore: save markets: begin", err)
	}
	now := s.now()
	for i, m := range markets {
		if err := s.upsertMarket(ctx, tx, m.Canonical(), now); err != nil {
			_ = tx.Rollback()
			return domain.StorageError(fmt.Sprintf("sqlstore: save markets: item %d (%s)", i, m.ConditionID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError("sqlstore: save markets: commit", err)
	}
	return nil
}

// upsertMarket inserts m or, when the id exists, overwrites everything but
// first_seen_at in the same statement.
func (s *Store) upsertMarket(ctx context.Context, q querier, m domain.Market, now time.Time) error {
	ts := formatTime(now)
	_, err := q.ExecContext(ctx, s.rebind(`
		INSERT INTO markets (`+marketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO UPDATE SET
			question_id     = excluded.question_id,
			question        = excluded.question,
			description     = excluded.description,
			market_slug     = excluded.market_slug,
			outcomes        = excluded.outcomes,
			outcome_prices  = excluded.outcome_prices,
			volume          = excluded.volume,
			liquidity       = excluded.liquidity,
			end_date        = excluded.end_date,
			active          = excluded.active,
			closed          = excluded.closed,
			last_updated_at = excluded.last_updated_at`),
		m.ConditionID, nullString(m.QuestionID), m.Question, nullString(m.Description), nullString(m.MarketSlug),
		m.Outcomes, nullString(m.OutcomePrices), nullString(m.Volume), nullString(m.Liquidity),
		nullString(m.EndDate), nullBool(m.Active), nullBool(m.Closed),
		ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// GetMarket returns the stored market or nil when the id is unknown.
func (s *Store) GetMarket(ctx context.Context, conditionID string) (*domain.StoredMarket, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+marketColumns+" FROM markets WHERE condition_id = ?"),
		conditionID,
	)
	sm, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("sqlstore: get market "+conditionID, err)
	}
	return sm, nil
}

// GetAllMarketIDs returns every stored condition id.
func (s *Store) GetAllMarketIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT condition_id FROM markets")
	if err != nil {
		return nil, domain.StorageError("sqlstore: get market ids", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.StorageError("sqlstore: scan market id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlstore: iterate market ids", err)
	}
	return ids, nil
}

// GetMarketCount returns the number of stored markets.
func (s *Store) GetMarketCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markets").Scan(&n); err != nil {
		return 0, domain.StorageError("sqlstore: count markets", err)
	}
	return n, nil
}

func scanMarket(row *sql.Row) (*domain.StoredMarket, error) {
	var sm domain.StoredMarket
	var questionID, description, slug, prices, volume, liquidity, endDate sql.NullString
	var active, closed sql.NullBool
	var firstSeen, lastUpdated string
	err := row.Scan(
		&sm.ConditionID, &questionID, &sm.Question, &description, &slug,
		&sm.Outcomes, &prices, &volume, &liquidity, &endDate, &active, &closed,
		&firstSeen, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	sm.QuestionID = stringPtr(questionID)
	sm.Description = stringPtr(description)
	sm.MarketSlug = stringPtr(slug)
	sm.OutcomePrices = stringPtr(prices)
	sm.Volume = stringPtr(volume)
	sm.Liquidity = stringPtr(liquidity)
	sm.EndDate = stringPtr(endDate)
	sm.Active = boolPtr(active)
	sm.Closed = boolPtr(closed)

	if sm.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen_at: %w", err)
	}
	if sm.LastUpdatedAt, err = parseTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("parse last_updated_at: %w", err)
	}
	return &sm, nil
}
