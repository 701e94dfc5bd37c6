// Package jsonstore implements domain.Store as two JSON documents in a
// directory: markets.json and events.json. Price history is kept in memory
// only.
package jsonstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

const (
	marketsFile = "markets.json"
	eventsFile  = "events.json"
)

type marketsDoc struct {
	Markets map[string]domain.StoredMarket `json:"markets"`
}

// eventEntry is one element of events.json.
type eventEntry struct {
	ID            string           `json:"id,omitempty"`
	ConditionID   string           `json:"condition_id"`
	Kind          domain.EventKind `json:"event_type"`
	Question      string           `json:"question"`
	OutcomePrices string           `json:"outcome_prices"`
	Volume        string           `json:"volume"`
	Timestamp     time.Time        `json:"timestamp"`
}

type eventsDoc struct {
	Events []eventEntry     `json:"events"`
	Total  int64            `json:"total"`
	Stats  map[string]int64 `json:"stats,omitempty"`
}

// Store implements domain.Store on local JSON files.
//
// Each in-memory map has its own RWMutex which is never held across file
// I/O. A per-file mutex orders snapshot-and-write so an older snapshot can
// never replace a newer one on disk.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger

	marketsMu sync.RWMutex
	markets   map[string]domain.StoredMarket

	eventsMu sync.RWMutex
	events   []eventEntry // oldest first, at most domain.MaxRecentEvents
	total    int64
	stats    map[string]int64

	historyMu sync.RWMutex
	history   map[string][]domain.PricePoint // oldest first

	marketsFileMu sync.Mutex
	eventsFileMu  sync.Mutex
}

var _ domain.Store = (*Store)(nil)

// Option configures New.
type Option func(*Store)

// WithClock replaces the clock used for market and price history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a store rooted at dir. Nothing touches the disk until Init.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
		markets: make(map[string]domain.StoredMarket),
		stats:   newStats(),
		history: make(map[string][]domain.PricePoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "jsonstore"), slog.String("dir", dir))
	return s
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Init creates the directory, discards leftovers of interrupted writes and
// loads both documents. Missing files are an empty store.
func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.StorageError("jsonstore: create dir", err)
	}
	if err := s.removeStaleTemp(); err != nil {
		return err
	}

	var md marketsDoc
	if err := readJSON(filepath.Join(s.dir, marketsFile), &md); err != nil {
		return domain.StorageError("jsonstore: load "+marketsFile, err)
	}
	var ed eventsDoc
	if err := readJSON(filepath.Join(s.dir, eventsFile), &ed); err != nil {
		return domain.StorageError("jsonstore: load "+eventsFile, err)
	}

	s.marketsMu.Lock()
	s.markets = md.Markets
	if s.markets == nil {
		s.markets = make(map[string]domain.StoredMarket)
	}
	s.marketsMu.Unlock()

	s.eventsMu.Lock()
	s.events = ed.Events
	s.total = ed.Total
	if s.total < int64(len(s.events)) {
		s.total = int64(len(s.events))
	}
	s.stats = newStats()
	if len(ed.Stats) > 0 {
		for k, n := range ed.Stats {
			s.stats[k] = n
		}
	} else {
		for _, e := range ed.Events {
			s.stats[string(e.Kind)]++
		}
	}
	s.eventsMu.Unlock()

	s.logger.InfoContext(ctx, "json store loaded",
		slog.Int("markets", len(md.Markets)),
		slog.Int("events", len(ed.Events)),
	)
	return nil
}

func (s *Store) removeStaleTemp() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+tmpSuffix))
	if err != nil {
		return domain.StorageError("jsonstore: scan temp files", err)
	}
	for _, path := range matches {
		s.logger.Warn("removing leftover temp file", slog.String("path", path))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.StorageError("jsonstore: remove "+filepath.Base(path), err)
		}
	}
	return nil
}

// Close is a no-op; every save is flushed before it returns.
func (s *Store) Close() error { return nil }

// SaveMarket upserts a single market and flushes markets.json.
func (s *Store) SaveMarket(ctx context.Context, m domain.Market) error {
	s.marketsMu.Lock()
	s.upsertLocked(m.Canonical(), s.now())
	s.marketsMu.Unlock()

	if err := s.flushMarkets(); err != nil {
		return domain.StorageError("jsonstore: save market "+m.ConditionID, err)
	}
	return nil
}

// SaveMarkets upserts the batch and flushes markets.json once.
func (s *Store) SaveMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	now := s.now()
	s.marketsMu.Lock()
	for _, m := range markets {
		s.upsertLocked(m.Canonical(), now)
	}
	s.marketsMu.Unlock()

	if err := s.flushMarkets(); err != nil {
		return domain.StorageError(fmt.Sprintf("jsonstore: save %d markets", len(markets)), err)
	}
	return nil
}

func (s *Store) upsertLocked(m domain.Market, now time.Time) {
	firstSeen := now
	if prev, ok := s.markets[m.ConditionID]; ok {
		firstSeen = prev.FirstSeenAt
	}
	s.markets[m.ConditionID] = domain.StoredMarket{
		Market:        m,
		FirstSeenAt:   firstSeen,
		LastUpdatedAt: now,
	}
}

func (s *Store) flushMarkets() error {
	s.marketsFileMu.Lock()
	defer s.marketsFileMu.Unlock()

	s.marketsMu.RLock()
	snapshot := make(map[string]domain.StoredMarket, len(s.markets))
	for id, m := range s.markets {
		snapshot[id] = m
	}
	s.marketsMu.RUnlock()

	return writeJSONAtomic(s.dir, marketsFile, marketsDoc{Markets: snapshot})
}

// GetMarket returns the stored market or nil when the id is unknown.
func (s *Store) GetMarket(_ context.Context, conditionID string) (*domain.StoredMarket, error) {
	s.marketsMu.RLock()
	defer s.marketsMu.RUnlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// GetAllMarketIDs returns every stored condition id.
func (s *Store) GetAllMarketIDs(_ context.Context) ([]string, error) {
	s.marketsMu.RLock()
	defer s.marketsMu.RUnlock()
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	return ids, nil
}

// GetMarketCount returns the number of stored markets.
func (s *Store) GetMarketCount(_ context.Context) (int64, error) {
	s.marketsMu.RLock()
	defer s.marketsMu.RUnlock()
	return int64(len(s.markets)), nil
}

func newStats() map[string]int64 {
	stats := make(map[string]int64, len(domain.EventKinds))
	for _, k := range domain.EventKinds {
		stats[string(k)] = 0
	}
	return stats
}
