// Package kvstore implements domain.Store on Redis using go-redis/v9.
//
// Key schema:
//
//	market:{id}                hash of market fields plus first_seen_at, last_updated_at
//	markets:all                set of every condition id
//	events:recent              list of JSON events, newest at head, trimmed to 1000
//	market:{id}:price_history  sorted set of JSON price points scored by unix millis
//	stats:events:{kind}        per-kind event counter
//	stats:events:total         all-kinds event counter
package kvstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

const (
	keyAllMarkets   = "markets:all"
	keyRecentEvents = "events:recent"
	keyEventsTotal  = "stats:events:total"
)

func marketKey(id string) string              { return "market:" + id }
func priceHistoryKey(id string) string        { return "market:" + id + ":price_history" }
func eventStatsKey(k domain.EventKind) string { return "stats:events:" + string(k) }

// Store implements domain.Store on a Redis server.
type Store struct {
	rdb    *redis.Client
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Store = (*Store)(nil)

type options struct {
	poolSize int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures Open and New.
type Option func(*options)

// WithPoolSize overrides the go-redis pool size.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithClock replaces the clock used for market and price history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open parses a redis:// or rediss:// URL, connects and pings the server.
func Open(ctx context.Context, rawURL string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, domain.ConfigError("kvstore: parse url", "invalid KV_URL", err)
	}
	if o.poolSize > 0 {
		redisOpts.PoolSize = o.poolSize
	}

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, domain.StorageError("kvstore: ping", err)
	}
	return newStore(rdb, o), nil
}

// New wraps an existing client. The store takes ownership and closes it on
// Close.
func New(rdb *redis.Client, opts ...Option) *Store {
	return newStore(rdb, buildOptions(opts))
}

func newStore(rdb *redis.Client, o options) *Store {
	return &Store{
		rdb:    rdb,
		now:    o.now,
		logger: o.logger.With(slog.String("component", "kvstore")),
	}
}

// Init verifies connectivity. Redis needs no schema.
func (s *Store) Init(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return domain.StorageError("kvstore: init", err)
	}
	return nil
}

// Client returns the underlying go-redis client.
func (s *Store) Client() *redis.Client { return s.rdb }

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return domain.StorageError("kvstore: close", err)
	}
	return nil
}
