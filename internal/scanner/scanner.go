// Package scanner keeps the in-memory view of live markets, diffs each poll
// against it and hands detected changes to persistence, the event bus and
// notifications.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/platform/polymarket"
)

const (
	// DefaultLiveLimit is the size of the live window polled each tick.
	DefaultLiveLimit = 50

	defaultPersistTimeout = 30 * time.Second
)

// Source is the remote market feed.
type Source interface {
	FetchLive(ctx context.Context, limit int) ([]domain.Market, error)
	StreamAll(ctx context.Context, batchSize int, sink polymarket.PageSink) (int, error)
}

// Notifier delivers operator alerts for detected events.
type Notifier interface {
	NotifyEvent(ctx context.Context, e domain.MarketEvent) error
}

// Scanner polls a Source and turns differences between polls into
// MarketEvents.
type Scanner struct {
	source   Source
	store    domain.Store
	bus      domain.EventBus
	channel  string
	notifier Notifier
	logger   *slog.Logger

	liveLimit      int
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string

	mu      sync.RWMutex
	tracked map[string]domain.Market

	inflight sync.WaitGroup
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBus publishes every event as JSON on channel.
func WithBus(bus domain.EventBus, channel string) Option {
	return func(s *Scanner) {
		s.bus = bus
		s.channel = channel
	}
}

// WithNotifier forwards events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Scanner) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithLiveLimit overrides the live window size.
func WithLiveLimit(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.liveLimit = n
		}
	}
}

// WithClock replaces the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithPersistTimeout bounds each background persistence task.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.persistTimeout = d }
}

// New creates a Scanner. store may be nil, in which case events are only
// logged, published and notified.
func New(source Source, store domain.Store, opts ...Option) *Scanner {
	s := &Scanner{
		source:         source,
		store:          store,
		channel:        domain.DefaultEventChannel,
		logger:         slog.Default(),
		liveLimit:      DefaultLiveLimit,
		persistTimeout: defaultPersistTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		tracked:        make(map[string]domain.Market),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scanner"))
	return s
}

// Start warms the tracked map from the store and then polls the live window
// every interval until ctx is cancelled. Tick failures are logged and the
// loop carries on. The returned error is always ctx.Err().
func (s *Scanner) Start(ctx context.Context, interval time.Duration) error {
	s.hydrate(ctx)
	s.logger.InfoContext(ctx, "scanner started",
		slog.Duration("interval", interval),
		slog.Int("live_limit", s.liveLimit),
		slog.Int("tracked", s.TrackedCount()),
	)

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	markets, err := s.source.FetchLive(ctx, s.liveLimit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "scan failed, skipping tick", slog.String("error", err.Error()))
		}
		return
	}

	s.mu.Lock()
	events := s.apply(s.tracked, markets)
	s.mu.Unlock()

	if len(events) > 0 {
		s.logger.DebugContext(ctx, "scan produced events", slog.Int("events", len(events)))
	}
	for _, e := range events {
		s.HandleEvent(ctx, e)
	}
}

// hydrate loads every stored market into the tracked map so a restart does
// not report the whole corpus as new.
func (s *Scanner) hydrate(ctx context.Context) {
	if s.store == nil {
		return
	}
	ids, err := s.store.GetAllMarketIDs(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "could not load tracked markets", slog.String("error", err.Error()))
		return
	}

	loaded := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		sm, err := s.store.GetMarket(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "could not load tracked market",
				slog.String("condition_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sm == nil {
			continue
		}
		s.tracked[id] = sm.Market
		loaded++
	}
	s.logger.InfoContext(ctx, "tracked markets loaded from store", slog.Int("markets", loaded))
}

// ScanMarkets fetches the live window and diffs it against tracked, which is
// updated in place. Events follow the order of the response.
func (s *Scanner) ScanMarkets(ctx context.Context, tracked map[string]domain.Market) ([]domain.MarketEvent, error) {
	markets, err := s.source.FetchLive(ctx, s.liveLimit)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch live markets: %w", err)
	}
	return s.apply(tracked, markets), nil
}

func (s *Scanner) apply(tracked map[string]domain.Market, markets []domain.Market) []domain.MarketEvent {
	now := s.now()
	var events []domain.MarketEvent
	for _, m := range markets {
		var prior *domain.Market
		if p, ok := tracked[m.ConditionID]; ok {
			prior = &p
		}
		for _, kind := range Diff(prior, m) {
			events = append(events, domain.MarketEvent{
				ID:        s.newID(),
				Market:    m,
				Timestamp: now,
				Kind:      kind,
			})
		}
		tracked[m.ConditionID] = m
	}
	return events
}

// HandleEvent logs e and dispatches its side effects to a background task so
// the scan loop never waits on the store, the bus or a notifier. Failures
// there are logged and dropped.
func (s *Scanner) HandleEvent(ctx context.Context, e domain.MarketEvent) {
	s.logEvent(ctx, e)

	if s.store == nil && s.bus == nil && s.notifier == nil {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
		defer cancel()

		if s.store != nil {
			s.persist(taskCtx, e)
		}
		if s.bus != nil {
			s.publish(taskCtx, e)
		}
		if s.notifier != nil {
			if err := s.notifier.NotifyEvent(taskCtx, e); err != nil {
				s.logger.WarnContext(taskCtx, "notification failed",
					slog.String("event_type", string(e.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

func (s *Scanner) persist(ctx context.Context, e domain.MarketEvent) {
	m := e.Market
	fail := func(op string, err error) {
		s.logger.ErrorContext(ctx, "persist failed",
			slog.String("op", op),
			slog.String("condition_id", m.ConditionID),
			slog.String("event_type", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}

	if err := s.store.SaveEvent(ctx, e); err != nil {
		fail("save_event", err)
	}
	if !m.IsClosed() {
		if err := s.store.SaveMarket(ctx, m); err != nil {
			fail("save_market", err)
		}
	}
	if e.Kind == domain.EventPriceChange || e.Kind == domain.EventNewMarket {
		if err := s.store.SavePriceHistory(ctx, m.ConditionID, m.OutcomePrices, m.Volume); err != nil {
			fail("save_price_history", err)
		}
	}
}

func (s *Scanner) publish(ctx context.Context, e domain.MarketEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", s.channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scanner) logEvent(ctx context.Context, e domain.MarketEvent) {
	m := e.Market
	attrs := []any{
		slog.String("condition_id", m.ConditionID),
		slog.String("question", m.Question),
	}
	switch e.Kind {
	case domain.EventNewMarket:
		s.logger.InfoContext(ctx, "new market", append(attrs, slog.String("outcome_prices", m.PricesString()))...)
	case domain.EventPriceChange:
		s.logger.InfoContext(ctx, "price change", append(attrs, slog.String("outcome_prices", m.PricesString()))...)
	case domain.EventVolumeUpdate:
		s.logger.InfoContext(ctx, "volume update", append(attrs, slog.String("volume", m.VolumeString()))...)
	case domain.EventMarketClosed:
		s.logger.InfoContext(ctx, "market closed", attrs...)
	}
}

// ScanAll streams the whole active corpus into the store in pages of
// batchSize, skipping closed markets. A failed batch save is logged and the
// stream continues. It returns the number of markets received.
func (s *Scanner) ScanAll(ctx context.Context, batchSize int) (int, error) {
	if s.store == nil {
		return 0, domain.ConfigError("scanner: scan all", "no store configured", nil)
	}

	saved := 0
	total, err := s.source.StreamAll(ctx, batchSize, func(ctx context.Context, batch []domain.Market) error {
		open := make([]domain.Market, 0, len(batch))
		for _, m := range batch {
			if !m.IsClosed() {
				open = append(open, m)
			}
		}
		if len(open) == 0 {
			return nil
		}
		if err := s.store.SaveMarkets(ctx, open); err != nil {
			s.logger.ErrorContext(ctx, "saving market batch failed",
				slog.Int("batch_size", len(open)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		saved += len(open)
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("scanner: scan all: %w", err)
	}

	s.logger.InfoContext(ctx, "full scan complete",
		slog.Int("received", total),
		slog.Int("saved", saved),
	)
	return total, nil
}

// Tracked returns a copy of the tracked map.
func (s *Scanner) Tracked() map[string]domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Market, len(s.tracked))
	for id, m := range s.tracked {
		out[id] = m
	}
	return out
}

// TrackedCount returns the number of tracked markets.
func (s *Scanner) TrackedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked)
}

// Wait blocks until every background task started by HandleEvent has
// finished or ctx is done.
func (s *Scanner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scanner: waiting for in-flight tasks: %w", ctx.Err())
	}
}
