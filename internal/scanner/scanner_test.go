package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/platform/polymarket"
	"github.com/alanyoungcy/marketscanner/internal/store/jsonstore"
	"github.com/alanyoungcy/marketscanner/internal/store/sqlstore"
)

func market(id, prices, volume string, closed bool) domain.Market {
	return domain.Market{
		ConditionID:   id,
		Question:      "Q " + id,
		Outcomes:      `["Yes","No"]`,
		OutcomePrices: domain.StringPtr(prices),
		Volume:        domain.StringPtr(volume),
		Active:        domain.BoolPtr(true),
		Closed:        domain.BoolPtr(closed),
	}
}

func kinds(events []domain.MarketEvent) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// fakeSource returns the queued live pages in order, then repeats the last.
type fakeSource struct {
	mu      sync.Mutex
	live    [][]domain.Market
	calls   int
	liveErr error
	pages   [][]domain.Market
	onLive  func(call int)
}

func (f *fakeSource) FetchLive(_ context.Context, _ int) ([]domain.Market, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var page []domain.Market
	if len(f.live) > 0 {
		page = f.live[min(call, len(f.live))-1]
	}
	err := f.liveErr
	hook := f.onLive
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return page, err
}

func (f *fakeSource) StreamAll(ctx context.Context, _ int, sink polymarket.PageSink) (int, error) {
	total := 0
	for _, p := range f.pages {
		total += len(p)
		if err := sink(ctx, p); err != nil {
			return total, err
		}
	}
	return total, nil
}

// recordingStore captures writes. It embeds domain.Store so unused reads
// panic loudly instead of silently passing.
type recordingStore struct {
	domain.Store

	mu          sync.Mutex
	saved       []domain.Market
	batches     [][]domain.Market
	events      []domain.MarketEvent
	prices      []string
	batchErr    error
	initialized map[string]domain.StoredMarket
}

func (r *recordingStore) SaveMarket(_ context.Context, m domain.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, m)
	return nil
}

func (r *recordingStore) SaveMarkets(_ context.Context, ms []domain.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	r.batches = append(r.batches, ms)
	return nil
}

func (r *recordingStore) SaveEvent(_ context.Context, e domain.MarketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingStore) SavePriceHistory(_ context.Context, id string, prices, _ *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, id+"="+domain.Deref(prices))
	return nil
}

func (r *recordingStore) GetAllMarketIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.initialized))
	for id := range r.initialized {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *recordingStore) GetMarket(_ context.Context, id string) (*domain.StoredMarket, error) {
	sm, ok := r.initialized[id]
	if !ok {
		return nil, nil
	}
	return &sm, nil
}

type fakeBus struct {
	domain.EventBus
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []domain.EventKind
	err   error
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, e domain.MarketEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, e.Kind)
	return n.err
}

func waitIdle(t *testing.T, s *Scanner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestDiff(t *testing.T) {
	base := market("a", `["0.5","0.5"]`, "1000", false)

	tests := []struct {
		name  string
		prior *domain.Market
		next  domain.Market
		want  []domain.EventKind
	}{
		{"unseen", nil, base, []domain.EventKind{domain.EventNewMarket}},
		{"identical", &base, base, nil},
		{"price only", &base, market("a", `["0.6","0.4"]`, "1000", false), []domain.EventKind{domain.EventPriceChange}},
		{"volume only", &base, market("a", `["0.5","0.5"]`, "1001", false), []domain.EventKind{domain.EventVolumeUpdate}},
		{"closes", &base, market("a", `["0.5","0.5"]`, "1000", true), []domain.EventKind{domain.EventMarketClosed}},
		{
			"everything changes",
			&base,
			market("a", `["0.6","0.4"]`, "1200", true),
			[]domain.EventKind{domain.EventPriceChange, domain.EventVolumeUpdate, domain.EventMarketClosed},
		},
		{
			"already closed",
			func() *domain.Market { m := market("a", `["0.5","0.5"]`, "1000", true); return &m }(),
			market("a", `["0.5","0.5"]`, "1000", true),
			nil,
		},
		{
			"prices appear",
			func() *domain.Market { m := base; m.OutcomePrices = nil; return &m }(),
			base,
			[]domain.EventKind{domain.EventPriceChange},
		},
		{
			"closed unknown to open",
			func() *domain.Market { m := base; m.Closed = nil; return &m }(),
			base,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.prior, tt.next))
		})
	}
}

func TestScanMarketsEmitsOrderedChanges(t *testing.T) {
	tracked := map[string]domain.Market{"a": market("a", "[0.5,0.5]", "1000", false)}
	next := market("a", "[0.6,0.4]", "1200", true)
	src := &fakeSource{live: [][]domain.Market{{next}}}
	s := New(src, nil)

	events, err := s.ScanMarkets(context.Background(), tracked)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{domain.EventPriceChange, domain.EventVolumeUpdate, domain.EventMarketClosed}, kinds(events))
	for _, e := range events {
		assert.Equal(t, "a", e.Market.ConditionID)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, next, tracked["a"])
}

func TestScanMarketsNewMarket(t *testing.T) {
	tracked := map[string]domain.Market{}
	src := &fakeSource{live: [][]domain.Market{{market("a", "[0.5,0.5]", "1", false)}}}
	s := New(src, nil)

	events, err := s.ScanMarkets(context.Background(), tracked)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{domain.EventNewMarket}, kinds(events))
	assert.Contains(t, tracked, "a")
}

func TestScanMarketsIdenticalPollIsSilent(t *testing.T) {
	page := []domain.Market{
		market("a", `["0.5","0.5"]`, "10", false),
		market("b", `["0.1","0.9"]`, "20", true),
	}
	src := &fakeSource{live: [][]domain.Market{page, page}}
	s := New(src, nil)
	tracked := map[string]domain.Market{}

	first, err := s.ScanMarkets(context.Background(), tracked)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := s.ScanMarkets(context.Background(), tracked)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestScanMarketsEventOrderFollowsResponse(t *testing.T) {
	src := &fakeSource{live: [][]domain.Market{{
		market("c", "[1,0]", "1", false),
		market("a", "[1,0]", "1", false),
		market("b", "[1,0]", "1", false),
	}}}
	events, err := New(src, nil).ScanMarkets(context.Background(), map[string]domain.Market{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].Market.ConditionID)
	assert.Equal(t, "a", events[1].Market.ConditionID)
	assert.Equal(t, "b", events[2].Market.ConditionID)
}

func TestScanMarketsSourceError(t *testing.T) {
	src := &fakeSource{liveErr: domain.NetworkError("GET /markets", errors.New("refused"))}
	tracked := map[string]domain.Market{"a": market("a", "[1,0]", "1", false)}

	_, err := New(src, nil).ScanMarkets(context.Background(), tracked)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNetwork))
	assert.Len(t, tracked, 1)
}

func TestHandleEventSideEffects(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	bus := &fakeBus{}
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	s := New(&fakeSource{}, store, WithBus(bus, "events"), WithNotifier(notifier))

	open := market("a", `["0.5","0.5"]`, "10", false)
	closed := market("b", `["0.9","0.1"]`, "30", true)

	s.HandleEvent(ctx, domain.MarketEvent{ID: "1", Market: open, Kind: domain.EventNewMarket})
	s.HandleEvent(ctx, domain.MarketEvent{ID: "2", Market: open, Kind: domain.EventVolumeUpdate})
	s.HandleEvent(ctx, domain.MarketEvent{ID: "3", Market: closed, Kind: domain.EventPriceChange})
	s.HandleEvent(ctx, domain.MarketEvent{ID: "4", Market: closed, Kind: domain.EventMarketClosed})
	waitIdle(t, s)

	assert.Len(t, store.events, 4)
	assert.ElementsMatch(t, []string{"a=" + `["0.5","0.5"]`, "b=" + `["0.9","0.1"]`}, store.prices)
	require.Len(t, store.saved, 2)
	for _, m := range store.saved {
		assert.False(t, m.IsClosed(), "closed markets are not upserted")
	}

	require.Len(t, bus.payloads, 4)
	for i, p := range bus.payloads {
		assert.Equal(t, "events", bus.channels[i])
		var e domain.MarketEvent
		require.NoError(t, json.Unmarshal(p, &e))
		assert.NotEmpty(t, e.ID)
	}
	assert.Len(t, notifier.kinds, 4)
}

func TestHandleEventPersistsEveryEventToSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, "sqlite:"+t.TempDir()+"/scan.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(ctx))

	s := New(&fakeSource{}, store)
	const n = 50
	for i := 0; i < n; i++ {
		m := market(fmt.Sprintf("m%d", i), `["0.5","0.5"]`, "100", false)
		s.HandleEvent(ctx, domain.MarketEvent{ID: strconv.Itoa(i), Market: m, Timestamp: time.Now().UTC(), Kind: domain.EventNewMarket})
	}
	waitIdle(t, s)

	events, err := store.GetEventCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, events)

	markets, err := store.GetMarketCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, markets)
}

func TestHandleEventWithoutStore(t *testing.T) {
	s := New(&fakeSource{}, nil)
	s.HandleEvent(context.Background(), domain.MarketEvent{Market: market("a", "[1,0]", "1", false), Kind: domain.EventNewMarket})
	waitIdle(t, s)
}

func TestScanAllSkipsClosedMarkets(t *testing.T) {
	store := &recordingStore{}
	src := &fakeSource{pages: [][]domain.Market{
		{market("a", "[1,0]", "1", false), market("b", "[1,0]", "1", true)},
		{market("c", "[1,0]", "1", true)},
		{market("d", "[1,0]", "1", false)},
	}}
	s := New(src, store)

	total, err := s.ScanAll(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	var ids []string
	for _, batch := range store.batches {
		for _, m := range batch {
			assert.False(t, m.IsClosed())
			ids = append(ids, m.ConditionID)
		}
	}
	assert.Equal(t, []string{"a", "d"}, ids)
	assert.Empty(t, store.saved)
}

func TestScanAllContinuesAfterStoreFailure(t *testing.T) {
	store := &recordingStore{batchErr: domain.StorageError("save", errors.New("disk full"))}
	src := &fakeSource{pages: [][]domain.Market{
		{market("a", "[1,0]", "1", false)},
		{market("b", "[1,0]", "1", false)},
	}}

	total, err := New(src, store).ScanAll(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestScanAllRequiresStore(t *testing.T) {
	_, err := New(&fakeSource{}, nil).ScanAll(context.Background(), 10)
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func TestStartHydratesAndSkipsFailedTicks(t *testing.T) {
	known := market("a", `["0.5","0.5"]`, "10", false)
	store := &recordingStore{initialized: map[string]domain.StoredMarket{"a": {Market: known}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{live: [][]domain.Market{{known}}}
	src.onLive = func(call int) {
		if call == 1 {
			src.mu.Lock()
			src.liveErr = errors.New("flaky")
			src.mu.Unlock()
		}
		if call == 3 {
			cancel()
		}
	}
	s := New(src, store)

	err := s.Start(ctx, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	waitIdle(t, s)

	assert.Equal(t, 1, s.TrackedCount())
	assert.Empty(t, store.events, "hydrated market is not new")
	src.mu.Lock()
	assert.GreaterOrEqual(t, src.calls, 3)
	src.mu.Unlock()
}

// gammaServer serves count markets paged by offset/limit. Every hundredth
// market (ids ending in 99) is closed.
func gammaServer(t *testing.T, count int) *httptest.Server {
	t.Helper()
	all := make([]map[string]any, count)
	for i := range all {
		all[i] = map[string]any{
			"conditionId":   fmt.Sprintf("0x%04d", i),
			"question":      fmt.Sprintf("Market %d?", i),
			"outcomes":      `["Yes","No"]`,
			"outcomePrices": `["0.5","0.5"]`,
			"volume":        "100",
			"active":        true,
			"closed":        i%100 == 99,
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := min(offset+limit, len(all))
		page := []map[string]any{}
		if offset < len(all) {
			page = all[offset:end]
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFullIngestionThenLiveLoop(t *testing.T) {
	ctx := context.Background()
	srv := gammaServer(t, 1037)
	client := polymarket.NewGammaClient(srv.URL)
	store := jsonstore.New(t.TempDir())
	require.NoError(t, store.Init(ctx))

	s := New(client, store)
	total, err := s.ScanAll(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 1037, total)

	n, err := store.GetMarketCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1037-10, n)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Start(runCtx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return s.TrackedCount() >= 1037-10 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	waitIdle(t, s)

	events, err := store.GetEventCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, events, "live window was fully ingested beforehand")
}
