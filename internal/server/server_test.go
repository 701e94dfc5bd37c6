package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/bus"
	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/server/handler"
	"github.com/alanyoungcy/marketscanner/internal/server/ws"
	"github.com/alanyoungcy/marketscanner/internal/store/jsonstore"
	"github.com/alanyoungcy/marketscanner/internal/store/storetest"
)

type fixedTracked int

func (f fixedTracked) TrackedCount() int { return int(f) }

type fixture struct {
	srv   *httptest.Server
	bus   *bus.MemoryBus
	store domain.Store
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	clock := storetest.NewClock(storetest.T0)
	store := jsonstore.New(t.TempDir(), jsonstore.WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))

	a := storetest.Market("0xa", `["0.4","0.6"]`)
	require.NoError(t, store.SaveMarkets(ctx, []domain.Market{a, storetest.Market("0xb", `["0.1","0.9"]`)}))
	require.NoError(t, store.SaveEvent(ctx, storetest.Event(domain.EventNewMarket, a, clock.Now())))
	require.NoError(t, store.SavePriceHistory(ctx, "0xa", a.OutcomePrices, a.Volume))

	logger := slog.Default()
	mb := bus.NewMemoryBus()
	hub := ws.NewHub(mb, domain.DefaultEventChannel, logger)
	hubCtx, cancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	s := NewServer(Config{APIKey: apiKey, CORSOrigins: []string{"https://dash.example"}}, Handlers{
		Health:  handler.NewHealthHandler(fixedTracked(7), "json", logger),
		Markets: handler.NewMarketHandler(store, logger),
		Events:  handler.NewEventHandler(store, logger),
	}, hub, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		mb.Close()
	})
	return &fixture{srv: srv, bus: mb, store: store}
}

func (f *fixture) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	var body map[string]any
	resp := f.get(t, "/api/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "json", body["storage"])
	assert.EqualValues(t, 7, body["tracked_markets"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStats(t *testing.T) {
	f := newFixture(t, "")
	var body struct {
		Markets    int64            `json:"markets"`
		Events     int64            `json:"events"`
		EventStats map[string]int64 `json:"event_stats"`
	}
	f.get(t, "/api/stats", &body)
	assert.Equal(t, int64(2), body.Markets)
	assert.Equal(t, int64(1), body.Events)
	assert.Equal(t, int64(1), body.EventStats["NewMarket"])
	assert.Equal(t, int64(1), body.EventStats[domain.StatsTotalKey])
}

func TestMarkets(t *testing.T) {
	f := newFixture(t, "")

	var list struct {
		IDs   []string `json:"ids"`
		Total int      `json:"total"`
	}
	f.get(t, "/api/markets", &list)
	assert.Equal(t, []string{"0xa", "0xb"}, list.IDs)
	assert.Equal(t, 2, list.Total)

	var m domain.StoredMarket
	resp := f.get(t, "/api/markets/0xa", &m)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0xa", m.ConditionID)
	storetest.SameInstant(t, storetest.T0, m.FirstSeenAt)

	resp = f.get(t, "/api/markets/0xmissing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var prices struct {
		ConditionID string              `json:"condition_id"`
		Prices      []domain.PricePoint `json:"prices"`
	}
	f.get(t, "/api/markets/0xa/prices?limit=5", &prices)
	require.Len(t, prices.Prices, 1)
	assert.Equal(t, `["0.4","0.6"]`, prices.Prices[0].OutcomePrices)

	f.get(t, "/api/markets/0xb/prices", &prices)
	assert.NotNil(t, prices.Prices)
	assert.Empty(t, prices.Prices)
}

func TestRecentEvents(t *testing.T) {
	f := newFixture(t, "")
	var body struct {
		Events []domain.EventRecord `json:"events"`
	}
	f.get(t, "/api/events/recent?limit=-3", &body)
	require.Len(t, body.Events, 1)
	assert.Equal(t, domain.EventNewMarket, body.Events[0].Kind)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret")

	resp := f.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/api/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "secret")

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, "")

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "hello", env.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "kinds": []string{"MarketClosed"}}))

	publish := func(kind domain.EventKind, id string) {
		payload, err := json.Marshal(storetest.Event(kind, storetest.Market(id, `["1","0"]`), storetest.T0))
		require.NoError(t, err)
		require.NoError(t, f.bus.Publish(context.Background(), domain.DefaultEventChannel, payload))
	}

	// The filter lands asynchronously, so PriceChange frames that beat it are
	// skipped; publish until the closed event arrives.
	done := make(chan domain.MarketEvent, 1)
	go func() {
		for {
			var env ws.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				close(done)
				return
			}
			var e domain.MarketEvent
			if json.Unmarshal(env.Payload, &e) == nil && e.Kind != domain.EventPriceChange {
				done <- e
				return
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		publish(domain.EventPriceChange, "0xp")
		publish(domain.EventMarketClosed, "0xc")
		select {
		case e, ok := <-done:
			require.True(t, ok, "connection closed before an event arrived")
			assert.Equal(t, domain.EventMarketClosed, e.Kind)
			assert.Equal(t, "0xc", e.Market.ConditionID)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
