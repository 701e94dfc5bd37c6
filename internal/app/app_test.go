package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/config"
	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// gammaStub serves total markets, sorted by id, honouring limit and offset.
// Market "0x0" has a price that moves on every request after the first.
func gammaStub(t *testing.T, total int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var records []string
		for i := offset; i < min(offset+limit, total); i++ {
			price := "0.5"
			if i == 0 && n > 1 {
				price = fmt.Sprintf("0.%d", 50+n%40)
			}
			records = append(records, fmt.Sprintf(
				`{"conditionId":"0x%d","question":"Q%d","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"%s\",\"0.5\"]","volume":"10","active":true,"closed":false}`,
				i, i, price))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(records, ",") + "]"))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testConfig(t *testing.T, gammaURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Storage.JSONPath = t.TempDir()
	cfg.Gamma.Host = gammaURL
	cfg.Gamma.PageDelay.Duration = 0
	cfg.Scan.BatchSize = 10
	cfg.Scan.LiveLimit = 5
	cfg.Scan.Interval.Duration = 10 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestIngestMode(t *testing.T) {
	srv, _ := gammaStub(t, 25)
	cfg := testConfig(t, srv.URL)
	cfg.Mode = config.ModeIngest

	a := New(cfg, slog.Default())
	require.NoError(t, a.Run(context.Background()))
	a.Close()

	store, err := OpenStore(context.Background(), cfg.Storage, slog.Default())
	require.NoError(t, err)
	defer store.Close()
	n, err := store.GetMarketCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)
}

func TestScanModeRecordsPriceChanges(t *testing.T) {
	srv, requests := gammaStub(t, 5)
	cfg := testConfig(t, srv.URL)
	cfg.Scan.AllFirst = true

	ctx, cancel := context.WithCancel(context.Background())
	a := New(cfg, slog.Default())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return requests.Load() >= 5 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	a.Close()

	store, err := OpenStore(context.Background(), cfg.Storage, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.GetEventStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats[string(domain.EventNewMarket)], "markets ingested first are not new")
	assert.Positive(t, stats[string(domain.EventPriceChange)])
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StorageConfig{Type: "mongo"}, slog.Default())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func TestOpenStoreSQLite(t *testing.T) {
	store, err := OpenStore(context.Background(), config.StorageConfig{
		Type:         "sqlite",
		DatabaseURL:  "sqlite:" + t.TempDir() + "/scanner.db",
		MaxOpenConns: 2,
	}, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	n, err := store.GetMarketCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWireFailsOnBadRedisBus(t *testing.T) {
	srv, _ := gammaStub(t, 0)
	cfg := testConfig(t, srv.URL)
	cfg.Bus.Type = "redis"
	cfg.Bus.RedisURL = "not a url"

	_, _, err := Wire(context.Background(), cfg, slog.Default())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}
