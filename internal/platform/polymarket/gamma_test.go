package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// pagedServer answers /markets with pages of the given sizes, in order of
// offset. It records every offset requested.
type pagedServer struct {
	*httptest.Server
	mu      sync.Mutex
	offsets []int
}

func newPagedServer(t *testing.T, sizes ...int) *pagedServer {
	t.Helper()
	ps := &pagedServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", q.Get("active"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		ps.mu.Lock()
		ps.offsets = append(ps.offsets, offset)
		ps.mu.Unlock()

		page := 0
		if limit > 0 {
			page = offset / limit
		}
		n := 0
		if page < len(sizes) {
			n = sizes[page]
		}
		records := make([]string, n)
		for i := range records {
			records[i] = fmt.Sprintf(`{"conditionId":"0x%d","question":"Q%d","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.5\",\"0.5\"]","volume":"10","active":true,"closed":false}`, offset+i, offset+i)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(records, ",") + "]"))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func TestStreamAllStopsOnShortPage(t *testing.T) {
	const batch = 5
	srv := newPagedServer(t, batch, batch, batch, 3)
	client := NewGammaClient(srv.URL)

	var sizes []int
	total, err := client.StreamAll(context.Background(), batch, func(_ context.Context, b []domain.Market) error {
		sizes = append(sizes, len(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{batch, batch, batch, 3}, sizes)
	assert.Equal(t, 3*batch+3, total)
	assert.Equal(t, []int{0, 5, 10, 15}, srv.offsets)
}

func TestStreamAllEmptyFirstPage(t *testing.T) {
	srv := newPagedServer(t)
	client := NewGammaClient(srv.URL)

	calls := 0
	total, err := client.StreamAll(context.Background(), 100, func(_ context.Context, b []domain.Market) error {
		calls++
		assert.Empty(t, b)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, 1, calls)
}

func TestStreamAllSinkErrorAborts(t *testing.T) {
	srv := newPagedServer(t, 2, 2, 2, 1)
	client := NewGammaClient(srv.URL)
	boom := errors.New("sink full")

	calls := 0
	_, err := client.StreamAll(context.Background(), 2, func(context.Context, []domain.Market) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{0, 2}, srv.offsets)
}

func TestStreamAllRejectsBadBatchSize(t *testing.T) {
	_, err := NewGammaClient("http://unused").StreamAll(context.Background(), 0, nil)
	require.Error(t, err)
}

func TestStreamAllCancelled(t *testing.T) {
	srv := newPagedServer(t, 1, 1, 1)
	client := NewGammaClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := client.StreamAll(ctx, 1, func(context.Context, []domain.Market) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, srv.offsets, 1)
}

func TestFetchPageErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewGammaClient(srv.URL).FetchPage(context.Background(), 10, 0)
		require.Error(t, err)
		var de *domain.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, domain.KindAPI, de.Kind)
		assert.Equal(t, http.StatusTooManyRequests, de.Status)
		assert.Equal(t, "rate limited", de.Body)
	})

	t.Run("transport", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewGammaClient(url).FetchPage(context.Background(), 10, 0)
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindNetwork))
	})

	t.Run("malformed body is an empty page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"unexpected"}`))
		}))
		defer srv.Close()

		markets, err := NewGammaClient(srv.URL).FetchPage(context.Background(), 10, 0)
		require.NoError(t, err)
		assert.Empty(t, markets)
	})
}

func TestFetchPageDecodesUpstreamShapes(t *testing.T) {
	body := `[
		{"conditionId":"0xa","questionID":"0xq","question":"A?","marketSlug":"a","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.50\",\"0.50\"]","volume":"1000.0","liquidity":"5","endDate":"2025-01-01T00:00:00Z","active":true,"closed":false},
		{"conditionId":"0xb","question":"B?","slug":"b-slug","outcomes":["Yes","No"],"outcomePrices":[0.25,0.75],"volume":1200.5,"active":"true","closed":"false"},
		{"conditionId":"0xc","question":"C?","outcomes":"[]","outcomePrices":null,"volume":null},
		{"conditionId":"0xe","question":"E?","outcomes":"[]","outcomePrices":"","volume":"","liquidity":""},
		{"conditionId":"","question":"no id"},
		{"conditionId":"0xd","question":"bad","outcomes":{"not":"a list"}}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	markets, err := NewGammaClient(srv.URL).FetchPage(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, markets, 4)

	a := markets[0]
	assert.Equal(t, "0xa", a.ConditionID)
	assert.Equal(t, "0xq", domain.Deref(a.QuestionID))
	assert.Equal(t, "a", domain.Deref(a.MarketSlug))
	assert.Equal(t, `["0.5","0.5"]`, a.PricesString())
	assert.Equal(t, "1000", a.VolumeString())
	assert.False(t, a.IsClosed())

	b := markets[1]
	assert.Equal(t, "b-slug", domain.Deref(b.MarketSlug))
	assert.Equal(t, `["Yes","No"]`, b.Outcomes)
	assert.Equal(t, `["0.25","0.75"]`, b.PricesString())
	assert.Equal(t, "1200.5", b.VolumeString())
	require.NotNil(t, b.Active)
	assert.True(t, *b.Active)

	c := markets[2]
	assert.Nil(t, c.OutcomePrices)
	assert.Nil(t, c.Volume)
	assert.Nil(t, c.Closed)

	e := markets[3]
	assert.Nil(t, e.OutcomePrices, "blank prices read the same as absent ones")
	assert.Nil(t, e.Volume)
	assert.Nil(t, e.Liquidity)
}

func TestFetchLiveUsesFirstPage(t *testing.T) {
	srv := newPagedServer(t, 50, 50)
	markets, err := NewGammaClient(srv.URL).FetchLive(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, markets, 50)
	assert.Equal(t, []int{0}, srv.offsets)
}

func TestFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("condition_ids") == "0xa" {
			_, _ = w.Write([]byte(`[{"conditionId":"0xa","question":"A?","outcomes":"[]"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	client := NewGammaClient(srv.URL)

	m, err := client.FetchOne(context.Background(), "0xa")
	require.NoError(t, err)
	assert.Equal(t, "A?", m.Question)

	_, err = client.FetchOne(context.Background(), "0xmissing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
