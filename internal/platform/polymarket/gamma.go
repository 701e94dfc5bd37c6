// Package polymarket implements the read-only client for the Polymarket Gamma
// markets endpoint.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// DefaultGammaHost is the public Gamma API root.
const DefaultGammaHost = "https://gamma-api.polymarket.com"

const requestTimeout = 30 * time.Second

// PageSink receives one page of markets during StreamAll. Returning an error
// aborts the stream.
type PageSink func(ctx context.Context, batch []domain.Market) error

// GammaClient is the REST client for the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	pageDelay  time.Duration
}

// Option configures a GammaClient.
type Option func(*GammaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *GammaClient) { g.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *GammaClient) { g.logger = l }
}

// WithPageDelay makes StreamAll sleep between pages to stay under rate limits.
func WithPageDelay(d time.Duration) Option {
	return func(g *GammaClient) { g.pageDelay = d }
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ...Option) *GammaClient {
	g := &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "gamma"))
	return g
}

// FetchPage returns one page of active markets.
//
// A non-2xx response fails with a KindAPI error and a transport failure with
// KindNetwork. A 2xx response whose body cannot be decoded yields an empty
// page and a warning; the scan loop simply tries again on its next tick.
func (g *GammaClient) FetchPage(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	markets, _, err := g.fetchPage(ctx, limit, offset)
	return markets, err
}

// FetchLive returns the first page of active markets, the scanner's live
// window.
func (g *GammaClient) FetchLive(ctx context.Context, limit int) ([]domain.Market, error) {
	return g.FetchPage(ctx, limit, 0)
}

func (g *GammaClient) fetchPage(ctx context.Context, limit, offset int) ([]domain.Market, int, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, 0, err
	}

	markets, raw := g.decodeMarkets(body)
	g.logger.DebugContext(ctx, "fetched markets page",
		slog.Int("limit", limit),
		slog.Int("offset", offset),
		slog.Int("records", raw),
		slog.Int("markets", len(markets)),
	)
	return markets, raw, nil
}

// StreamAll pages through every active market, handing each page to sink
// before requesting the next. Paging stops at the first page shorter than
// batchSize, so an empty first page ends the stream immediately. It returns
// the number of markets delivered to sink.
func (g *GammaClient) StreamAll(ctx context.Context, batchSize int, sink PageSink) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("polymarket/gamma: stream all: batch size must be positive, got %d", batchSize)
	}

	g.logger.InfoContext(ctx, "streaming all markets", slog.Int("batch_size", batchSize))
	offset := 0
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("polymarket/gamma: stream all cancelled: %w", err)
		}

		markets, raw, err := g.fetchPage(ctx, batchSize, offset)
		if err != nil {
			return total, fmt.Errorf("polymarket/gamma: stream all at offset %d: %w", offset, err)
		}

		total += len(markets)
		g.logger.InfoContext(ctx, "fetched market batch",
			slog.Int("from", offset+1),
			slog.Int("to", offset+raw),
			slog.Int("total", total),
		)

		if err := sink(ctx, markets); err != nil {
			return total, fmt.Errorf("polymarket/gamma: sink at offset %d: %w", offset, err)
		}

		if raw < batchSize {
			break
		}
		offset += batchSize

		if g.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return total, fmt.Errorf("polymarket/gamma: stream all cancelled: %w", ctx.Err())
			case <-time.After(g.pageDelay):
			}
		}
	}

	g.logger.InfoContext(ctx, "market stream complete", slog.Int("total", total))
	return total, nil
}

// FetchOne returns a single market by condition id. It returns
// domain.ErrNotFound when the API knows no such market.
func (g *GammaClient) FetchOne(ctx context.Context, conditionID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, err
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, domain.DecodeError("polymarket/gamma: fetch market "+conditionID, err)
	}
	for i := range apiMarkets {
		if apiMarkets[i].ConditionID == conditionID {
			return apiMarkets[i].ToDomainMarket(), nil
		}
	}
	return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: condition_id=%s", domain.ErrNotFound, conditionID)
}

// decodeMarkets decodes a markets array record by record. Records that fail
// to decode or lack a condition id are skipped. The second return value is
// the number of records in the array, which drives short-page detection.
func (g *GammaClient) decodeMarkets(body []byte) ([]domain.Market, int) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		g.logger.Warn("unexpected markets payload, treating page as empty",
			slog.String("error", domain.DecodeError("decode markets", err).Error()),
		)
		return []domain.Market{}, 0
	}

	markets := make([]domain.Market, 0, len(records))
	for i, rec := range records {
		var am APIMarket
		if err := json.Unmarshal(rec, &am); err != nil {
			g.logger.Warn("skipping undecodable market record",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		if am.ConditionID == "" {
			g.logger.Debug("skipping market without condition id", slog.Int("index", i))
			continue
		}
		markets = append(markets, am.ToDomainMarket())
	}
	return markets, len(records)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	op := "GET " + strings.SplitN(path, "?", 2)[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, domain.NetworkError(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, domain.NetworkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NetworkError(op, fmt.Errorf("read response: %w", err))
	}

	if err := checkHTTPStatus(op, resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to KindAPI errors.
func checkHTTPStatus(op string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return domain.APIError(op, statusCode, strings.TrimSpace(string(body)))
}
