// Package pipeline holds the background jobs that run next to the live scan
// loop: periodic full resyncs from the Gamma API and store snapshots archived
// to object storage on a cron schedule.
package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// defaultPartSize is the multipart chunk used for market snapshots.
const defaultPartSize = 8 << 20

// Summary is the second object of a snapshot: counters and the recent event
// buffer at the time the markets were read.
type Summary struct {
	TakenAt      time.Time            `json:"taken_at"`
	MarketCount  int64                `json:"market_count"`
	EventCount   int64                `json:"event_count"`
	EventStats   map[string]int64     `json:"event_stats"`
	RecentEvents []domain.EventRecord `json:"recent_events"`
	MarketsPath  string               `json:"markets_path"`
}

// Archiver copies the contents of a Store to object storage. Markets are
// written as gzip-compressed JSON lines, one StoredMarket per line.
type Archiver struct {
	store    domain.Store
	blob     domain.BlobWriter
	prefix   string
	partSize int64
	now      func() time.Time
	logger   *slog.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithPrefix sets the key prefix of every object. Defaults to "snapshots".
func WithPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) { a.prefix = strings.Trim(prefix, "/") }
}

// WithPartSize sets the multipart chunk size for market snapshots.
func WithPartSize(n int64) ArchiverOption {
	return func(a *Archiver) {
		if n > 0 {
			a.partSize = n
		}
	}
}

// WithArchiverClock replaces time.Now.
func WithArchiverClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// WithArchiverLogger sets the logger.
func WithArchiverLogger(l *slog.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = l }
}

// NewArchiver creates an Archiver reading from store and writing to blob.
func NewArchiver(store domain.Store, blob domain.BlobWriter, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		store:    store,
		blob:     blob,
		prefix:   "snapshots",
		partSize: defaultPartSize,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "archiver"))
	return a
}

// Run takes one snapshot and returns its summary. Object keys are
// <prefix>/YYYY/MM/DD/markets-<ts>.jsonl.gz and summary-<ts>.json.
func (a *Archiver) Run(ctx context.Context) (*Summary, error) {
	start := a.now().UTC()
	ts := start.Format("20060102T150405Z")
	dir := path.Join(a.prefix, start.Format("2006/01/02"))
	marketsPath := path.Join(dir, "markets-"+ts+".jsonl.gz")

	ids, err := a.store.GetAllMarketIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("archiver: list markets: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.writeMarkets(ctx, pw, ids))
	}()
	if err := a.blob.PutMultipart(ctx, marketsPath, pr, a.partSize); err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("archiver: upload %s: %w", marketsPath, err)
	}

	summary, err := a.summarize(ctx)
	if err != nil {
		return nil, err
	}
	summary.TakenAt = start
	summary.MarketsPath = marketsPath

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archiver: encode summary: %w", err)
	}
	summaryPath := path.Join(dir, "summary-"+ts+".json")
	if err := a.blob.Put(ctx, summaryPath, bytes.NewReader(body), "application/json"); err != nil {
		return nil, fmt.Errorf("archiver: upload %s: %w", summaryPath, err)
	}

	a.logger.InfoContext(ctx, "snapshot archived",
		slog.String("markets_path", marketsPath),
		slog.String("summary_path", summaryPath),
		slog.Int("markets", len(ids)),
		slog.Int64("events", summary.EventCount),
		slog.Duration("elapsed", a.now().Sub(start)),
	)
	return summary, nil
}

// writeMarkets streams every stored market as one JSON line into a gzip
// stream on w. Markets removed between listing and reading are skipped.
func (a *Archiver) writeMarkets(ctx context.Context, w io.Writer, ids []string) error {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := a.store.GetMarket(ctx, id)
		if err != nil {
			return fmt.Errorf("read market %s: %w", id, err)
		}
		if m == nil {
			continue
		}
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode market %s: %w", id, err)
		}
	}
	return gz.Close()
}

func (a *Archiver) summarize(ctx context.Context) (*Summary, error) {
	var s Summary
	var err error
	if s.MarketCount, err = a.store.GetMarketCount(ctx); err != nil {
		return nil, fmt.Errorf("archiver: market count: %w", err)
	}
	if s.EventCount, err = a.store.GetEventCount(ctx); err != nil {
		return nil, fmt.Errorf("archiver: event count: %w", err)
	}
	if s.EventStats, err = a.store.GetEventStats(ctx); err != nil {
		return nil, fmt.Errorf("archiver: event stats: %w", err)
	}
	if s.RecentEvents, err = a.store.GetRecentEvents(ctx, domain.MaxRecentEvents); err != nil {
		return nil, fmt.Errorf("archiver: recent events: %w", err)
	}
	return &s, nil
}

// RunCron takes a snapshot each time cronExpr matches until ctx is
// cancelled. A failed snapshot is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseSchedule(cronExpr)
	if err != nil {
		return fmt.Errorf("archiver: %w", err)
	}
	a.logger.InfoContext(ctx, "archive schedule started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now())
		if err != nil {
			return fmt.Errorf("archiver: %w", err)
		}
		a.logger.DebugContext(ctx, "next snapshot scheduled", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
		}
	}
}
