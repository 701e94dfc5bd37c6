// Command marketquery prints what the configured store holds: counts, event
// statistics and the most recent events, or one market with its price
// history. With -live it prints the current live window from the Gamma API
// instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/app"
	"github.com/alanyoungcy/marketscanner/internal/config"
	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/platform/polymarket"
)

func main() {
	configPath := flag.String("config", "", "optional TOML configuration file")
	marketID := flag.String("market", "", "print one market and its price history")
	limit := flag.Int("n", 10, "number of events or price points to print")
	live := flag.Int("live", 0, "print the first N live markets from the Gamma API")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, *configPath, *marketID, *limit, *live); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, configPath, marketID string, limit, live int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if live > 0 {
		client := polymarket.NewGammaClient(cfg.Gamma.Host, polymarket.WithLogger(logger))
		markets, err := client.FetchLive(ctx, live)
		if err != nil {
			return err
		}
		printLive(w, markets)
		return nil
	}

	store, err := app.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if marketID != "" {
		return printMarket(ctx, w, store, marketID, limit)
	}
	return printSummary(ctx, w, store, cfg.Storage.Type, limit)
}

func printSummary(ctx context.Context, w io.Writer, store domain.Store, backend string, limit int) error {
	markets, err := store.GetMarketCount(ctx)
	if err != nil {
		return err
	}
	events, err := store.GetEventCount(ctx)
	if err != nil {
		return err
	}
	stats, err := store.GetEventStats(ctx)
	if err != nil {
		return err
	}
	recent, err := store.GetRecentEvents(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "store:   %s\nmarkets: %d\nevents:  %d\n\n", backend, markets, events)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOUNT")
	for _, k := range domain.EventKinds {
		fmt.Fprintf(tw, "%s\t%d\n", k, stats[string(k)])
	}
	fmt.Fprintf(tw, "%s\t%d\n", domain.StatsTotalKey, stats[domain.StatsTotalKey])
	tw.Flush()

	fmt.Fprintf(w, "\nrecent events (%d):\n", len(recent))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tQUESTION\tPRICES")
	for _, e := range recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.DateTime), e.Kind, truncate(e.Question, 60), e.OutcomePrices)
	}
	return tw.Flush()
}

func printMarket(ctx context.Context, w io.Writer, store domain.Store, id string, limit int) error {
	m, err := store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}

	fmt.Fprintf(w, "%s\n%s\n", m.ConditionID, m.Question)
	if quotes, err := m.Quotes(); err == nil {
		for _, q := range quotes {
			fmt.Fprintf(w, "  %s: %s\n", q.Outcome, q.Price)
		}
	}
	fmt.Fprintf(w, "volume:     %s\nliquidity:  %s\nend date:   %s\nclosed:     %t\n",
		m.VolumeString(), domain.Deref(m.Liquidity), domain.Deref(m.EndDate), m.IsClosed())
	fmt.Fprintf(w, "first seen: %s\nupdated:    %s\n\n",
		m.FirstSeenAt.Format(time.RFC3339), m.LastUpdatedAt.Format(time.RFC3339))

	history, err := store.GetPriceHistory(ctx, id, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPRICES\tVOLUME")
	for _, p := range history {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Timestamp.Format(time.DateTime), p.OutcomePrices, p.Volume)
	}
	return tw.Flush()
}

func printLive(w io.Writer, markets []domain.Market) {
	fmt.Fprintf(w, "%d live markets\n\n", len(markets))
	for i, m := range markets {
		fmt.Fprintf(w, "%d. %s\n", i+1, m.Question)
		fmt.Fprintf(w, "   outcomes: %s\n   prices:   %s\n", m.Outcomes, m.PricesString())
		if v := m.VolumeString(); v != "" {
			fmt.Fprintf(w, "   volume:   %s\n", v)
		}
		if l := domain.Deref(m.Liquidity); l != "" {
			fmt.Fprintf(w, "   liquidity: %s\n", l)
		}
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
