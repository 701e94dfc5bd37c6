package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketscanner/internal/pipeline"
	"github.com/alanyoungcy/marketscanner/internal/scanner"
	"github.com/alanyoungcy/marketscanner/internal/server"
	"github.com/alanyoungcy/marketscanner/internal/server/handler"
	"github.com/alanyoungcy/marketscanner/internal/server/ws"
)

// ScanMode runs the live loop, preceded by a full ingestion when
// scan.all_first is set, together with the HTTP server and the background
// pipeline when they are enabled. On shutdown it waits up to
// scan.shutdown_grace for in-flight persistence.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Bool("scan_all_first", a.cfg.Scan.AllFirst),
		slog.Duration("interval", a.cfg.Scan.IntervalDuration()),
	)

	sc := a.newScanner(deps)
	defer a.drain(sc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.cfg.Scan.AllFirst {
			n, err := sc.ScanAll(ctx, a.cfg.Scan.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("scan mode: full ingestion: %w", err)
			}
			a.logger.InfoContext(ctx, "full ingestion complete", slog.Int("markets", n))
		}
		if err := sc.Start(ctx, a.cfg.Scan.IntervalDuration()); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scan mode: %w", err)
		}
		return nil
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sc)
	}
	a.startPipeline(ctx, g, deps, sc)

	return g.Wait()
}

// IngestMode streams the whole market list into the store once and returns.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode", slog.Int("batch_size", a.cfg.Scan.BatchSize))

	sc := a.newScanner(deps)
	start := time.Now()
	n, err := sc.ScanAll(ctx, a.cfg.Scan.BatchSize)
	if err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}
	count, err := deps.Store.GetMarketCount(ctx)
	if err != nil {
		return fmt.Errorf("ingest mode: count markets: %w", err)
	}
	a.logger.InfoContext(ctx, "ingestion complete",
		slog.Int("received", n),
		slog.Int64("stored", count),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ServeMode serves the HTTP API and the event stream without scanning. With
// a redis bus it relays events published by a scanner in another process.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	a.startPipeline(ctx, g, deps, nil)
	return g.Wait()
}

func (a *App) newScanner(deps *Dependencies) *scanner.Scanner {
	opts := []scanner.Option{
		scanner.WithLogger(a.logger),
		scanner.WithLiveLimit(a.cfg.Scan.LiveLimit),
		scanner.WithPersistTimeout(a.cfg.Scan.PersistTimeoutDuration()),
		scanner.WithBus(deps.Bus, a.cfg.Bus.Channel),
	}
	if deps.Notifier.Enabled() {
		opts = append(opts, scanner.WithNotifier(deps.Notifier))
	}
	return scanner.New(deps.Source, deps.Store, opts...)
}

// drain waits for background persistence started by sc.
func (a *App) drain(sc *scanner.Scanner) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Scan.ShutdownGraceDuration())
	defer cancel()
	if err := sc.Wait(ctx); err != nil {
		a.logger.Warn("in-flight persistence abandoned", slog.String("error", err.Error()))
	}
}

// startHTTPServer adds the API server, its WebSocket hub and a shutdown
// watcher to g. sc may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sc *scanner.Scanner) {
	var tracked handler.TrackedCounter
	if sc != nil {
		tracked = sc
	}

	hub := ws.NewHub(deps.Bus, a.cfg.Bus.Channel, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(tracked, a.cfg.Storage.Type, a.logger),
		Markets: handler.NewMarketHandler(deps.Store, a.logger),
		Events:  handler.NewEventHandler(deps.Store, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startPipeline adds the periodic resync (needs sc) and the snapshot
// archiver (needs a blob writer) to g when configured.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, sc *scanner.Scanner) {
	var resyncer *pipeline.Resyncer
	if sc != nil && a.cfg.Scan.ResyncEvery() > 0 {
		resyncer = pipeline.NewResyncer(sc, a.cfg.Scan.BatchSize, a.logger)
	}

	var archiver *pipeline.Archiver
	if deps.BlobWriter != nil {
		archiver = pipeline.NewArchiver(deps.Store, deps.BlobWriter,
			pipeline.WithPrefix(a.cfg.Archive.Prefix),
			pipeline.WithArchiverLogger(a.logger),
		)
	}

	orch := pipeline.NewOrchestrator(resyncer, a.cfg.Scan.ResyncEvery(), archiver, a.cfg.Archive.Cron, a.logger)
	if orch.Empty() {
		return
	}
	g.Go(func() error { return orch.Run(ctx) })
}
