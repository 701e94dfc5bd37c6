package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the optional background jobs side by side. A nil
// Resyncer or Archiver is skipped.
type Orchestrator struct {
	resyncer       *Resyncer
	resyncInterval time.Duration
	archiver       *Archiver
	archiveCron    string
	logger         *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	resyncer *Resyncer,
	resyncInterval time.Duration,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		resyncer:       resyncer,
		resyncInterval: resyncInterval,
		archiver:       archiver,
		archiveCron:    archiveCron,
		logger:         logger.With(slog.String("component", "pipeline")),
	}
}

// Empty reports whether there is nothing to run.
func (o *Orchestrator) Empty() bool {
	return o.resyncer == nil && o.archiver == nil
}

// Run starts every configured job and blocks until ctx is cancelled or one of
// them fails. Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Bool("resync", o.resyncer != nil),
		slog.Duration("resync_interval", o.resyncInterval),
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.resyncer != nil {
		g.Go(func() error {
			err := o.resyncer.RunLoop(ctx, o.resyncInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("resync loop: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
