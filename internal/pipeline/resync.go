package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FullScanner streams the whole remote market list into a store.
type FullScanner interface {
	ScanAll(ctx context.Context, batchSize int) (int, error)
}

// Resyncer repeats a full ingestion on an interval so markets that never
// enter the live window still get refreshed.
type Resyncer struct {
	scanner   FullScanner
	batchSize int
	logger    *slog.Logger
}

// NewResyncer creates a Resyncer that ingests in pages of batchSize.
func NewResyncer(scanner FullScanner, batchSize int, logger *slog.Logger) *Resyncer {
	return &Resyncer{
		scanner:   scanner,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "resync")),
	}
}

// Run performs one full ingestion and returns the number of records streamed.
func (r *Resyncer) Run(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := r.scanner.ScanAll(ctx, r.batchSize)
	if err != nil {
		return n, fmt.Errorf("resync: %w", err)
	}
	r.logger.InfoContext(ctx, "resync complete",
		slog.Int("markets", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// RunLoop calls Run every interval until ctx is cancelled. The first run
// happens after one interval; failures are logged and retried on the next
// tick.
func (r *Resyncer) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("resync: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.ErrorContext(ctx, "resync failed", slog.String("error", err.Error()))
			}
		}
	}
}
