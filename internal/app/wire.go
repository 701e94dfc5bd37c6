package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/marketscanner/internal/blob/s3"
	"github.com/alanyoungcy/marketscanner/internal/bus"
	"github.com/alanyoungcy/marketscanner/internal/config"
	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/notify"
	"github.com/alanyoungcy/marketscanner/internal/platform/polymarket"
)

// Dependencies bundles everything the run modes need. Built by Wire and
// released by the cleanup function it returns.
type Dependencies struct {
	Store    domain.Store
	Source   *polymarket.GammaClient
	Bus      domain.EventBus
	Notifier *notify.Notifier

	// BlobWriter is nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
}

// Wire constructs every dependency from cfg. On failure everything built so
// far is released before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Store ---
	store, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return fail("store", err)
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", slog.String("error", err.Error()))
		}
	})
	deps.Store = store

	// --- Gamma API ---
	deps.Source = polymarket.NewGammaClient(cfg.Gamma.Host,
		polymarket.WithLogger(logger),
		polymarket.WithPageDelay(cfg.Gamma.PageDelayDuration()),
	)

	// --- Event bus ---
	switch cfg.Bus.Type {
	case "redis":
		rb, err := bus.DialRedis(ctx, cfg.Bus.RedisURL)
		if err != nil {
			return fail("redis bus", err)
		}
		deps.Bus = rb
	default:
		deps.Bus = bus.NewMemoryBus()
	}
	closers = append(closers, func() { _ = deps.Bus.Close() })

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL).WithUsername("marketscanner"))
	}
	kinds, err := notify.ParseKinds(strings.Join(cfg.Notify.Events, ","))
	if err != nil {
		return fail("notify", domain.ConfigError("app.Wire", "invalid notify events", err))
	}
	deps.Notifier = notify.NewNotifier(senders, kinds, logger)

	// --- S3 snapshots ---
	if cfg.Archive.Enabled {
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, snapshots may fail",
				slog.String("bucket", client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(client)
	}

	return deps, cleanup, nil
}
