// Package config defines the scanner configuration and its validation. Values
// come from built-in defaults, an optional TOML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/pipeline"
)

// Storage backends.
const (
	StorageSQL  = "sql"
	StorageKV   = "kv"
	StorageJSON = "json"
)

// Run modes.
const (
	ModeScan   = "scan"   // live loop, optionally after a full ingestion
	ModeIngest = "ingest" // one full ingestion, then exit
	ModeServe  = "serve"  // HTTP API only
)

// Config is the root configuration structure.
type Config struct {
	Mode    string        `toml:"mode"`
	Storage StorageConfig `toml:"storage"`
	Scan    ScanConfig    `toml:"scan"`
	Gamma   GammaConfig   `toml:"gamma"`
	Log     LogConfig     `toml:"log"`
	Bus     BusConfig     `toml:"bus"`
	Server  ServerConfig  `toml:"server"`
	Notify  NotifyConfig  `toml:"notify"`
	Archive ArchiveConfig `toml:"archive"`
	S3      S3Config      `toml:"s3"`
}

// StorageConfig selects and addresses the Store backend.
type StorageConfig struct {
	Type         string `toml:"type"`
	DatabaseURL  string `toml:"database_url"`
	KVURL        string `toml:"kv_url"`
	JSONPath     string `toml:"json_path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	PoolSize     int    `toml:"pool_size"`
}

// ScanConfig controls the live loop and full ingestion.
type ScanConfig struct {
	AllFirst       bool     `toml:"all_first"`
	Interval       duration `toml:"interval"`
	BatchSize      int      `toml:"batch_size"`
	LiveLimit      int      `toml:"live_limit"`
	ResyncInterval duration `toml:"resync_interval"` // 0 disables periodic resync
	PersistTimeout duration `toml:"persist_timeout"`
	ShutdownGrace  duration `toml:"shutdown_grace"`
}

// GammaConfig addresses the Gamma API.
type GammaConfig struct {
	Host      string   `toml:"host"`
	PageDelay duration `toml:"page_delay"`
}

// LogConfig controls the slog handler and the optional rotating file.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// BusConfig selects the event bus.
type BusConfig struct {
	Type     string `toml:"type"` // "memory" or "redis"
	RedisURL string `toml:"redis_url"`
	Channel  string `toml:"channel"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig schedules store snapshots to S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration so TOML strings like "10s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Mode: ModeScan,
		Storage: StorageConfig{
			Type:         StorageJSON,
			DatabaseURL:  "sqlite:data.db",
			KVURL:        "redis://127.0.0.1:6379",
			JSONPath:     "data",
			MaxOpenConns: 5,
			PoolSize:     10,
		},
		Scan: ScanConfig{
			Interval:       duration{10 * time.Second},
			BatchSize:      100,
			LiveLimit:      50,
			PersistTimeout: duration{30 * time.Second},
			ShutdownGrace:  duration{10 * time.Second},
		},
		Gamma: GammaConfig{
			Host:      "https://gamma-api.polymarket.com",
			PageDelay: duration{100 * time.Millisecond},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Bus: BusConfig{
			Type:    "memory",
			Channel: domain.DefaultEventChannel,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Archive: ArchiveConfig{
			Cron:   "0 * * * *",
			Prefix: "snapshots",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
	}
}

// IntervalDuration returns the live loop interval.
func (s ScanConfig) IntervalDuration() time.Duration { return s.Interval.Duration }

// ResyncEvery returns the periodic resync interval, 0 when disabled.
func (s ScanConfig) ResyncEvery() time.Duration { return s.ResyncInterval.Duration }

// PersistTimeoutDuration bounds each background persistence task.
func (s ScanConfig) PersistTimeoutDuration() time.Duration { return s.PersistTimeout.Duration }

// ShutdownGraceDuration bounds how long shutdown waits for in-flight work.
func (s ScanConfig) ShutdownGraceDuration() time.Duration { return s.ShutdownGrace.Duration }

// PageDelayDuration is the pause between ingestion pages.
func (g GammaConfig) PageDelayDuration() time.Duration { return g.PageDelay.Duration }

// NormalizeStorage maps backend aliases onto StorageSQL, StorageKV and
// StorageJSON. Unknown names are returned lower-cased and fail Validate.
func NormalizeStorage(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "sql", "sqlite", "postgres", "postgresql":
		return StorageSQL
	case "kv", "redis":
		return StorageKV
	case "json", "":
		return StorageJSON
	default:
		return s
	}
}

var validModes = map[string]bool{ModeScan: true, ModeIngest: true, ModeServe: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section and returns a ConfigError listing all
// problems found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, ingest, serve)", c.Mode))
	}

	switch c.Storage.Type {
	case StorageSQL:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage: database_url must be set for sql storage")
		}
		if c.Storage.MaxOpenConns < 1 {
			errs = append(errs, "storage: max_open_conns must be >= 1")
		}
	case StorageKV:
		if c.Storage.KVURL == "" {
			errs = append(errs, "storage: kv_url must be set for kv storage")
		}
		if c.Storage.PoolSize < 1 {
			errs = append(errs, "storage: pool_size must be >= 1")
		}
	case StorageJSON:
		if c.Storage.JSONPath == "" {
			errs = append(errs, "storage: json_path must be set for json storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown type %q (valid: sql, kv, json)", c.Storage.Type))
	}

	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}
	if c.Scan.BatchSize < 1 {
		errs = append(errs, "scan: batch_size must be >= 1")
	}
	if c.Scan.LiveLimit < 1 {
		errs = append(errs, "scan: live_limit must be >= 1")
	}
	if c.Scan.ResyncInterval.Duration < 0 {
		errs = append(errs, "scan: resync_interval must not be negative")
	}

	if c.Gamma.Host == "" {
		errs = append(errs, "gamma: host must not be empty")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("unknown log format %q (valid: json, text)", c.Log.Format))
	}

	switch c.Bus.Type {
	case "memory":
	case "redis":
		if c.Bus.RedisURL == "" {
			errs = append(errs, "bus: redis_url must be set for redis bus")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus: unknown type %q (valid: memory, redis)", c.Bus.Type))
	}
	if c.Bus.Channel == "" {
		errs = append(errs, "bus: channel must not be empty")
	}

	if c.Server.Enabled || c.Mode == ModeServe {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if _, err := domain.ParseEventKind(e); err != nil {
			errs = append(errs, "notify: "+err.Error())
		}
	}

	if c.Archive.Enabled {
		if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
			errs = append(errs, "archive: "+err.Error())
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must be set when archive is enabled")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together")
		}
	}

	if len(errs) > 0 {
		return domain.ConfigError("config.Validate", "validation failed:\n  - "+strings.Join(errs, "\n  - "), nil)
	}
	return nil
}
