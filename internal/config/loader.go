package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// Load builds the configuration: defaults, then the TOML file at path (a
// missing file or empty path is skipped), then .env, then the environment.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ConfigError("config.Load", "read "+path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Storage.Type = NormalizeStorage(cfg.Storage.Type)
	cfg.Bus.Type = strings.ToLower(strings.TrimSpace(cfg.Bus.Type))
	if cfg.Bus.Type == "redis" && cfg.Bus.RedisURL == "" {
		cfg.Bus.RedisURL = cfg.Storage.KVURL
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose environment variable is set and
// non-empty.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MODE")

	// ── Storage ──
	setStr(&cfg.Storage.Type, "STORAGE_TYPE")
	setStr(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.Storage.KVURL, "KV_URL")
	setStr(&cfg.Storage.JSONPath, "JSON_DB_PATH")
	setInt(&cfg.Storage.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS")
	setInt(&cfg.Storage.PoolSize, "KV_POOL_SIZE")

	// ── Scan ──
	setBool(&cfg.Scan.AllFirst, "SCAN_ALL_FIRST")
	setDuration(&cfg.Scan.Interval, "SCAN_INTERVAL")
	setInt(&cfg.Scan.BatchSize, "SCAN_BATCH_SIZE")
	setInt(&cfg.Scan.LiveLimit, "SCAN_LIVE_LIMIT")
	setDuration(&cfg.Scan.ResyncInterval, "SCAN_RESYNC_INTERVAL")
	setDuration(&cfg.Scan.PersistTimeout, "SCAN_PERSIST_TIMEOUT")
	setDuration(&cfg.Scan.ShutdownGrace, "SCAN_SHUTDOWN_GRACE")

	// ── Gamma ──
	setStr(&cfg.Gamma.Host, "GAMMA_HOST")
	setDuration(&cfg.Gamma.PageDelay, "GAMMA_PAGE_DELAY")

	// ── Logging ──
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Format, "LOG_FORMAT")
	setStr(&cfg.Log.File, "LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "LOG_COMPRESS")

	// ── Bus ──
	setStr(&cfg.Bus.Type, "BUS_TYPE")
	setStr(&cfg.Bus.RedisURL, "BUS_REDIS_URL")
	setStr(&cfg.Bus.Channel, "BUS_CHANNEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Archive / S3 ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setBool accepts strconv.ParseBool spellings. Anything else, including
// "yes", leaves the field unchanged.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
