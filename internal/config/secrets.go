package config

import (
	"net/url"
	"slices"
)

// Redacted returns a copy of cfg safe to log: credentials become "***" and
// passwords embedded in connection URLs are masked.
func Redacted(cfg *Config) Config {
	out := *cfg

	out.Storage.DatabaseURL = redactURL(cfg.Storage.DatabaseURL)
	out.Storage.KVURL = redactURL(cfg.Storage.KVURL)
	out.Bus.RedisURL = redactURL(cfg.Bus.RedisURL)

	redact(&out.Server.APIKey)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password of a URL with userinfo. Strings that do not
// parse as URLs, such as sqlite paths, are returned unchanged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
