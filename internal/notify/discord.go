package notify

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"
)

// Discord caps an embed description at 4096 characters and a title at 256.
const (
	discordDescriptionLimit = 4096
	discordTitleLimit       = 256
	discordEmbedColor       = 0x2e5cff
)

// DiscordSender posts each notification as a single embed to a webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// WithUsername overrides the webhook's display name.
func (d *DiscordSender) WithUsername(name string) *DiscordSender {
	d.username = name
	return d
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts title and message as one embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       truncateRunes(title, discordTitleLimit),
			Description: truncateRunes(message, discordDescriptionLimit),
			Color:       discordEmbedColor,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

// truncateRunes shortens s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
