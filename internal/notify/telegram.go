package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	telegramAPI = "https://api.telegram.org"

	// telegramTextLimit is the sendMessage text limit in characters.
	telegramTextLimit = 4096
)

// TelegramSender posts messages through the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// Send calls sendMessage with the title in bold. Link previews are disabled
// so the market URL does not expand into a card.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncateRunes(fmt.Sprintf("*%s*\n%s", title, message), telegramTextLimit),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	return postJSON(ctx, t.client, "telegram", fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token), payload)
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
