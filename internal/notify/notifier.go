// Package notify forwards selected market events to chat channels
// (Telegram, Discord). Every sender receives the same title and body; the
// event kinds that trigger a notification are configurable.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// DefaultEvents are the kinds notified when none are configured.
var DefaultEvents = []domain.EventKind{domain.EventNewMarket, domain.EventMarketClosed}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events of the allowed kinds to every Sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty kinds list
// selects DefaultEvents.
func NewNotifier(senders []Sender, kinds []domain.EventKind, logger *slog.Logger) *Notifier {
	if len(kinds) == 0 {
		kinds = DefaultEvents
	}
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// ParseKinds turns a comma separated list such as "NewMarket,MarketClosed"
// into event kinds.
func ParseKinds(list string) ([]domain.EventKind, error) {
	var kinds []domain.EventKind
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := domain.ParseEventKind(part)
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// NotifyEvent formats e and sends it when its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.MarketEvent) error {
	if !n.kinds[e.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event_type", string(e.Kind)))
		return nil
	}
	title, message := Format(e)
	return n.dispatch(ctx, title, message)
}

// Format renders the title and body of a notification for e.
func Format(e domain.MarketEvent) (title, message string) {
	m := e.Market
	switch e.Kind {
	case domain.EventNewMarket:
		title = "New market"
	case domain.EventPriceChange:
		title = "Price change"
	case domain.EventVolumeUpdate:
		title = "Volume update"
	case domain.EventMarketClosed:
		title = "Market closed"
	default:
		title = string(e.Kind)
	}

	var b strings.Builder
	b.WriteString(m.Question)
	if quotes, err := m.Quotes(); err == nil {
		for _, q := range quotes {
			fmt.Fprintf(&b, "\n%s: %s", q.Outcome, q.Price)
		}
	} else if p := m.PricesString(); p != "" {
		fmt.Fprintf(&b, "\nprices: %s", p)
	}
	if v := m.VolumeString(); v != "" {
		fmt.Fprintf(&b, "\nvolume: %s", v)
	}
	if slug := domain.Deref(m.MarketSlug); slug != "" {
		fmt.Fprintf(&b, "\nhttps://polymarket.com/market/%s", slug)
	}
	return title, b.String()
}

// dispatch sends to every sender; one failing sender does not stop the
// others. Failures are returned combined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
