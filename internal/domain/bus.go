package domain

import "context"

// EventBus fans detected market events out to downstream consumers. Delivery
// is best effort: a slow or absent subscriber never blocks the publisher.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// DefaultEventChannel is the channel MarketEvents are published on.
const DefaultEventChannel = "market_events"
