package domain

import (
	"fmt"
	"time"
)

// EventKind identifies the type of change detected between two scans. The
// string values are the at-rest encoding used by every store.
type EventKind string

const (
	EventNewMarket    EventKind = "NewMarket"
	EventPriceChange  EventKind = "PriceChange"
	EventVolumeUpdate EventKind = "VolumeUpdate"
	EventMarketClosed EventKind = "MarketClosed"
)

// EventKinds lists every kind in diff emission order (NewMarket first).
var EventKinds = []EventKind{
	EventNewMarket,
	EventPriceChange,
	EventVolumeUpdate,
	EventMarketClosed,
}

// StatsTotalKey is the pseudo-kind holding the sum in event statistics.
const StatsTotalKey = "Total"

// ParseEventKind converts the at-rest string form back into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range EventKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// String implements fmt.Stringer.
func (k EventKind) String() string { return string(k) }

// MarketEvent is a timestamped change notice carrying a snapshot of the
// market as observed when the change was detected.
type MarketEvent struct {
	ID        string    `json:"id"`
	Market    Market    `json:"market"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"event_type"`
}

// EventRecord is the summary row returned by Store.GetRecentEvents.
type EventRecord struct {
	Kind          EventKind `json:"event_type"`
	Question      string    `json:"question"`
	OutcomePrices string    `json:"outcome_prices"`
	Timestamp     time.Time `json:"timestamp"`
}
