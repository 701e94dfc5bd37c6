package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Market represents a Polymarket prediction market as returned by the Gamma
// API. Optional upstream fields are pointers; nil means the field was absent.
type Market struct {
	ConditionID   string  `json:"conditionId"`
	QuestionID    *string `json:"questionID,omitempty"`
	Question      string  `json:"question"`
	Description   *string `json:"description,omitempty"`
	MarketSlug    *string `json:"marketSlug,omitempty"`
	Outcomes      string  `json:"outcomes"`                // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices *string `json:"outcomePrices,omitempty"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Volume        *string `json:"volume,omitempty"`
	Liquidity     *string `json:"liquidity,omitempty"`
	EndDate       *string `json:"endDate,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	Closed        *bool   `json:"closed,omitempty"`
}

// IsClosed reports whether the market is explicitly marked closed.
func (m Market) IsClosed() bool {
	return m.Closed != nil && *m.Closed
}

// PricesString returns the outcome prices, or "" when absent.
func (m Market) PricesString() string {
	return Deref(m.OutcomePrices)
}

// VolumeString returns the volume, or "" when absent.
func (m Market) VolumeString() string {
	return Deref(m.Volume)
}

// Quote pairs an outcome name with its price.
type Quote struct {
	Outcome string
	Price   string
}

// Quotes decodes Outcomes and OutcomePrices and zips them together. It returns
// an error instead of a partial result when either side fails to decode or
// the two sequences differ in length.
func (m Market) Quotes() ([]Quote, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}
	prices, err := DecodePrices(m.PricesString())
	if err != nil {
		return nil, fmt.Errorf("decode outcome prices: %w", err)
	}
	if len(prices) != len(outcomes) {
		return nil, fmt.Errorf("%w: %d outcomes, %d prices", ErrOutcomeMismatch, len(outcomes), len(prices))
	}
	quotes := make([]Quote, len(outcomes))
	for i := range outcomes {
		quotes[i] = Quote{Outcome: outcomes[i], Price: prices[i]}
	}
	return quotes, nil
}

// StoredMarket is a Market together with the persistence metadata maintained
// by a Store.
type StoredMarket struct {
	Market
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// PricePoint is one entry of a market's price history.
type PricePoint struct {
	OutcomePrices string    `json:"outcome_prices"`
	Volume        string    `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// NonEmpty returns nil for "" and a pointer to s otherwise. Stores that
// encode absent optionals as empty strings use it on the read path.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EqualStrings compares two optional strings; nil and nil are equal.
func EqualStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
