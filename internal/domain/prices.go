package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var errEmptyPrices = errors.New("empty price list")

// DecodePrices parses a JSON array of prices. Elements may be JSON strings
// ("0.5") or JSON numbers (0.5); every element is returned in canonical
// decimal form.
func DecodePrices(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errEmptyPrices
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		d, err := decodeDecimal(r)
		if err != nil {
			return nil, fmt.Errorf("price %d: %w", i, err)
		}
		out[i] = d.String()
	}
	return out, nil
}

func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	return decimal.NewFromString(string(raw))
}

// NormalizePrices rewrites a price array into the canonical encoding: a
// compact JSON array of decimal strings. Input that does not decode is
// returned unchanged.
func NormalizePrices(s string) string {
	prices, err := DecodePrices(s)
	if err != nil {
		return s
	}
	b, err := json.Marshal(prices)
	if err != nil {
		return s
	}
	return string(b)
}

// NormalizeDecimal rewrites a decimal string into canonical form ("1000.50"
// becomes "1000.5"). Input that does not parse is returned unchanged.
func NormalizeDecimal(s string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return d.String()
}

// normalizePtr applies fn to a set value. Blank values become nil, which is
// how every backend reads back an absent field.
func normalizePtr(s *string, fn func(string) string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := fn(*s)
	return &v
}

// Canonical returns a copy of m with prices, volume and liquidity normalized
// and blank values of those fields cleared.
// Every store applies it on write so the three backends agree byte for byte.
func (m Market) Canonical() Market {
	m.OutcomePrices = normalizePtr(m.OutcomePrices, NormalizePrices)
	m.Volume = normalizePtr(m.Volume, NormalizeDecimal)
	m.Liquidity = normalizePtr(m.Liquidity, NormalizeDecimal)
	return m
}
