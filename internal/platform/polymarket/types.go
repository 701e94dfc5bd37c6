package polymarket

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// encodedList holds a list field that the Gamma API sends either as a
// JSON-encoded string ("[\"Yes\",\"No\"]") or as a raw JSON array. Text is
// the array's JSON text in both cases.
type encodedList struct {
	Text string
	Set  bool
}

func (l *encodedList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = encodedList{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = encodedList{Text: s, Set: true}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = encodedList{Text: string(data), Set: true}
	return nil
}

// flexDecimal accepts a decimal sent as a JSON string or a JSON number.
type flexDecimal struct {
	Text string
	Set  bool
}

func (d *flexDecimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = flexDecimal{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = flexDecimal{Text: s, Set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = flexDecimal{Text: n.String(), Set: true}
	return nil
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ConditionID   string      `json:"conditionId"`
	QuestionID    *string     `json:"questionID"`
	Question      string      `json:"question"`
	Description   *string     `json:"description"`
	MarketSlug    *string     `json:"marketSlug"`
	Slug          *string     `json:"slug"`
	Outcomes      encodedList `json:"outcomes"`
	OutcomePrices encodedList `json:"outcomePrices"`
	Volume        flexDecimal `json:"volume"`
	Liquidity     flexDecimal `json:"liquidity"`
	EndDate       *string     `json:"endDate"`
	Active        *flexBool   `json:"active"`
	Closed        *flexBool   `json:"closed"`
}

// ToDomainMarket converts an APIMarket into a canonical domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		ConditionID: m.ConditionID,
		QuestionID:  nonEmpty(m.QuestionID),
		Question:    m.Question,
		Description: nonEmpty(m.Description),
		MarketSlug:  nonEmpty(m.MarketSlug),
		EndDate:     nonEmpty(m.EndDate),
		Outcomes:    "[]",
	}
	if out.MarketSlug == nil {
		out.MarketSlug = nonEmpty(m.Slug)
	}
	if m.Outcomes.Set {
		out.Outcomes = m.Outcomes.Text
	}
	if m.OutcomePrices.Set {
		out.OutcomePrices = domain.StringPtr(m.OutcomePrices.Text)
	}
	if m.Volume.Set {
		out.Volume = domain.StringPtr(m.Volume.Text)
	}
	if m.Liquidity.Set {
		out.Liquidity = domain.StringPtr(m.Liquidity.Text)
	}
	if m.Active != nil {
		out.Active = domain.BoolPtr(bool(*m.Active))
	}
	if m.Closed != nil {
		out.Closed = domain.BoolPtr(bool(*m.Closed))
	}
	return out.Canonical()
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	return domain.NonEmpty(*s)
}
