package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrices(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strings", `["0.5","0.5"]`, `["0.5","0.5"]`},
		{"floats", `[0.5, 0.5]`, `["0.5","0.5"]`},
		{"trailing zeros", `["0.500", "0.50"]`, `["0.5","0.5"]`},
		{"mixed", `["0.25", 0.75]`, `["0.25","0.75"]`},
		{"exponent", `[1e-3]`, `["0.001"]`},
		{"empty array", `[]`, `[]`},
		{"garbage kept", `not json`, `not json`},
		{"empty kept", ``, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePrices(tt.in))
		})
	}
}

func TestNormalizeDecimal(t *testing.T) {
	assert.Equal(t, "1000", NormalizeDecimal("1000"))
	assert.Equal(t, "1000.5", NormalizeDecimal("1000.50"))
	assert.Equal(t, "n/a", NormalizeDecimal("n/a"))
}

func TestMarketCanonical(t *testing.T) {
	m := Market{
		ConditionID:   "0xabc",
		OutcomePrices: StringPtr("[0.60, 0.40]"),
		Volume:        StringPtr("1200.0"),
	}
	c := m.Canonical()

	assert.Equal(t, `["0.6","0.4"]`, *c.OutcomePrices)
	assert.Equal(t, "1200", *c.Volume)
	assert.Nil(t, c.Liquidity)
	assert.Equal(t, "[0.60, 0.40]", *m.OutcomePrices, "original must not be mutated")
}

func TestMarketCanonicalClearsBlankFields(t *testing.T) {
	c := Market{
		ConditionID:   "0xabc",
		OutcomePrices: StringPtr(""),
		Volume:        StringPtr(" "),
		Liquidity:     StringPtr(""),
	}.Canonical()

	assert.Nil(t, c.OutcomePrices)
	assert.Nil(t, c.Volume)
	assert.Nil(t, c.Liquidity)
}

func TestMarketQuotes(t *testing.T) {
	t.Run("paired", func(t *testing.T) {
		m := Market{Outcomes: `["Yes","No"]`, OutcomePrices: StringPtr(`[0.3, 0.7]`)}
		quotes, err := m.Quotes()
		require.NoError(t, err)
		assert.Equal(t, []Quote{{"Yes", "0.3"}, {"No", "0.7"}}, quotes)
	})

	t.Run("length mismatch refused", func(t *testing.T) {
		m := Market{Outcomes: `["Yes","No"]`, OutcomePrices: StringPtr(`["1"]`)}
		_, err := m.Quotes()
		require.ErrorIs(t, err, ErrOutcomeMismatch)
	})

	t.Run("missing prices", func(t *testing.T) {
		m := Market{Outcomes: `["Yes","No"]`}
		_, err := m.Quotes()
		require.Error(t, err)
	})

	t.Run("bad outcomes", func(t *testing.T) {
		m := Market{Outcomes: `Yes,No`, OutcomePrices: StringPtr(`["1","0"]`)}
		_, err := m.Quotes()
		require.Error(t, err)
	})
}
