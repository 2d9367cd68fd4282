package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradientClassify(t *testing.T) {
	g := DefaultGradient()

	tests := []struct {
		amount string
		want   string
	}{
		{"0.0000001", "500"},
		{"0.0999999", "500"},
		{"0.1", "700"},
		{"0.2999999", "700"},
		{"0.3", "900"},
		{"12", "900"},
	}

	for _, test := range tests {
		t.Run(test.amount, func(t *testing.T) {
			assert.Equal(t, test.want, g.Classify(decimal.RequireFromString(test.amount)))
		})
	}
}

func TestParseGradient(t *testing.T) {
	g, err := ParseGradient("0.05:300, 0.1:500,0.3:700,900")
	require.NoError(t, err)
	require.Len(t, g.Bands, 3)
	assert.Equal(t, "300", g.Classify(decimal.RequireFromString("0.01")))
	assert.Equal(t, "900", g.Default)

	_, err = ParseGradient("0.1:500")
	assert.Error(t, err, "missing default")

	_, err = ParseGradient("0.3:700,0.1:500,900")
	assert.Error(t, err, "decreasing bounds")

	_, err = ParseGradient("abc:500,900")
	assert.Error(t, err)
}

func TestTradeEventAddresses(t *testing.T) {
	self := TradeEvent{Trader: "0xa", Subject: "0xa"}
	assert.Equal(t, []string{"0xa"}, self.Addresses())

	other := TradeEvent{Trader: "0xa", Subject: "0xb"}
	assert.Equal(t, []string{"0xa", "0xb"}, other.Addresses())
}
