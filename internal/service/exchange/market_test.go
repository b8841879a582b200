package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTradingPair(t *testing.T) {
	testCases := []struct {
		input string
		want  TradingPair
	}{
		{input: "BTCUSDT", want: TradingPair{Base: "BTC", Quote: "USDT"}},
		{input: "eth/usdc", want: TradingPair{Base: "ETH", Quote: "USDC"}},
		{input: "ETHBTC", want: TradingPair{Base: "ETH", Quote: "BTC"}},
		{input: "USDT", want: TradingPair{Base: "USDT"}},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got := ParseTradingPair(tc.input)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.True(t, ParseTradingPair("XYZ").IsZero())
	assert.Equal(t, "BTC/USDT", ParseTradingPair("BTCUSDT").ToSlashString())
}

func TestInterval_Duration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Interval15m.Duration())
	assert.Equal(t, 24*time.Hour, Interval1d.Duration())
	assert.Equal(t, time.Duration(0), Interval("7m").Duration())
}
