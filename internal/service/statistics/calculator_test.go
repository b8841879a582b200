package statistics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func trade(symbol string, dir trading.Direction, entry time.Time, exitAfter time.Duration,
	size, pnl string, reason trading.ExitReason) trading.ClosedTrade {
	return trading.ClosedTrade{
		PositionID:  trading.GroupingKey(symbol, entry, dir),
		Symbol:      symbol,
		Direction:   dir,
		EntryPrice:  d("100"),
		EntryTime:   entry,
		ExitPrice:   d("110"),
		ExitTime:    entry.Add(exitAfter),
		ExitSize:    d(size),
		ExitReason:  reason,
		RealizedPnL: d(pnl),
	}
}

// 一个多头分三次止盈，一个空头止损，一个多头分两次退出后亏损
func sampleTrades() []trading.ClosedTrade {
	return []trading.ClosedTrade{
		trade("BTCUSDT", trading.DirectionLong, t0, time.Minute, "0.5", "5", trading.ExitReasonTP1),
		trade("ETHUSDT", trading.DirectionShort, t0.Add(time.Hour), 10*time.Minute, "2", "-4", trading.ExitReasonSL),
		trade("BTCUSDT", trading.DirectionLong, t0, 2*time.Minute, "0.3", "6", trading.ExitReasonTP2),
		trade("SOLUSDT", trading.DirectionLong, t0.Add(2*time.Hour), 5*time.Minute, "1", "3", trading.ExitReasonTP1),
		trade("BTCUSDT", trading.DirectionLong, t0, 3*time.Minute, "0.2", "6", trading.ExitReasonTP3),
		trade("SOLUSDT", trading.DirectionLong, t0.Add(2*time.Hour), 20*time.Minute, "1", "-5", trading.ExitReasonSL),
	}
}

func TestAggregateByPosition(t *testing.T) {
	positions := AggregateByPosition(sampleTrades())
	require.Len(t, positions, 3)

	btc := positions[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, 3, btc.PartsCount)
	assert.True(t, btc.TotalSize.Equal(d("1")))
	assert.True(t, btc.TotalPnL.Equal(d("17")))
	assert.True(t, btc.WeightedExitPrice.Equal(d("110")))
	assert.Equal(t, trading.ExitReasonTP3, btc.FinalExitReason)
	assert.Equal(t, 3*time.Minute, btc.Duration)
	assert.Equal(t, []trading.ExitReason{trading.ExitReasonTP1, trading.ExitReasonTP2, trading.ExitReasonTP3}, btc.ExitReasons)
	assert.True(t, btc.IsWin)

	sol := positions[2]
	assert.True(t, sol.TotalPnL.Equal(d("-2")))
	assert.False(t, sol.IsWin)
	assert.Equal(t, trading.ExitReasonSL, sol.FinalExitReason)
}

func TestAggregateByPosition_GroupingIsTotal(t *testing.T) {
	trades := sampleTrades()
	positions := AggregateByPosition(trades)

	parts := 0
	total := decimal.Zero
	for _, p := range positions {
		parts += p.PartsCount
		total = total.Add(p.TotalPnL)
	}
	assert.Equal(t, len(trades), parts)

	want := decimal.Zero
	for _, tr := range trades {
		want = want.Add(tr.RealizedPnL)
	}
	assert.True(t, want.Equal(total))
}

func TestAggregateByPosition_SameExitTimeTakesLaterRecord(t *testing.T) {
	trades := []trading.ClosedTrade{
		trade("BTCUSDT", trading.DirectionLong, t0, time.Minute, "0.5", "5", trading.ExitReasonTP1),
		trade("BTCUSDT", trading.DirectionLong, t0, time.Minute, "0.5", "-2", trading.ExitReasonSL),
	}
	positions := AggregateByPosition(trades)
	require.Len(t, positions, 1)
	assert.Equal(t, trading.ExitReasonSL, positions[0].FinalExitReason)
}

func TestComputeMetrics(t *testing.T) {
	m := ComputeMetrics(AggregateByPosition(sampleTrades()), d("1000"))

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.True(t, m.WinRate.Equal(d("1").Div(d("3"))))
	assert.True(t, m.TotalPnL.Equal(d("11")))
	assert.True(t, m.AvgWin.Equal(d("17")))
	assert.True(t, m.AvgLoss.Equal(d("3")))
	assert.True(t, m.LargestWin.Equal(d("17")))
	assert.True(t, m.LargestLoss.Equal(d("-4")))
	assert.False(t, m.ProfitFactor.Infinite)
	assert.Equal(t, "2.83", m.ProfitFactor.String())
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
	assert.Equal(t, 2, m.LongTrades)
	assert.Equal(t, 1, m.ShortTrades)
	assert.True(t, m.LongWinRate.Equal(d("0.5")))
	assert.True(t, m.ShortWinRate.IsZero())

	// 1000 -> 1017 -> 1013 -> 1011
	assert.True(t, m.MaxDrawdownPercent.Equal(d("6").Div(d("1017")).Mul(d("100"))), "dd=%s", m.MaxDrawdownPercent)
}

func TestComputeMetrics_ProfitFactor(t *testing.T) {
	testCases := []struct {
		name     string
		trades   []trading.ClosedTrade
		wantInf  bool
		wantText string
	}{
		{
			name:     "no trades",
			wantInf:  true,
			wantText: "inf",
		},
		{
			name: "only wins",
			trades: []trading.ClosedTrade{
				trade("BTCUSDT", trading.DirectionLong, t0, time.Minute, "1", "5", trading.ExitReasonTP1),
			},
			wantInf:  true,
			wantText: "inf",
		},
		{
			name: "breakeven counts as loss",
			trades: []trading.ClosedTrade{
				trade("BTCUSDT", trading.DirectionLong, t0, time.Minute, "1", "0", trading.ExitReasonSL),
			},
			wantText: "0.00",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := ComputeMetrics(AggregateByPosition(tc.trades), d("1000"))
			assert.Equal(t, tc.wantInf, m.ProfitFactor.Infinite)
			assert.Equal(t, tc.wantText, m.ProfitFactor.String())
		})
	}
}

func TestComputeMetrics_ZeroTrades(t *testing.T) {
	m := ComputeMetrics(nil, d("1000"))
	assert.Equal(t, 0, m.TotalTrades)
	assert.True(t, m.WinRate.IsZero())
	assert.True(t, m.AvgPnL.IsZero())
	assert.True(t, m.MaxDrawdownPercent.IsZero())
	assert.Equal(t, time.Duration(0), m.AvgDuration)

	s := NewCalculator().Calculate(nil, d("1000"))
	assert.Empty(t, s.Positions)
	assert.Empty(t, s.Timing)
	assert.Equal(t, 0, s.TotalPartialExits)
}

func TestTimingAnalysis(t *testing.T) {
	stats := TimingAnalysis(AggregateByPosition(sampleTrades()))
	require.Len(t, stats, 2)

	assert.Equal(t, trading.ExitReasonTP3, stats[0].Reason)
	assert.Equal(t, 1, stats[0].Count)
	assert.Equal(t, 3*time.Minute, stats[0].AvgDuration)

	sl := stats[1]
	assert.Equal(t, trading.ExitReasonSL, sl.Reason)
	assert.Equal(t, 2, sl.Count)
	assert.Equal(t, 0, sl.Wins)
	assert.True(t, sl.TotalPnL.Equal(d("-6")))
	assert.True(t, sl.AvgPnL.Equal(d("-3")))
	assert.Equal(t, 10*time.Minute, sl.MinDuration)
	assert.Equal(t, 20*time.Minute, sl.MaxDuration)
	assert.Equal(t, 15*time.Minute, sl.AvgDuration)
}

func TestCalculator_Idempotent(t *testing.T) {
	trades := sampleTrades()
	before := append([]trading.ClosedTrade(nil), trades...)

	c := NewCalculator()
	first := c.Calculate(trades, d("1000"))
	second := c.Calculate(trades, d("1000"))

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, before, trades)
	assert.Equal(t, 6, first.TotalPartialExits)
	assert.Equal(t, 4, first.TakeProfitExits)
	assert.Equal(t, 4, first.ProfitableExits)
}

func TestRatio_JSON(t *testing.T) {
	data, err := json.Marshal(Ratio{Infinite: true})
	require.NoError(t, err)
	assert.Equal(t, `"inf"`, string(data))

	var r Ratio
	require.NoError(t, json.Unmarshal(data, &r))
	assert.True(t, r.Infinite)

	require.NoError(t, json.Unmarshal([]byte(`"2.5"`), &r))
	assert.False(t, r.Infinite)
	assert.True(t, r.Value.Equal(d("2.5")))
}
