package statistics

import (
	"sort"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// AggregateByPosition 按 symbol+entry_time+direction 把成交记录合并为逻辑持仓，
// 结果按入场时间排序。不修改输入。
func AggregateByPosition(trades []trading.ClosedTrade) []AggregatedPosition {
	groups := lo.GroupBy(trades, func(t trading.ClosedTrade) string {
		return t.GroupingKey()
	})

	positions := make([]AggregatedPosition, 0, len(groups))
	for key, parts := range groups {
		positions = append(positions, aggregate(key, parts))
	}
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].EntryTime.Equal(positions[j].EntryTime) {
			return positions[i].EntryTime.Before(positions[j].EntryTime)
		}
		return positions[i].GroupingKey < positions[j].GroupingKey
	})
	return positions
}

// aggregate parts 保持输入中的相对顺序
func aggregate(key string, parts []trading.ClosedTrade) AggregatedPosition {
	first := parts[0]
	size, notional, pnl := decimal.Zero, decimal.Zero, decimal.Zero
	last := first
	for _, p := range parts {
		size = size.Add(p.ExitSize)
		notional = notional.Add(p.ExitPrice.Mul(p.ExitSize))
		pnl = pnl.Add(p.RealizedPnL)
		// 同一时间的多次退出取后出现的那条
		if !p.ExitTime.Before(last.ExitTime) {
			last = p
		}
	}

	return AggregatedPosition{
		GroupingKey:       key,
		Symbol:            first.Symbol,
		Direction:         first.Direction,
		EntryPrice:        first.EntryPrice,
		EntryTime:         first.EntryTime,
		TotalSize:         size,
		WeightedExitPrice: decimalx.SafeDiv(notional, size, decimal.Zero),
		TotalPnL:          pnl,
		FinalExitReason:   last.ExitReason,
		ExitTime:          last.ExitTime,
		Duration:          last.ExitTime.Sub(first.EntryTime),
		PartsCount:        len(parts),
		ExitReasons: lo.Map(parts, func(p trading.ClosedTrade, _ int) trading.ExitReason {
			return p.ExitReason
		}),
		IsWin: pnl.IsPositive(),
	}
}

func avgDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	return lo.Sum(ds) / time.Duration(len(ds))
}
