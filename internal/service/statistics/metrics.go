package statistics

import (
	"sort"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ComputeMetrics 统计只看逻辑持仓，不看部分平仓记录
func ComputeMetrics(positions []AggregatedPosition, initialBalance decimal.Decimal) Metrics {
	// 没有亏损就没有分母，无交易时同样视为 inf
	m := Metrics{
		TotalTrades:  len(positions),
		ProfitFactor: Ratio{Infinite: true},
	}
	if len(positions) == 0 {
		return m
	}

	wins := lo.Filter(positions, func(p AggregatedPosition, _ int) bool { return p.IsWin })
	losses := lo.Reject(positions, func(p AggregatedPosition, _ int) bool { return p.IsWin })
	m.WinningTrades = len(wins)
	m.LosingTrades = len(losses)
	m.WinRate = winRate(positions)

	grossWin := sumPnL(wins)
	grossLoss := sumPnL(losses).Abs()
	m.TotalPnL = sumPnL(positions)
	m.AvgPnL = m.TotalPnL.Div(decimal.NewFromInt(int64(len(positions))))
	if len(wins) > 0 {
		m.AvgWin = grossWin.Div(decimal.NewFromInt(int64(len(wins))))
		m.LargestWin = lo.MaxBy(wins, func(a, b AggregatedPosition) bool {
			return a.TotalPnL.GreaterThan(b.TotalPnL)
		}).TotalPnL
	}
	if len(losses) > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(len(losses))))
		m.LargestLoss = lo.MinBy(losses, func(a, b AggregatedPosition) bool {
			return a.TotalPnL.LessThan(b.TotalPnL)
		}).TotalPnL
	}
	m.ProfitFactor = profitFactor(grossWin, grossLoss)

	m.MaxDrawdownPercent = maxDrawdown(positions, initialBalance)
	m.AvgDuration = avgDuration(lo.Map(positions, func(p AggregatedPosition, _ int) time.Duration {
		return p.Duration
	}))
	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = streaks(positions)

	longs := lo.Filter(positions, func(p AggregatedPosition, _ int) bool {
		return p.Direction == trading.DirectionLong
	})
	shorts := lo.Filter(positions, func(p AggregatedPosition, _ int) bool {
		return p.Direction == trading.DirectionShort
	})
	m.LongTrades, m.ShortTrades = len(longs), len(shorts)
	m.LongWinRate, m.ShortWinRate = winRate(longs), winRate(shorts)
	return m
}

func sumPnL(ps []AggregatedPosition) decimal.Decimal {
	return decimalx.Sum(lo.Map(ps, func(p AggregatedPosition, _ int) decimal.Decimal {
		return p.TotalPnL
	})...)
}

func winRate(ps []AggregatedPosition) decimal.Decimal {
	if len(ps) == 0 {
		return decimal.Zero
	}
	wins := lo.CountBy(ps, func(p AggregatedPosition) bool { return p.IsWin })
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(ps))))
}

// profitFactor 有交易但盈亏都为 0 时返回 0
func profitFactor(grossWin, grossLoss decimal.Decimal) Ratio {
	if grossLoss.IsZero() {
		if grossWin.IsPositive() {
			return Ratio{Infinite: true}
		}
		return Ratio{Value: decimal.Zero}
	}
	return Ratio{Value: grossWin.Div(grossLoss)}
}

// maxDrawdown 以初始资金为起点，按平仓时间累加盈亏得到资金曲线
func maxDrawdown(positions []AggregatedPosition, initial decimal.Decimal) decimal.Decimal {
	byExit := append([]AggregatedPosition(nil), positions...)
	sort.SliceStable(byExit, func(i, j int) bool {
		return byExit[i].ExitTime.Before(byExit[j].ExitTime)
	})

	equity, peak, maxDD := initial, initial, decimal.Zero
	for _, p := range byExit {
		equity = equity.Add(p.TotalPnL)
		if equity.GreaterThan(peak) {
			peak = equity
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		dd := decimalx.Percent(peak.Sub(equity), peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// streaks positions 已按入场时间排序
func streaks(positions []AggregatedPosition) (maxWins, maxLosses int) {
	wins, losses := 0, 0
	for _, p := range positions {
		if p.IsWin {
			wins++
			losses = 0
		} else {
			losses++
			wins = 0
		}
		maxWins = max(maxWins, wins)
		maxLosses = max(maxLosses, losses)
	}
	return maxWins, maxLosses
}

// TimingAnalysis 按最终退出原因分组，原因顺序固定，没有样本的原因不输出
func TimingAnalysis(positions []AggregatedPosition) []ReasonStats {
	groups := lo.GroupBy(positions, func(p AggregatedPosition) trading.ExitReason {
		return p.FinalExitReason
	})

	var out []ReasonStats
	for _, reason := range trading.ExitReasons {
		ps, ok := groups[reason]
		if !ok {
			continue
		}
		durations := lo.Map(ps, func(p AggregatedPosition, _ int) time.Duration { return p.Duration })
		total := sumPnL(ps)
		out = append(out, ReasonStats{
			Reason:      reason,
			Count:       len(ps),
			Wins:        lo.CountBy(ps, func(p AggregatedPosition) bool { return p.IsWin }),
			WinRate:     winRate(ps),
			TotalPnL:    total,
			AvgPnL:      total.Div(decimal.NewFromInt(int64(len(ps)))),
			AvgDuration: avgDuration(durations),
			MinDuration: lo.Min(durations),
			MaxDuration: lo.Max(durations),
		})
	}
	return out
}
