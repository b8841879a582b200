package statistics

import (
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Calculator 纯计算，不持有状态，同样的输入总是得到同样的结果
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) Calculate(trades []trading.ClosedTrade, initialBalance decimal.Decimal) Statistics {
	positions := AggregateByPosition(trades)
	tpExits := lo.CountBy(trades, func(t trading.ClosedTrade) bool {
		return t.ExitReason.IsTakeProfit()
	})
	return Statistics{
		Positions:         positions,
		Metrics:           ComputeMetrics(positions, initialBalance),
		Timing:            TimingAnalysis(positions),
		TotalPartialExits: len(trades),
		TakeProfitExits:   tpExits,
		ProfitableExits:   lo.CountBy(trades, trading.ClosedTrade.IsProfitable),
	}
}
