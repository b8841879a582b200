package statistics

import (
	"encoding/json"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
)

// AggregatedPosition 同一分组键下的所有部分平仓合并后的逻辑交易
type AggregatedPosition struct {
	GroupingKey       string               `json:"grouping_key"`
	Symbol            string               `json:"symbol"`
	Direction         trading.Direction    `json:"direction"`
	EntryPrice        decimal.Decimal      `json:"entry_price"`
	EntryTime         time.Time            `json:"entry_time"`
	TotalSize         decimal.Decimal      `json:"total_size"`
	WeightedExitPrice decimal.Decimal      `json:"weighted_exit_price"`
	TotalPnL          decimal.Decimal      `json:"total_pnl"`
	FinalExitReason   trading.ExitReason   `json:"final_exit_reason"`
	ExitTime          time.Time            `json:"exit_time"`
	Duration          time.Duration        `json:"duration"`
	PartsCount        int                  `json:"parts_count"`
	ExitReasons       []trading.ExitReason `json:"exit_reasons"`
	IsWin             bool                 `json:"is_win"`
}

// Ratio 可能为无穷大的比值，例如没有亏损时的盈亏比
type Ratio struct {
	Value    decimal.Decimal
	Infinite bool
}

func (r Ratio) String() string {
	if r.Infinite {
		return "inf"
	}
	return r.Value.StringFixed(2)
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Infinite {
		return json.Marshal("inf")
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s == "inf" {
		*r = Ratio{Infinite: true}
		return nil
	}
	var v decimal.Decimal
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio{Value: v}
	return nil
}

// Metrics 按逻辑持仓统计的交易表现
type Metrics struct {
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"` // pnl <= 0

	WinRate  decimal.Decimal `json:"win_rate"` // 0~1
	TotalPnL decimal.Decimal `json:"total_pnl"`
	AvgPnL   decimal.Decimal `json:"avg_pnl"`
	AvgWin   decimal.Decimal `json:"avg_win"`
	AvgLoss  decimal.Decimal `json:"avg_loss"` // 绝对值

	LargestWin   decimal.Decimal `json:"largest_win"`
	LargestLoss  decimal.Decimal `json:"largest_loss"`
	ProfitFactor Ratio           `json:"profit_factor"`

	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`
	AvgDuration        time.Duration   `json:"avg_duration"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	LongTrades   int             `json:"long_trades"`
	ShortTrades  int             `json:"short_trades"`
	LongWinRate  decimal.Decimal `json:"long_win_rate"`
	ShortWinRate decimal.Decimal `json:"short_win_rate"`
}

// ReasonStats 按最终退出原因分组的持仓时长分析
type ReasonStats struct {
	Reason      trading.ExitReason `json:"reason"`
	Count       int                `json:"count"`
	Wins        int                `json:"wins"`
	WinRate     decimal.Decimal    `json:"win_rate"`
	TotalPnL    decimal.Decimal    `json:"total_pnl"`
	AvgPnL      decimal.Decimal    `json:"avg_pnl"`
	AvgDuration time.Duration      `json:"avg_duration"`
	MinDuration time.Duration      `json:"min_duration"`
	MaxDuration time.Duration      `json:"max_duration"`
}

// Statistics 一次完整计算的结果
type Statistics struct {
	Positions         []AggregatedPosition `json:"positions"`
	Metrics           Metrics              `json:"metrics"`
	Timing            []ReasonStats        `json:"timing"`
	TotalPartialExits int                  `json:"total_partial_exits"`
	TakeProfitExits   int                  `json:"take_profit_exits"`
	ProfitableExits   int                  `json:"profitable_exits"` // 按单次退出计
}
