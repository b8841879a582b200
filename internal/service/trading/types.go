package trading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign 多头 +1，空头 -1
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type ExitReason string

const (
	ExitReasonTP1     ExitReason = "TP1"
	ExitReasonTP2     ExitReason = "TP2"
	ExitReasonTP3     ExitReason = "TP3"
	ExitReasonSL      ExitReason = "SL"
	ExitReasonManual  ExitReason = "MANUAL"
	ExitReasonTimeout ExitReason = "TIMEOUT"
)

// ExitReasons 固定顺序，报表按此顺序输出
var ExitReasons = []ExitReason{
	ExitReasonTP1, ExitReasonTP2, ExitReasonTP3,
	ExitReasonSL, ExitReasonManual, ExitReasonTimeout,
}

// TPReason 返回第 i 档止盈(从0开始)对应的退出原因
func TPReason(i int) ExitReason {
	return ExitReason(fmt.Sprintf("TP%d", i+1))
}

func (r ExitReason) IsTakeProfit() bool {
	return r == ExitReasonTP1 || r == ExitReasonTP2 || r == ExitReasonTP3
}

type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyClosed Status = "PARTIALLY_CLOSED"
	StatusClosed          Status = "CLOSED"
)

// Signal 外部策略产生的交易信号
type Signal struct {
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Confidence    float64         `json:"confidence"`
	SuggestedSize decimal.Decimal `json:"suggested_size"` // 基础币数量，0 表示按配置比例计算
	Timestamp     time.Time       `json:"timestamp"`

	// 可选：信号自带的止损/止盈价位，为空时按配置的档位计算
	StopLoss    decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfits []decimal.Decimal `json:"take_profits,omitempty"`
}

func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if !s.Direction.IsValid() {
		return fmt.Errorf("%w: unsupported direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidSignal)
	}
	if s.SuggestedSize.IsNegative() {
		return fmt.Errorf("%w: negative size %s", ErrInvalidSignal, s.SuggestedSize)
	}
	return nil
}

// PriceTick 行情推送
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// GroupingKey symbol+entry_time+direction，既是持仓 id 也是统计时的分组键
func GroupingKey(symbol string, entryTime time.Time, direction Direction) string {
	return fmt.Sprintf("%s_%s_%s", symbol, entryTime.UTC().Format(time.RFC3339Nano), direction)
}
