package trading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level 止盈档位
type Level struct {
	Reason       ExitReason      `json:"reason"`
	Price        decimal.Decimal `json:"price"`
	SizeFraction decimal.Decimal `json:"size_fraction"` // 占原始仓位的比例
	Triggered    bool            `json:"triggered"`
}

// ExitEvent 一次(部分)平仓
type ExitEvent struct {
	Price       decimal.Decimal `json:"price"`
	Time        time.Time       `json:"time"`
	Size        decimal.Decimal `json:"size"`
	Reason      ExitReason      `json:"reason"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Position 虚拟持仓，只由 position.Manager 修改
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Confidence float64         `json:"confidence"`

	OriginalSize  decimal.Decimal `json:"original_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`

	InitialStopLoss decimal.Decimal `json:"initial_stop_loss"`
	StopLoss        decimal.Decimal `json:"stop_loss"` // 当前止损，TP1 后可能移到保本
	TakeProfits     []Level         `json:"take_profits"`

	Status        Status          `json:"status"`
	Exits         []ExitEvent     `json:"exits"`
	ReservationID string          `json:"reservation_id"`
	Reserved      decimal.Decimal `json:"reserved"` // 开仓时占用的保证金
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}

func (p *Position) IsActive() bool {
	return p.Status == StatusOpen || p.Status == StatusPartiallyClosed
}

func (p *Position) ExitedSize() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Exits {
		total = total.Add(e.Size)
	}
	return total
}

// CheckInvariant Σexit + remaining == original
func (p *Position) CheckInvariant() error {
	if p.RemainingSize.IsNegative() {
		return fmt.Errorf("%w: %s remaining size %s < 0", ErrInvariant, p.ID, p.RemainingSize)
	}
	if !p.ExitedSize().Add(p.RemainingSize).Equal(p.OriginalSize) {
		return fmt.Errorf("%w: %s exited %s + remaining %s != original %s",
			ErrInvariant, p.ID, p.ExitedSize(), p.RemainingSize, p.OriginalSize)
	}
	return nil
}

// PnL 以 price 平掉 size 的盈亏
func (p *Position) PnL(price, size decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(size).Mul(p.Direction.Sign())
}

func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.PnL(price, p.RemainingSize)
}

// StopCrossed 当前价格是否触及止损
func (p *Position) StopCrossed(price decimal.Decimal) bool {
	if p.StopLoss.IsZero() {
		return false
	}
	if p.Direction == DirectionLong {
		return price.LessThanOrEqual(p.StopLoss)
	}
	return price.GreaterThanOrEqual(p.StopLoss)
}

// TargetCrossed 当前价格是否触及止盈价
func (p *Position) TargetCrossed(level Level, price decimal.Decimal) bool {
	if p.Direction == DirectionLong {
		return price.GreaterThanOrEqual(level.Price)
	}
	return price.LessThanOrEqual(level.Price)
}

// Clone 深拷贝，用于快照和只读查询
func (p *Position) Clone() Position {
	c := *p
	c.TakeProfits = append([]Level(nil), p.TakeProfits...)
	c.Exits = append([]ExitEvent(nil), p.Exits...)
	return c
}

// Summary 简短状态，例如 "BTCUSDT LONG TP1✓ SL→BE (50% remaining)"
func (p *Position) Summary() string {
	s := fmt.Sprintf("%s %s", p.Symbol, p.Direction)
	for _, l := range p.TakeProfits {
		if l.Triggered {
			s += fmt.Sprintf(" %s✓", l.Reason)
		}
	}
	if !p.StopLoss.Equal(p.InitialStopLoss) && p.StopLoss.Equal(p.EntryPrice) {
		s += " SL→BE"
	}
	if p.RemainingSize.IsPositive() && !p.OriginalSize.IsZero() {
		pct := p.RemainingSize.Div(p.OriginalSize).Mul(decimal.NewFromInt(100))
		s += fmt.Sprintf(" (%s%% remaining)", pct.StringFixed(0))
	}
	return s
}

// ClosedTrade 一次退出事件产生的不可变成交记录
type ClosedTrade struct {
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	ExitTime    time.Time       `json:"exit_time"`
	ExitSize    decimal.Decimal `json:"exit_size"`
	ExitReason  ExitReason      `json:"exit_reason"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	PnLPercent  decimal.Decimal `json:"pnl_percent"` // 相对该部分名义价值
	Final       bool            `json:"final"`       // 是否为该持仓的最后一次退出
}

func (t ClosedTrade) GroupingKey() string {
	return GroupingKey(t.Symbol, t.EntryTime, t.Direction)
}

func (t ClosedTrade) IsProfitable() bool {
	return t.RealizedPnL.IsPositive()
}

func (t ClosedTrade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
