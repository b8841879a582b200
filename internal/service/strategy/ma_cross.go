package strategy

import (
	"fmt"
	"log/slog"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
)

const (
	DefaultShortPeriod = 5
	DefaultLongPeriod  = 20

	maCrossConfidence = 0.7
)

// MACross 双均线交叉：短期均线上穿长期均线做多，下穿做空
type MACross struct {
	pair        exchange.TradingPair
	shortPeriod int
	longPeriod  int

	closes []decimal.Decimal
	last   trading.Direction // 上一次的信号方向，避免重复信号
}

func NewMACross(pair exchange.TradingPair, shortPeriod, longPeriod int) *MACross {
	return &MACross{
		pair:        pair,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		closes:      make([]decimal.Decimal, 0, longPeriod+1),
	}
}

func (s *MACross) Name() string {
	return NameMACross
}

func (s *MACross) OnKline(k exchange.Kline) (trading.Signal, bool) {
	s.closes = append(s.closes, k.Close)
	// 计算前一根的均线需要多保留一根
	if len(s.closes) > s.longPeriod+1 {
		s.closes = s.closes[1:]
	}
	if len(s.closes) <= s.longPeriod {
		return trading.Signal{}, false
	}

	end := len(s.closes) - 1
	shortMA, longMA := s.sma(s.shortPeriod, end), s.sma(s.longPeriod, end)
	prevShortMA, prevLongMA := s.sma(s.shortPeriod, end-1), s.sma(s.longPeriod, end-1)

	var direction trading.Direction
	switch {
	case prevShortMA.LessThanOrEqual(prevLongMA) && shortMA.GreaterThan(longMA):
		direction = trading.DirectionLong
	case prevShortMA.GreaterThanOrEqual(prevLongMA) && shortMA.LessThan(longMA):
		direction = trading.DirectionShort
	default:
		return trading.Signal{}, false
	}
	if direction == s.last {
		return trading.Signal{}, false
	}
	s.last = direction

	slog.Debug("ma cross", "symbol", s.pair.ToString(), "direction", direction,
		"short_ma", shortMA.StringFixed(4), "long_ma", longMA.StringFixed(4))
	return trading.Signal{
		Symbol:     s.pair.ToString(),
		Direction:  direction,
		Confidence: maCrossConfidence,
		Timestamp:  k.CloseTime,
	}, true
}

// sma 以 end 为最后一根的 period 周期简单均线
func (s *MACross) sma(period, end int) decimal.Decimal {
	if end < period-1 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for i := end - period + 1; i <= end; i++ {
		sum = sum.Add(s.closes[i])
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func (s *MACross) String() string {
	return fmt.Sprintf("%s(%s, %d/%d)", s.Name(), s.pair.ToString(), s.shortPeriod, s.longPeriod)
}
