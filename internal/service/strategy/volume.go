package strategy

import (
	"log/slog"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	volumeLookback  = 32 // 8h 的 15m K线
	volumeMinKlines = 10
	volumeRecentLen = 4
)

var minVolumeSlope = decimal.RequireFromString("0.007")

// VolumeBreakout 量价异动：连续同向K线且成交量放大。
// 连续阳线做多，连续阴线做空。
type VolumeBreakout struct {
	pair   exchange.TradingPair
	klines []exchange.Kline
	// 触发后至少间隔 volumeRecentLen 根K线才会再次触发
	quiet int
}

func NewVolumeBreakout(pair exchange.TradingPair) *VolumeBreakout {
	return &VolumeBreakout{
		pair:   pair,
		klines: make([]exchange.Kline, 0, volumeLookback+1),
	}
}

func (s *VolumeBreakout) Name() string {
	return NameVolumeBreakout
}

func (s *VolumeBreakout) OnKline(k exchange.Kline) (trading.Signal, bool) {
	s.klines = append(s.klines, k)
	if len(s.klines) > volumeLookback {
		s.klines = s.klines[1:]
	}
	if s.quiet > 0 {
		s.quiet--
		return trading.Signal{}, false
	}
	if len(s.klines) < volumeMinKlines {
		return trading.Signal{}, false
	}

	recent := s.klines[len(s.klines)-volumeRecentLen:]
	direction, ok := sameDirection(recent)
	if !ok {
		return trading.Signal{}, false
	}

	// 量价跟随
	slope := decimalx.Slope(lo.Map(recent, func(item exchange.Kline, _ int) decimal.Decimal {
		return item.Volume
	}))
	if !slope.GreaterThan(minVolumeSlope) {
		return trading.Signal{}, false
	}

	// 去除超过2倍标准差的异常值后的平均成交量
	volumes := lo.Map(s.klines[:len(s.klines)-volumeRecentLen], func(item exchange.Kline, _ int) decimal.Decimal {
		return item.Volume
	})
	limit := decimalx.Average(volumes).Add(decimalx.StdDev(volumes).Mul(decimal.NewFromInt(2)))
	smoothAvg := decimalx.Average(lo.Filter(volumes, func(v decimal.Decimal, _ int) bool {
		return v.LessThanOrEqual(limit)
	}))

	last := recent[volumeRecentLen-1].Volume
	if !smoothAvg.IsPositive() || !last.GreaterThan(smoothAvg) {
		return trading.Signal{}, false
	}

	// 置信度 = 斜率 * 0.5 + (成交量比率 - 1) * 0.5，截断到 [0, 1]
	half := decimal.RequireFromString("0.5")
	ratio := last.Div(smoothAvg).Sub(decimal.NewFromInt(1))
	confidence := slope.Mul(half).Add(ratio.Mul(half))
	confidence = decimal.Max(decimal.Zero, decimal.Min(decimal.NewFromInt(1), confidence))

	s.quiet = volumeRecentLen
	slog.Debug("volume breakout", "symbol", s.pair.ToString(), "direction", direction,
		"slope", slope.StringFixed(4), "volume", last.String(), "smooth_avg", smoothAvg.StringFixed(4))
	return trading.Signal{
		Symbol:     s.pair.ToString(),
		Direction:  direction,
		Confidence: confidence.InexactFloat64(),
		Timestamp:  k.CloseTime,
	}, true
}

func sameDirection(klines []exchange.Kline) (trading.Direction, bool) {
	bullish := lo.EveryBy(klines, func(k exchange.Kline) bool { return k.Close.GreaterThan(k.Open) })
	if bullish {
		return trading.DirectionLong, true
	}
	bearish := lo.EveryBy(klines, func(k exchange.Kline) bool { return k.Close.LessThan(k.Open) })
	if bearish {
		return trading.DirectionShort, true
	}
	return "", false
}
