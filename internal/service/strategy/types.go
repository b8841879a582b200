package strategy

import (
	"fmt"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
)

// Strategy 单个交易对上的信号生成器，只负责给出方向，不关心资金和仓位
type Strategy interface {
	Name() string
	// OnKline 喂入一根已收盘的K线，ok 为 false 表示观望
	OnKline(k exchange.Kline) (sig trading.Signal, ok bool)
}

// Factory 为每个交易对创建独立的策略实例
type Factory func(pair exchange.TradingPair) Strategy

const (
	NameMACross        = "ma_cross"
	NameVolumeBreakout = "volume_breakout"
)

// Factories 按名称查找内置策略
func Factories(names ...string) ([]Factory, error) {
	factories := make([]Factory, 0, len(names))
	for _, name := range names {
		switch name {
		case NameMACross:
			factories = append(factories, func(pair exchange.TradingPair) Strategy {
				return NewMACross(pair, DefaultShortPeriod, DefaultLongPeriod)
			})
		case NameVolumeBreakout:
			factories = append(factories, func(pair exchange.TradingPair) Strategy {
				return NewVolumeBreakout(pair)
			})
		default:
			return nil, fmt.Errorf("%w: unknown strategy %q", trading.ErrInvalidConfig, name)
		}
	}
	return factories, nil
}
