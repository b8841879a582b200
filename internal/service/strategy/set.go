package strategy

import (
	"log/slog"
	"sync"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/feed"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/samber/lo"
)

// Set 按交易对懒加载策略实例，把所有策略的输出合并成信号
type Set struct {
	factories []Factory

	mu         sync.Mutex
	strategies map[string][]Strategy
	logger     *slog.Logger
}

var _ feed.BarHandler = (*Set)(nil).OnBar

func NewSet(factories []Factory, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		factories:  factories,
		strategies: make(map[string][]Strategy),
		logger:     logger.With(slog.String("component", "strategy")),
	}
}

// OnBar 同一根K线上多个策略同向只保留第一个，方向冲突时全部丢弃
func (s *Set) OnBar(symbol string, k exchange.Kline) []trading.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	strategies, ok := s.strategies[symbol]
	if !ok {
		pair := exchange.ParseTradingPair(symbol)
		strategies = lo.Map(s.factories, func(f Factory, _ int) Strategy {
			return f(pair)
		})
		s.strategies[symbol] = strategies
	}

	var signals []trading.Signal
	for _, st := range strategies {
		sig, ok := st.OnKline(k)
		if !ok {
			continue
		}
		s.logger.Info("strategy signal", "strategy", st.Name(), "symbol", symbol,
			"direction", sig.Direction, "confidence", sig.Confidence, "close", k.Close.String())
		signals = append(signals, sig)
	}
	signals = lo.UniqBy(signals, func(sig trading.Signal) trading.Direction {
		return sig.Direction
	})
	if len(signals) > 1 {
		s.logger.Warn("conflicting signals dropped", "symbol", symbol, "close_time", k.CloseTime)
		return nil
	}
	return signals
}
