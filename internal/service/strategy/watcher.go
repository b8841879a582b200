package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/KNICEX/paper-trader/internal/schedule"
	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/samber/lo"
)

var _ schedule.Task = (*Watcher)(nil)

// Watcher 定时拉取最新K线喂给策略，产生的信号写入 out。
// 第一次运行用历史K线预热，只有最后一根收盘K线上的信号会被推送。
type Watcher struct {
	market   exchange.MarketService
	pairs    []exchange.TradingPair
	interval exchange.Interval
	set      *Set
	out      chan<- trading.Signal

	lastClose map[string]time.Time
	now       func() time.Time
	logger    *slog.Logger
}

func NewWatcher(market exchange.MarketService, pairs []exchange.TradingPair, interval exchange.Interval,
	set *Set, out chan<- trading.Signal, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		market:    market,
		pairs:     pairs,
		interval:  interval,
		set:       set,
		out:       out,
		lastClose: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "strategy_watcher")),
	}
}

func (w *Watcher) Name() string {
	return "strategy signal watcher"
}

// Run 单个交易对拉取失败只记录日志
func (w *Watcher) Run(ctx context.Context) error {
	now := w.now()
	for _, pair := range w.pairs {
		symbol := pair.ToString()
		klines, err := w.market.GetKlines(ctx, exchange.GetKlinesReq{
			TradingPair: pair,
			Interval:    w.interval,
			StartTime:   now.Add(-time.Duration(volumeLookback) * w.interval.Duration()),
			EndTime:     now,
		})
		if err != nil {
			w.logger.Error("failed to get klines", "symbol", symbol, "error", err)
			continue
		}

		last, warm := w.lastClose[symbol]
		// 未收盘的K线不参与计算
		klines = lo.Filter(klines, func(k exchange.Kline, _ int) bool {
			return !k.CloseTime.After(now) && k.CloseTime.After(last)
		})
		for i, k := range klines {
			signals := w.set.OnBar(symbol, k)
			w.lastClose[symbol] = k.CloseTime
			if !warm && i < len(klines)-1 {
				continue
			}
			for _, sig := range signals {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case w.out <- sig:
				}
			}
		}
	}
	return nil
}
