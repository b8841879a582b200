package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/samber/lo"
)

// TickerPoller 定时拉取最新价格，单个交易对失败只记录日志
type TickerPoller struct {
	market   exchange.MarketService
	pairs    []exchange.TradingPair
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewTickerPoller(market exchange.MarketService, pairs []exchange.TradingPair, interval time.Duration, logger *slog.Logger) *TickerPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickerPoller{
		market: market,
		pairs: lo.UniqBy(pairs, func(p exchange.TradingPair) string {
			return p.ToString()
		}),
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "ticker_poller")),
	}
}

// Poll 拉取一轮价格
func (p *TickerPoller) Poll(ctx context.Context) []trading.PriceTick {
	var ticks []trading.PriceTick
	for _, pair := range p.pairs {
		price, err := p.market.Ticker(ctx, pair)
		if err != nil {
			p.logger.Warn("ticker failed", "symbol", pair.ToString(), "error", err)
			continue
		}
		if !price.IsPositive() {
			p.logger.Warn("ignore non-positive price", "symbol", pair.ToString(), "price", price.String())
			continue
		}
		ticks = append(ticks, trading.PriceTick{Symbol: pair.ToString(), Price: price, Timestamp: p.now()})
	}
	return ticks
}

// Run 立即拉取一次，之后每隔 interval 拉取，直到 ctx 结束
func (p *TickerPoller) Run(ctx context.Context, out chan<- trading.PriceTick) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		for _, tick := range p.Poll(ctx) {
			select {
			case <-ctx.Done():
				return nil
			case out <- tick:
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
