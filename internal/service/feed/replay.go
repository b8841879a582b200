package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
)

// BarHandler 每根K线收盘后调用，返回需要推送的信号
type BarHandler func(symbol string, k exchange.Kline) []trading.Signal

// KlineReplay 把历史K线按时间顺序回放成价格推送
type KlineReplay struct {
	provider KlineProvider
	reqs     []exchange.GetKlinesReq
	intraBar bool          // 为 true 时每根K线额外推送 open/high/low
	pace     time.Duration // 每个 tick 之间的等待，0 表示不等待
	logger   *slog.Logger

	onBar   BarHandler
	signals chan<- trading.Signal
}

type ReplayOption func(r *KlineReplay)

func WithIntraBar() ReplayOption {
	return func(r *KlineReplay) { r.intraBar = true }
}

func WithPace(d time.Duration) ReplayOption {
	return func(r *KlineReplay) { r.pace = d }
}

func WithReplayLogger(logger *slog.Logger) ReplayOption {
	return func(r *KlineReplay) { r.logger = logger }
}

// WithSignals 每根K线的 tick 推送完后把 h 产生的信号写入 out，
// 保证信号到达时该交易对已经有价格
func WithSignals(h BarHandler, out chan<- trading.Signal) ReplayOption {
	return func(r *KlineReplay) {
		r.onBar = h
		r.signals = out
	}
}

func NewKlineReplay(provider KlineProvider, reqs []exchange.GetKlinesReq, opts ...ReplayOption) *KlineReplay {
	r := &KlineReplay{
		provider: provider,
		reqs:     reqs,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "kline_replay"))
	return r
}

type bar struct {
	symbol string
	kline  exchange.Kline
}

// bars 加载全部K线，按收盘时间排序
func (r *KlineReplay) bars(ctx context.Context) ([]bar, error) {
	var bars []bar
	for _, req := range r.reqs {
		klines, err := r.provider.GetKlines(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("load klines %s %s: %w", req.TradingPair.ToString(), req.Interval, err)
		}
		symbol := req.TradingPair.ToString()
		for _, k := range klines {
			bars = append(bars, bar{symbol: symbol, kline: k})
		}
		r.logger.Info("klines loaded", "symbol", symbol, "interval", req.Interval, "count", len(klines))
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].kline.CloseTime.Before(bars[j].kline.CloseTime)
	})
	return bars, nil
}

// Ticks 加载全部K线并展开为按时间排序的 tick
func (r *KlineReplay) Ticks(ctx context.Context) ([]trading.PriceTick, error) {
	bars, err := r.bars(ctx)
	if err != nil {
		return nil, err
	}
	var ticks []trading.PriceTick
	for _, b := range bars {
		ticks = append(ticks, r.expand(b.symbol, b.kline)...)
	}
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Timestamp.Before(ticks[j].Timestamp)
	})
	return ticks, nil
}

// expand 阳线按 open->low->high->close，阴线按 open->high->low->close
func (r *KlineReplay) expand(symbol string, k exchange.Kline) []trading.PriceTick {
	closeTick := trading.PriceTick{Symbol: symbol, Price: k.Close, Timestamp: k.CloseTime}
	if !r.intraBar {
		return []trading.PriceTick{closeTick}
	}
	step := k.CloseTime.Sub(k.OpenTime) / 3
	first, second := k.Low, k.High
	if k.Close.LessThan(k.Open) {
		first, second = k.High, k.Low
	}
	return []trading.PriceTick{
		{Symbol: symbol, Price: k.Open, Timestamp: k.OpenTime},
		{Symbol: symbol, Price: first, Timestamp: k.OpenTime.Add(step)},
		{Symbol: symbol, Price: second, Timestamp: k.OpenTime.Add(2 * step)},
		closeTick,
	}
}

// Run 推送全部 tick 后返回，不关闭 out。
// 配置了 WithSignals 时按K线逐根推送，否则按 Ticks 的全局时间顺序推送。
func (r *KlineReplay) Run(ctx context.Context, out chan<- trading.PriceTick) error {
	if r.onBar != nil {
		return r.runBars(ctx, out)
	}
	ticks, err := r.Ticks(ctx)
	if err != nil {
		return err
	}
	for _, tick := range ticks {
		if err := r.send(ctx, out, tick); err != nil {
			return err
		}
	}
	r.logger.Info("replay finished", "ticks", len(ticks))
	return nil
}

func (r *KlineReplay) runBars(ctx context.Context, out chan<- trading.PriceTick) error {
	bars, err := r.bars(ctx)
	if err != nil {
		return err
	}
	var ticks, signals int
	for _, b := range bars {
		for _, tick := range r.expand(b.symbol, b.kline) {
			if err := r.send(ctx, out, tick); err != nil {
				return err
			}
			ticks++
		}
		for _, sig := range r.onBar(b.symbol, b.kline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.signals <- sig:
				signals++
			}
		}
	}
	r.logger.Info("replay finished", "ticks", ticks, "signals", signals)
	return nil
}

func (r *KlineReplay) send(ctx context.Context, out chan<- trading.PriceTick, tick trading.PriceTick) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- tick:
	}
	if r.pace > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pace):
		}
	}
	return nil
}
