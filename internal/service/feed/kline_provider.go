package feed

import (
	"context"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// KlineProvider K线数据提供者接口
// 可以有多种实现：币安API、模拟数据等
type KlineProvider interface {
	GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error)
}

var _ KlineProvider = (exchange.MarketService)(nil)

type Trend string

const (
	TrendUp       Trend = "up"
	TrendDown     Trend = "down"
	TrendSideways Trend = "sideways"
	TrendVolatile Trend = "volatile"
)

// MockKlineProvider 模拟K线数据提供者（用于测试和离线回放）
type MockKlineProvider struct {
	klines map[string][]exchange.Kline // key: tradingPair_interval
}

func NewMockKlineProvider() *MockKlineProvider {
	return &MockKlineProvider{
		klines: make(map[string][]exchange.Kline),
	}
}

func klineKey(pair exchange.TradingPair, interval exchange.Interval) string {
	return pair.ToString() + "_" + interval.ToString()
}

func (p *MockKlineProvider) AddKlines(pair exchange.TradingPair, interval exchange.Interval, klines []exchange.Kline) {
	p.klines[klineKey(pair, interval)] = klines
}

// GenerateKlines 生成模拟K线数据，每根K线的变化幅度为 step(如 0.005 表示 0.5%)
func (p *MockKlineProvider) GenerateKlines(
	pair exchange.TradingPair,
	interval exchange.Interval,
	startTime time.Time,
	basePrice decimal.Decimal,
	count int,
	trend Trend,
	step decimal.Decimal,
) []exchange.Kline {
	one := decimal.NewFromInt(1)
	klines := make([]exchange.Kline, count)
	for i := 0; i < count; i++ {
		n := decimal.NewFromInt(int64(i))
		var factor decimal.Decimal
		switch trend {
		case TrendUp:
			factor = one.Add(n.Mul(step))
		case TrendDown:
			factor = one.Sub(n.Mul(step))
		case TrendVolatile:
			// 上下交替波动
			swing := decimal.NewFromInt(int64(i % 10)).Mul(step)
			if i%2 == 0 {
				factor = one.Add(swing)
			} else {
				factor = one.Sub(swing)
			}
		default:
			factor = one.Add(decimal.NewFromInt(int64(i%5 - 2)).Mul(step).Div(decimal.NewFromInt(5)))
		}

		price := basePrice.Mul(factor)
		openTime := startTime.Add(time.Duration(i) * interval.Duration())
		// 高低价在收盘价基础上 ±step
		klines[i] = exchange.Kline{
			OpenTime:         openTime,
			CloseTime:        openTime.Add(interval.Duration()),
			Open:             price.Mul(one.Sub(step.Div(decimal.NewFromInt(5)))),
			Close:            price,
			High:             price.Mul(one.Add(step)),
			Low:              price.Mul(one.Sub(step)),
			Volume:           decimal.NewFromInt(int64(1000 + i*10)),
			QuoteAssetVolume: price.Mul(decimal.NewFromInt(int64(1000 + i*10))),
		}
	}
	p.AddKlines(pair, interval, klines)
	return klines
}

// GetKlines 按 [StartTime, EndTime) 过滤，时间为零值时不限制
func (p *MockKlineProvider) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	var result []exchange.Kline
	for _, k := range p.klines[klineKey(req.TradingPair, req.Interval)] {
		if !req.StartTime.IsZero() && k.OpenTime.Before(req.StartTime) {
			continue
		}
		if !req.EndTime.IsZero() && !k.OpenTime.Before(req.EndTime) {
			continue
		}
		result = append(result, k)
	}
	return result, nil
}
