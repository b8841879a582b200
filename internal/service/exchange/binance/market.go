package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

var _ exchange.MarketService = (*MarketService)(nil)

type MarketService struct {
	cli *futures.Client
}

// NewMarketService 创建市场数据服务
func NewMarketService(cli *futures.Client) *MarketService {
	return &MarketService{cli: cli}
}

func parseDecimals(fields ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		out[i] = d
	}
	return out, nil
}

func (m *MarketService) convertKlines(klines []*futures.Kline) ([]exchange.Kline, error) {
	kls := make([]exchange.Kline, len(klines))
	for i, k := range klines {
		v, err := parseDecimals(k.Open, k.Close, k.High, k.Low, k.Volume, k.QuoteAssetVolume)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", k.OpenTime, err)
		}
		kls[i] = exchange.Kline{
			OpenTime:         time.UnixMilli(k.OpenTime),
			CloseTime:        time.UnixMilli(k.CloseTime),
			Open:             v[0],
			Close:            v[1],
			High:             v[2],
			Low:              v[3],
			Volume:           v[4],
			QuoteAssetVolume: v[5],
		}
	}
	return kls, nil
}

// klinesLimit 币安单次请求的最大K线数
const klinesLimit = 1500

// GetKlines 同时给出起止时间时自动分页
func (m *MarketService) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	var all []exchange.Kline
	start := req.StartTime
	for {
		svc := m.cli.NewKlinesService().Symbol(req.TradingPair.ToString()).Limit(klinesLimit) // 币安合约API使用 BTCUSDT 格式，不是 BTC/USDT
		if req.Interval.ToString() != "" {
			svc.Interval(req.Interval.ToString())
		}
		if !start.IsZero() {
			svc.StartTime(start.UnixMilli())
		}
		if !req.EndTime.IsZero() {
			svc.EndTime(req.EndTime.UnixMilli())
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		klines, err := m.convertKlines(res)
		if err != nil {
			return nil, err
		}
		all = append(all, klines...)
		if len(res) < klinesLimit || start.IsZero() || req.EndTime.IsZero() {
			return all, nil
		}
		start = klines[len(klines)-1].OpenTime.Add(time.Millisecond)
		if !start.Before(req.EndTime) {
			return all, nil
		}
	}
}

func (m *MarketService) Ticker(ctx context.Context, tradingPair exchange.TradingPair) (decimal.Decimal, error) {
	prices, err := m.cli.NewListPricesService().Symbol(tradingPair.ToString()).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no price for %s", tradingPair.ToString())
	}
	return decimal.NewFromString(prices[0].Price)
}
