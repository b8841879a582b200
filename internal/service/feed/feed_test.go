package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	t0  = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	btc = exchange.TradingPair{Base: "BTC", Quote: "USDT"}
	eth = exchange.TradingPair{Base: "ETH", Quote: "USDT"}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMockKlineProvider_GenerateKlines(t *testing.T) {
	p := NewMockKlineProvider()
	klines := p.GenerateKlines(btc, exchange.Interval15m, t0, d("100"), 4, TrendUp, d("0.01"))
	require.Len(t, klines, 4)
	assert.True(t, klines[3].Close.Equal(d("103")))
	assert.True(t, klines[3].High.Equal(d("104.03")))
	assert.True(t, klines[1].OpenTime.Equal(t0.Add(15*time.Minute)))

	got, err := p.GetKlines(context.Background(), exchange.GetKlinesReq{
		TradingPair: btc,
		Interval:    exchange.Interval15m,
		StartTime:   t0.Add(15 * time.Minute),
		EndTime:     t0.Add(45 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestKlineReplay_Ticks(t *testing.T) {
	p := NewMockKlineProvider()
	p.GenerateKlines(btc, exchange.Interval15m, t0, d("100"), 3, TrendUp, d("0.01"))
	p.GenerateKlines(eth, exchange.Interval15m, t0.Add(5*time.Minute), d("20"), 3, TrendDown, d("0.01"))

	replay := NewKlineReplay(p, []exchange.GetKlinesReq{
		{TradingPair: btc, Interval: exchange.Interval15m},
		{TradingPair: eth, Interval: exchange.Interval15m},
	})
	ticks, err := replay.Ticks(context.Background())
	require.NoError(t, err)
	require.Len(t, ticks, 6)
	for i := 1; i < len(ticks); i++ {
		assert.False(t, ticks[i].Timestamp.Before(ticks[i-1].Timestamp))
	}
	assert.Equal(t, "BTCUSDT", ticks[0].Symbol)
	assert.Equal(t, "ETHUSDT", ticks[1].Symbol)
}

func TestKlineReplay_IntraBar(t *testing.T) {
	p := NewMockKlineProvider()
	p.AddKlines(btc, exchange.Interval15m, []exchange.Kline{{
		OpenTime: t0, CloseTime: t0.Add(15 * time.Minute),
		Open: d("100"), High: d("112"), Low: d("97"), Close: d("99"),
	}})

	replay := NewKlineReplay(p, []exchange.GetKlinesReq{{TradingPair: btc, Interval: exchange.Interval15m}}, WithIntraBar())
	ticks, err := replay.Ticks(context.Background())
	require.NoError(t, err)
	prices := make([]string, 0, len(ticks))
	for _, tk := range ticks {
		prices = append(prices, tk.Price.String())
	}
	// 阴线先高后低
	assert.Equal(t, []string{"100", "112", "97", "99"}, prices)
}

func TestKlineReplay_Run(t *testing.T) {
	p := NewMockKlineProvider()
	p.GenerateKlines(btc, exchange.Interval1m, t0, d("100"), 5, TrendSideways, d("0.01"))
	replay := NewKlineReplay(p, []exchange.GetKlinesReq{{TradingPair: btc, Interval: exchange.Interval1m}})

	out := make(chan trading.PriceTick, 10)
	require.NoError(t, replay.Run(context.Background(), out))
	assert.Len(t, out, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, replay.Run(ctx, make(chan trading.PriceTick)), context.Canceled)
}

func TestKlineReplay_WithSignals(t *testing.T) {
	p := NewMockKlineProvider()
	p.GenerateKlines(btc, exchange.Interval1m, t0, d("100"), 3, TrendUp, d("0.01"))

	type event struct {
		kind  string
		price string
	}
	var events []event
	ticks := make(chan trading.PriceTick)
	signals := make(chan trading.Signal)

	// 只在第二根K线收盘时发信号
	onBar := func(symbol string, k exchange.Kline) []trading.Signal {
		if !k.Close.Equal(d("101")) {
			return nil
		}
		return []trading.Signal{{Symbol: symbol, Direction: trading.DirectionLong, Timestamp: k.CloseTime}}
	}
	replay := NewKlineReplay(p, []exchange.GetKlinesReq{{TradingPair: btc, Interval: exchange.Interval1m}},
		WithSignals(onBar, signals))

	done := make(chan error, 1)
	go func() {
		done <- replay.Run(context.Background(), ticks)
		close(ticks)
		close(signals)
	}()
	for ticks != nil || signals != nil {
		select {
		case tk, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			events = append(events, event{"tick", tk.Price.String()})
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			events = append(events, event{"signal", sig.Symbol})
		}
	}
	require.NoError(t, <-done)
	assert.Equal(t, []event{
		{"tick", "100"},
		{"tick", "101"},
		{"signal", "BTCUSDT"},
		{"tick", "102"},
	}, events)
}

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) Ticker(ctx context.Context, pair exchange.TradingPair) (decimal.Decimal, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockMarket) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	args := m.Called(ctx, req)
	return args.Get(0).([]exchange.Kline), args.Error(1)
}

func TestTickerPoller_Poll(t *testing.T) {
	market := &mockMarket{}
	market.On("Ticker", mock.Anything, btc).Return(d("64000"), nil)
	market.On("Ticker", mock.Anything, eth).Return(decimal.Zero, errors.New("timeout"))

	poller := NewTickerPoller(market, []exchange.TradingPair{btc, eth, btc}, time.Second, nil)
	poller.now = func() time.Time { return t0 }

	ticks := poller.Poll(context.Background())
	require.Len(t, ticks, 1)
	assert.Equal(t, trading.PriceTick{Symbol: "BTCUSDT", Price: d("64000"), Timestamp: t0}, ticks[0])
	market.AssertNumberOfCalls(t, "Ticker", 2)
}

func TestTickerPoller_Run(t *testing.T) {
	market := &mockMarket{}
	market.On("Ticker", mock.Anything, btc).Return(d("64000"), nil)
	poller := NewTickerPoller(market, []exchange.TradingPair{btc}, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan trading.PriceTick, 16)
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx, out) }()

	assert.Eventually(t, func() bool { return len(out) >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
