package binance

import (
	"github.com/KNICEX/paper-trader/internal/service/exchange"
)

var _ exchange.QuantityPrecisionProvider = (*PrecisionProvider)(nil)

// 常见合约的数量精度
// 参考: https://www.binance.com/en/futures/trading-rules
var defaultPrecision = map[string]int32{
	"BTC":  3, // 0.001
	"ETH":  3, // 0.001
	"BNB":  2, // 0.01
	"SOL":  1, // 0.1
	"DOGE": 0, // 1
	"XRP":  1, // 0.1
	"ADA":  0, // 1
	"AVAX": 1, // 0.1
	"DOT":  1, // 0.1
}

// PrecisionProvider 币安交易对精度提供器，未知币种默认 3 位小数
type PrecisionProvider struct {
	precision map[string]int32
}

// NewPrecisionProvider overrides 覆盖默认配置，key 为 base 币种
func NewPrecisionProvider(overrides map[string]int32) *PrecisionProvider {
	p := make(map[string]int32, len(defaultPrecision)+len(overrides))
	for k, v := range defaultPrecision {
		p[k] = v
	}
	for k, v := range overrides {
		p[k] = v
	}
	return &PrecisionProvider{precision: p}
}

func (p *PrecisionProvider) GetQuantityPrecision(pair exchange.TradingPair) int32 {
	precision, exists := p.precision[pair.Base]
	if !exists {
		precision = 3
	}
	return precision
}
