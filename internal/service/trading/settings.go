package trading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TPTier 止盈档位配置
type TPTier struct {
	Distance     decimal.Decimal // 距入场价的比例，0.1 = 10%
	SizeFraction decimal.Decimal // 平掉原始仓位的比例
}

type ExitPriority string

const (
	ExitPriorityStopFirst   ExitPriority = "sl_first"
	ExitPriorityTargetFirst ExitPriority = "tp_first"
)

// Settings 会话配置，校验通过后视为不可变
type Settings struct {
	InitialBalance      decimal.Decimal
	PositionSizePercent decimal.Decimal // 每笔仓位占权益的百分比
	MaxExposurePercent  decimal.Decimal
	MaxPositions        int // 0 不限制
	Cooldown            time.Duration

	TPTiers             []TPTier
	SLDistance          decimal.Decimal
	MarginRate          decimal.Decimal // 保证金率，1 = 无杠杆
	MoveStopToBreakeven bool
	ExitPriority        ExitPriority
	MaxHoldDuration     time.Duration // 0 不超时
	MinConfidence       float64

	ReportInterval time.Duration
	ResultsDir     string
	FallbackDir    string
}

func DefaultSettings() Settings {
	return Settings{
		InitialBalance:      decimal.NewFromInt(10000),
		PositionSizePercent: decimal.NewFromInt(2),
		MaxExposurePercent:  decimal.NewFromInt(20),
		MaxPositions:        10,
		Cooldown:            3 * time.Minute,
		TPTiers: []TPTier{
			{Distance: decimal.RequireFromString("0.03"), SizeFraction: decimal.RequireFromString("0.5")},
			{Distance: decimal.RequireFromString("0.06"), SizeFraction: decimal.RequireFromString("0.25")},
			{Distance: decimal.RequireFromString("0.10"), SizeFraction: decimal.RequireFromString("0.25")},
		},
		SLDistance:          decimal.RequireFromString("0.02"),
		MarginRate:          decimal.NewFromInt(1),
		MoveStopToBreakeven: true,
		ExitPriority:        ExitPriorityStopFirst,
		ReportInterval:      5 * time.Minute,
		ResultsDir:          "virtual_trading_results",
	}
}

func (s Settings) Validate() error {
	hundred := decimal.NewFromInt(100)
	if !s.InitialBalance.IsPositive() {
		return fmt.Errorf("%w: initial_balance must be > 0, got %s", ErrInvalidConfig, s.InitialBalance)
	}
	if !s.PositionSizePercent.IsPositive() || s.PositionSizePercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: position_size_percent must be in (0, 100], got %s", ErrInvalidConfig, s.PositionSizePercent)
	}
	if !s.MaxExposurePercent.IsPositive() || s.MaxExposurePercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: max_exposure_percent must be in (0, 100], got %s", ErrInvalidConfig, s.MaxExposurePercent)
	}
	if s.MaxPositions < 0 {
		return fmt.Errorf("%w: max_positions must be >= 0, got %d", ErrInvalidConfig, s.MaxPositions)
	}
	if s.Cooldown < 0 || s.MaxHoldDuration < 0 {
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	}
	if len(s.TPTiers) == 0 || len(s.TPTiers) > 3 {
		return fmt.Errorf("%w: need 1-3 take profit tiers, got %d", ErrInvalidConfig, len(s.TPTiers))
	}
	total := decimal.Zero
	prev := decimal.Zero
	for i, tier := range s.TPTiers {
		if !tier.Distance.GreaterThan(prev) {
			return fmt.Errorf("%w: tier %d distance %s must be > %s", ErrInvalidConfig, i+1, tier.Distance, prev)
		}
		if !tier.SizeFraction.IsPositive() {
			return fmt.Errorf("%w: tier %d size fraction must be > 0", ErrInvalidConfig, i+1)
		}
		prev = tier.Distance
		total = total.Add(tier.SizeFraction)
	}
	if !total.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tier size fractions must sum to 1, got %s", ErrInvalidConfig, total)
	}
	if !s.SLDistance.IsPositive() || s.SLDistance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: sl_distance must be in (0, 1), got %s", ErrInvalidConfig, s.SLDistance)
	}
	if !s.MarginRate.IsPositive() {
		return fmt.Errorf("%w: margin_rate must be > 0, got %s", ErrInvalidConfig, s.MarginRate)
	}
	switch s.ExitPriority {
	case ExitPriorityStopFirst, ExitPriorityTargetFirst:
	default:
		return fmt.Errorf("%w: unsupported exit_priority %q", ErrInvalidConfig, s.ExitPriority)
	}
	return nil
}

// Levels 根据入场价计算止损和止盈档位
func (s Settings) Levels(direction Direction, entry decimal.Decimal) (decimal.Decimal, []Level) {
	one := decimal.NewFromInt(1)
	sign := direction.Sign()
	stop := entry.Mul(one.Sub(s.SLDistance.Mul(sign)))
	levels := make([]Level, len(s.TPTiers))
	for i, tier := range s.TPTiers {
		levels[i] = Level{
			Reason:       TPReason(i),
			Price:        entry.Mul(one.Add(tier.Distance.Mul(sign))),
			SizeFraction: tier.SizeFraction,
		}
	}
	return stop, levels
}

// ExplicitLevels 使用信号自带价位，档位比例仍取配置
func (s Settings) ExplicitLevels(stop decimal.Decimal, targets []decimal.Decimal) ([]Level, error) {
	if len(targets) != len(s.TPTiers) {
		return nil, fmt.Errorf("%w: got %d take profits, want %d", ErrInvalidSignal, len(targets), len(s.TPTiers))
	}
	levels := make([]Level, len(targets))
	for i, price := range targets {
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: take profit %d must be > 0", ErrInvalidSignal, i+1)
		}
		levels[i] = Level{
			Reason:       TPReason(i),
			Price:        price,
			SizeFraction: s.TPTiers[i].SizeFraction,
		}
	}
	if stop.IsNegative() {
		return nil, fmt.Errorf("%w: negative stop loss", ErrInvalidSignal)
	}
	return levels, nil
}
