package ioc

import (
	"fmt"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type tierConfig struct {
	Distance     string `mapstructure:"distance"`
	SizeFraction string `mapstructure:"size_fraction"`
}

type traderConfig struct {
	InitialBalance      string        `mapstructure:"initial_balance"`
	PositionSizePercent string        `mapstructure:"position_size_percent"`
	MaxExposurePercent  string        `mapstructure:"max_exposure_percent"`
	MaxPositions        int           `mapstructure:"max_positions"`
	CooldownSeconds     int           `mapstructure:"cooldown_seconds"`
	TPTiers             []tierConfig  `mapstructure:"tp_tiers"`
	SLDistance          string        `mapstructure:"sl_distance"`
	MarginRate          string        `mapstructure:"margin_rate"`
	MoveStopToBreakeven *bool         `mapstructure:"move_stop_to_breakeven"`
	ExitPriority        string        `mapstructure:"exit_priority"`
	MaxHoldDuration     time.Duration `mapstructure:"max_hold_duration"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	ReportInterval      time.Duration `mapstructure:"report_interval"`
	ResultsDir          string        `mapstructure:"results_dir"`
	FallbackDir         string        `mapstructure:"fallback_dir"`
}

// InitSettings 读取 trader 配置，未配置的项使用默认值
func InitSettings() trading.Settings {
	var cfg traderConfig
	if err := viper.UnmarshalKey("trader", &cfg); err != nil {
		panic(err)
	}
	settings, err := cfg.settings()
	if err != nil {
		panic(err)
	}
	return settings
}

func (c traderConfig) settings() (trading.Settings, error) {
	s := trading.DefaultSettings()

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"initial_balance", c.InitialBalance, &s.InitialBalance},
		{"position_size_percent", c.PositionSizePercent, &s.PositionSizePercent},
		{"max_exposure_percent", c.MaxExposurePercent, &s.MaxExposurePercent},
		{"sl_distance", c.SLDistance, &s.SLDistance},
		{"margin_rate", c.MarginRate, &s.MarginRate},
	}
	for _, d := range decimals {
		if d.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return trading.Settings{}, fmt.Errorf("%w: %s: %v", trading.ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}

	if len(c.TPTiers) > 0 {
		s.TPTiers = make([]trading.TPTier, 0, len(c.TPTiers))
		for i, tier := range c.TPTiers {
			distance, err := decimal.NewFromString(tier.Distance)
			if err != nil {
				return trading.Settings{}, fmt.Errorf("%w: tp_tiers[%d].distance: %v", trading.ErrInvalidConfig, i, err)
			}
			fraction, err := decimal.NewFromString(tier.SizeFraction)
			if err != nil {
				return trading.Settings{}, fmt.Errorf("%w: tp_tiers[%d].size_fraction: %v", trading.ErrInvalidConfig, i, err)
			}
			s.TPTiers = append(s.TPTiers, trading.TPTier{Distance: distance, SizeFraction: fraction})
		}
	}

	if c.MaxPositions != 0 {
		s.MaxPositions = c.MaxPositions
	}
	if c.CooldownSeconds != 0 {
		s.Cooldown = time.Duration(c.CooldownSeconds) * time.Second
	}
	if c.MoveStopToBreakeven != nil {
		s.MoveStopToBreakeven = *c.MoveStopToBreakeven
	}
	if c.ExitPriority != "" {
		s.ExitPriority = trading.ExitPriority(c.ExitPriority)
	}
	if c.ReportInterval != 0 {
		s.ReportInterval = c.ReportInterval
	}
	if c.ResultsDir != "" {
		s.ResultsDir = c.ResultsDir
	}
	s.MaxHoldDuration = c.MaxHoldDuration
	s.MinConfidence = c.MinConfidence
	s.FallbackDir = c.FallbackDir

	return s, s.Validate()
}

const (
	FeedModeLive   = "live"
	FeedModeReplay = "replay"
)

type FeedConfig struct {
	Mode         string        `mapstructure:"mode"`
	Symbols      []string      `mapstructure:"symbols"`
	Interval     string        `mapstructure:"interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Strategies   []string      `mapstructure:"strategies"`
	// replay，RFC3339
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	IntraBar bool   `mapstructure:"intra_bar"`

	StartTime, EndTime time.Time `mapstructure:"-"`
}

func (c FeedConfig) Pairs() []exchange.TradingPair {
	pairs := make([]exchange.TradingPair, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		pairs = append(pairs, exchange.ParseTradingPair(s))
	}
	return pairs
}

func InitFeedConfig() FeedConfig {
	cfg := FeedConfig{
		Mode:         FeedModeLive,
		Interval:     string(exchange.Interval15m),
		PollInterval: 10 * time.Second,
		Strategies:   []string{"ma_cross"},
	}
	if err := viper.UnmarshalKey("feed", &cfg); err != nil {
		panic(err)
	}
	if len(cfg.Symbols) == 0 {
		panic("no feed symbols configured")
	}
	if exchange.Interval(cfg.Interval).Duration() == 0 {
		panic(fmt.Sprintf("unsupported kline interval %q", cfg.Interval))
	}
	if cfg.Mode == FeedModeReplay {
		var err error
		if cfg.StartTime, err = time.Parse(time.RFC3339, cfg.Start); err != nil {
			panic(fmt.Errorf("feed.start: %w", err))
		}
		if cfg.EndTime, err = time.Parse(time.RFC3339, cfg.End); err != nil {
			panic(fmt.Errorf("feed.end: %w", err))
		}
		if !cfg.EndTime.After(cfg.StartTime) {
			panic("replay needs feed.start < feed.end")
		}
	}
	return cfg
}

type NotifyConfig struct {
	WebhookURL string   `mapstructure:"webhook_url"`
	Events     []string `mapstructure:"events"` // 为空时全部发送
}

func InitNotifyConfig() NotifyConfig {
	var cfg NotifyConfig
	if err := viper.UnmarshalKey("notify", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
