package ioc

import (
	"strings"
	"testing"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYaml(t *testing.T, content string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(content)))
}

func TestInitSettings(t *testing.T) {
	loadYaml(t, `
trader:
  initial_balance: "5000"
  position_size_percent: "5"
  cooldown_seconds: 60
  move_stop_to_breakeven: false
  exit_priority: tp_first
  max_hold_duration: 4h
  report_interval: 1m
  tp_tiers:
    - distance: "0.02"
      size_fraction: "0.6"
    - distance: "0.05"
      size_fraction: "0.4"
feed:
  symbols: [BTCUSDT, eth/usdt]
  mode: replay
  start: "2024-05-01T00:00:00Z"
  end: "2024-05-02T00:00:00Z"
`)
	s := InitSettings()
	assert.True(t, s.InitialBalance.Equal(decimal.NewFromInt(5000)))
	assert.True(t, s.PositionSizePercent.Equal(decimal.NewFromInt(5)))
	// 未配置的项保持默认值
	assert.True(t, s.MaxExposurePercent.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, time.Minute, s.Cooldown)
	assert.False(t, s.MoveStopToBreakeven)
	assert.Equal(t, trading.ExitPriorityTargetFirst, s.ExitPriority)
	assert.Equal(t, 4*time.Hour, s.MaxHoldDuration)
	assert.Equal(t, time.Minute, s.ReportInterval)
	require.Len(t, s.TPTiers, 2)
	assert.True(t, s.TPTiers[1].SizeFraction.Equal(decimal.RequireFromString("0.4")))

	feed := InitFeedConfig()
	assert.Equal(t, FeedModeReplay, feed.Mode)
	assert.Equal(t, "ETHUSDT", feed.Pairs()[1].ToString())
	assert.Equal(t, 24*time.Hour, feed.EndTime.Sub(feed.StartTime))
	assert.Equal(t, []string{"ma_cross"}, feed.Strategies)
}

func TestInitSettings_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{name: "bad decimal", yaml: "trader:\n  initial_balance: abc\n"},
		{name: "fractions", yaml: "trader:\n  tp_tiers:\n    - distance: \"0.1\"\n      size_fraction: \"0.5\"\n"},
		{name: "priority", yaml: "trader:\n  exit_priority: random\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loadYaml(t, tc.yaml)
			assert.Panics(t, func() { InitSettings() })
		})
	}
}
