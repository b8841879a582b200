package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/balance"
	"github.com/KNICEX/paper-trader/internal/service/statistics"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/shopspring/decimal"
)

// Counters 会话级信号处理计数
type Counters struct {
	Signals           int `json:"signals"`
	Opened            int `json:"opened"`
	BlockedByBalance  int `json:"blocked_by_balance"`
	BlockedByExposure int `json:"blocked_by_exposure"`
	BlockedByCooldown int `json:"blocked_by_cooldown"`
	Duplicates        int `json:"duplicates"`
	RejectedOther     int `json:"rejected_other"`
}

// Input 生成报告所需的状态拷贝，由 trader 在锁内准备
type Input struct {
	SessionID     string
	StartedAt     time.Time
	Now           time.Time
	Balance       balance.Balance
	ClosedTrades  []trading.ClosedTrade
	OpenPositions []trading.Position
	Prices        map[string]decimal.Decimal // 每个交易对最新价格
	UnrealizedPnL decimal.Decimal
	Counters      Counters
}

// OpenExposure 按最新价格估值的持仓概况
type OpenExposure struct {
	Long               int             `json:"long"`
	Short              int             `json:"short"`
	Unpriced           int             `json:"unpriced"` // 还没有行情的持仓，不计入浮动盈亏
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	MarkToMarketEquity decimal.Decimal `json:"mark_to_market_equity"`
	AvgAge             time.Duration   `json:"avg_age"`
}

type Report struct {
	SessionID     string                `json:"session_id"`
	StartedAt     time.Time             `json:"started_at"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Balance       balance.Balance       `json:"balance"`
	Statistics    statistics.Statistics `json:"statistics"`
	OpenPositions []string              `json:"open_positions"`
	Exposure      OpenExposure          `json:"exposure"`
	ClosedTrades  int                   `json:"closed_trades"`
	Counters      Counters              `json:"counters"`
}

type Generator struct {
	calculator *statistics.Calculator
}

func NewGenerator() *Generator {
	return &Generator{calculator: statistics.NewCalculator()}
}

func (g *Generator) Build(in Input) Report {
	open := make([]string, 0, len(in.OpenPositions))
	for _, p := range in.OpenPositions {
		open = append(open, p.Summary())
	}
	return Report{
		SessionID:     in.SessionID,
		StartedAt:     in.StartedAt,
		GeneratedAt:   in.Now,
		Balance:       in.Balance,
		Statistics:    g.calculator.Calculate(in.ClosedTrades, in.Balance.InitialBalance),
		OpenPositions: open,
		Exposure:      exposure(in),
		ClosedTrades:  len(in.ClosedTrades),
		Counters:      in.Counters,
	}
}

func exposure(in Input) OpenExposure {
	e := OpenExposure{
		UnrealizedPnL:      in.UnrealizedPnL,
		MarkToMarketEquity: in.Balance.CurrentEquity.Add(in.UnrealizedPnL),
	}
	var age time.Duration
	for _, p := range in.OpenPositions {
		if p.Direction == trading.DirectionLong {
			e.Long++
		} else {
			e.Short++
		}
		if _, ok := in.Prices[p.Symbol]; !ok {
			e.Unpriced++
		}
		age += in.Now.Sub(p.EntryTime)
	}
	if n := len(in.OpenPositions); n > 0 {
		e.AvgAge = age / time.Duration(n)
	}
	return e
}

func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Text 人类可读的会话报告，同样的输入输出完全一致
func (r Report) Text() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	m := r.Statistics.Metrics
	bal := r.Balance

	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "VIRTUAL TRADING REPORT  session=%s\n", r.SessionID)
	fmt.Fprintf(&b, "generated %s  (running %s)\n", r.GeneratedAt.UTC().Format(time.RFC3339), r.GeneratedAt.Sub(r.StartedAt).Truncate(time.Second))
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "BALANCE")
	fmt.Fprintf(&b, "  initial:        %s\n", bal.InitialBalance.StringFixed(2))
	fmt.Fprintf(&b, "  equity:         %s (%s%%)\n", bal.CurrentEquity.StringFixed(2),
		decimalx.Percent(bal.CurrentEquity.Sub(bal.InitialBalance), bal.InitialBalance).StringFixed(2))
	fmt.Fprintf(&b, "  available:      %s\n", bal.AvailableBalance.StringFixed(2))
	fmt.Fprintf(&b, "  reserved:       %s\n", bal.Reserved.StringFixed(2))
	fmt.Fprintf(&b, "  realized pnl:   %s\n", bal.RealizedPnLTotal.StringFixed(2))
	fmt.Fprintf(&b, "  peak equity:    %s\n", bal.PeakEquity.StringFixed(2))
	fmt.Fprintf(&b, "  max drawdown:   %s%%\n", bal.MaxDrawdownPercent.StringFixed(2))

	fmt.Fprintln(&b, "TRADES")
	fmt.Fprintf(&b, "  positions:      %d (%d partial exits, %d take-profit, %d profitable)\n", m.TotalTrades,
		r.Statistics.TotalPartialExits, r.Statistics.TakeProfitExits, r.Statistics.ProfitableExits)
	fmt.Fprintf(&b, "  win rate:       %s%% (%d W / %d L)\n", m.WinRate.Mul(decimalx.Hundred).StringFixed(1), m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(&b, "  total pnl:      %s\n", m.TotalPnL.StringFixed(2))
	fmt.Fprintf(&b, "  avg pnl:        %s\n", m.AvgPnL.StringFixed(2))
	fmt.Fprintf(&b, "  avg win/loss:   %s / %s\n", m.AvgWin.StringFixed(2), m.AvgLoss.StringFixed(2))
	fmt.Fprintf(&b, "  largest w/l:    %s / %s\n", m.LargestWin.StringFixed(2), m.LargestLoss.StringFixed(2))
	fmt.Fprintf(&b, "  profit factor:  %s\n", m.ProfitFactor)
	fmt.Fprintf(&b, "  streaks:        %d W / %d L\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "  long/short:     %d (%s%%) / %d (%s%%)\n",
		m.LongTrades, m.LongWinRate.Mul(decimalx.Hundred).StringFixed(1),
		m.ShortTrades, m.ShortWinRate.Mul(decimalx.Hundred).StringFixed(1))
	fmt.Fprintf(&b, "  avg duration:   %s\n", m.AvgDuration.Truncate(time.Second))

	if len(r.Statistics.Timing) > 0 {
		fmt.Fprintln(&b, "EXIT TIMING")
		for _, s := range r.Statistics.Timing {
			fmt.Fprintf(&b, "  %-8s count=%d win=%s%% pnl=%s avg=%s min=%s max=%s\n",
				s.Reason, s.Count, s.WinRate.Mul(decimalx.Hundred).StringFixed(1), s.TotalPnL.StringFixed(2),
				s.AvgDuration.Truncate(time.Second), s.MinDuration.Truncate(time.Second), s.MaxDuration.Truncate(time.Second))
		}
	}

	c := r.Counters
	fmt.Fprintln(&b, "SIGNALS")
	fmt.Fprintf(&b, "  received=%d opened=%d balance=%d exposure=%d cooldown=%d duplicate=%d other=%d\n",
		c.Signals, c.Opened, c.BlockedByBalance, c.BlockedByExposure, c.BlockedByCooldown, c.Duplicates, c.RejectedOther)

	e := r.Exposure
	fmt.Fprintf(&b, "OPEN POSITIONS (%d)\n", len(r.OpenPositions))
	fmt.Fprintf(&b, "  long/short:     %d / %d (unpriced %d)\n", e.Long, e.Short, e.Unpriced)
	fmt.Fprintf(&b, "  unrealized pnl: %s\n", e.UnrealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "  mtm equity:     %s\n", e.MarkToMarketEquity.StringFixed(2))
	fmt.Fprintf(&b, "  avg age:        %s\n", e.AvgAge.Truncate(time.Second))
	for _, p := range r.OpenPositions {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	fmt.Fprintln(&b, line)
	return b.String()
}
