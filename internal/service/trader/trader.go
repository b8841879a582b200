package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/KNICEX/paper-trader/internal/repo"
	"github.com/KNICEX/paper-trader/internal/service/balance"
	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/notification"
	"github.com/KNICEX/paper-trader/internal/service/position"
	"github.com/KNICEX/paper-trader/internal/service/report"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrClosed = errors.New("trader is shut down")

// VirtualTrader 一个虚拟交易会话。
// balance 和 position 的所有修改都在 mu 内完成。
type VirtualTrader struct {
	mu sync.Mutex
	// shutdownMu 串行化 Shutdown，避免重复平仓
	shutdownMu sync.Mutex

	settings  trading.Settings
	sessionID string
	startedAt time.Time
	resumed   bool

	balance   *balance.Manager
	positions *position.Manager
	generator *report.Generator

	store     *report.SnapshotStore
	journal   repo.TradeRepo
	sessions  repo.SessionRepo
	notifier  Notifier
	precision exchange.QuantityPrecisionProvider
	now       func() time.Time
	base      *slog.Logger // 传给 balance/position
	logger    *slog.Logger

	lastPrice    map[string]decimal.Decimal
	lastActivity map[string]time.Time // 每个交易对最近一次开仓/平仓时间，用于冷却
	history      []trading.ClosedTrade
	counters     report.Counters
	risk         balance.RiskLevel

	// fatal 致命账务错误，之后的状态不可信，不再强平
	fatal         error
	emergencyPath string

	closed bool
	final  report.Report
}

func New(settings trading.Settings, opts ...Option) (*VirtualTrader, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	t := &VirtualTrader{
		settings:     settings,
		generator:    report.NewGenerator(),
		now:          time.Now,
		logger:       slog.Default(),
		lastPrice:    make(map[string]decimal.Decimal),
		lastActivity: make(map[string]time.Time),
		risk:         balance.RiskLow,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	t.base = t.logger.With(slog.String("session", t.sessionID))
	t.logger = t.base.With(slog.String("component", "trader"))
	t.startedAt = t.now()
	t.balance = balance.NewManager(settings.InitialBalance, t.base)
	t.positions = position.NewManager(t.balance, settings, t.base)

	t.logger.Info("virtual trader created",
		"initial_balance", settings.InitialBalance.String(),
		"position_size_percent", settings.PositionSizePercent.String(),
		"max_exposure_percent", settings.MaxExposurePercent.String(),
		"exit_priority", settings.ExitPriority)
	return t, nil
}

func (t *VirtualTrader) SessionID() string {
	return t.sessionID
}

// OnSignal 处理一个交易信号，成功时返回新持仓的拷贝
func (t *VirtualTrader) OnSignal(ctx context.Context, sig trading.Signal) (*trading.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.counters.Signals++

	p, err := t.openLocked(sig)
	if err != nil {
		t.countRejection(sig, err)
		return nil, err
	}
	t.counters.Opened++
	t.lastActivity[sig.Symbol] = sig.Timestamp
	return p, nil
}

func (t *VirtualTrader) openLocked(sig trading.Signal) (*trading.Position, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if sig.Confidence < t.settings.MinConfidence {
		return nil, fmt.Errorf("%w: %.2f < %.2f", trading.ErrLowConfidence, sig.Confidence, t.settings.MinConfidence)
	}
	if last, ok := t.lastActivity[sig.Symbol]; ok && t.settings.Cooldown > 0 {
		if elapsed := sig.Timestamp.Sub(last); elapsed < t.settings.Cooldown {
			return nil, fmt.Errorf("%w: %s traded %s ago", trading.ErrCooldown, sig.Symbol, elapsed)
		}
	}
	price, ok := t.lastPrice[sig.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", trading.ErrNoPrice, sig.Symbol)
	}
	size := t.positionSize(sig, price)
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: computed size %s for %s", trading.ErrInvalidOrder, size, sig.Symbol)
	}
	return t.positions.Open(sig, price, size)
}

// positionSize 信号未给出数量时按权益比例计算
func (t *VirtualTrader) positionSize(sig trading.Signal, price decimal.Decimal) decimal.Decimal {
	if sig.SuggestedSize.IsPositive() {
		return sig.SuggestedSize
	}
	notional := t.balance.Equity().Mul(t.settings.PositionSizePercent).Div(decimalx.Hundred)
	size := decimalx.SafeDiv(notional, price.Mul(t.settings.MarginRate), decimal.Zero)
	if t.precision != nil {
		size = size.RoundFloor(t.precision.GetQuantityPrecision(exchange.ParseTradingPair(sig.Symbol)))
	}
	return size
}

func (t *VirtualTrader) countRejection(sig trading.Signal, err error) {
	switch {
	case errors.Is(err, trading.ErrInsufficientBalance):
		t.counters.BlockedByBalance++
	case errors.Is(err, trading.ErrExposureExceeded):
		t.counters.BlockedByExposure++
	case errors.Is(err, trading.ErrCooldown):
		t.counters.BlockedByCooldown++
	case errors.Is(err, trading.ErrDuplicateKey):
		t.counters.Duplicates++
		// 同一时间戳重复推送通常是上游的问题
		t.logger.Error("duplicate signal, check upstream timestamps", "symbol", sig.Symbol,
			"direction", sig.Direction, "timestamp", sig.Timestamp, "error", err)
		return
	default:
		t.counters.RejectedOther++
	}
	t.logger.Info("signal rejected", "symbol", sig.Symbol, "direction", sig.Direction, "reason", err.Error())
}

// OnTick 更新最新价格并检查该交易对的所有退出条件
func (t *VirtualTrader) OnTick(ctx context.Context, tick trading.PriceTick) ([]trading.ClosedTrade, error) {
	trades, risk, err := t.tickLocked(tick)
	t.journalTrades(ctx, trades)
	if risk != nil {
		t.notify(ctx, notification.EventRisk, "Risk level "+string(risk.Level), fmt.Sprint(risk.Warnings))
	}
	if err != nil && trading.IsFatal(err) {
		t.logger.Error("fatal accounting error", "error", err)
		t.EmergencySave(err.Error())
	}
	return trades, err
}

func (t *VirtualTrader) tickLocked(tick trading.PriceTick) ([]trading.ClosedTrade, *balance.RiskStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, ErrClosed
	}
	if tick.Symbol == "" || !tick.Price.IsPositive() {
		return nil, nil, fmt.Errorf("%w: tick %s@%s", trading.ErrInvalidOrder, tick.Symbol, tick.Price)
	}
	t.lastPrice[tick.Symbol] = tick.Price

	trades, err := t.positions.CheckExits(tick.Symbol, tick.Price, tick.Timestamp)
	if trading.IsFatal(err) && t.fatal == nil {
		t.fatal = err
	}
	t.recordLocked(trades)
	if len(trades) == 0 {
		return nil, nil, err
	}
	return trades, t.riskChangeLocked(), err
}

func (t *VirtualTrader) recordLocked(trades []trading.ClosedTrade) {
	for _, tr := range trades {
		t.history = append(t.history, tr)
		if tr.ExitTime.After(t.lastActivity[tr.Symbol]) {
			t.lastActivity[tr.Symbol] = tr.ExitTime
		}
	}
}

// riskChangeLocked 风险等级升到 HIGH 及以上时返回，用于通知
func (t *VirtualTrader) riskChangeLocked() *balance.RiskStatus {
	nextCost := t.balance.Equity().Mul(t.settings.PositionSizePercent).Div(decimalx.Hundred)
	status := t.balance.RiskStatus(t.settings.MaxExposurePercent, nextCost)
	prev := t.risk
	t.risk = status.Level
	if status.Level == prev || (status.Level != balance.RiskHigh && status.Level != balance.RiskCritical) {
		return nil
	}
	t.logger.Warn("risk level changed", "from", prev, "to", status.Level, "warnings", status.Warnings)
	return &status
}

func (t *VirtualTrader) journalTrades(ctx context.Context, trades []trading.ClosedTrade) {
	if t.journal == nil {
		return
	}
	for _, tr := range trades {
		if _, err := t.journal.Create(ctx, ToEntity(t.sessionID, tr)); err != nil {
			t.logger.Error("journal trade failed", "position", tr.PositionID, "reason", tr.ExitReason, "error", err)
		}
	}
}

func (t *VirtualTrader) notify(ctx context.Context, event, title, message string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, event, title, message); err != nil {
		t.logger.Warn("notify failed", "event", event, "error", err)
	}
}

// ClosePosition 手动平仓，价格取最近一次行情
func (t *VirtualTrader) ClosePosition(ctx context.Context, id string) (trading.ClosedTrade, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return trading.ClosedTrade{}, ErrClosed
	}
	p, ok := t.positions.Get(id)
	if !ok {
		t.mu.Unlock()
		return trading.ClosedTrade{}, fmt.Errorf("%w: %s", trading.ErrPositionNotFound, id)
	}
	price, ok := t.lastPrice[p.Symbol]
	if !ok {
		t.mu.Unlock()
		return trading.ClosedTrade{}, fmt.Errorf("%w: %s", trading.ErrNoPrice, p.Symbol)
	}
	tr, err := t.positions.ClosePosition(id, price, t.now())
	if err == nil {
		t.recordLocked([]trading.ClosedTrade{tr})
	}
	fatal := trading.IsFatal(err) && t.fatal == nil
	if fatal {
		t.fatal = err
	}
	t.mu.Unlock()

	if fatal {
		t.logger.Error("fatal accounting error", "error", err)
		t.EmergencySave(err.Error())
	}
	if err != nil {
		return trading.ClosedTrade{}, err
	}
	t.journalTrades(ctx, []trading.ClosedTrade{tr})
	return tr, nil
}

func (t *VirtualTrader) inputLocked(now time.Time) report.Input {
	return report.Input{
		SessionID:     t.sessionID,
		StartedAt:     t.startedAt,
		Now:           now,
		Balance:       t.balance.Balance(),
		ClosedTrades:  append([]trading.ClosedTrade(nil), t.history...),
		OpenPositions: t.positions.OpenPositions(),
		Prices:        maps.Clone(t.lastPrice),
		UnrealizedPnL: t.positions.UnrealizedPnL(t.lastPrice),
		Counters:      t.counters,
	}
}

func (t *VirtualTrader) snapshotLocked(reason report.SnapshotReason, detail string, now time.Time) report.Snapshot {
	return report.Snapshot{
		SessionID:        t.sessionID,
		Reason:           reason,
		Detail:           detail,
		SavedAt:          now,
		Balance:          t.balance.Snapshot(),
		OpenPositions:    t.positions.OpenPositions(),
		ClosedTradeCount: len(t.history),
		Counters:         t.counters,
	}
}

// Report 在锁内拷贝状态，锁外计算统计并保存周期快照
func (t *VirtualTrader) Report(ctx context.Context) (report.Report, error) {
	t.mu.Lock()
	now := t.now()
	in := t.inputLocked(now)
	snap := t.snapshotLocked(report.SnapshotPeriodic, "", now)
	t.mu.Unlock()

	r := t.generator.Build(in)
	var saveErr error
	if t.store != nil {
		snap.Report = &r
		if _, err := t.store.Save(snap); err != nil {
			t.logger.Error("periodic snapshot failed", "error", err)
			saveErr = err
		}
	}
	t.logger.Info("session report",
		"equity", r.Balance.CurrentEquity.String(),
		"positions", r.Statistics.Metrics.TotalTrades,
		"win_rate", r.Statistics.Metrics.WinRate.StringFixed(4),
		"open", len(r.OpenPositions))
	t.notify(ctx, notification.EventReport, "Virtual trading report", r.Text())
	return r, saveErr
}

// Shutdown 以最新价格强平所有持仓并保存最终快照，重复调用返回第一次的结果
func (t *VirtualTrader) Shutdown(ctx context.Context, reason string) (report.Report, error) {
	t.shutdownMu.Lock()
	defer t.shutdownMu.Unlock()

	t.mu.Lock()
	if t.closed {
		r := t.final
		t.mu.Unlock()
		return r, nil
	}
	t.closed = true
	now := t.now()
	fatal, emergencyPath := t.fatal, t.emergencyPath
	var (
		trades   []trading.ClosedTrade
		closeErr error
	)
	if fatal != nil {
		// 账务已不可信，保留现场，不再强平
		closeErr = fmt.Errorf("shutdown after fatal error, positions left open: %w", fatal)
	} else {
		trades, closeErr = t.positions.ForceCloseAll(t.lastPrice, now, trading.ExitReasonManual)
		t.recordLocked(trades)
	}
	in := t.inputLocked(now)
	snap := t.snapshotLocked(report.SnapshotFinal, reason, now)
	validation := t.balance.Validate()
	t.mu.Unlock()

	if closeErr != nil {
		t.logger.Error("force close failed", "error", closeErr)
	}
	if !validation.Valid {
		t.logger.Error("balance validation failed at shutdown", "issues", validation.Issues)
	}
	t.journalTrades(ctx, trades)

	r := t.generator.Build(in)
	var path string
	if fatal != nil {
		// 紧急快照已经写过，它必须仍是最新快照，resume 从它恢复
		path = emergencyPath
		if t.store != nil {
			if _, err := t.store.SaveReport(r); err != nil {
				t.logger.Error("save report failed", "error", err)
			}
		}
	} else {
		snap.Report = &r
		path = t.persistFinal(snap, r, closeErr != nil || !validation.Valid)
	}

	t.mu.Lock()
	t.final = r
	t.mu.Unlock()

	if gap := t.journalGap(ctx, len(in.ClosedTrades)); gap != 0 {
		t.logger.Warn("journal does not match closed trades", "missing", gap)
	}
	status := sessionStatus(closeErr, validation.Valid)
	t.finishSession(ctx, status, r.Balance.CurrentEquity.String(), path)
	t.logger.Info("virtual trader shut down", "reason", reason, "force_closed", len(trades),
		"equity", r.Balance.CurrentEquity.String(), "snapshot", path)
	t.notify(ctx, notification.EventReport, "Virtual trading finished", r.Text())
	return r, closeErr
}

func (t *VirtualTrader) persistFinal(snap report.Snapshot, r report.Report, degraded bool) string {
	if t.store == nil {
		return ""
	}
	path, err := t.store.Save(snap)
	if err != nil {
		t.logger.Error("final snapshot failed", "error", err)
	}
	if err != nil || degraded {
		if p, eerr := t.store.SaveEmergency(snap); eerr == nil && path == "" {
			path = p
		}
	}
	if _, err := t.store.SaveReport(r); err != nil {
		t.logger.Error("save report failed", "error", err)
	}
	return path
}

// EmergencySave 同步保存紧急快照，不会 panic。调用方不能持有 mu。
func (t *VirtualTrader) EmergencySave(reason string) string {
	if t.store == nil {
		t.logger.Error("emergency save skipped, no snapshot store", "reason", reason)
		return ""
	}
	t.mu.Lock()
	snap := t.snapshotLocked(report.SnapshotEmergency, reason, t.now())
	t.mu.Unlock()

	path, err := t.store.SaveEmergency(snap)
	if err != nil {
		t.logger.Error("emergency save failed", "reason", reason, "error", err)
		return ""
	}
	t.mu.Lock()
	t.emergencyPath = path
	t.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.notify(ctx, notification.EventEmergency, "Emergency snapshot saved", fmt.Sprintf("%s\n%s", reason, path))
	return path
}

// Restore 从快照和成交历史恢复会话，必须在处理任何事件之前调用
func (t *VirtualTrader) Restore(snap report.Snapshot, history []trading.ClosedTrade) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	bm, err := balance.Restore(snap.Balance, t.base)
	if err != nil {
		return err
	}
	pm := position.NewManager(bm, t.settings, t.base)
	if err := pm.Restore(snap.OpenPositions); err != nil {
		return err
	}

	// 快照之后写入的成交不在快照的余额里，丢弃
	if len(history) > snap.ClosedTradeCount {
		t.logger.Warn("journal ahead of snapshot, dropping later trades",
			"journal", len(history), "snapshot", snap.ClosedTradeCount)
		history = history[:snap.ClosedTradeCount]
	} else if len(history) < snap.ClosedTradeCount {
		t.logger.Warn("journal behind snapshot, statistics will miss trades",
			"journal", len(history), "snapshot", snap.ClosedTradeCount)
	}

	t.balance, t.positions = bm, pm
	t.history = append([]trading.ClosedTrade(nil), history...)
	t.counters = snap.Counters
	t.lastActivity = make(map[string]time.Time)
	for _, tr := range t.history {
		if tr.ExitTime.After(t.lastActivity[tr.Symbol]) {
			t.lastActivity[tr.Symbol] = tr.ExitTime
		}
	}
	for _, p := range snap.OpenPositions {
		if p.EntryTime.After(t.lastActivity[p.Symbol]) {
			t.lastActivity[p.Symbol] = p.EntryTime
		}
	}
	if snap.SessionID != "" {
		t.sessionID = snap.SessionID
		t.logger = t.logger.With(slog.String("resumed_session", snap.SessionID))
	}
	t.resumed = true
	t.logger.Info("session restored", "open_positions", len(snap.OpenPositions),
		"closed_trades", len(history), "equity", bm.Equity().String())
	return nil
}

// fatalErr 返回记录下的致命错误，nil 表示状态可信
func (t *VirtualTrader) fatalErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

func (t *VirtualTrader) ClosedTrades() []trading.ClosedTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]trading.ClosedTrade(nil), t.history...)
}

func (t *VirtualTrader) OpenPositions() []trading.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions.OpenPositions()
}

func (t *VirtualTrader) Balance() balance.Balance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance.Balance()
}

func (t *VirtualTrader) Counters() report.Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}
