package position

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/balance"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/KNICEX/paper-trader/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Manager 持有所有未平仓持仓及其分批止盈生命周期。
// 与 balance.Manager 一样不加锁，由 trader 串行调用。
type Manager struct {
	balance   *balance.Manager
	settings  trading.Settings
	positions map[string]*trading.Position

	logger *slog.Logger
}

func NewManager(bm *balance.Manager, settings trading.Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		balance:   bm,
		settings:  settings,
		positions: make(map[string]*trading.Position),
		logger:    logger.With(slog.String("component", "position")),
	}
}

// Open 开仓。冻结保证金成功之后才创建持仓，任一步失败都不留下状态。
func (m *Manager) Open(signal trading.Signal, price, size decimal.Decimal) (*trading.Position, error) {
	if err := signal.Validate(); err != nil {
		return nil, err
	}
	if !price.IsPositive() || !size.IsPositive() {
		return nil, fmt.Errorf("%w: price=%s size=%s", trading.ErrInvalidOrder, price, size)
	}

	key := trading.GroupingKey(signal.Symbol, signal.Timestamp, signal.Direction)
	if _, exists := m.positions[key]; exists {
		return nil, fmt.Errorf("%w: %s", trading.ErrDuplicateKey, key)
	}
	if m.settings.MaxPositions > 0 && len(m.positions) >= m.settings.MaxPositions {
		return nil, fmt.Errorf("%w: %d open", trading.ErrMaxPositions, len(m.positions))
	}

	stop, levels, err := m.levels(signal, price)
	if err != nil {
		return nil, err
	}

	cost := size.Mul(price).Mul(m.settings.MarginRate)
	if available := m.balance.Available(); cost.GreaterThan(available) {
		return nil, fmt.Errorf("%w: available=%s, required=%s", trading.ErrInsufficientBalance, available, cost)
	}
	if after := m.balance.ExposureAfter(cost); after.GreaterThan(m.settings.MaxExposurePercent) {
		return nil, fmt.Errorf("%w: %s%% > %s%%", trading.ErrExposureExceeded, after.StringFixed(2), m.settings.MaxExposurePercent)
	}

	resId, err := m.balance.Reserve(key, cost)
	if err != nil {
		return nil, fmt.Errorf("reserve margin for %s: %w", key, err)
	}

	p := &trading.Position{
		ID:              key,
		Symbol:          signal.Symbol,
		Direction:       signal.Direction,
		EntryPrice:      price,
		EntryTime:       signal.Timestamp,
		Confidence:      signal.Confidence,
		OriginalSize:    size,
		RemainingSize:   size,
		InitialStopLoss: stop,
		StopLoss:        stop,
		TakeProfits:     levels,
		Status:          trading.StatusOpen,
		ReservationID:   resId.ToString(),
		Reserved:        cost,
		RealizedPnL:     decimal.Zero,
	}
	m.positions[key] = p

	m.logger.Info("position opened", "id", key, "direction", p.Direction,
		"entry", price.String(), "size", size.String(), "margin", cost.String(),
		"stop_loss", stop.String())
	c := p.Clone()
	return &c, nil
}

func (m *Manager) levels(signal trading.Signal, entry decimal.Decimal) (decimal.Decimal, []trading.Level, error) {
	stop, levels := m.settings.Levels(signal.Direction, entry)
	if len(signal.TakeProfits) == 0 {
		if !signal.StopLoss.IsZero() {
			stop = signal.StopLoss
		}
		return stop, levels, m.checkLevelOrder(signal.Direction, entry, stop, levels)
	}

	explicit, err := m.settings.ExplicitLevels(signal.StopLoss, signal.TakeProfits)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if !signal.StopLoss.IsZero() {
		stop = signal.StopLoss
	}
	return stop, explicit, m.checkLevelOrder(signal.Direction, entry, stop, explicit)
}

// checkLevelOrder 多头 SL < entry < TP1 < TP2 < TP3，空头相反
func (m *Manager) checkLevelOrder(direction trading.Direction, entry, stop decimal.Decimal, levels []trading.Level) error {
	sign := direction.Sign()
	if !entry.Sub(stop).Mul(sign).IsPositive() {
		return fmt.Errorf("%w: stop loss %s on wrong side of entry %s", trading.ErrInvalidSignal, stop, entry)
	}
	prev := entry
	for _, l := range levels {
		if !l.Price.Sub(prev).Mul(sign).IsPositive() {
			return fmt.Errorf("%w: %s %s not beyond %s", trading.ErrInvalidSignal, l.Reason, l.Price, prev)
		}
		prev = l.Price
	}
	return nil
}

// CheckExits 用最新价格检查该交易对所有持仓的止损/止盈/超时。
// 跳空时多个档位在同一次调用内全部触发，按优先级依次产生成交记录。
func (m *Manager) CheckExits(symbol string, price decimal.Decimal, at time.Time) ([]trading.ClosedTrade, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s for %s", trading.ErrInvalidOrder, price, symbol)
	}
	var trades []trading.ClosedTrade
	for _, p := range m.sorted(symbol) {
		res, err := m.evaluate(p, price, at)
		trades = append(trades, res...)
		if err != nil {
			return trades, err
		}
	}
	return trades, nil
}

func (m *Manager) evaluate(p *trading.Position, price decimal.Decimal, at time.Time) ([]trading.ClosedTrade, error) {
	var trades []trading.ClosedTrade
	collect := func(fn func() ([]trading.ClosedTrade, error)) error {
		if !p.IsActive() {
			return nil
		}
		res, err := fn()
		trades = append(trades, res...)
		return err
	}
	stop := func() ([]trading.ClosedTrade, error) { return m.checkStop(p, price, at) }
	targets := func() ([]trading.ClosedTrade, error) { return m.checkTargets(p, price, at) }

	steps := []func() ([]trading.ClosedTrade, error){stop, targets}
	if m.settings.ExitPriority == trading.ExitPriorityTargetFirst {
		steps = []func() ([]trading.ClosedTrade, error){targets, stop}
	}
	steps = append(steps, func() ([]trading.ClosedTrade, error) { return m.checkTimeout(p, price, at) })

	for _, step := range steps {
		if err := collect(step); err != nil {
			return trades, err
		}
	}
	return trades, nil
}

func (m *Manager) checkStop(p *trading.Position, price decimal.Decimal, at time.Time) ([]trading.ClosedTrade, error) {
	if !p.StopCrossed(price) {
		return nil, nil
	}
	trade, err := m.applyExit(p, p.StopLoss, p.RemainingSize, trading.ExitReasonSL, at)
	if err != nil {
		return nil, err
	}
	return []trading.ClosedTrade{trade}, nil
}

func (m *Manager) checkTargets(p *trading.Position, price decimal.Decimal, at time.Time) ([]trading.ClosedTrade, error) {
	var trades []trading.ClosedTrade
	for i := range p.TakeProfits {
		level := &p.TakeProfits[i]
		if level.Triggered || !p.TargetCrossed(*level, price) {
			continue
		}
		if !p.IsActive() {
			break
		}
		size := level.SizeFraction.Mul(p.OriginalSize)
		trade, err := m.applyExit(p, level.Price, size, level.Reason, at)
		if err != nil {
			return trades, err
		}
		level.Triggered = true
		trades = append(trades, trade)

		if level.Reason == trading.ExitReasonTP1 && m.settings.MoveStopToBreakeven && p.IsActive() {
			p.StopLoss = p.EntryPrice
			m.logger.Debug("stop loss moved to breakeven", "id", p.ID, "stop_loss", p.StopLoss.String())
		}
	}
	return trades, nil
}

func (m *Manager) checkTimeout(p *trading.Position, price decimal.Decimal, at time.Time) ([]trading.ClosedTrade, error) {
	if m.settings.MaxHoldDuration <= 0 || at.Sub(p.EntryTime) < m.settings.MaxHoldDuration {
		return nil, nil
	}
	trade, err := m.applyExit(p, price, p.RemainingSize, trading.ExitReasonTimeout, at)
	if err != nil {
		return nil, err
	}
	return []trading.ClosedTrade{trade}, nil
}

// ApplyExit 以 price 平掉 size（超出剩余时截断为剩余数量）
func (m *Manager) ApplyExit(id string, price, size decimal.Decimal, reason trading.ExitReason, at time.Time) (trading.ClosedTrade, error) {
	p, ok := m.positions[id]
	if !ok {
		return trading.ClosedTrade{}, fmt.Errorf("%w: %s", trading.ErrPositionNotFound, id)
	}
	if !price.IsPositive() {
		return trading.ClosedTrade{}, fmt.Errorf("%w: exit price %s", trading.ErrInvalidOrder, price)
	}
	return m.applyExit(p, price, size, reason, at)
}

func (m *Manager) applyExit(p *trading.Position, price, size decimal.Decimal, reason trading.ExitReason, at time.Time) (trading.ClosedTrade, error) {
	if !p.IsActive() {
		return trading.ClosedTrade{}, fmt.Errorf("%w: %s already closed", trading.ErrPositionNotFound, p.ID)
	}
	if !size.IsPositive() {
		return trading.ClosedTrade{}, fmt.Errorf("%w: exit size %s", trading.ErrInvalidOrder, size)
	}
	size = decimalx.MinOf(size, p.RemainingSize)
	final := size.Equal(p.RemainingSize)
	pnl := p.PnL(price, size)

	resId := balance.ReservationID(p.ReservationID)
	if final {
		if _, err := m.balance.Release(resId, pnl); err != nil {
			return trading.ClosedTrade{}, fmt.Errorf("release %s: %w", p.ID, err)
		}
	} else {
		portion := p.Reserved.Mul(size).Div(p.OriginalSize)
		if outstanding, ok := m.balance.Outstanding(resId); ok {
			portion = decimalx.MinOf(portion, outstanding)
		}
		if err := m.balance.ReleasePartial(resId, portion, pnl); err != nil {
			return trading.ClosedTrade{}, fmt.Errorf("release %s: %w", p.ID, err)
		}
	}

	p.RemainingSize = p.RemainingSize.Sub(size)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.Exits = append(p.Exits, trading.ExitEvent{
		Price:       price,
		Time:        at,
		Size:        size,
		Reason:      reason,
		RealizedPnL: pnl,
	})
	if p.RemainingSize.IsZero() {
		p.Status = trading.StatusClosed
	} else {
		p.Status = trading.StatusPartiallyClosed
	}
	if err := p.CheckInvariant(); err != nil {
		return trading.ClosedTrade{}, err
	}

	trade := trading.ClosedTrade{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		EntryPrice:  p.EntryPrice,
		EntryTime:   p.EntryTime,
		ExitPrice:   price,
		ExitTime:    at,
		ExitSize:    size,
		ExitReason:  reason,
		RealizedPnL: pnl,
		PnLPercent:  decimalx.Percent(pnl, p.EntryPrice.Mul(size)),
		Final:       p.Status == trading.StatusClosed,
	}
	if p.Status == trading.StatusClosed {
		delete(m.positions, p.ID)
	}

	m.logger.Info("position exit", "id", p.ID, "reason", reason,
		"price", price.String(), "size", size.String(), "pnl", pnl.String(),
		"remaining", p.RemainingSize.String(), "status", p.Status)
	return trade, nil
}

// ClosePosition 手动平掉单个持仓的剩余部分
func (m *Manager) ClosePosition(id string, price decimal.Decimal, at time.Time) (trading.ClosedTrade, error) {
	p, ok := m.positions[id]
	if !ok {
		return trading.ClosedTrade{}, fmt.Errorf("%w: %s", trading.ErrPositionNotFound, id)
	}
	return m.ApplyExit(id, price, p.RemainingSize, trading.ExitReasonManual, at)
}

// ForceCloseAll 关闭全部持仓，没有价格的交易对按入场价平仓
func (m *Manager) ForceCloseAll(prices map[string]decimal.Decimal, at time.Time, reason trading.ExitReason) ([]trading.ClosedTrade, error) {
	if reason == "" {
		reason = trading.ExitReasonManual
	}
	var trades []trading.ClosedTrade
	for _, p := range m.sorted("") {
		price, ok := prices[p.Symbol]
		if !ok || !price.IsPositive() {
			price = p.EntryPrice
			m.logger.Warn("no price for force close, using entry price", "id", p.ID)
		}
		trade, err := m.applyExit(p, price, p.RemainingSize, reason, at)
		if err != nil {
			return trades, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// sorted symbol 为空时返回全部持仓
func (m *Manager) sorted(symbol string) []*trading.Position {
	ps := lo.Filter(lo.Values(m.positions), func(p *trading.Position, _ int) bool {
		return symbol == "" || p.Symbol == symbol
	})
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps
}

// OpenPositions 返回按 id 排序的深拷贝
func (m *Manager) OpenPositions() []trading.Position {
	return lo.Map(m.sorted(""), func(p *trading.Position, _ int) trading.Position {
		return p.Clone()
	})
}

func (m *Manager) Get(id string) (trading.Position, bool) {
	p, ok := m.positions[id]
	if !ok {
		return trading.Position{}, false
	}
	return p.Clone(), true
}

func (m *Manager) Count() int {
	return len(m.positions)
}

// UnrealizedPnL 没有价格的持仓不计入
func (m *Manager) UnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		if price, ok := prices[p.Symbol]; ok {
			total = total.Add(p.UnrealizedPnL(price))
		}
	}
	return total
}

// Restore 用快照中的持仓恢复，冻结必须仍在 balance 中
func (m *Manager) Restore(positions []trading.Position) error {
	restored := make(map[string]*trading.Position, len(positions))
	for _, p := range positions {
		p := p.Clone()
		if !p.IsActive() {
			return fmt.Errorf("%w: snapshot contains closed position %s", trading.ErrInvariant, p.ID)
		}
		if err := p.CheckInvariant(); err != nil {
			return err
		}
		if _, ok := m.balance.Outstanding(balance.ReservationID(p.ReservationID)); !ok {
			return fmt.Errorf("%w: position %s has no outstanding reservation", trading.ErrInvariant, p.ID)
		}
		if _, dup := restored[p.ID]; dup {
			return fmt.Errorf("%w: %s", trading.ErrDuplicateKey, p.ID)
		}
		restored[p.ID] = &p
	}
	m.positions = restored
	m.logger.Info("positions restored", "count", len(restored))
	return nil
}
