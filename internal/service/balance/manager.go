package balance

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationID string

func (id ReservationID) ToString() string {
	return string(id)
}

// Reservation 为某个持仓冻结的保证金
type Reservation struct {
	ID          ReservationID   `json:"id"`
	PositionID  string          `json:"position_id"`
	Amount      decimal.Decimal `json:"amount"`      // 初始冻结
	Outstanding decimal.Decimal `json:"outstanding"` // 尚未释放
}

// Balance 余额快照(值类型)
type Balance struct {
	InitialBalance     decimal.Decimal `json:"initial_balance"`
	CurrentEquity      decimal.Decimal `json:"current_equity"`
	AvailableBalance   decimal.Decimal `json:"available_balance"`
	Reserved           decimal.Decimal `json:"reserved"`
	PeakEquity         decimal.Decimal `json:"peak_equity"`
	RealizedPnLTotal   decimal.Decimal `json:"realized_pnl_total"`
	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`
}

// Snapshot 可恢复的完整状态
type Snapshot struct {
	Balance      Balance         `json:"balance"`
	Reservations []Reservation   `json:"reservations"`
	Consumed     []ReservationID `json:"consumed"`
}

// Manager 账户权益、已实现盈亏与保证金占用。
// 不加锁，调用方(trader)保证单写者。
type Manager struct {
	initial     decimal.Decimal
	equity      decimal.Decimal
	realized    decimal.Decimal
	peak        decimal.Decimal
	maxDrawdown decimal.Decimal

	reservations map[ReservationID]*Reservation
	consumed     map[ReservationID]struct{}

	logger *slog.Logger
}

func NewManager(initial decimal.Decimal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		initial:      initial,
		equity:       initial,
		realized:     decimal.Zero,
		peak:         initial,
		maxDrawdown:  decimal.Zero,
		reservations: make(map[ReservationID]*Reservation),
		consumed:     make(map[ReservationID]struct{}),
		logger:       logger.With(slog.String("component", "balance")),
	}
	m.logger.Info("balance manager initialized", "initial_balance", initial.String())
	return m
}

// Restore 从快照恢复
func Restore(snap Snapshot, logger *slog.Logger) (*Manager, error) {
	m := NewManager(snap.Balance.InitialBalance, logger)
	m.equity = snap.Balance.CurrentEquity
	m.realized = snap.Balance.RealizedPnLTotal
	m.peak = snap.Balance.PeakEquity
	m.maxDrawdown = snap.Balance.MaxDrawdownPercent
	for _, r := range snap.Reservations {
		r := r
		if !r.Outstanding.IsPositive() {
			return nil, fmt.Errorf("%w: reservation %s has no outstanding amount", trading.ErrInvariant, r.ID)
		}
		m.reservations[r.ID] = &r
	}
	for _, id := range snap.Consumed {
		m.consumed[id] = struct{}{}
	}
	if res := m.Validate(); !res.Valid {
		return nil, fmt.Errorf("%w: restored balance invalid: %v", trading.ErrInvariant, res.Issues)
	}
	return m, nil
}

func (m *Manager) reserved() decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.reservations {
		total = total.Add(r.Outstanding)
	}
	return total
}

func (m *Manager) Available() decimal.Decimal {
	return m.equity.Sub(m.reserved())
}

func (m *Manager) Equity() decimal.Decimal {
	return m.equity
}

// Reserve 冻结 amount，失败时不改变任何状态
func (m *Manager) Reserve(positionID string, amount decimal.Decimal) (ReservationID, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: reserve amount must be > 0, got %s", trading.ErrInvalidOrder, amount)
	}
	available := m.Available()
	if amount.GreaterThan(available) {
		return "", fmt.Errorf("%w: available=%s, required=%s", trading.ErrInsufficientBalance, available, amount)
	}
	id := ReservationID(uuid.NewString())
	m.reservations[id] = &Reservation{
		ID:          id,
		PositionID:  positionID,
		Amount:      amount,
		Outstanding: amount,
	}
	m.logger.Debug("funds reserved", "reservation", id, "position", positionID,
		"amount", amount.String(), "available", m.Available().String())
	return id, nil
}

// Release 释放剩余全部冻结并计入盈亏
func (m *Manager) Release(id ReservationID, realizedPnL decimal.Decimal) (decimal.Decimal, error) {
	r, err := m.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}
	amount := r.Outstanding
	return amount, m.release(r, amount, realizedPnL)
}

// ReleasePartial 部分释放，释放完毕后该冻结被标记为已消费
func (m *Manager) ReleasePartial(id ReservationID, amount, realizedPnL decimal.Decimal) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative release amount %s", trading.ErrInvalidOrder, amount)
	}
	if amount.GreaterThan(r.Outstanding) {
		return fmt.Errorf("%w: reservation %s release %s exceeds outstanding %s",
			trading.ErrDoubleRelease, id, amount, r.Outstanding)
	}
	return m.release(r, amount, realizedPnL)
}

func (m *Manager) lookup(id ReservationID) (*Reservation, error) {
	if _, ok := m.consumed[id]; ok {
		return nil, fmt.Errorf("%w: reservation %s already released", trading.ErrDoubleRelease, id)
	}
	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reservation %s", trading.ErrDoubleRelease, id)
	}
	return r, nil
}

func (m *Manager) release(r *Reservation, amount, pnl decimal.Decimal) error {
	r.Outstanding = r.Outstanding.Sub(amount)
	m.equity = m.equity.Add(pnl)
	m.realized = m.realized.Add(pnl)
	if r.Outstanding.IsZero() {
		delete(m.reservations, r.ID)
		m.consumed[r.ID] = struct{}{}
	}
	m.trackDrawdown()

	m.logger.Debug("funds released", "reservation", r.ID, "position", r.PositionID,
		"amount", amount.String(), "pnl", pnl.String(), "equity", m.equity.String())
	return nil
}

func (m *Manager) trackDrawdown() {
	if m.equity.GreaterThan(m.peak) {
		m.peak = m.equity
		return
	}
	if !m.peak.IsPositive() {
		return
	}
	dd := m.peak.Sub(m.equity).Div(m.peak).Mul(decimal.NewFromInt(100))
	if dd.GreaterThan(m.maxDrawdown) {
		m.maxDrawdown = dd
	}
}

// Outstanding 某个冻结尚未释放的金额
func (m *Manager) Outstanding(id ReservationID) (decimal.Decimal, bool) {
	r, ok := m.reservations[id]
	if !ok {
		return decimal.Zero, false
	}
	return r.Outstanding, true
}

// ExposurePercent 已占用保证金 / 当前权益 × 100
func (m *Manager) ExposurePercent() decimal.Decimal {
	return m.exposure(m.reserved())
}

// ExposureAfter 再冻结 amount 后的敞口百分比
func (m *Manager) ExposureAfter(amount decimal.Decimal) decimal.Decimal {
	return m.exposure(m.reserved().Add(amount))
}

func (m *Manager) exposure(reserved decimal.Decimal) decimal.Decimal {
	if !m.equity.IsPositive() {
		if reserved.IsPositive() {
			return decimal.NewFromInt(100)
		}
		return decimal.Zero
	}
	return reserved.Div(m.equity).Mul(decimal.NewFromInt(100))
}

func (m *Manager) Balance() Balance {
	reserved := m.reserved()
	return Balance{
		InitialBalance:     m.initial,
		CurrentEquity:      m.equity,
		AvailableBalance:   m.equity.Sub(reserved),
		Reserved:           reserved,
		PeakEquity:         m.peak,
		RealizedPnLTotal:   m.realized,
		MaxDrawdownPercent: m.maxDrawdown,
	}
}

func (m *Manager) Snapshot() Snapshot {
	snap := Snapshot{
		Balance:      m.Balance(),
		Reservations: make([]Reservation, 0, len(m.reservations)),
		Consumed:     make([]ReservationID, 0, len(m.consumed)),
	}
	for _, r := range m.reservations {
		snap.Reservations = append(snap.Reservations, *r)
	}
	for id := range m.consumed {
		snap.Consumed = append(snap.Consumed, id)
	}
	sort.Slice(snap.Reservations, func(i, j int) bool {
		return snap.Reservations[i].PositionID < snap.Reservations[j].PositionID
	})
	sort.Slice(snap.Consumed, func(i, j int) bool { return snap.Consumed[i] < snap.Consumed[j] })
	return snap
}
