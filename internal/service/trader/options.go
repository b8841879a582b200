package trader

import (
	"context"
	"log/slog"
	"time"

	"github.com/KNICEX/paper-trader/internal/repo"
	"github.com/KNICEX/paper-trader/internal/service/exchange"
	"github.com/KNICEX/paper-trader/internal/service/report"
)

// Notifier notification.Notifier 实现了该接口
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type Option func(t *VirtualTrader)

func WithLogger(logger *slog.Logger) Option {
	return func(t *VirtualTrader) {
		t.logger = logger
	}
}

func WithSnapshotStore(store *report.SnapshotStore) Option {
	return func(t *VirtualTrader) {
		t.store = store
	}
}

// WithJournal 每笔成交写入数据库，写入失败不影响交易
func WithJournal(journal repo.TradeRepo) Option {
	return func(t *VirtualTrader) {
		t.journal = journal
	}
}

func WithSessionRepo(sessions repo.SessionRepo) Option {
	return func(t *VirtualTrader) {
		t.sessions = sessions
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(t *VirtualTrader) {
		t.notifier = notifier
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *VirtualTrader) {
		t.now = now
	}
}

func WithSessionID(id string) Option {
	return func(t *VirtualTrader) {
		t.sessionID = id
	}
}

// WithPrecision 按交易对精度向下取整计算出的仓位数量
func WithPrecision(p exchange.QuantityPrecisionProvider) Option {
	return func(t *VirtualTrader) {
		t.precision = p
	}
}
