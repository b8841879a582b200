package report

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/KNICEX/paper-trader/internal/service/balance"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func sampleInput() Input {
	entry := t0
	key := trading.GroupingKey("BTCUSDT", entry, trading.DirectionLong)
	trades := []trading.ClosedTrade{
		{PositionID: key, Symbol: "BTCUSDT", Direction: trading.DirectionLong, EntryPrice: d("100"), EntryTime: entry,
			ExitPrice: d("110"), ExitTime: entry.Add(time.Minute), ExitSize: d("0.5"), ExitReason: trading.ExitReasonTP1, RealizedPnL: d("5")},
		{PositionID: key, Symbol: "BTCUSDT", Direction: trading.DirectionLong, EntryPrice: d("100"), EntryTime: entry,
			ExitPrice: d("100"), ExitTime: entry.Add(2 * time.Minute), ExitSize: d("0.5"), ExitReason: trading.ExitReasonSL, RealizedPnL: d("0"), Final: true},
	}
	return Input{
		SessionID: "test-session",
		StartedAt: t0,
		Now:       t0.Add(time.Hour),
		Balance: balance.Balance{
			InitialBalance:   d("10000"),
			CurrentEquity:    d("10005"),
			AvailableBalance: d("10005"),
			Reserved:         decimal.Zero,
			PeakEquity:       d("10005"),
			RealizedPnLTotal: d("5"),
		},
		ClosedTrades: trades,
		Counters:     Counters{Signals: 3, Opened: 1, BlockedByCooldown: 2},
	}
}

func TestGenerator_Build(t *testing.T) {
	r := NewGenerator().Build(sampleInput())
	assert.Equal(t, "test-session", r.SessionID)
	assert.Equal(t, 2, r.ClosedTrades)
	assert.Equal(t, 1, r.Statistics.Metrics.TotalTrades)
	assert.Equal(t, 2, r.Statistics.TotalPartialExits)
	assert.True(t, r.Statistics.Metrics.TotalPnL.Equal(d("5")))
	assert.Empty(t, r.OpenPositions)

	text := r.Text()
	assert.Contains(t, text, "session=test-session")
	assert.Contains(t, text, "equity:         10005.00 (0.05%)")
	assert.Contains(t, text, "profit factor:  inf")
	assert.Contains(t, text, "cooldown=2")
	assert.Contains(t, text, "positions:      1 (2 partial exits, 1 take-profit, 1 profitable)")
	assert.Contains(t, text, "mtm equity:     10005.00")
	assert.True(t, strings.Contains(text, "SL "), "timing section lists final exit reason")
}

func TestGenerator_Deterministic(t *testing.T) {
	g := NewGenerator()
	a := g.Build(sampleInput())
	b := g.Build(sampleInput())
	assert.Equal(t, a.Text(), b.Text())

	ja, err := a.JSON()
	require.NoError(t, err)
	jb, err := b.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestGenerator_ZeroTrades(t *testing.T) {
	in := sampleInput()
	in.ClosedTrades = nil
	r := NewGenerator().Build(in)
	assert.Equal(t, 0, r.Statistics.Metrics.TotalTrades)
	assert.Contains(t, r.Text(), "win rate:       0.0% (0 W / 0 L)")
	assert.Contains(t, r.Text(), "profit factor:  inf")
}

func TestGenerator_Exposure(t *testing.T) {
	in := sampleInput()
	in.OpenPositions = []trading.Position{
		{ID: "btc", Symbol: "BTCUSDT", Direction: trading.DirectionLong, EntryPrice: d("100"), EntryTime: t0,
			OriginalSize: d("2"), RemainingSize: d("2")},
		{ID: "eth", Symbol: "ETHUSDT", Direction: trading.DirectionShort, EntryPrice: d("20"), EntryTime: t0.Add(30 * time.Minute),
			OriginalSize: d("1"), RemainingSize: d("1")},
	}
	in.Prices = map[string]decimal.Decimal{"BTCUSDT": d("106")}
	in.UnrealizedPnL = d("12")

	r := NewGenerator().Build(in)
	e := r.Exposure
	assert.Equal(t, 1, e.Long)
	assert.Equal(t, 1, e.Short)
	assert.Equal(t, 1, e.Unpriced)
	assert.True(t, e.UnrealizedPnL.Equal(d("12")))
	assert.True(t, e.MarkToMarketEquity.Equal(d("10017")))
	assert.Equal(t, 45*time.Minute, e.AvgAge)

	text := r.Text()
	assert.Contains(t, text, "OPEN POSITIONS (2)")
	assert.Contains(t, text, "long/short:     1 / 1 (unpriced 1)")
	assert.Contains(t, text, "unrealized pnl: 12.00")
	assert.Contains(t, text, "mtm equity:     10017.00")
	assert.Contains(t, text, "avg age:        45m0s")
}

func sampleSnapshot(at time.Time, reason SnapshotReason) Snapshot {
	return Snapshot{
		SessionID: "test-session",
		Reason:    reason,
		SavedAt:   at,
		Balance: balance.Snapshot{
			Balance: balance.Balance{InitialBalance: d("10000"), CurrentEquity: d("10000")},
		},
	}
}

func TestSnapshotStore_SaveAndLoadLatest(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewSnapshotStore(fs, "results", "fallback", nil)

	_, _, err := store.LoadLatest()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	p1, err := store.Save(sampleSnapshot(t0, SnapshotPeriodic))
	require.NoError(t, err)
	assert.Equal(t, "results/session_periodic_20240501T080000.000000000Z.json", p1)

	p2, err := store.Save(sampleSnapshot(t0.Add(time.Minute), SnapshotFinal))
	require.NoError(t, err)

	snap, path, err := store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, p2, path)
	assert.Equal(t, SnapshotFinal, snap.Reason)
	assert.True(t, snap.Balance.Balance.InitialBalance.Equal(d("10000")))

	// 不应留下临时文件
	infos, err := afero.ReadDir(fs, "results")
	require.NoError(t, err)
	for _, info := range infos {
		assert.False(t, strings.HasPrefix(info.Name(), "."), info.Name())
	}
	assert.Len(t, infos, 2)
}

// failingFs 对指定目录下的写操作返回错误
type failingFs struct {
	afero.Fs
	dir string
}

var errDiskFull = errors.New("disk full")

func (f failingFs) blocked(name string) bool {
	return strings.HasPrefix(name, f.dir)
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.blocked(name) && flag&os.O_CREATE != 0 {
		return nil, errDiskFull
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f failingFs) Create(name string) (afero.File, error) {
	if f.blocked(name) {
		return nil, errDiskFull
	}
	return f.Fs.Create(name)
}

func TestSnapshotStore_EmergencyFallback(t *testing.T) {
	base := afero.NewMemMapFs()
	store := NewSnapshotStore(failingFs{Fs: base, dir: "results"}, "results", "fallback", nil)

	path, err := store.SaveEmergency(sampleSnapshot(t0, SnapshotFinal))
	require.NoError(t, err)
	assert.Equal(t, "fallback/emergency_save_20240501T080000.000000000Z.json", path)

	ok, err := afero.Exists(base, path)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Save(sampleSnapshot(t0, SnapshotPeriodic))
	assert.ErrorIs(t, err, errDiskFull)
}

func TestSnapshotStore_EmergencyAllFail(t *testing.T) {
	store := NewSnapshotStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "results", "fallback", nil)
	path, err := store.SaveEmergency(sampleSnapshot(t0, SnapshotFinal))
	assert.Error(t, err)
	assert.Empty(t, path)
}

func TestSnapshotStore_FailedWriteKeepsPrevious(t *testing.T) {
	base := afero.NewMemMapFs()
	store := NewSnapshotStore(base, "results", "", nil)
	prev, err := store.Save(sampleSnapshot(t0, SnapshotPeriodic))
	require.NoError(t, err)

	broken := NewSnapshotStore(failingFs{Fs: base, dir: "results"}, "results", "", nil)
	_, err = broken.Save(sampleSnapshot(t0.Add(time.Minute), SnapshotPeriodic))
	require.Error(t, err)

	_, path, err := store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, prev, path)
}

func TestSnapshotStore_SaveReport(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewSnapshotStore(fs, "results", "", nil)
	r := NewGenerator().Build(sampleInput())

	paths, err := store.SaveReport(r)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], ".json"))
	assert.True(t, strings.HasSuffix(paths[1], ".txt"))

	text, err := afero.ReadFile(fs, paths[1])
	require.NoError(t, err)
	assert.Equal(t, r.Text(), string(text))
}
