package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/paper-trader/internal/entity"
	"github.com/KNICEX/paper-trader/internal/repo"
	"github.com/KNICEX/paper-trader/internal/schedule"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"golang.org/x/sync/errgroup"
)

const finalizeTimeout = 30 * time.Second

// Run 单写者事件循环。无论因为 ctx 取消、输入关闭、致命错误还是 panic 退出，
// 都会强平并保存快照；panic 在保存之后重新抛出。
func (t *VirtualTrader) Run(ctx context.Context, signals <-chan trading.Signal, ticks <-chan trading.PriceTick) (err error) {
	defer t.finalize(&err)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.startSession(ctx)
	var eg errgroup.Group
	eg.Go(func() error {
		return schedule.Every(ctx, t.settings.ReportInterval, t.ReportTask(), t.logger)
	})
	defer func() {
		cancel()
		_ = eg.Wait()
	}()

	return t.loop(ctx, signals, ticks)
}

func (t *VirtualTrader) loop(ctx context.Context, signals <-chan trading.Signal, ticks <-chan trading.PriceTick) error {
	for signals != nil || ticks != nil {
		select {
		case <-ctx.Done():
			t.logger.Info("context done, stopping", "cause", context.Cause(ctx))
			return nil
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if _, err := t.OnSignal(ctx, sig); err != nil && trading.IsFatal(err) {
				return err
			}
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if _, err := t.OnTick(ctx, tick); err != nil {
				if trading.IsFatal(err) {
					return err
				}
				t.logger.Warn("tick rejected", "symbol", tick.Symbol, "error", err)
			}
		}
	}
	t.logger.Info("input channels closed, stopping")
	return nil
}

func (t *VirtualTrader) finalize(errp *error) {
	r := recover()

	reason := "run finished"
	switch {
	case r != nil:
		reason = fmt.Sprintf("panic: %v", r)
	case *errp != nil:
		reason = (*errp).Error()
	}
	// OnTick 遇到致命错误时已经保存过紧急快照
	if r != nil || (trading.IsFatal(*errp) && t.fatalErr() == nil) {
		t.EmergencySave(reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if _, err := t.Shutdown(ctx, reason); err != nil && *errp == nil {
		*errp = err
	}
	if r != nil {
		panic(r)
	}
}

// ReportTask 周期报告任务
func (t *VirtualTrader) ReportTask() schedule.Task {
	return schedule.TaskFunc{
		TaskName: "virtual trading report",
		Fn: func(ctx context.Context) error {
			_, err := t.Report(ctx)
			return err
		},
	}
}

func (t *VirtualTrader) startSession(ctx context.Context) {
	if t.sessions == nil || t.resumed {
		return
	}
	err := t.sessions.Create(ctx, entity.Session{
		Id:             t.sessionID,
		InitialBalance: t.settings.InitialBalance.String(),
		Status:         entity.SessionStatusRunning,
	})
	if err != nil {
		t.logger.Error("create session record failed", "error", err)
	}
}

func (t *VirtualTrader) finishSession(ctx context.Context, status int, equity, snapshotPath string) {
	if t.sessions == nil {
		return
	}
	if err := t.sessions.Finish(ctx, t.sessionID, status, equity, snapshotPath); err != nil {
		t.logger.Error("finish session record failed", "error", err)
	}
}

// journalGap 成交记录比内存中的平仓少多少条，journal 不可用时返回 0
func (t *VirtualTrader) journalGap(ctx context.Context, closed int) int {
	if t.journal == nil {
		return 0
	}
	count, err := t.journal.CountBySession(ctx, t.sessionID)
	if err != nil {
		t.logger.Error("count journal failed", "error", err)
		return 0
	}
	return closed - int(count)
}

// AbortStaleSessions 把仍处于运行状态的旧会话标记为异常结束，keep 为当前会话
func AbortStaleSessions(ctx context.Context, sessions repo.SessionRepo, keep string) (int, error) {
	running, err := sessions.FindByStatus(ctx, entity.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("find running sessions: %w", err)
	}
	aborted := 0
	for _, s := range running {
		if s.Id == keep {
			continue
		}
		if err := sessions.Finish(ctx, s.Id, entity.SessionStatusAborted, s.FinalEquity, s.SnapshotPath); err != nil {
			return aborted, fmt.Errorf("abort session %s: %w", s.Id, err)
		}
		aborted++
	}
	return aborted, nil
}

func sessionStatus(closeErr error, valid bool) int {
	if closeErr != nil || !valid {
		return entity.SessionStatusAborted
	}
	return entity.SessionStatusFinished
}
