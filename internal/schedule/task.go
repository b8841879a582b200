package schedule

import (
	"context"
	"log/slog"
	"time"
)

type Task interface {
	Run(ctx context.Context) error
	Name() string
}

// TaskFunc 把普通函数包装成 Task
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (t TaskFunc) Run(ctx context.Context) error {
	return t.Fn(ctx)
}

func (t TaskFunc) Name() string {
	return t.TaskName
}

// Every 每隔 interval 执行一次 task，直到 ctx 结束。
// 单次执行失败只记录日志，不会中断调度。
func Every(ctx context.Context, interval time.Duration, task Task, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := task.Run(ctx); err != nil {
				logger.Error("scheduled task failed", "task", task.Name(), "error", err)
				continue
			}
			logger.Debug("scheduled task done", "task", task.Name(), "cost", time.Since(start))
		}
	}
}
