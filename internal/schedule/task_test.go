package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery(t *testing.T) {
	var runs atomic.Int32
	task := TaskFunc{
		TaskName: "counter",
		Fn: func(ctx context.Context) error {
			// 失败不影响后续调度
			if runs.Add(1) == 1 {
				return errors.New("first run fails")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Every(ctx, 5*time.Millisecond, task, nil) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "counter", task.Name())
}

func TestEvery_Disabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := Every(ctx, 0, TaskFunc{TaskName: "noop", Fn: func(context.Context) error {
		called = true
		return nil
	}}, nil)
	assert.NoError(t, err)
	assert.False(t, called)
}
