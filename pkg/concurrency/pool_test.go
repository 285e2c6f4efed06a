package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunAllWaitsForEveryTask(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 3}, &noopLogger{})
	defer pool.Stop()

	var done int64
	tasks := make([]func(), 0, 10)
	for i := 0; i < 10; i++ {
		tasks = append(tasks, func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&done, 1)
		})
	}
	pool.RunAll(tasks)

	assert.Equal(t, int64(10), atomic.LoadInt64(&done))
}

func TestWorkerPool_RunAllSurvivesPanic(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panic", MaxWorkers: 2}, &noopLogger{})
	defer pool.Stop()

	var done int64
	pool.RunAll([]func(){
		func() { panic("boom") },
		func() { atomic.AddInt64(&done, 1) },
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&done))
}

func TestWorkerPool_RunAllContextReturnsFirstError(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "ctx", MaxWorkers: 2}, &noopLogger{})
	defer pool.Stop()

	boom := errors.New("boom")
	err := pool.RunAllContext(context.Background(), []func(context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestWorkerPool_RunAllContextCancelsRemainingTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "cancel", MaxWorkers: 1}, &noopLogger{})
	defer pool.Stop()

	boom := errors.New("boom")
	var ranLive atomic.Bool
	err := pool.RunAllContext(context.Background(), []func(context.Context) error{
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			// either skipped by the group or handed a cancelled context
			if ctx.Err() == nil {
				ranLive.Store(true)
			}
			return nil
		},
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ranLive.Load())
}

func TestWorkerPool_Stats(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "stats", MaxWorkers: 2}, &noopLogger{})
	defer pool.Stop()

	pool.RunAll([]func(){func() {}, func() {}, func() {}})

	assert.Equal(t, uint64(3), pool.Stats()["submitted_tasks"])
	require.Eventually(t, func() bool {
		return pool.Stats()["successful_tasks"] == uint64(3)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), pool.Stats()["failed_tasks"])
}
