package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIdleLoop(t *testing.T) *TradingLoop {
	t.Helper()
	conf := config.Config{}.WithDefaults()
	conf.Trading.Symbols = nil
	conf.Reconcile.Disabled = true
	return NewTradingLoop(&conf, nil, nil, zap.NewNop())
}

func TestTradingLoopRestart(t *testing.T) {
	loop := newIdleLoop(t)
	done := make(chan error, 1)

	go func() { done <- loop.Start(context.Background()) }()
	require.Eventually(t, loop.IsRunning, time.Second, 5*time.Millisecond)

	loop.Stop()
	require.NoError(t, <-done)
	assert.False(t, loop.IsRunning())

	// 停止后再次启动，再次停止不应崩溃
	go func() { done <- loop.Start(context.Background()) }()
	require.Eventually(t, loop.IsRunning, time.Second, 5*time.Millisecond)

	require.NotPanics(t, loop.Stop)
	require.NoError(t, <-done)
	assert.False(t, loop.IsRunning())
}

func TestTradingLoopStopIdempotent(t *testing.T) {
	loop := newIdleLoop(t)

	require.NotPanics(t, loop.Stop)

	done := make(chan error, 1)
	go func() { done <- loop.Start(context.Background()) }()
	require.Eventually(t, loop.IsRunning, time.Second, 5*time.Millisecond)

	loop.Stop()
	require.NotPanics(t, loop.Stop)
	require.NoError(t, <-done)
}

func TestTradingLoopStatusUnderConcurrentCycles(t *testing.T) {
	loop := newIdleLoop(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.ExecuteCycle(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.GetStatus()
			_ = loop.IsRunning()
		}()
	}
	wg.Wait()

	status := loop.GetStatus()
	assert.Equal(t, 8, status["iteration"])
}
