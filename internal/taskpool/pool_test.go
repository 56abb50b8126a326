package taskpool

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 10, discardLogger())
	p.Start(context.Background())
	defer p.Stop()

	var count atomic.Int64
	for i := 0; i < 5; i++ {
		assert.True(t, p.Submit(func(ctx context.Context) { count.Add(1) }))
	}

	require.Eventually(t, func() bool { return count.Load() == 5 }, time.Second, time.Millisecond)
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	p := New(1, 1, discardLogger())
	block := make(chan struct{})
	p.Start(context.Background())
	defer func() {
		close(block)
		p.Stop()
	}()

	require.True(t, p.Submit(func(ctx context.Context) { <-block }))
	require.True(t, p.Submit(func(ctx context.Context) {}))
	assert.False(t, p.Submit(func(ctx context.Context) {}))
}

func TestSubmitAfterStopReturnsFalse(t *testing.T) {
	p := New(1, 1, discardLogger())
	p.Start(context.Background())
	p.Stop()

	assert.False(t, p.Submit(func(ctx context.Context) {}))
}
