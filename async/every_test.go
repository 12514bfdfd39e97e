package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zkmpc/maestro/async"
	"github.com/zkmpc/maestro/testing/assert"
)

func TestRunEvery_TicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var ticks int32
	async.RunEvery(ctx, 50*time.Millisecond, func() {
		atomic.AddInt32(&ticks, 1)
	})

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, true, atomic.LoadInt32(&ticks) > 0, "Job never ran")

	cancel()
	time.Sleep(100 * time.Millisecond)
	seen := atomic.LoadInt32(&ticks)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, seen, atomic.LoadInt32(&ticks), "Job kept running after cancellation")
}
