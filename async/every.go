// Package async provides helpers for running background work on a fixed
// cadence, used by the ceremony lifecycle job and the timeout controller.
package async

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "async")

// RunEvery invokes f once per period on a dedicated goroutine until ctx is
// done. Ticks that land while f is still running are absorbed by the ticker,
// so a slow sweep never stacks up behind itself.
func RunEvery(ctx context.Context, period time.Duration, f func()) {
	job := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f()
			case <-ctx.Done():
				log.WithField("job", job).Debug("Periodic job stopped")
				return
			}
		}
	}()
}
