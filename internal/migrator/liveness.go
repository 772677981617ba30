package migrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// livenessLoop is the once-per-second belt-and-suspenders tick described in
// spec.md §4.7: it samples the shared packets counter every second and, if
// it hasn't moved for timeout+3 consecutive seconds, raises a fatal
// TimeoutError. A no-op (returns only on ctx.Done) when timeout<=0, the same
// "fixed ticker, atomic counter snapshot" shape as the teacher's keepalive
// ticker in session.go.
func livenessLoop(ctx context.Context, timeout time.Duration, packets *uint64, log logrus.FieldLogger) error {
	if timeout <= 0 {
		<-ctx.Done()
		return nil
	}

	stallLimit := int(timeout/time.Second) + 3
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := atomic.LoadUint64(packets)
	stalled := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := atomic.LoadUint64(packets)
			if cur == last {
				stalled++
				if stalled >= stallLimit {
					return newTimeoutError("no pipe activity for %d seconds", stalled)
				}
			} else {
				stalled = 0
				last = cur
			}
		}
	}
}
