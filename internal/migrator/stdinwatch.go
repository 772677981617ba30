package migrator

import (
	"context"
	"io"
)

// stdinWatch is the port-adaptor watchdog of spec.md §4.8: a dedicated
// goroutine reading r byte-by-byte until EOF, modeled on
// original_source/src/port_adaptor.c's detached reader thread. It runs
// outside Migrator.Run's errgroup (see the call site) since Read blocks on
// a real syscall that ctx cancellation can't interrupt; on EOF it returns
// an OSError for the caller to thread back into the run's result and to
// cancel the shared context with, the Go realization of spec.md's
// "thread-safe break primitive".
func stdinWatch(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, err := r.Read(buf)
		if err != nil {
			if err == io.EOF {
				return newOSError("stdin closed")
			}
			return newOSError("stdin read: %v", err)
		}
	}
}
