package migrator

import "sync/atomic"

// Flow control watermarks, fixed per spec.md §3/§4.6; an implementation may
// expose them for tuning but defaults must be preserved.
const (
	flowControlLowWatermark  = 128
	flowControlHighWatermark = 512
)

// upstreamGate is the subset of Pipe the flow controller needs to plug and
// unplug reads; Pipe implements it. Kept narrow so flowcontrol_test.go can
// exercise the controller against a fake.
type upstreamGate interface {
	plugInput()
	unplugInput()
}

// FlowController mediates between the upstream pipe's reads and the
// destination pipe's writes, tracking in-flight ("pending send") messages
// and plugging upstream reads at the high watermark, unplugging at the low
// one with hysteresis, per spec.md §3/§4.6. This is the same shape as the
// teacher's token-bucket gate in session.go (a counter that decides
// whether the read side may proceed) adapted from "tokens consumed" to
// "messages in flight."
//
// Invariant: plugged ⇔ (pending > HI) ∨ (plugged ∧ pending ≥ LO ∧ ¬closed).
type FlowController struct {
	pending int32
	plugged int32 // 0/1, accessed atomically: the upstream read goroutine increments, the destination write goroutine decrements
	closed  int32

	upstream upstreamGate
}

// NewFlowController builds a controller that plugs/unplugs reads on
// upstream.
func NewFlowController(upstream upstreamGate) *FlowController {
	return &FlowController{upstream: upstream}
}

// IncrementPending records that a message was handed to the destination
// pipe but not yet fully written. Plugs upstream reads once pending crosses
// the high watermark.
func (f *FlowController) IncrementPending() {
	n := atomic.AddInt32(&f.pending, 1)
	if n > flowControlHighWatermark && atomic.CompareAndSwapInt32(&f.plugged, 0, 1) {
		f.upstream.plugInput()
	}
}

// DecrementPending records that a pending message finished writing to the
// destination. Unplugs upstream reads once pending falls below the low
// watermark, unless the controller has been closed.
func (f *FlowController) DecrementPending() {
	n := atomic.AddInt32(&f.pending, -1)
	if n < 0 {
		panic("migrator: pendingSend went negative")
	}
	if n < flowControlLowWatermark && atomic.LoadInt32(&f.closed) == 0 &&
		atomic.CompareAndSwapInt32(&f.plugged, 1, 0) {
		f.upstream.unplugInput()
	}
}

// Pending returns the current in-flight count.
func (f *FlowController) Pending() int32 { return atomic.LoadInt32(&f.pending) }

// Close marks the controller closed: it keeps decrementing as messages
// drain but will never unplug again, per spec.md §4.6 ("never unplug after
// close").
func (f *FlowController) Close() { atomic.StoreInt32(&f.closed, 1) }
