package migrator

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Mutations is the set of per-message rewrites spec.md §4.4 applies to
// TAP_MUTATION frames before forwarding.
type Mutations struct {
	ExpirySet bool
	Expiry    uint32
	FlagsSet  bool
	Flags     uint32
}

// UpstreamCallback implements Callback for the source-side pipe, per
// spec.md §4.4: filters by vbucket, applies Mutations, hands off to the
// destination pipe, and drives the flow controller.
type UpstreamCallback struct {
	log        logrus.FieldLogger
	filter     *VbucketFilter
	mutations  Mutations
	controller *FlowController
	downstream *Pipe

	mu     sync.Mutex
	done   bool
	onDone func()
}

// NewUpstreamCallback wires the upstream side. downstream, controller, and
// onDone are set after construction via the Wire method because the
// destination pipe and controller are created after the callback
// (migrator.go builds both pipes before either is runnable).
func NewUpstreamCallback(log logrus.FieldLogger, filter *VbucketFilter, mutations Mutations) *UpstreamCallback {
	return &UpstreamCallback{log: log, filter: filter, mutations: mutations}
}

// Wire completes construction once the destination pipe and flow
// controller exist.
func (u *UpstreamCallback) Wire(downstream *Pipe, controller *FlowController, onDone func()) {
	u.downstream = downstream
	u.controller = controller
	u.onDone = onDone
}

// MessageReceived implements Callback. NOOP and TAP_OPAQUE are
// connection-scoped and bypass the vbucket filter, per spec.md §4.4/§6.
func (u *UpstreamCallback) MessageReceived(msg *Message) {
	switch msg.Opcode() {
	case OpNoop:
		return
	case OpTapOpaque:
		// connection-scoped; forward without a filter check.
	default:
		if !u.filter.Contains(msg.VBucket()) {
			u.log.WithFields(logrus.Fields{
				"opcode":  msg.Opcode(),
				"vbucket": msg.VBucket(),
			}).Error("received message for a vbucket not in the requested set, dropping")
			return
		}
	}

	if u.mutations.ExpirySet {
		msg.SetExpiry(u.mutations.Expiry)
	}
	if u.mutations.FlagsSet {
		msg.SetFlags(u.mutations.Flags)
	}

	u.controller.IncrementPending()
	if err := u.downstream.Send(msg); err != nil {
		u.log.WithError(err).Warn("failed to forward message downstream")
		u.controller.DecrementPending()
	}
}

// MessageSent implements Callback; the upstream pipe's own outbound queue
// only ever carries the initial TAP_CONNECT handshake frame and whatever
// the downstream callback forwards back upstream (acks), neither of which
// this side needs to react to.
func (u *UpstreamCallback) MessageSent(*Message) {}

// Shutdown implements Callback: a clean EOF from the source. Plugs the
// destination's reads and closes the flow controller so it never unplugs
// again, then signals the migrator that the upstream side is done — the
// migrator waits for the destination's outbound queue to drain before
// tearing the run down, per spec.md §4.4/§4.7.
func (u *UpstreamCallback) Shutdown() {
	u.downstream.plugInput()
	u.controller.Close()
	u.markDone()
}

// Abort implements Callback: propagate to the destination pipe and mark
// complete, per spec.md §4.4.
func (u *UpstreamCallback) Abort(err error) {
	u.downstream.Abort(err)
	u.markDone()
}

func (u *UpstreamCallback) markDone() {
	u.mu.Lock()
	already := u.done
	u.done = true
	u.mu.Unlock()
	if !already && u.onDone != nil {
		u.onDone()
	}
}

// DownstreamCallback implements Callback for the destination-side pipe,
// per spec.md §4.5: forwards responses upstream, decrements the flow
// controller on send completion, and decodes TAP_VBUCKET_SET to tally
// takeover progress.
type DownstreamCallback struct {
	log        logrus.FieldLogger
	upstream   *Pipe
	controller *FlowController

	mu    sync.Mutex
	moved int
}

// NewDownstreamCallback wires the downstream side. upstream and controller
// are supplied via Wire for the same construction-order reason as
// UpstreamCallback.
func NewDownstreamCallback(log logrus.FieldLogger) *DownstreamCallback {
	return &DownstreamCallback{log: log}
}

// Wire completes construction once the upstream pipe and shared flow
// controller exist.
func (d *DownstreamCallback) Wire(upstream *Pipe, controller *FlowController) {
	d.upstream = upstream
	d.controller = controller
}

// MessageReceived implements Callback: destination responses (TAP acks,
// error responses) flow back to the source; NOOP responses are dropped,
// per spec.md §4.5.
func (d *DownstreamCallback) MessageReceived(msg *Message) {
	if msg.Opcode() == OpNoop {
		return
	}
	if err := d.upstream.Send(msg); err != nil {
		d.log.WithError(err).Warn("failed to forward response upstream")
	}
}

// MessageSent implements Callback: decrements pending, and on a completed
// TAP_VBUCKET_SET send, tallies takeover progress, per spec.md §4.5.
func (d *DownstreamCallback) MessageSent(msg *Message) {
	d.controller.DecrementPending()

	if msg.Opcode() != OpTapVBucketSet {
		return
	}
	state, ok := msg.VbucketSetState()
	if !ok {
		return
	}
	switch state {
	case VbucketStatePending:
		d.log.Infof("starting to move bucket %d", msg.VBucket())
	case VbucketStateActive:
		d.mu.Lock()
		d.moved++
		d.mu.Unlock()
		d.log.Infof("bucket %d moved", msg.VBucket())
	case VbucketStateReplica, VbucketStateDead:
		// non-fatal states this proxy doesn't otherwise act on.
	default:
		d.log.Warnf("bucket %d reported invalid vbucket state %d", msg.VBucket(), state)
	}
}

// Shutdown implements Callback: the destination closed its side; nothing
// further to propagate since the upstream side drives the overall run.
func (d *DownstreamCallback) Shutdown() {}

// Abort implements Callback.
func (d *DownstreamCallback) Abort(err error) {
	d.upstream.Abort(err)
}

// Moved returns the takeover tally: the count of TAP_VBUCKET_SET frames
// whose payload decoded to active and whose send completed, per spec.md §3.
func (d *DownstreamCallback) Moved() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moved
}
