package migrator

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Callback is the capability set a Pipe's owner implements, per spec.md
// §4.2/§9 ("Polymorphic callbacks ... implement as a small interface"). The
// pipe never knows which concrete side (upstream/downstream) it serves.
type Callback interface {
	MessageReceived(*Message)
	MessageSent(*Message)
	Shutdown()
	Abort(err error)
}

const defaultQueueCapacity = 4096

// Pipe is the per-socket framing + outbound-queue + event-registration
// object, per spec.md §3/§4.2. It realizes the spec's non-blocking
// reactor step() as a pair of goroutines (see SPEC_FULL.md §4's
// concurrency note): ReadLoop and WriteLoop, each making ordinary
// blocking net.Conn calls, coordinated through channels rather than
// through shared mutable state guarded by locks — the same division of
// labor as the teacher's recvLoop/sendLoop pair in session.go.
type Pipe struct {
	Name string

	conn    net.Conn
	cb      Callback
	timeout time.Duration
	log     logrus.FieldLogger
	packets *uint64 // shared liveness counter, incremented per frame stepped

	queue chan *Message

	plugged int32 // atomic bool: read interest withheld
	resume  chan struct{}

	closed    int32 // atomic bool
	abortOnce sync.Once
	die       chan struct{}
}

// NewPipe wraps conn with the framing state machine described in spec.md
// §4.2. timeout, if nonzero, bounds every individual I/O call (the
// per-pipe watchdog of spec.md §4.7); packets, if non-nil, is incremented
// once per frame read or written for the liveness timer to observe.
func NewPipe(name string, conn net.Conn, cb Callback, timeout time.Duration, packets *uint64, log logrus.FieldLogger) *Pipe {
	return &Pipe{
		Name:    name,
		conn:    conn,
		cb:      cb,
		timeout: timeout,
		log:     log,
		packets: packets,
		queue:   make(chan *Message, defaultQueueCapacity),
		resume:  make(chan struct{}, 1),
		die:     make(chan struct{}),
	}
}

// Send enqueues msg for transmission, transferring ownership, per spec.md
// §4.2. It blocks if the outbound queue is saturated, which is itself a
// form of backpressure complementing the FlowController's watermarks.
func (p *Pipe) Send(msg *Message) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return io.ErrClosedPipe
	}
	select {
	case p.queue <- msg:
		return nil
	case <-p.die:
		return io.ErrClosedPipe
	}
}

// plugInput toggles off read interest without touching the queue, per
// spec.md §4.2/§4.6.
func (p *Pipe) plugInput() {
	atomic.StoreInt32(&p.plugged, 1)
}

// unplugInput restores read interest.
func (p *Pipe) unplugInput() {
	if atomic.CompareAndSwapInt32(&p.plugged, 1, 0) {
		select {
		case p.resume <- struct{}{}:
		default:
		}
	}
}

// IsClosed reports whether Abort or Stop has run.
func (p *Pipe) IsClosed() bool { return atomic.LoadInt32(&p.closed) == 1 }

// Abort notifies the owner callback, closes the socket, and marks the pipe
// dead; idempotent, per spec.md §4.2/§5 ("abort() is idempotent. After
// abort(), no further callbacks for that pipe fire").
func (p *Pipe) Abort(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	fired := false
	p.abortOnce.Do(func() {
		atomic.StoreInt32(&p.closed, 1)
		close(p.die)
		_ = p.conn.Close()
		fired = true
	})
	// The callback runs outside the Once: it may abort the peer pipe, whose
	// callback aborts this pipe again, and that nested call must return
	// immediately instead of blocking on a Once still in progress.
	if fired {
		p.cb.Abort(err)
	}
}

// Stop closes the pipe without treating it as an error: used once the
// migrator has observed a clean end-of-run condition (spec.md §4.7's exit
// case (a)) and wants ReadLoop/WriteLoop to return quietly instead of
// routing through Callback.Abort.
func (p *Pipe) Stop() {
	p.abortOnce.Do(func() {
		atomic.StoreInt32(&p.closed, 1)
		close(p.die)
		_ = p.conn.Close()
	})
}

// dying reports whether Stop/Abort has already closed p.die, without
// blocking. Used to disambiguate a ctx.Done() wakeup that races a Stop()
// call: p.die closing and ctx's cancel() firing in the same instant leave
// select free to pick either, and a clean shutdown must not surface as
// ctx.Err().
func (p *Pipe) dying() bool {
	select {
	case <-p.die:
		return true
	default:
		return false
	}
}

func (p *Pipe) bumpLiveness() {
	if p.packets != nil {
		atomic.AddUint64(p.packets, 1)
	}
}

func (p *Pipe) deadline() time.Time {
	if p.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(p.timeout)
}

// ReadLoop assembles and dispatches frames until EOF, a protocol error, a
// fatal I/O error, or ctx cancellation, per spec.md §4.2's read algorithm.
// It is meant to run as one goroutine in an errgroup.Group supervised by
// Migrator.Run.
func (p *Pipe) ReadLoop(ctx context.Context) error {
	for {
		if atomic.LoadInt32(&p.plugged) == 1 {
			select {
			case <-p.resume:
				continue
			case <-p.die:
				return nil
			case <-ctx.Done():
				if p.dying() {
					return nil
				}
				return ctx.Err()
			}
		}

		select {
		case <-p.die:
			return nil
		case <-ctx.Done():
			if p.dying() {
				return nil
			}
			return ctx.Err()
		default:
		}

		msg, err := p.readFrame()
		if err != nil {
			if err == io.EOF {
				p.cb.Shutdown()
				return nil
			}
			if atomic.LoadInt32(&p.closed) == 1 {
				// Stop/Abort already tore the conn down; this error is
				// just that close unblocking our in-flight Read.
				return nil
			}
			wrapped := errors.Wrapf(err, "%s: read frame", p.Name)
			p.Abort(wrapped)
			return wrapped
		}

		p.bumpLiveness()
		p.cb.MessageReceived(msg)
	}
}

// readFrame reads one complete header+body frame off the socket,
// mirroring binarymessagepipe.cc's two-phase readMessage: header first,
// then the body the header's bodylen advertises.
func (p *Pipe) readFrame() (*Message, error) {
	if d := p.deadline(); !d.IsZero() {
		if err := p.conn.SetReadDeadline(d); err != nil {
			return nil, err
		}
	}

	var hdr header
	if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	if err := validateMagic(&hdr); err != nil {
		return nil, markStreamPhase(err)
	}
	if err := checkBodyLen(hdr.BodyLen()); err != nil {
		return nil, markStreamPhase(err)
	}

	msg := newMessageFromHeader(&hdr)
	if hdr.BodyLen() > 0 {
		if _, err := io.ReadFull(p.conn, msg.body()); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			return nil, err
		}
	}
	return msg, nil
}

// WriteLoop drains the outbound queue in order until ctx is cancelled or
// the pipe dies, per spec.md §4.2's write algorithm ("front of queue is
// the current in-flight message ... on full send, pop and invoke
// messageSent").
func (p *Pipe) WriteLoop(ctx context.Context) error {
	for {
		select {
		case <-p.die:
			return nil
		case <-ctx.Done():
			if p.dying() {
				return nil
			}
			return ctx.Err()
		case msg := <-p.queue:
			if err := p.writeFrame(msg); err != nil {
				if atomic.LoadInt32(&p.closed) == 1 {
					return nil
				}
				wrapped := errors.Wrapf(err, "%s: write frame", p.Name)
				p.Abort(wrapped)
				return wrapped
			}
			p.bumpLiveness()
			p.cb.MessageSent(msg)
		}
	}
}

// writeFrame writes msg's full wire representation, looping over short
// writes; sendptr/sendlen in spec.md §3's Pipe invariant is this loop's
// cursor, collapsed here because net.Conn.Write's blocking semantics mean
// there is never more than one writeFrame in flight to track a cursor
// across reactor turns for.
func (p *Pipe) writeFrame(msg *Message) error {
	if d := p.deadline(); !d.IsZero() {
		if err := p.conn.SetWriteDeadline(d); err != nil {
			return err
		}
	}
	buf := msg.Bytes()
	for len(buf) > 0 {
		n, err := p.conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
