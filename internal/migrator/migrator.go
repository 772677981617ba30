package migrator

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config is the explicit context object spec.md §9 asks for in place of
// process-wide globals ("fold verbosity/packets/moved/slowdown into an
// explicit context object"); Migrator carries the reactor-local pieces
// (packets, moved) itself, and Config carries everything a caller supplies.
type Config struct {
	SourceAddr string
	DestAddr   string

	Buckets []uint16

	Username string
	Password string

	Takeover         bool
	Ack              bool
	RegisteredClient bool
	ClientName       string

	FlushBeforeStream bool

	ExpirySet bool
	Expiry    uint32
	FlagsSet  bool
	Flags     uint32

	// Timeout bounds both per-pipe I/O and the liveness timer, per
	// spec.md §4.7. Zero disables both.
	Timeout time.Duration

	// Stdin, if non-nil, enables the port-adaptor watchdog of spec.md
	// §4.8 (CLI -e).
	Stdin io.Reader

	Dial func(network, addr string) (net.Conn, error)

	Logger logrus.FieldLogger
}

// Migrator owns the pair of pipes, the flow controller, and the takeover
// tally for one run, per spec.md §2/§3. It is single-use: call Run once.
type Migrator struct {
	cfg Config
	log logrus.FieldLogger

	packets uint64

	sourcePipe *Pipe
	destPipe   *Pipe

	controller  *FlowController
	upstreamCB  *UpstreamCallback
	downstreamCB *DownstreamCallback
}

// New builds a Migrator from cfg. Dialing and the network round trips all
// happen in Run, not here.
func New(cfg Config) *Migrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Dial == nil {
		cfg.Dial = net.Dial
	}
	return &Migrator{cfg: cfg, log: cfg.Logger}
}

// Run drives one migration end to end: dial, authenticate, optionally
// flush the destination, send TAP_CONNECT, then supervise the pipes until
// one of spec.md §4.7's four exit conditions is reached. A nil return means
// exit code 0; any other return is mapped by ExitCode.
func (m *Migrator) Run(ctx context.Context) error {
	sourceConn, err := m.cfg.Dial("tcp", m.cfg.SourceAddr)
	if err != nil {
		return errors.Wrap(err, "dial source")
	}
	destConn, err := m.cfg.Dial("tcp", m.cfg.DestAddr)
	if err != nil {
		_ = sourceConn.Close()
		return errors.Wrap(err, "dial destination")
	}

	filter := NewVbucketFilter(m.cfg.Buckets)
	mutations := Mutations{
		ExpirySet: m.cfg.ExpirySet,
		Expiry:    m.cfg.Expiry,
		FlagsSet:  m.cfg.FlagsSet,
		Flags:     m.cfg.Flags,
	}

	m.upstreamCB = NewUpstreamCallback(m.log.WithField("side", "upstream"), filter, mutations)
	m.downstreamCB = NewDownstreamCallback(m.log.WithField("side", "downstream"))

	m.sourcePipe = NewPipe("source", sourceConn, m.upstreamCB, m.cfg.Timeout, &m.packets, m.log)
	m.destPipe = NewPipe("destination", destConn, m.downstreamCB, m.cfg.Timeout, &m.packets, m.log)
	m.controller = NewFlowController(m.sourcePipe)

	var upstreamDoneOnce sync.Once
	upstreamDone := make(chan struct{})
	m.upstreamCB.Wire(m.destPipe, m.controller, func() {
		upstreamDoneOnce.Do(func() { close(upstreamDone) })
	})
	m.downstreamCB.Wire(m.sourcePipe, m.controller)

	if m.cfg.Username != "" {
		if err := m.sourcePipe.Authenticate(m.cfg.Username, m.cfg.Password); err != nil {
			_ = sourceConn.Close()
			_ = destConn.Close()
			return err
		}
		if err := m.destPipe.Authenticate(m.cfg.Username, m.cfg.Password); err != nil {
			_ = sourceConn.Close()
			_ = destConn.Close()
			return err
		}
	}

	if m.cfg.FlushBeforeStream {
		if err := m.flushDestination(); err != nil {
			_ = sourceConn.Close()
			_ = destConn.Close()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return m.sourcePipe.ReadLoop(gctx) })
	g.Go(func() error { return m.sourcePipe.WriteLoop(gctx) })
	g.Go(func() error { return m.destPipe.ReadLoop(gctx) })
	g.Go(func() error { return m.destPipe.WriteLoop(gctx) })
	g.Go(func() error { return livenessLoop(gctx, m.cfg.Timeout, &m.packets, m.log) })

	// stdinWatch is deliberately NOT joined into the errgroup: its Read on
	// os.Stdin is a plain blocking syscall that ctx cancellation cannot
	// interrupt, so a g.Go'd copy would make g.Wait() hang on it forever
	// whenever some other exit condition ends the run first (Erlang holds
	// stdin open for the child's whole lifetime in normal operation). It
	// runs detached, the way original_source/src/port_adaptor.c's reader
	// thread is never joined either, and feeds its result back through
	// stdinErr plus the shared cancel instead.
	stdinErr := make(chan error, 1)
	if m.cfg.Stdin != nil {
		go func() {
			if err := stdinWatch(gctx, m.cfg.Stdin); err != nil {
				stdinErr <- err
				cancel()
			}
		}()
	}

	g.Go(func() error {
		return m.waitForCleanDrain(gctx, upstreamDone, cancel)
	})

	tapFlags := m.tapConnectFlags()
	connect := buildTapConnect(tapFlags, m.cfg.ClientName, m.cfg.Buckets)
	if err := m.sourcePipe.Send(connect); err != nil {
		cancel()
		_ = g.Wait()
		return errors.Wrap(err, "send TAP_CONNECT")
	}

	runErr := g.Wait()
	select {
	case err := <-stdinErr:
		runErr = err
	default:
	}

	if runErr == nil && m.cfg.Takeover {
		if moved := m.downstreamCB.Moved(); moved < len(filter.Ids()) {
			return newSoftwareError("takeover completed %d of %d requested vbuckets", moved, len(filter.Ids()))
		}
	}
	if runErr == nil && m.controller.Pending() != 0 {
		return newSoftwareError("pendingSend == %d at loop exit, want 0", m.controller.Pending())
	}
	return runErr
}

// tapConnectFlags assembles TAP_CONNECT's flags word from the CLI-level
// options, per spec.md §6.
func (m *Migrator) tapConnectFlags() uint32 {
	flags := TapFlagListVbuckets
	if m.cfg.Takeover {
		flags |= TapFlagTakeoverVbuckets
	}
	if m.cfg.Ack {
		flags |= TapFlagSupportAck
	}
	if m.cfg.RegisteredClient {
		flags |= TapFlagRegisteredClient
	}
	return flags
}

// flushDestination sends FLUSHQ and waits for its response, per spec.md §8's
// supplemented FLUSHQ-before-streaming feature (CLI -F). Runs before the
// pipes' loops start, on the same blocking-mode synchronous path as
// Authenticate.
func (m *Migrator) flushDestination() error {
	req := NewRequest(OpFlushQ, 0, nil, nil, nil, 0)
	resp, err := m.destPipe.syncRoundTrip(req)
	if err != nil {
		return errors.Wrap(err, "FLUSHQ destination")
	}
	if resp.Status() != StatusSuccess {
		return newProtocolError("FLUSHQ failed with status 0x%02x", resp.Status())
	}
	return nil
}

// waitForCleanDrain implements spec.md §4.7's exit condition (a): once the
// upstream side has shut down (clean EOF) and the destination's pending
// count has drained to zero, stop both pipes so their loops return nil
// instead of blocking forever on an empty queue, then cancel so the
// liveness timer and stdin watchdog stop too.
func (m *Migrator) waitForCleanDrain(ctx context.Context, upstreamDone <-chan struct{}, cancel context.CancelFunc) error {
	select {
	case <-ctx.Done():
		return nil
	case <-upstreamDone:
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.controller.Pending() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	// Upstream pipe is closed last so any trailing downstream responses
	// it already queued finish forwarding, per spec.md §3's Lifecycle.
	m.destPipe.Stop()
	m.sourcePipe.Stop()
	cancel()
	return nil
}
