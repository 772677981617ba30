// Package backoff is the optional side channel of spec.md §4.9: it polls a
// destination's stats over a side TCP connection once per second and flips
// a process-wide slowdown flag other workers consult before proceeding.
// Ported from original_source/src/backoff.cc.
package backoff

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the two -M parameters, per spec.md §6/§8.
type Config struct {
	Delay     time.Duration
	Threshold int64
}

// DefaultConfig mirrors backoff.cc's compiled-in defaults (500ms, 100000).
var DefaultConfig = Config{Delay: 500 * time.Millisecond, Threshold: 100000}

// ParseLimits parses "-M delay,threshold"; either half may be "-" to keep
// DefaultConfig's value for that half. Unlike backoff.cc's setBackoffLimits,
// which calls exit() on malformed input, this returns a plain error —
// spec.md §9 resolves that open question by asking the core to surface a
// usage error instead; cmd/vbucketmigrator wraps it as migrator.UsageError.
func ParseLimits(arg string) (Config, error) {
	cfg := DefaultConfig
	pos := strings.IndexByte(arg, ',')
	if pos < 0 {
		return Config{}, errors.New("-M requires both delay and threshold, separated by a comma")
	}
	delayPart := arg[:pos]
	thrPart := arg[pos+1:]

	if delayPart != "-" {
		ms, err := strconv.ParseInt(delayPart, 10, 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid -M delay %q", delayPart)
		}
		cfg.Delay = time.Duration(ms) * time.Millisecond
	}
	if thrPart != "-" {
		thr, err := strconv.ParseInt(thrPart, 10, 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid -M threshold %q", thrPart)
		}
		cfg.Threshold = thr
	}
	if cfg.Delay <= 0 || cfg.Threshold == 0 {
		return Config{}, errors.Errorf("invalid values specified for -M: %q", arg)
	}
	return cfg, nil
}

// maxDelay caps Wait's doubling delay at 10 seconds.
const maxDelay = 10 * time.Second

// Monitor is the long-lived stats poller. Its zero value is not usable;
// construct with NewMonitor.
type Monitor struct {
	conn   net.Conn
	cfg    Config
	log    logrus.FieldLogger

	mu       sync.Mutex
	slowdown bool
}

// NewMonitor wraps a side connection to the destination's stats port.
func NewMonitor(conn net.Conn, cfg Config, log logrus.FieldLogger) *Monitor {
	return &Monitor{conn: conn, cfg: cfg, log: log}
}

// Run polls "stats\r\n" once per second until ctx is cancelled, mirroring
// backoffThread's loop. size starts at the threshold and is cut to a third
// of it once slowdown trips, letting the queue drain before re-arming at
// the full threshold — the same hysteresis backoff.cc uses.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	size := m.cfg.Threshold
	for {
		dirty, err := m.poll()
		if err != nil {
			return errors.Wrap(err, "backoff monitor")
		}

		newval := dirty > size
		m.mu.Lock()
		m.slowdown = newval
		m.mu.Unlock()

		if newval {
			m.log.WithField("dirty", dirty).Debug("backoff: slowing down")
			size = m.cfg.Threshold / 3
		} else {
			size = m.cfg.Threshold
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll issues one stats round trip and sums ep_queue_size + ep_flusher_todo.
func (m *Monitor) poll() (int64, error) {
	if _, err := m.conn.Write([]byte("stats\r\n")); err != nil {
		return 0, errors.Wrap(err, "write stats")
	}

	var dirty int64
	scanner := bufio.NewScanner(m.conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.Contains(line, "END") {
			break
		}
		if v, ok := statValue(line, "ep_queue_size"); ok {
			dirty += v
		} else if v, ok := statValue(line, "ep_flusher_todo"); ok {
			dirty += v
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "read stats")
	}
	return dirty, nil
}

func statValue(line, key string) (int64, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(line[idx+len(key):])
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Slowdown reports the most recently observed slowdown state.
func (m *Monitor) Slowdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slowdown
}

// Wait blocks while m reports slowdown, sleeping an exponentially growing
// delay (doubling each round, capped at maxDelay) between checks. Returns
// early if ctx is cancelled.
func Wait(ctx context.Context, m *Monitor) {
	delay := m.cfg.Delay
	for m.Slowdown() {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay <<= 1
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
