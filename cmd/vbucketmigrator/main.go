// Command vbucketmigrator streams a filtered vbucket set from a source TAP
// server to a destination server, per spec.md.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/couchbase/vbucketmigrator/internal/backoff"
	"github.com/couchbase/vbucketmigrator/internal/bucketspec"
	"github.com/couchbase/vbucketmigrator/internal/credentials"
	"github.com/couchbase/vbucketmigrator/internal/hostport"
	"github.com/couchbase/vbucketmigrator/internal/migrator"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	cfg, verbosity, validate, backoffArg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return migrator.ExitUsage
	}

	switch {
	case verbosity >= 2:
		log.SetLevel(logrus.DebugLevel)
	case verbosity == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
	cfg.Logger = log

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if backoffArg != "" {
		blimits, err := backoff.ParseLimits(backoffArg)
		if err != nil {
			err = migrator.NewUsageError("invalid -M: %v", err)
			fmt.Fprintln(os.Stderr, err)
			return migrator.ExitCode(err)
		}
		if mon, monCancel, err := startBackoffMonitor(ctx, cfg.DestAddr, blimits, log); err == nil {
			defer monCancel()
			_ = mon
		} else {
			log.WithError(err).Warn("backoff monitor disabled")
		}
	}

	m := migrator.New(cfg)
	runErr := m.Run(ctx)

	if runErr == nil && validate && cfg.Takeover {
		if err := validateTakeover(cfg); err != nil {
			runErr = err
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("vbucketmigrator exiting")
	}
	return migrator.ExitCode(runErr)
}

// parseFlags assembles migrator.Config from spec.md §6's CLI surface.
func parseFlags(args []string) (migrator.Config, int, bool, string, error) {
	fs := pflag.NewFlagSet("vbucketmigrator", pflag.ContinueOnError)
	fs.SortFlags = false

	var (
		source, dest    string
		bucketArgs      []string
		user            string
		takeover        bool
		ack             bool
		registered      bool
		clientName      string
		flush           bool
		expiry          int
		flagsOverride   int
		timeoutSeconds  int
		validate        bool
		portAdaptor     bool
		verbosity       int
		backoffLimits   string
		expirySet       bool
		flagsOverrideOK bool
	)

	fs.StringVarP(&source, "source", "h", "", "source server host[:port] (required)")
	fs.StringVarP(&dest, "destination", "d", "", "destination server host[:port] (required)")
	fs.StringArrayVarP(&bucketArgs, "buckets", "b", nil, "bucket selector, repeatable; list or [start,stop] range (required)")
	fs.StringVarP(&user, "user", "a", "", "username (password via prompt or stdin)")
	fs.BoolVarP(&takeover, "takeover", "t", false, "takeover mode")
	fs.BoolVarP(&ack, "ack", "A", false, "request TAP acks")
	fs.BoolVarP(&registered, "registered", "r", false, "register as a named TAP client")
	fs.StringVarP(&clientName, "name", "N", "", "named TAP stream")
	fs.BoolVarP(&flush, "flush", "F", false, "send FLUSHQ to destination before streaming")
	fs.IntVarP(&expiry, "expiry", "E", -1, "override TAP_MUTATION expiry (seconds)")
	fs.IntVarP(&flagsOverride, "flags", "f", -1, "override TAP_MUTATION flags")
	fs.IntVarP(&timeoutSeconds, "timeout", "T", 0, "per-pipe and liveness timeout (seconds)")
	fs.BoolVarP(&validate, "validate", "V", false, "validate by polling GET_VBUCKET after takeover")
	fs.BoolVarP(&portAdaptor, "erlang-port", "e", false, "Erlang port mode (enable stdin watchdog)")
	fs.CountVarP(&verbosity, "verbose", "v", "increase verbosity")
	fs.StringVarP(&backoffLimits, "backoff", "M", "", "backoff side-channel parameters, delay,threshold")

	if err := fs.Parse(args); err != nil {
		return migrator.Config{}, 0, false, "", err
	}

	expirySet = expiry >= 0
	flagsOverrideOK = flagsOverride >= 0

	if source == "" || dest == "" || len(bucketArgs) == 0 {
		return migrator.Config{}, 0, false, "", migrator.NewUsageError("-h, -d, and -b are required")
	}

	srcAddr, err := hostport.Parse(source)
	if err != nil {
		return migrator.Config{}, 0, false, "", migrator.NewUsageError("invalid -h: %v", err)
	}
	dstAddr, err := hostport.Parse(dest)
	if err != nil {
		return migrator.Config{}, 0, false, "", migrator.NewUsageError("invalid -d: %v", err)
	}
	buckets, err := bucketspec.ParseAll(bucketArgs)
	if err != nil {
		return migrator.Config{}, 0, false, "", migrator.NewUsageError("invalid -b: %v", err)
	}

	var password string
	if user != "" {
		_, password, err = credentials.Prompt(user, os.Stdin, os.Stderr)
		if err != nil {
			return migrator.Config{}, 0, false, "", migrator.NewUsageError("reading password: %v", err)
		}
	}

	cfg := migrator.Config{
		SourceAddr:        srcAddr,
		DestAddr:          dstAddr,
		Buckets:           buckets,
		Username:          user,
		Password:          password,
		Takeover:          takeover,
		Ack:               ack,
		RegisteredClient:  registered,
		ClientName:        clientName,
		FlushBeforeStream: flush,
		ExpirySet:         expirySet,
		Expiry:            uint32(maxInt(expiry, 0)),
		FlagsSet:          flagsOverrideOK,
		Flags:             uint32(maxInt(flagsOverride, 0)),
		Timeout:           time.Duration(timeoutSeconds) * time.Second,
	}
	if portAdaptor {
		cfg.Stdin = os.Stdin
	}

	return cfg, verbosity, validate, backoffLimits, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// startBackoffMonitor dials the destination's stats port and runs the
// backoff monitor in the background, per spec.md §4.9/§8.
func startBackoffMonitor(ctx context.Context, addr string, cfg backoff.Config, log logrus.FieldLogger) (*backoff.Monitor, context.CancelFunc, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, func() {}, err
	}
	monCtx, cancel := context.WithCancel(ctx)
	mon := backoff.NewMonitor(conn, cfg, log)
	go func() {
		if err := mon.Run(monCtx); err != nil {
			log.WithError(err).Warn("backoff monitor stopped")
		}
		conn.Close()
	}()
	return mon, cancel, nil
}

// validateTakeover polls GET_VBUCKET on the destination for each migrated
// vbucket until it reports active or a retry budget is exhausted, per
// spec.md §8's -V supplemented feature. It opens its own short-lived
// connection since the migrator's destination pipe has already closed by
// the time Run returns.
func validateTakeover(cfg migrator.Config) error {
	const retries = 10
	const retryDelay = 200 * time.Millisecond

	conn, err := (&net.Dialer{}).Dial("tcp", cfg.DestAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	probe := migrator.NewPipe("validate", conn, noopCallback{}, cfg.Timeout, nil, cfg.Logger)
	for _, id := range cfg.Buckets {
		ok := false
		for i := 0; i < retries; i++ {
			state, err := probe.GetVBucketState(id)
			if err == nil && state == migrator.VbucketStateActive {
				ok = true
				break
			}
			time.Sleep(retryDelay)
		}
		if !ok {
			return migrator.NewSoftwareError("vbucket %d did not reach active state on destination", id)
		}
	}
	return nil
}

type noopCallback struct{}

func (noopCallback) MessageReceived(*migrator.Message) {}
func (noopCallback) MessageSent(*migrator.Message)      {}
func (noopCallback) Shutdown()                          {}
func (noopCallback) Abort(error)                        {}
