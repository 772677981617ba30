package migrator

import "github.com/pkg/errors"

// Exit codes, mirroring BSD sysexits as spec.md §6 prescribes.
const (
	ExitOK       = 0
	ExitUsage    = 64
	ExitConfig   = 65
	ExitSoftware = 70
	ExitIOError  = 74
	ExitOSError  = 71
)

// protocolPhase distinguishes a protocol violation caught during a
// synchronous setup exchange (LIST_MECHS/AUTH, GET_VBUCKET) from one
// surfacing mid-stream once Pipe.ReadLoop already owns the socket, per
// spec.md §7: exit code is config (65) during setup, I/O (74) otherwise.
// The zero value is phaseSetup, matching every raiser except readFrame.
type protocolPhase int

const (
	phaseSetup protocolPhase = iota
	phaseStream
)

// ProtocolError reports a malformed header, an oversize frame, or an
// unexpected opcode. Fatal to the pipe that raised it.
type ProtocolError struct {
	cause error
	phase protocolPhase
}

func newProtocolError(format string, args ...interface{}) error {
	return &ProtocolError{cause: errors.Errorf(format, args...)}
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

// FrameTooLarge is a ProtocolError raised when a header advertises a body
// longer than MaxFrameSize.
type FrameTooLarge struct {
	BodyLen uint32
	phase   protocolPhase
}

func (e *FrameTooLarge) Error() string {
	return errors.Errorf("frame body length %d exceeds MaxFrameSize", e.BodyLen).Error()
}

// markStreamPhase flags a protocol error as having surfaced mid-stream
// rather than during a setup handshake, so ExitCode maps it to
// ExitIOError instead of ExitConfig. Pipe.readFrame is the only caller:
// every other raiser of these errors runs during a synchronous setup
// exchange (Authenticate, GetVBucketState), before or after ReadLoop owns
// the socket.
func markStreamPhase(err error) error {
	switch e := err.(type) {
	case *ProtocolError:
		e.phase = phaseStream
		return e
	case *FrameTooLarge:
		e.phase = phaseStream
		return e
	default:
		return err
	}
}

// AuthError reports that SASL negotiation returned AUTH_ERROR.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth error: " + e.Message }

// TimeoutError reports a per-pipe I/O watchdog or global liveness timeout.
type TimeoutError struct {
	cause error
}

func newTimeoutError(format string, args ...interface{}) error {
	return &TimeoutError{cause: errors.Errorf(format, args...)}
}

func (e *TimeoutError) Error() string { return "timeout: " + e.cause.Error() }
func (e *TimeoutError) Unwrap() error { return e.cause }

// UsageError reports a CLI validation failure (missing required flag,
// unparseable bucket spec, malformed backoff parameters).
type UsageError struct {
	cause error
}

// NewUsageError wraps err as a UsageError. Exported because collaborators
// outside this package (CLI flag validation, including the CLI's wrapping of
// backoff.ParseLimits errors) need to raise it without importing unexported
// constructors.
func NewUsageError(format string, args ...interface{}) error {
	return &UsageError{cause: errors.Errorf(format, args...)}
}

func (e *UsageError) Error() string { return e.cause.Error() }
func (e *UsageError) Unwrap() error { return e.cause }

// SoftwareError reports a post-run invariant violation: nonzero pendingSend
// at loop exit, fewer takeover completions than vbuckets requested, or a
// post-takeover validation probe that never observed the active state.
type SoftwareError struct {
	cause error
}

func newSoftwareError(format string, args ...interface{}) error {
	return &SoftwareError{cause: errors.Errorf(format, args...)}
}

// NewSoftwareError wraps err as a SoftwareError. Exported because
// validateTakeover's retry-budget exhaustion is a runtime invariant
// violation raised from outside this package, not a CLI validation
// failure.
func NewSoftwareError(format string, args ...interface{}) error {
	return &SoftwareError{cause: errors.Errorf(format, args...)}
}

func (e *SoftwareError) Error() string { return "software error: " + e.cause.Error() }
func (e *SoftwareError) Unwrap() error { return e.cause }

// OSError reports stdin closing in port-adaptor mode, per spec.md §4.8: "sets
// the exit code to an OS-error code and breaks the reactor loop."
type OSError struct {
	cause error
}

func newOSError(format string, args ...interface{}) error {
	return &OSError{cause: errors.Errorf(format, args...)}
}

func (e *OSError) Error() string { return e.cause.Error() }
func (e *OSError) Unwrap() error { return e.cause }

// ExitCode maps an error returned from Run to the process exit code
// spec.md §6/§7 prescribes. A nil error maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case asUsageError(err):
		return ExitUsage
	case asAuthError(err):
		return ExitConfig
	case asProtocolError(err):
		if protocolPhaseOf(err) == phaseStream {
			return ExitIOError
		}
		return ExitConfig
	case asTimeoutError(err):
		return ExitIOError
	case asSoftwareError(err):
		return ExitSoftware
	case asOSError(err):
		return ExitOSError
	default:
		return ExitIOError
	}
}

func asUsageError(err error) bool {
	var e *UsageError
	return errors.As(err, &e)
}

func asAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

func asProtocolError(err error) bool {
	var e *ProtocolError
	if errors.As(err, &e) {
		return true
	}
	var f *FrameTooLarge
	return errors.As(err, &f)
}

// protocolPhaseOf extracts the phase recorded on a ProtocolError or
// FrameTooLarge; callers only reach it after asProtocolError(err) is true,
// so one of the two errors.As calls always succeeds.
func protocolPhaseOf(err error) protocolPhase {
	var e *ProtocolError
	if errors.As(err, &e) {
		return e.phase
	}
	var f *FrameTooLarge
	if errors.As(err, &f) {
		return f.phase
	}
	return phaseSetup
}

func asTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

func asSoftwareError(err error) bool {
	var e *SoftwareError
	return errors.As(err, &e)
}

func asOSError(err error) bool {
	var e *OSError
	return errors.As(err, &e)
}
