package migrator

import (
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MaxPasswordLen bounds the SASL PLAIN password per spec.md §4.3/§8
// (127 octets succeed, 128 fail).
const MaxPasswordLen = 127

// Authenticate runs the synchronous LIST_MECHS → AUTH handshake described in
// spec.md §4.3, directly against the pipe's net.Conn. Only the PLAIN
// mechanism is implemented, so no STEP request is ever sent: an
// AUTH_CONTINUE reply is reported as an AuthError. It must
// only be called before ReadLoop/WriteLoop are started — the pipe is not
// yet under goroutine supervision, so ordinary sequential read/write calls
// are safe without additional synchronization.
func (p *Pipe) Authenticate(user, pass string) error {
	if len(pass) > MaxPasswordLen {
		return &AuthError{Message: "password exceeds 127 octets"}
	}

	mechs, err := p.listMechs()
	if err != nil {
		return err
	}
	if !hasMech(mechs, "PLAIN") {
		return &AuthError{Message: "server does not support PLAIN: " + mechs}
	}

	initial := []byte("\x00" + user + "\x00" + pass)
	req := NewRequest(OpSaslAuth, 0, nil, []byte("PLAIN"), initial, 0)
	resp, err := p.syncRoundTrip(req)
	if err != nil {
		return err
	}
	status, body := resp.Status(), bytes.TrimSpace(resp.Value())
	if status == StatusAuthContinue {
		// PLAIN has no further challenge/response rounds; a server that
		// continues after the initial response is misbehaving.
		return &AuthError{Message: "unexpected AUTH_CONTINUE for PLAIN: " + string(body)}
	}
	switch status {
	case StatusSuccess:
		return nil
	case StatusAuthError:
		return &AuthError{Message: string(body)}
	default:
		return newProtocolError("unexpected SASL status 0x%02x", status)
	}
}

// hasMech reports whether mechs, a space/comma-separated LIST_MECHS
// response per spec.md §4.3's grammar, names mech exactly — not merely as a
// substring, so a mechanism like "PLAINTEXT" doesn't satisfy a check for
// "PLAIN".
func hasMech(mechs, mech string) bool {
	for _, tok := range strings.FieldsFunc(mechs, func(r rune) bool { return r == ' ' || r == ',' }) {
		if tok == mech {
			return true
		}
	}
	return false
}

func (p *Pipe) listMechs() (string, error) {
	req := NewRequest(OpSaslListMechs, 0, nil, nil, nil, 0)
	resp, err := p.syncRoundTrip(req)
	if err != nil {
		return "", err
	}
	if resp.Status() != StatusSuccess {
		return "", newProtocolError("LIST_MECHS failed with status 0x%02x", resp.Status())
	}
	return string(bytes.TrimSpace(resp.Value())), nil
}

// syncRoundTrip writes req and reads one response frame, both directly on
// the underlying conn with the pipe's configured timeout. Used by the auth
// handshake, the state probe, and the FLUSHQ request, the synchronous RPCs
// multiplexed onto an otherwise asynchronous socket.
func (p *Pipe) syncRoundTrip(req *Message) (*Message, error) {
	if d := p.deadline(); !d.IsZero() {
		if err := p.conn.SetWriteDeadline(d); err != nil {
			return nil, err
		}
	}
	if _, err := p.conn.Write(req.Bytes()); err != nil {
		return nil, errors.Wrap(err, "write request")
	}

	if d := p.deadline(); !d.IsZero() {
		if err := p.conn.SetReadDeadline(d); err != nil {
			return nil, err
		}
	}
	var hdr header
	if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read response header")
	}
	if err := validateMagic(&hdr); err != nil {
		return nil, err
	}
	if err := checkBodyLen(hdr.BodyLen()); err != nil {
		return nil, err
	}
	resp := newMessageFromHeader(&hdr)
	if hdr.BodyLen() > 0 {
		if _, err := io.ReadFull(p.conn, resp.body()); err != nil {
			return nil, errors.Wrap(err, "read response body")
		}
	}
	return resp, nil
}
