package migrator

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatePasswordTooLong(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := NewPipe("auth", client, newRecordingCallback(), time.Second, nil, discardLogger())
	err := p.Authenticate("user", strings.Repeat("x", MaxPasswordLen+1))
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestAuthenticatePlainSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// LIST_MECHS
		listReq, err := readOneFrame(server)
		if err != nil || listReq.Opcode() != OpSaslListMechs {
			return
		}
		resp := NewRequest(OpSaslListMechs, 0, nil, nil, []byte("PLAIN"), 0)
		respBuf := resp.Bytes()
		respBuf[0] = magicResponse
		server.Write(respBuf)

		// AUTH
		authReq, err := readOneFrame(server)
		if err != nil || authReq.Opcode() != OpSaslAuth {
			return
		}
		if string(authReq.Value()) != "\x00user\x00pass" {
			return
		}
		ok := NewRequest(OpSaslAuth, 0, nil, nil, nil, 0)
		okBuf := ok.Bytes()
		okBuf[0] = magicResponse
		server.Write(okBuf)
	}()

	p := NewPipe("auth", client, newRecordingCallback(), time.Second, nil, discardLogger())
	require.NoError(t, p.Authenticate("user", "pass"))
}

func TestAuthenticatePasswordBoundary(t *testing.T) {
	pass127 := strings.Repeat("p", MaxPasswordLen)
	pass128 := strings.Repeat("p", MaxPasswordLen+1)
	assert.Len(t, pass127, 127)
	assert.Len(t, pass128, 128)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := readOneFrame(server); err != nil {
			return
		}
		mechs := NewRequest(OpSaslListMechs, 0, nil, nil, []byte("PLAIN"), 0).Bytes()
		mechs[0] = magicResponse
		server.Write(mechs)
		if _, err := readOneFrame(server); err != nil {
			return
		}
		ok := NewRequest(OpSaslAuth, 0, nil, nil, nil, 0).Bytes()
		ok[0] = magicResponse
		server.Write(ok)
	}()

	p := NewPipe("auth", client, newRecordingCallback(), time.Second, nil, discardLogger())
	assert.NoError(t, p.Authenticate("user", pass127))

	// The length check fires before any I/O, so no server reply is needed.
	err := p.Authenticate("user", pass128)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}
