package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	msg := NewRequest(OpTapMutation, 42, []byte("extra"), []byte("key"), []byte("value"), 7)

	var hdr header
	copy(hdr[:], msg.Bytes()[:headerSize])
	require.NoError(t, validateMagic(&hdr))

	decoded := newMessageFromHeader(&hdr)
	copy(decoded.body(), msg.Bytes()[headerSize:])

	assert.Equal(t, byte(OpTapMutation), decoded.Opcode())
	assert.Equal(t, uint16(42), decoded.VBucket())
	assert.Equal(t, uint32(7), decoded.Opaque())
	assert.Equal(t, []byte("extra"), decoded.Extras())
	assert.Equal(t, []byte("key"), decoded.Key())
	assert.Equal(t, []byte("value"), decoded.Value())
}

func TestSetExpiryAndFlags(t *testing.T) {
	extras := make([]byte, tapMutationExtrasLen)
	msg := NewRequest(OpTapMutation, 1, extras, []byte("k"), []byte("v"), 0)

	assert.True(t, msg.SetExpiry(123))
	assert.True(t, msg.SetFlags(456))

	assert.Equal(t, uint32(123), beUint32(msg.Extras()[tapMutationItemExpOffset:]))
	assert.Equal(t, uint32(456), beUint32(msg.Extras()[tapMutationItemFlagsOffset:]))
}

func TestSetExpiryWrongOpcodeNoop(t *testing.T) {
	msg := NewRequest(OpNoop, 0, nil, nil, nil, 0)
	assert.False(t, msg.SetExpiry(1))
}

func TestVbucketSetState(t *testing.T) {
	value := make([]byte, 4)
	value[3] = VbucketStateActive
	msg := NewRequest(OpTapVBucketSet, 3, nil, nil, value, 0)

	state, ok := msg.VbucketSetState()
	require.True(t, ok)
	assert.Equal(t, uint32(VbucketStateActive), state)
}

func TestVbucketSetStateWrongOpcode(t *testing.T) {
	msg := NewRequest(OpTapMutation, 3, nil, nil, nil, 0)
	_, ok := msg.VbucketSetState()
	assert.False(t, ok)
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
