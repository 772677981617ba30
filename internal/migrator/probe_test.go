package migrator

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetVBucketStateAcceptsAltResponseOpcode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		req, err := readOneFrame(server)
		if err != nil || req.Opcode() != OpGetVBucket {
			return
		}
		value := make([]byte, 4)
		value[3] = VbucketStateActive
		resp := NewRequest(OpGetVBucketAlt, req.VBucket(), nil, nil, value, 0)
		buf := resp.Bytes()
		buf[0] = magicResponse
		binary.BigEndian.PutUint16(buf[6:8], StatusSuccess)
		server.Write(buf)
	}()

	p := NewPipe("probe", client, newRecordingCallback(), time.Second, nil, discardLogger())
	state, err := p.GetVBucketState(9)
	require.NoError(t, err)
	require.Equal(t, uint32(VbucketStateActive), state)
}
