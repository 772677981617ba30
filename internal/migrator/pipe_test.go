package migrator

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCallback struct {
	received chan *Message
	sent     chan *Message
	shutdown chan struct{}
	aborted  chan error
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{
		received: make(chan *Message, 64),
		sent:     make(chan *Message, 64),
		shutdown: make(chan struct{}, 1),
		aborted:  make(chan error, 1),
	}
}

func (c *recordingCallback) MessageReceived(m *Message) { c.received <- m }
func (c *recordingCallback) MessageSent(m *Message)     { c.sent <- m }
func (c *recordingCallback) Shutdown()                  { c.shutdown <- struct{}{} }
func (c *recordingCallback) Abort(err error)            { c.aborted <- err }


func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestReadLoopAssemblesHeaderFromOneByteWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	cb := newRecordingCallback()
	p := NewPipe("test", server, cb, 0, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.ReadLoop(ctx)

	msg := NewRequest(OpTapMutation, 1, nil, []byte("k"), []byte("v"), 0)
	go func() {
		buf := msg.Bytes()
		for _, b := range buf {
			client.Write([]byte{b})
		}
	}()

	select {
	case got := <-cb.received:
		assert.Equal(t, byte(OpTapMutation), got.Opcode())
		assert.Equal(t, []byte("k"), got.Key())
		assert.Equal(t, []byte("v"), got.Value())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled message")
	}
}

func TestWriteLoopDeliversQueuedMessageInOrder(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	cb := newRecordingCallback()
	p := NewPipe("test", server, cb, 0, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.WriteLoop(ctx)

	first := NewRequest(OpTapMutation, 1, nil, nil, []byte("1"), 0)
	second := NewRequest(OpTapMutation, 2, nil, nil, []byte("2"), 0)
	require.NoError(t, p.Send(first))
	require.NoError(t, p.Send(second))

	hdr := make([]byte, headerSize)
	_, err := io.ReadFull(client, hdr)
	require.NoError(t, err)
	var h header
	copy(h[:], hdr)
	body := make([]byte, h.BodyLen())
	_, err = io.ReadFull(client, body)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))

	_, err = io.ReadFull(client, hdr)
	require.NoError(t, err)
	copy(h[:], hdr)
	body = make([]byte, h.BodyLen())
	_, err = io.ReadFull(client, body)
	require.NoError(t, err)
	assert.Equal(t, "2", string(body))
}

func TestStopLetsLoopsReturnNilWithoutAbort(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	cb := newRecordingCallback()
	p := NewPipe("test", server, cb, 0, nil, discardLogger())

	ctx := context.Background()
	readDone := make(chan error, 1)
	go func() { readDone <- p.ReadLoop(ctx) }()

	p.Stop()

	select {
	case err := <-readDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop did not return after Stop")
	}

	select {
	case err := <-cb.aborted:
		t.Fatalf("Stop must not invoke Abort callback, got %v", err)
	default:
	}
}
