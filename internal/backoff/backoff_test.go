package backoff

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimits(t *testing.T) {
	cfg, err := ParseLimits("250,1000")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, int64(1000), cfg.Threshold)
}

func TestParseLimitsDashKeepsDefault(t *testing.T) {
	cfg, err := ParseLimits("-,1000")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig.Delay, cfg.Delay)
	assert.Equal(t, int64(1000), cfg.Threshold)
}

func TestParseLimitsMissingComma(t *testing.T) {
	_, err := ParseLimits("250")
	assert.Error(t, err)
}

func TestParseLimitsZeroInvalid(t *testing.T) {
	_, err := ParseLimits("0,1000")
	assert.Error(t, err)
}

func TestMonitorPollSumsCounters(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 7)
		server.Read(buf)
		server.Write([]byte("STAT ep_queue_size 40\r\nSTAT ep_flusher_todo 2\r\nEND\r\n"))
	}()

	m := NewMonitor(client, Config{Delay: time.Millisecond, Threshold: 10}, logrus.StandardLogger())
	dirty, err := m.poll()
	require.NoError(t, err)
	assert.Equal(t, int64(42), dirty)
}

func TestMonitorRunSetsSlowdown(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		for {
			buf := make([]byte, 7)
			if _, err := server.Read(buf); err != nil {
				return
			}
			if _, err := server.Write([]byte("STAT ep_queue_size 9999\r\nEND\r\n")); err != nil {
				return
			}
		}
	}()

	m := NewMonitor(client, Config{Delay: time.Millisecond, Threshold: 10}, logrus.StandardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)
	assert.True(t, m.Slowdown())
}
