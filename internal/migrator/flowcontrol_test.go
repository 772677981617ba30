package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeGate struct {
	plugged   bool
	plugCalls int
	unplugCalls int
}

func (g *fakeGate) plugInput()   { g.plugged = true; g.plugCalls++ }
func (g *fakeGate) unplugInput() { g.plugged = false; g.unplugCalls++ }

func TestFlowControllerPlugsAtHighWatermark(t *testing.T) {
	gate := &fakeGate{}
	fc := NewFlowController(gate)

	for i := 0; i < flowControlHighWatermark; i++ {
		fc.IncrementPending()
	}
	assert.False(t, gate.plugged, "must not plug at exactly HI")

	fc.IncrementPending()
	assert.True(t, gate.plugged, "must plug once pending exceeds HI")
	assert.Equal(t, 1, gate.plugCalls)
}

func TestFlowControllerUnplugsAtLowWatermarkWithHysteresis(t *testing.T) {
	gate := &fakeGate{}
	fc := NewFlowController(gate)

	for i := 0; i < flowControlHighWatermark+1; i++ {
		fc.IncrementPending()
	}
	assert.True(t, gate.plugged)

	for fc.Pending() >= flowControlLowWatermark {
		fc.DecrementPending()
	}
	assert.False(t, gate.plugged)
	assert.Equal(t, 1, gate.unplugCalls)
}

func TestFlowControllerNeverUnplugsAfterClose(t *testing.T) {
	gate := &fakeGate{}
	fc := NewFlowController(gate)

	for i := 0; i < flowControlHighWatermark+1; i++ {
		fc.IncrementPending()
	}
	fc.Close()
	for fc.Pending() > 0 {
		fc.DecrementPending()
	}
	assert.True(t, gate.plugged, "close must suppress the unplug")
}

func TestFlowControllerDecrementBelowZeroPanics(t *testing.T) {
	fc := NewFlowController(&fakeGate{})
	assert.Panics(t, func() { fc.DecrementPending() })
}
