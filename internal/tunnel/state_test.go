package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		want  State
	}{
		{StateStopped, EventStart, StateStarting},
		{StateStarting, EventAliveInterval, StateConnected},
		{StateStarting, EventProcessExit, StateFailed},
		{StateConnected, EventProbeMissed, StateDegraded},
		{StateConnected, EventProcessExit, StateFailed},
		{StateDegraded, EventProbeOK, StateConnected},
		{StateDegraded, EventProcessExit, StateFailed},
		{StateFailed, EventStart, StateStarting},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_"+tt.event.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Next(tt.event))
		})
	}
}

func TestDisableFromAnyState(t *testing.T) {
	for _, s := range []State{StateStopped, StateStarting, StateConnected, StateDegraded, StateFailed} {
		assert.Equal(t, StateStopped, s.Next(EventDisable), "from %s", s)
	}
}

func TestIrrelevantEventsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		state State
		event Event
	}{
		{StateStopped, EventProcessExit},
		{StateStopped, EventProbeOK},
		{StateStarting, EventProbeMissed},
		{StateConnected, EventStart},
		{StateConnected, EventAliveInterval},
		{StateFailed, EventProbeOK},
		{StateFailed, EventProcessExit},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.state, tt.state.Next(tt.event), "%s + %s", tt.state, tt.event)
	}
}

func TestUp(t *testing.T) {
	assert.True(t, StateConnected.Up())
	assert.True(t, StateDegraded.Up())
	assert.False(t, StateStopped.Up())
	assert.False(t, StateStarting.Up())
	assert.False(t, StateFailed.Up())
}
