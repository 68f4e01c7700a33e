package kestrel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineValidLifecycle(t *testing.T) {
	var transitions []string
	sm := newStateMachine(func(from, to ProxyState) {
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	steps := []ProxyState{StateStarting, StateActive, StateClosing, StateClosed}
	for _, s := range steps {
		require.NoError(t, sm.Transition(s))
	}
	assert.Equal(t, StateClosed, sm.State())
	assert.Len(t, transitions, 4)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := newStateMachine(nil)
	assert.Error(t, sm.Transition(StateClosed), "Idle -> Closed should be rejected")
	assert.Equal(t, StateIdle, sm.State())
}

func TestStateMachineSameStateIsNoOp(t *testing.T) {
	sm := newStateMachine(func(from, to ProxyState) {
		t.Errorf("same-state transition should not fire onTransition")
	})
	assert.NoError(t, sm.Transition(StateIdle))
}

func TestStateMachineCanTransition(t *testing.T) {
	sm := newStateMachine(nil)
	assert.True(t, sm.CanTransition(StateStarting), "Idle -> Starting should be allowed")
	assert.False(t, sm.CanTransition(StateClosed), "Idle -> Closed should not be allowed")
}

func TestStateMachineErrorRecovery(t *testing.T) {
	sm := newStateMachine(nil)
	sm.Transition(StateStarting)
	require.NoError(t, sm.Transition(StateError))
	require.NoError(t, sm.Transition(StateIdle), "Error -> Idle should be allowed for restart")
}
