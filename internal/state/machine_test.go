package state

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"idle", Idle},
		{"listening", Listening},
		{"Speaking", Speaking},
		{"", Idle},
		{"thinking", Idle},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestPhase_Mode(t *testing.T) {
	assert.Equal(t, Idle, Disconnected.Mode())
	assert.Equal(t, Idle, Connecting.Mode())
	assert.Equal(t, Idle, Connected.Mode())
	assert.Equal(t, Listening, PhaseListening.Mode())
	assert.Equal(t, Speaking, PhaseSpeaking.Mode())
	assert.Equal(t, Idle, Disconnecting.Mode())

	assert.False(t, Disconnected.Connected())
	assert.False(t, Connecting.Connected())
	assert.True(t, PhaseSpeaking.Connected())
}

func TestMachine_Lifecycle(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Disconnected, m.Phase())

	require.NoError(t, m.Fire(EventStart))
	assert.Equal(t, Connecting, m.Phase())

	require.NoError(t, m.Fire(EventConnected))
	require.NoError(t, m.Fire(EventListen))
	snap := m.Snapshot()
	assert.Equal(t, PhaseListening, snap.Phase)
	assert.Equal(t, Listening, snap.Mode)
	assert.True(t, snap.Connected)

	require.NoError(t, m.Fire(EventSpeak))
	assert.Equal(t, Speaking, m.Snapshot().Mode)

	require.NoError(t, m.Fire(EventEnd))
	assert.Equal(t, Disconnecting, m.Phase())

	require.NoError(t, m.Fire(EventDisconnected))
	assert.Equal(t, Disconnected, m.Phase())
	assert.Equal(t, int64(6), m.Transitions())
}

func TestMachine_InvalidTransitions(t *testing.T) {
	m := NewMachine()

	err := m.Fire(EventSpeak)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = m.Fire(EventConnected)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = m.Fire(EventEnd)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, m.Fire(EventStart))
	err = m.Fire(EventStart)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, Connecting, m.Phase())
}

func TestMachine_ListeningAndSpeakingExclusive(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventStart))
	require.NoError(t, m.Fire(EventConnected))

	for _, e := range []Event{EventSpeak, EventListen, EventSpeak, EventIdle, EventSpeak} {
		require.NoError(t, m.Fire(e))
		snap := m.Snapshot()
		assert.False(t, snap.Mode == Listening && snap.Phase == PhaseSpeaking)
		assert.Equal(t, snap.Phase.Mode(), snap.Mode)
	}
}

func TestMachine_FailRecordsError(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventStart))
	m.SetVolume(0.7)

	m.Fail("microphone permission denied")

	snap := m.Snapshot()
	assert.Equal(t, Disconnected, snap.Phase)
	assert.Equal(t, "microphone permission denied", snap.Error)
	assert.Zero(t, snap.Volume)

	// a new start clears the previous error
	require.NoError(t, m.Fire(EventStart))
	assert.Empty(t, m.Snapshot().Error)
}

func TestMachine_SetVolumeClamps(t *testing.T) {
	m := NewMachine()

	m.SetVolume(1.8)
	assert.Equal(t, 1.0, m.Snapshot().Volume)

	m.SetVolume(-0.3)
	assert.Equal(t, 0.0, m.Snapshot().Volume)

	m.SetVolume(0.4)
	assert.Equal(t, 0.4, m.Snapshot().Volume)
}

func TestMachine_Subscribe(t *testing.T) {
	m := NewMachine()
	ch := m.Subscribe()

	require.NoError(t, m.Fire(EventStart))

	snap := <-ch
	assert.Equal(t, Connecting, snap.Phase)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)

	// double unsubscribe is safe
	m.Unsubscribe(ch)
}

func TestMachine_NotifyOrderUnderConcurrentWrites(t *testing.T) {
	for i := 0; i < 500; i++ {
		m := NewMachine()
		require.NoError(t, m.Fire(EventStart))
		require.NoError(t, m.Fire(EventConnected))
		require.NoError(t, m.Fire(EventListen))

		ch := m.Subscribe()

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			m.SetTranscript("hello")
		}()
		go func() {
			defer wg.Done()
			<-start
			_ = m.Fire(EventDisconnected)
		}()
		close(start)
		wg.Wait()

		m.Unsubscribe(ch)
		var last Snapshot
		count := 0
		for snap := range ch {
			last = snap
			count++
		}

		require.Equal(t, 2, count)
		assert.Equal(t, m.Phase(), last.Phase, "iteration %d delivered a stale phase last", i)
		assert.Equal(t, Disconnected, last.Phase)
	}
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Fire(EventStart))
	require.NoError(t, m.Fire(EventConnected))
	require.NoError(t, m.Fire(EventSpeak))
	m.SetVolume(0.4)

	data, err := json.Marshal(m.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"speaking"`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, PhaseSpeaking, back.Phase)
	assert.Equal(t, Speaking, back.Mode)
	assert.InDelta(t, 0.4, back.Volume, 1e-9)
}

func TestParsePhase(t *testing.T) {
	for p := Disconnected; p <= Disconnecting; p++ {
		got, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePhase("dreaming")
	assert.Error(t, err)
}
