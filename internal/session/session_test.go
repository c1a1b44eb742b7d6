package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-orb/internal/state"
)

func tone(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// recordingSink collects written audio. When gate is set each Write signals
// entered if there is room and then waits for gate.
type recordingSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int

	entered chan struct{}
	gate    chan struct{}
}

func (r *recordingSink) Write(p []byte) (int, error) {
	if r.gate != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *recordingSink) Flush() {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
}

func (r *recordingSink) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession(t *testing.T) (*Session, *Mock, *state.Machine, *clock) {
	t.Helper()

	mock := NewMock()
	machine := state.NewMachine()
	s := New(mock, machine, DefaultControllerConfig(), nil)
	t.Cleanup(s.Close)

	c := &clock{t: time.Unix(1000, 0)}
	s.now = c.now
	return s, mock, machine, c
}

func TestStartConnects(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background()))

	snap := machine.Snapshot()
	assert.Equal(t, state.PhaseListening, snap.Phase)
	assert.Equal(t, state.Listening, snap.Mode)
	assert.True(t, snap.Connected)
	assert.NotEmpty(t, snap.SessionID)
	assert.True(t, mock.IsConnected())
	assert.Equal(t, int64(1), s.Stats().Starts)
}

func TestStartWhileActive(t *testing.T) {
	s, _, machine, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background()))
	id := machine.Snapshot().SessionID

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, id, machine.Snapshot().SessionID)
	assert.Equal(t, state.PhaseListening, machine.Phase())
}

func TestStartFailureRecordsError(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	mock.ConnectErr = errors.New("microphone permission denied")

	err := s.Start(context.Background())
	require.Error(t, err)

	var sessErr *SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, "start", sessErr.Op)
	assert.ErrorIs(t, err, mock.ConnectErr)

	snap := machine.Snapshot()
	assert.Equal(t, state.Disconnected, snap.Phase)
	assert.Equal(t, state.Idle, snap.Mode)
	assert.False(t, snap.Connected)
	assert.Equal(t, "microphone permission denied", snap.Error)
	assert.Equal(t, int64(1), s.Stats().Errors)

	// a later successful start clears the error
	mock.ConnectErr = nil
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, machine.Snapshot().Error)
}

func TestEnd(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.End(context.Background()))

	snap := machine.Snapshot()
	assert.Equal(t, state.Disconnected, snap.Phase)
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.SessionID)
	assert.Zero(t, snap.Volume)
	assert.False(t, mock.IsConnected())
}

func TestEndInactiveIsNoop(t *testing.T) {
	s, _, machine, _ := newTestSession(t)

	require.NoError(t, s.End(context.Background()))
	assert.Equal(t, state.Disconnected, machine.Phase())
	assert.Zero(t, machine.Transitions())
}

func TestEndCloseError(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	mock.CloseErr = errors.New("socket stuck")
	err := s.End(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mock.CloseErr)

	snap := machine.Snapshot()
	assert.Equal(t, state.Disconnected, snap.Phase)
	assert.Equal(t, "socket stuck", snap.Error)
}

func TestToggle(t *testing.T) {
	s, _, machine, _ := newTestSession(t)

	require.NoError(t, s.Toggle(context.Background()))
	assert.True(t, machine.Phase().Connected())

	require.NoError(t, s.Toggle(context.Background()))
	assert.Equal(t, state.Disconnected, machine.Phase())
}

func TestAgentAudioDrivesSpeaking(t *testing.T) {
	s, mock, machine, c := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	sink := &recordingSink{}
	s.SetAudioSink(sink)

	// 1600 samples at 16 kHz is 100 ms of audio
	chunk := tone(1600, 16000)
	mock.SimulateAudio(chunk)

	assert.Equal(t, state.PhaseSpeaking, machine.Phase())
	assert.Equal(t, state.Speaking, machine.Snapshot().Mode)
	assert.Eventually(t, func() bool {
		return bytes.Equal(chunk, sink.Bytes())
	}, time.Second, 5*time.Millisecond)

	s.tick()
	assert.Greater(t, machine.Snapshot().Volume, 0.5)
	assert.Equal(t, state.PhaseSpeaking, machine.Phase())

	c.advance(150 * time.Millisecond)
	s.tick()
	assert.Equal(t, state.PhaseListening, machine.Phase())

	for i := 0; i < 100; i++ {
		s.tick()
	}
	assert.Zero(t, machine.Snapshot().Volume)
}

func TestAudioLatchAccumulates(t *testing.T) {
	s, mock, machine, c := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	chunk := tone(1600, 8000)
	mock.SimulateAudio(chunk)
	mock.SimulateAudio(chunk)
	mock.SimulateAudio(chunk)

	c.advance(250 * time.Millisecond)
	s.tick()
	assert.Equal(t, state.PhaseSpeaking, machine.Phase())

	c.advance(100 * time.Millisecond)
	s.tick()
	assert.Equal(t, state.PhaseListening, machine.Phase())
}

func TestInterruptionReturnsToListening(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	mock.SimulateAudio(tone(16000, 16000))
	s.tick()
	require.Equal(t, state.PhaseSpeaking, machine.Phase())

	mock.SimulateInterruption()
	assert.Equal(t, state.PhaseListening, machine.Phase())

	s.tick()
	assert.Zero(t, machine.Snapshot().Volume)
}

func TestAudioIgnoredWhenDisconnected(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)

	sink := &recordingSink{}
	s.SetAudioSink(sink)

	mock.SimulateAudio(tone(160, 16000))
	assert.Equal(t, state.Disconnected, machine.Phase())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.Bytes())
}

func TestBlockedSinkDoesNotStallProvider(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	sink := &recordingSink{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s.SetAudioSink(sink)

	chunk := tone(160, 16000)
	done := make(chan struct{})
	go func() {
		// more chunks than the queue holds, with the writer stuck on the first
		for i := 0; i < DefaultControllerConfig().PlaybackQueue+10; i++ {
			mock.SimulateAudio(chunk)
		}
		mock.SimulateTranscript("agent", "still here")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("provider callbacks blocked behind playback")
	}

	assert.Equal(t, state.PhaseSpeaking, machine.Phase())
	assert.Equal(t, "still here", machine.Snapshot().Transcript)
	assert.Positive(t, s.Stats().Dropped)

	close(sink.gate)
}

func TestInterruptionDiscardsQueuedAudio(t *testing.T) {
	s, mock, _, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	sink := &recordingSink{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	s.SetAudioSink(sink)

	first := tone(160, 1000)
	mock.SimulateAudio(first)
	<-sink.entered

	// queued behind the blocked write
	mock.SimulateAudio(tone(160, 2000))
	mock.SimulateAudio(tone(160, 3000))

	mock.SimulateInterruption()
	close(sink.gate)

	after := tone(160, 4000)
	mock.SimulateAudio(after)

	want := append(append([]byte(nil), first...), after...)
	assert.Eventually(t, func() bool {
		return bytes.Equal(want, sink.Bytes())
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, 1, sink.flushes)
	sink.mu.Unlock()
}

func TestCloseWithoutSink(t *testing.T) {
	s := New(NewMock(), state.NewMachine(), ControllerConfig{TickInterval: time.Millisecond}, nil)
	s.Close()
	s.Close()
}

func TestTranscriptAndErrors(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	mock.SimulateTranscript("agent", "How can I help?")
	assert.Equal(t, "How can I help?", machine.Snapshot().Transcript)

	mock.SimulateError(&APIError{Code: "quota", Message: "out of credits"})
	snap := machine.Snapshot()
	assert.Contains(t, snap.Error, "out of credits")
	assert.True(t, snap.Connected)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestRemoteDisconnectResetsState(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	mock.SimulateAudio(tone(1600, 16000))
	s.tick()

	mock.SimulateDisconnect(errors.New("network lost"))

	snap := machine.Snapshot()
	assert.Equal(t, state.Disconnected, snap.Phase)
	assert.Equal(t, state.Idle, snap.Mode)
	assert.Zero(t, snap.Volume)
	assert.Equal(t, "network lost", snap.Error)

	// the conversation can be started again
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, state.PhaseListening, machine.Phase())
}

func TestSendAudio(t *testing.T) {
	s, mock, _, _ := newTestSession(t)

	s.SendAudio([]byte{1, 2})
	assert.Empty(t, mock.Sent())

	require.NoError(t, s.Start(context.Background()))
	s.SendAudio([]byte{3, 4})
	s.SendAudio([]byte{5, 6})

	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{3, 4}, sent[0])
	assert.Equal(t, int64(2), s.Stats().MicChunks)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAudioDoneReturnsToListening(t *testing.T) {
	s, mock, machine, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	mock.SimulateAudio(tone(16000, 16000))
	s.tick()
	loud := machine.Snapshot().Volume
	require.Equal(t, state.PhaseSpeaking, machine.Phase())

	mock.SimulateAudioDone()
	assert.Equal(t, state.PhaseListening, machine.Phase())

	s.tick()
	quieter := machine.Snapshot().Volume
	assert.Less(t, quieter, loud)
	assert.Greater(t, quieter, 0.0)
}
