package session

import (
	"context"
	"sync"
)

// Mock is a Provider driven by Simulate* calls, for tests and offline runs.
type Mock struct {
	mu        sync.Mutex
	connected bool
	sent      [][]byte

	// ConnectErr is returned by the next Connect calls when set.
	ConnectErr error
	// CloseErr is returned by Close when set.
	CloseErr error

	onAudio        func([]byte)
	onAudioDone    func()
	onTranscript   func(role, text string, final bool)
	onInterruption func()
	onError        func(error)
	onDisconnect   func(error)
}

// NewMock creates a disconnected mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Connect implements Provider.
func (m *Mock) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	return nil
}

// Close implements Provider.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return m.CloseErr
}

// SendAudio implements Provider.
func (m *Mock) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.sent = append(m.sent, append([]byte(nil), pcm...))
	return nil
}

// IsConnected implements Provider.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Sent returns the audio chunks passed to SendAudio.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

// OnAudio sets the agent audio callback.
func (m *Mock) OnAudio(fn func(pcm []byte)) {
	m.mu.Lock()
	m.onAudio = fn
	m.mu.Unlock()
}

// OnAudioDone sets the end-of-response callback.
func (m *Mock) OnAudioDone(fn func()) {
	m.mu.Lock()
	m.onAudioDone = fn
	m.mu.Unlock()
}

// OnTranscript sets the transcript callback.
func (m *Mock) OnTranscript(fn func(role, text string, final bool)) {
	m.mu.Lock()
	m.onTranscript = fn
	m.mu.Unlock()
}

// OnInterruption sets the interruption callback.
func (m *Mock) OnInterruption(fn func()) {
	m.mu.Lock()
	m.onInterruption = fn
	m.mu.Unlock()
}

// OnError sets the error callback.
func (m *Mock) OnError(fn func(err error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// OnDisconnect sets the callback for simulated remote drops.
func (m *Mock) OnDisconnect(fn func(err error)) {
	m.mu.Lock()
	m.onDisconnect = fn
	m.mu.Unlock()
}

// SimulateAudio delivers an agent audio chunk.
func (m *Mock) SimulateAudio(pcm []byte) {
	m.mu.Lock()
	fn := m.onAudio
	m.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

// SimulateAudioDone marks the end of an agent response.
func (m *Mock) SimulateAudioDone() {
	m.mu.Lock()
	fn := m.onAudioDone
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SimulateTranscript delivers a transcript line.
func (m *Mock) SimulateTranscript(role, text string) {
	m.mu.Lock()
	fn := m.onTranscript
	m.mu.Unlock()
	if fn != nil {
		fn(role, text, true)
	}
}

// SimulateInterruption signals that the user talked over the agent.
func (m *Mock) SimulateInterruption() {
	m.mu.Lock()
	fn := m.onInterruption
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SimulateError delivers a service error.
func (m *Mock) SimulateError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// SimulateDisconnect drops the connection from the remote side.
func (m *Mock) SimulateDisconnect(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
