package state

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when an event does not apply to the current phase.
var ErrInvalidTransition = errors.New("state: invalid transition")

// Snapshot is a copy of the conversation state.
type Snapshot struct {
	Phase      Phase     `json:"phase"`
	Mode       Mode      `json:"mode"`
	Connected  bool      `json:"connected"`
	Volume     float64   `json:"volume"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Machine owns the conversation phase and the signals that go with it.
type Machine struct {
	mu   sync.RWMutex
	snap Snapshot

	transitions int64

	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}
}

// NewMachine returns a machine in the Disconnected phase.
func NewMachine() *Machine {
	return &Machine{
		snap: Snapshot{Phase: Disconnected, ChangedAt: time.Now()},
		subs: make(map[chan Snapshot]struct{}),
	}
}

// Fire applies an event. Errors wrap ErrInvalidTransition.
func (m *Machine) Fire(e Event) error {
	return m.fire(e, "")
}

// Fail moves to Disconnected and records msg as the user-visible error.
func (m *Machine) Fail(msg string) {
	_ = m.fire(EventFailed, msg)
}

func (m *Machine) fire(e Event, errMsg string) error {
	m.mu.Lock()
	from := m.snap.Phase
	to, ok := next(from, e)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, from)
	}

	changed := to != from
	m.snap.Phase = to
	m.snap.Mode = to.Mode()
	m.snap.Connected = to.Connected()

	switch e {
	case EventStart:
		m.snap.Error = ""
		m.snap.Transcript = ""
	case EventDisconnected:
		m.snap.Volume = 0
		m.snap.SessionID = ""
	case EventFailed:
		m.snap.Volume = 0
		m.snap.SessionID = ""
		m.snap.Error = errMsg
		changed = true
	}

	if changed {
		m.snap.ChangedAt = time.Now()
		m.transitions++
		m.notify(m.snap)
	}
	m.mu.Unlock()
	return nil
}

// SetVolume sets the volume signal, clamped to [0, 1].
func (m *Machine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	m.mu.Lock()
	m.snap.Volume = v
	m.mu.Unlock()
}

// SetTranscript records the latest transcript text.
func (m *Machine) SetTranscript(text string) {
	m.mu.Lock()
	m.snap.Transcript = text
	m.notify(m.snap)
	m.mu.Unlock()
}

// SetError records a user-visible error without changing the phase.
func (m *Machine) SetError(msg string) {
	m.mu.Lock()
	m.snap.Error = msg
	m.notify(m.snap)
	m.mu.Unlock()
}

// SetSessionID records the id of the live conversation.
func (m *Machine) SetSessionID(id string) {
	m.mu.Lock()
	m.snap.SessionID = id
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Phase
}

// Transitions returns how many phase changes have happened.
func (m *Machine) Transitions() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions
}

// notify is called with mu held so subscribers see snapshots in the order
// they were written. Sends never block.
func (m *Machine) notify(snap Snapshot) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe returns a channel that receives state changes.
func (m *Machine) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 16)

	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber.
func (m *Machine) Unsubscribe(ch chan Snapshot) {
	m.subsMu.Lock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
	m.subsMu.Unlock()
}
