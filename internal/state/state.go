// Package state tracks the conversation phase that drives the orb and ambient audio.
package state

import (
	"fmt"
	"strings"
)

// Mode is the interaction mode seen by the orb.
type Mode int

const (
	Idle Mode = iota
	Listening
	Speaking
)

func (m Mode) String() string {
	switch m {
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// ParseMode maps a mode name to a Mode. Unknown names are Idle.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "listening":
		return Listening
	case "speaking":
		return Speaking
	default:
		return Idle
	}
}

// Phase is the single conversation phase. It replaces separate
// connected/listening/speaking flags.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	PhaseListening
	PhaseSpeaking
	Disconnecting
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case PhaseListening:
		return "listening"
	case PhaseSpeaking:
		return "speaking"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Mode returns the orb mode for the phase.
func (p Phase) Mode() Mode {
	switch p {
	case PhaseListening:
		return Listening
	case PhaseSpeaking:
		return Speaking
	default:
		return Idle
	}
}

// Connected reports whether a session is live in this phase.
func (p Phase) Connected() bool {
	return p == Connected || p == PhaseListening || p == PhaseSpeaking
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name. Unknown names are Idle.
func (m *Mode) UnmarshalText(b []byte) error {
	*m = ParseMode(string(b))
	return nil
}

// ParsePhase maps a phase name to a Phase.
func ParsePhase(s string) (Phase, error) {
	for p := Disconnected; p <= Disconnecting; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return Disconnected, fmt.Errorf("state: unknown phase %q", s)
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Event drives a phase transition.
type Event int

const (
	EventStart Event = iota
	EventConnected
	EventIdle
	EventListen
	EventSpeak
	EventEnd
	EventDisconnected
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventConnected:
		return "connected"
	case EventIdle:
		return "idle"
	case EventListen:
		return "listen"
	case EventSpeak:
		return "speak"
	case EventEnd:
		return "end"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// next returns the phase reached from p on e.
func next(p Phase, e Event) (Phase, bool) {
	switch e {
	case EventStart:
		if p == Disconnected {
			return Connecting, true
		}
	case EventConnected:
		if p == Connecting {
			return Connected, true
		}
	case EventIdle:
		if p.Connected() {
			return Connected, true
		}
	case EventListen:
		if p.Connected() {
			return PhaseListening, true
		}
	case EventSpeak:
		if p.Connected() {
			return PhaseSpeaking, true
		}
	case EventEnd:
		if p.Connected() || p == Connecting {
			return Disconnecting, true
		}
	case EventDisconnected, EventFailed:
		return Disconnected, true
	}
	return p, false
}
