package ambient

import (
	"io"
)

// Stream is a single playing sound.
type Stream interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// Output is the audio device.
type Output interface {
	NewPlayer(r io.Reader) Stream
	Suspended() bool
	Suspend() error
	Resume() error
}
