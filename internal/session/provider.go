// Package session runs a voice conversation with a hosted agent and turns its
// events into the conversation state.
package session

import "context"

// Provider is a realtime voice-agent connection.
type Provider interface {
	Connect(ctx context.Context) error
	Close() error
	SendAudio(pcm []byte) error
	IsConnected() bool

	OnAudio(fn func(pcm []byte))
	OnAudioDone(fn func())
	OnTranscript(fn func(role, text string, final bool))
	OnInterruption(fn func())
	OnError(fn func(err error))
	OnDisconnect(fn func(err error))
}

// AudioSink plays agent speech, PCM16 mono.
type AudioSink interface {
	Write(pcm []byte) (int, error)
}
