// Package otoout plays ambient sound through an oto context. It is kept
// apart from package ambient because oto needs cgo and the system audio
// headers.
package otoout

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/teslashibe/go-orb/internal/ambient"
)

var _ ambient.Output = (*Output)(nil)

// Output plays through an oto context.
type Output struct {
	ctx        *oto.Context
	sampleRate int

	mu        sync.Mutex
	suspended bool
}

// New opens a 16-bit stereo context and waits for it to be ready.
func New(sampleRate int, timeout time.Duration) (*Output, error) {
	ctx, ready, err := oto.NewContext(sampleRate, 2, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(timeout):
		return nil, fmt.Errorf("audio context not ready after %s", timeout)
	}

	return &Output{ctx: ctx, sampleRate: sampleRate}, nil
}

// NewPlayer implements ambient.Output.
func (o *Output) NewPlayer(r io.Reader) ambient.Stream {
	return o.ctx.NewPlayer(r)
}

// SampleRate returns the context sample rate.
func (o *Output) SampleRate() int {
	return o.sampleRate
}

// Suspended implements ambient.Output.
func (o *Output) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

// Suspend pauses the whole device.
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ctx.Suspend(); err != nil {
		return err
	}
	o.suspended = true
	return nil
}

// Resume restarts a suspended device.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ctx.Resume(); err != nil {
		return err
	}
	o.suspended = false
	return nil
}

// Err reports a fatal device error, if any.
func (o *Output) Err() error {
	return o.ctx.Err()
}
