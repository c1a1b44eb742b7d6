package orb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/teslashibe/go-orb/internal/state"
)

// StateSource supplies the mode and volume the orb reacts to.
type StateSource interface {
	Snapshot() state.Snapshot
}

// AnimatorConfig configures the frame loop.
type AnimatorConfig struct {
	FrameInterval time.Duration
	MaxStep       time.Duration // dt clamp, avoids jumps after stalls
}

// DefaultAnimatorConfig returns a 60 Hz loop with a 100ms step clamp.
func DefaultAnimatorConfig() AnimatorConfig {
	return AnimatorConfig{
		FrameInterval: time.Second / 60,
		MaxStep:       100 * time.Millisecond,
	}
}

// Frame is the per-frame summary published to subscribers.
type Frame struct {
	Mode      state.Mode `json:"mode"`
	Volume    float64    `json:"volume"`
	Intensity float64    `json:"intensity"`
	Target    float64    `json:"target"`
	Yaw       float64    `json:"yaw"`
	Pitch     float64    `json:"pitch"`
	StarYaw   float64    `json:"star_yaw"`
	Clock     float64    `json:"clock"`
	Revision  uint64     `json:"revision"`
}

// Animator drives a Deformer from a StateSource and shares the result.
type Animator struct {
	deformer *Deformer
	stars    *Starfield
	source   StateSource
	cfg      AnimatorConfig
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  Frame
	frames  int64
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	subsMu sync.RWMutex
	subs   map[chan Frame]struct{}
}

// NewAnimator creates an animator. stars may be nil.
func NewAnimator(deformer *Deformer, stars *Starfield, source StateSource, cfg AnimatorConfig, logger *slog.Logger) *Animator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Animator{
		deformer: deformer,
		stars:    stars,
		source:   source,
		cfg:      cfg,
		logger:   logger,
		done:     make(chan struct{}),
		subs:     make(map[chan Frame]struct{}),
	}
}

// Run steps the deformer every frame interval until ctx is done or Stop is
// called (blocking, use goroutine).
func (a *Animator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return context.Canceled
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FrameInterval)
	defer ticker.Stop()

	a.logger.Info("animator started",
		"frame_interval", a.cfg.FrameInterval,
		"vertices", a.deformer.Mesh().VertexCount(),
	)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("animator stopped", "frames", a.Frames())
			return ctx.Err()
		case now := <-ticker.C:
			a.Advance(now.Sub(last))
			last = now
		}
	}
}

// Advance performs one frame of dt. It returns false after Stop.
func (a *Animator) Advance(dt time.Duration) bool {
	if a.cfg.MaxStep > 0 && dt > a.cfg.MaxStep {
		dt = a.cfg.MaxStep
	}

	var snap state.Snapshot
	if a.source != nil {
		snap = a.source.Snapshot()
	}

	a.mu.Lock()
	if !a.deformer.Step(dt.Seconds(), snap.Mode, snap.Volume) {
		a.mu.Unlock()
		return false
	}
	if a.stars != nil {
		a.stars.Step(dt.Seconds())
	}

	yaw, pitch := a.deformer.Rotation()
	frame := Frame{
		Mode:      snap.Mode,
		Volume:    snap.Volume,
		Intensity: a.deformer.Intensity(),
		Target:    a.deformer.Target(),
		Yaw:       yaw,
		Pitch:     pitch,
		Clock:     a.deformer.Clock(),
		Revision:  a.deformer.Revision(),
	}
	if a.stars != nil {
		frame.StarYaw = a.stars.Yaw()
	}
	a.latest = frame
	a.frames++
	a.mu.Unlock()

	a.notifySubscribers(frame)
	return true
}

func (a *Animator) notifySubscribers(frame Frame) {
	a.subsMu.RLock()
	defer a.subsMu.RUnlock()

	for ch := range a.subs {
		select {
		case ch <- frame:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribe returns a channel that receives every frame.
func (a *Animator) Subscribe() chan Frame {
	ch := make(chan Frame, 10)

	a.subsMu.Lock()
	a.subs[ch] = struct{}{}
	a.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber.
func (a *Animator) Unsubscribe(ch chan Frame) {
	a.subsMu.Lock()
	if _, exists := a.subs[ch]; exists {
		delete(a.subs, ch)
		close(ch)
	}
	a.subsMu.Unlock()
}

// Latest returns the most recent frame.
func (a *Animator) Latest() Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Frames returns the number of frames stepped.
func (a *Animator) Frames() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// CopyPositions copies the deformed vertex positions into dst, growing it
// as needed.
func (a *Animator) CopyPositions(dst []mgl32.Vec3) []mgl32.Vec3 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append(dst[:0], a.deformer.Mesh().Positions...)
}

// Indices returns the mesh triangle indices. They never change.
func (a *Animator) Indices() []uint32 {
	return a.deformer.Mesh().Indices
}

// Stars returns the starfield, or nil.
func (a *Animator) Stars() *Starfield {
	return a.stars
}

// Stats contains animator statistics.
type Stats struct {
	Frames          int64   `json:"frames"`
	Vertices        int     `json:"vertices"`
	Triangles       int     `json:"triangles"`
	SubscriberCount int     `json:"subscriber_count"`
	Intensity       float64 `json:"intensity"`
	Mode            string  `json:"mode"`
	Stopped         bool    `json:"stopped"`
}

// Stats returns animator statistics.
func (a *Animator) Stats() Stats {
	a.mu.RLock()
	mesh := a.deformer.Mesh()
	stats := Stats{
		Frames:    a.frames,
		Vertices:  mesh.VertexCount(),
		Triangles: mesh.TriangleCount(),
		Intensity: a.latest.Intensity,
		Mode:      a.latest.Mode.String(),
		Stopped:   a.stopped,
	}
	a.mu.RUnlock()

	a.subsMu.RLock()
	stats.SubscriberCount = len(a.subs)
	a.subsMu.RUnlock()

	return stats
}

// Stop ends the loop and closes the deformer. No vertex writes happen after
// Stop returns.
func (a *Animator) Stop() {
	a.mu.Lock()
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-a.done
	}

	a.mu.Lock()
	a.deformer.Close()
	a.mu.Unlock()

	a.subsMu.Lock()
	for ch := range a.subs {
		close(ch)
		delete(a.subs, ch)
	}
	a.subsMu.Unlock()
}
