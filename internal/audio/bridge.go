// Package audio provides microphone capture and speech playback through the
// ALSA command line tools.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned when the capture or playback command is missing.
var ErrUnavailable = errors.New("audio: command not available")

// Config holds audio bridge configuration
type Config struct {
	SampleRate     int           // capture rate in Hz (default: 16000)
	Channels       int           // capture channels (default: 1)
	ChunkDuration  time.Duration // size of each captured chunk (default: 100ms)
	PlaybackRate   int           // agent speech rate in Hz (default: 16000)
	PlaybackCmd    string        // default: "aplay"
	CaptureCmd     string        // default: "arecord"
	RestartBackoff time.Duration // wait before restarting a failed capture
}

// DefaultConfig returns sensible defaults for a desktop with ALSA.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		Channels:       1,
		ChunkDuration:  100 * time.Millisecond,
		PlaybackRate:   16000,
		PlaybackCmd:    "aplay",
		CaptureCmd:     "arecord",
		RestartBackoff: 500 * time.Millisecond,
	}
}

// ChunkSize returns the byte length of one captured chunk.
func (c Config) ChunkSize() int {
	return c.SampleRate * c.Channels * 2 * int(c.ChunkDuration.Milliseconds()) / 1000
}

// AudioChunk represents a chunk of captured audio
type AudioChunk struct {
	Data       []byte    // PCM16 LE
	SampleRate int       // Sample rate
	Channels   int       // Channel count
	Timestamp  time.Time // Capture timestamp
}

// Bridge streams microphone audio out and agent speech in.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	capturing  bool
	cancelFunc context.CancelFunc
	captureCmd *exec.Cmd
	loopDone   chan struct{}

	playMu    sync.Mutex
	playCmd   *exec.Cmd
	playStdin io.WriteCloser

	onAudioChunk func(AudioChunk)

	chunksCaptured atomic.Uint64
	bytesPlayed    atomic.Uint64
	captureErrors  atomic.Uint64
	playbackErrors atomic.Uint64
	restarts       atomic.Uint64
}

// NewBridge creates a new audio bridge
func NewBridge(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "audio"),
	}
}

// OnAudioChunk sets the callback for captured audio
func (b *Bridge) OnAudioChunk(callback func(AudioChunk)) {
	b.mu.Lock()
	b.onAudioChunk = callback
	b.mu.Unlock()
}

// StartCapture begins capturing audio from the microphone
func (b *Bridge) StartCapture(ctx context.Context) error {
	b.mu.Lock()
	if b.capturing {
		b.mu.Unlock()
		return nil
	}
	b.capturing = true

	ctx, b.cancelFunc = context.WithCancel(ctx)
	done := make(chan struct{})
	b.loopDone = done
	b.mu.Unlock()

	b.logger.Info("starting audio capture",
		"sample_rate", b.cfg.SampleRate,
		"channels", b.cfg.Channels,
	)

	go b.captureLoop(ctx, done)
	return nil
}

// StopCapture stops audio capture and waits for the capture loop to exit.
func (b *Bridge) StopCapture() {
	b.mu.Lock()
	if !b.capturing {
		b.mu.Unlock()
		return
	}

	b.capturing = false
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	if b.captureCmd != nil && b.captureCmd.Process != nil {
		b.captureCmd.Process.Kill()
	}
	done := b.loopDone
	b.mu.Unlock()

	if done != nil {
		<-done
	}
	b.logger.Info("audio capture stopped")
}

// captureLoop keeps one capture process running, restarting it on failure.
func (b *Bridge) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := b.captureStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.captureErrors.Add(1)
			b.logger.Debug("capture error", "error", err)
		}
		b.restarts.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.RestartBackoff):
		}
	}
}

// captureStream runs arecord until it exits and emits fixed-size chunks.
func (b *Bridge) captureStream(ctx context.Context) error {
	// arecord -f S16_LE -r 16000 -c 1 -t raw -q
	cmd := exec.CommandContext(ctx, b.cfg.CaptureCmd,
		"-f", "S16_LE",
		"-r", strconv.Itoa(b.cfg.SampleRate),
		"-c", strconv.Itoa(b.cfg.Channels),
		"-t", "raw",
		"-q",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	b.mu.Lock()
	b.captureCmd = cmd
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.captureCmd = nil
		b.mu.Unlock()
	}()

	size := b.cfg.ChunkSize()
	if size <= 0 {
		size = 3200
	}

	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			_ = cmd.Wait()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("capture ended")
			}
			return fmt.Errorf("read capture: %w", err)
		}

		b.emit(AudioChunk{
			Data:       buf,
			SampleRate: b.cfg.SampleRate,
			Channels:   b.cfg.Channels,
			Timestamp:  time.Now(),
		})
	}
}

func (b *Bridge) emit(chunk AudioChunk) {
	b.chunksCaptured.Add(1)

	b.mu.Lock()
	callback := b.onAudioChunk
	b.mu.Unlock()

	if callback != nil {
		callback(chunk)
	}
}

// Write streams PCM16 mono agent speech into a long-lived playback process,
// starting it on first use.
func (b *Bridge) Write(pcm []byte) (int, error) {
	b.playMu.Lock()
	defer b.playMu.Unlock()

	if b.playStdin == nil {
		if err := b.startPlayback(); err != nil {
			b.playbackErrors.Add(1)
			return 0, err
		}
	}

	n, err := b.playStdin.Write(pcm)
	if err != nil {
		b.playbackErrors.Add(1)
		b.stopPlayback()
		return n, fmt.Errorf("write playback: %w", err)
	}

	b.bytesPlayed.Add(uint64(n))
	return n, nil
}

// Flush drops queued speech by restarting the playback process.
func (b *Bridge) Flush() {
	b.playMu.Lock()
	b.stopPlayback()
	b.playMu.Unlock()
}

// startPlayback must be called with playMu held.
func (b *Bridge) startPlayback() error {
	// aplay -f S16_LE -r <rate> -c 1 -t raw -q
	cmd := exec.Command(b.cfg.PlaybackCmd,
		"-f", "S16_LE",
		"-r", strconv.Itoa(b.cfg.PlaybackRate),
		"-c", "1",
		"-t", "raw",
		"-q",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	b.playCmd = cmd
	b.playStdin = stdin
	b.logger.Debug("playback started", "sample_rate", b.cfg.PlaybackRate)
	return nil
}

// stopPlayback must be called with playMu held.
func (b *Bridge) stopPlayback() {
	if b.playStdin != nil {
		b.playStdin.Close()
		b.playStdin = nil
	}
	if b.playCmd != nil {
		if b.playCmd.Process != nil {
			b.playCmd.Process.Kill()
		}
		_ = b.playCmd.Wait()
		b.playCmd = nil
	}
}

// Stats contains audio bridge statistics
type Stats struct {
	ChunksCaptured uint64 `json:"chunks_captured"`
	BytesPlayed    uint64 `json:"bytes_played"`
	CaptureErrors  uint64 `json:"capture_errors"`
	PlaybackErrors uint64 `json:"playback_errors"`
	Restarts       uint64 `json:"capture_restarts"`
	Capturing      bool   `json:"capturing"`
	Playing        bool   `json:"playing"`
}

// GetStats returns bridge statistics
func (b *Bridge) GetStats() Stats {
	b.mu.Lock()
	capturing := b.capturing
	b.mu.Unlock()

	b.playMu.Lock()
	playing := b.playStdin != nil
	b.playMu.Unlock()

	return Stats{
		ChunksCaptured: b.chunksCaptured.Load(),
		BytesPlayed:    b.bytesPlayed.Load(),
		CaptureErrors:  b.captureErrors.Load(),
		PlaybackErrors: b.playbackErrors.Load(),
		Restarts:       b.restarts.Load(),
		Capturing:      capturing,
		Playing:        playing,
	}
}

// Close stops capture and playback.
func (b *Bridge) Close() error {
	b.StopCapture()
	b.Flush()
	return nil
}

// IsAvailable checks if audio commands are available
func (b *Bridge) IsAvailable() bool {
	_, err := exec.LookPath(b.cfg.PlaybackCmd)
	if err != nil {
		return false
	}
	_, err = exec.LookPath(b.cfg.CaptureCmd)
	return err == nil
}

// Check reports ErrUnavailable when either command is missing.
func (b *Bridge) Check() error {
	for _, name := range []string{b.cfg.CaptureCmd, b.cfg.PlaybackCmd} {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %s", ErrUnavailable, name)
		}
	}
	return nil
}
