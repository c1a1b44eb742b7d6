package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-orb/internal/state"
)

// ControllerConfig configures the session controller.
type ControllerConfig struct {
	TickInterval     time.Duration // volume and speaking latch update rate
	OutputSampleRate int           // agent PCM16 mono rate, sets the speaking latch
	PlaybackQueue    int           // agent chunks buffered for the sink
}

// DefaultControllerConfig returns sensible defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		TickInterval:     50 * time.Millisecond,
		OutputSampleRate: 16000,
		PlaybackQueue:    64,
	}
}

// playbackChunk is agent audio queued for the sink. Chunks from before the
// latest interruption carry an older generation and are skipped.
type playbackChunk struct {
	pcm []byte
	gen uint64
}

// Session drives a Provider and records its events in a state.Machine.
type Session struct {
	provider Provider
	machine  *state.Machine
	cfg      ControllerConfig
	logger   *slog.Logger
	meter    VolumeMeter

	// serializes Start and End
	opMu sync.Mutex

	mu            sync.Mutex
	sink          AudioSink
	speakingUntil time.Time

	// agent audio is written to the sink off the provider's reader goroutine
	playback     chan playbackChunk
	playbackGen  atomic.Uint64
	playbackOnce sync.Once
	stopOnce     sync.Once
	stop         chan struct{}
	playbackDone chan struct{}

	starts     atomic.Int64
	errorCount atomic.Int64
	chunksIn   atomic.Int64
	chunksOut  atomic.Int64
	dropped    atomic.Int64

	now func() time.Time
}

// New wires a session to its provider and state machine.
func New(provider Provider, machine *state.Machine, cfg ControllerConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PlaybackQueue <= 0 {
		cfg.PlaybackQueue = DefaultControllerConfig().PlaybackQueue
	}

	s := &Session{
		provider:     provider,
		machine:      machine,
		cfg:          cfg,
		logger:       logger.With("component", "session"),
		playback:     make(chan playbackChunk, cfg.PlaybackQueue),
		stop:         make(chan struct{}),
		playbackDone: make(chan struct{}),
		now:          time.Now,
	}

	provider.OnAudio(s.handleAudio)
	provider.OnAudioDone(s.handleAudioDone)
	provider.OnTranscript(s.handleTranscript)
	provider.OnInterruption(s.handleInterruption)
	provider.OnError(s.handleError)
	provider.OnDisconnect(s.handleDisconnect)

	return s
}

// SetAudioSink sets where agent audio is written for playback and starts
// the playback writer. Close stops it.
func (s *Session) SetAudioSink(w AudioSink) {
	s.mu.Lock()
	s.sink = w
	s.mu.Unlock()

	s.playbackOnce.Do(func() {
		go s.playbackLoop()
	})
}

func (s *Session) playbackLoop() {
	defer close(s.playbackDone)

	for {
		select {
		case <-s.stop:
			return
		case chunk := <-s.playback:
			if chunk.gen != s.playbackGen.Load() {
				continue
			}

			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()

			if sink == nil {
				continue
			}
			if _, err := sink.Write(chunk.pcm); err != nil {
				s.logger.Debug("audio sink write failed", "error", err)
			}
		}
	}
}

// Close stops the playback writer. It does not end the conversation.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	started := true
	s.playbackOnce.Do(func() {
		started = false
	})
	if started {
		<-s.playbackDone
	}
}

// Start opens a conversation. Failures are recorded as user-visible error
// text and returned as *SessionError.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.machine.Fire(state.EventStart); err != nil {
		return &SessionError{Op: "start", Err: ErrAlreadyActive}
	}

	s.logger.Info("starting session")

	if err := s.provider.Connect(ctx); err != nil {
		s.errorCount.Add(1)
		s.machine.Fail(err.Error())
		s.logger.Warn("session start failed", "error", err, "retryable", IsRetryable(err))
		return &SessionError{Op: "start", Err: err}
	}

	id := uuid.NewString()
	s.machine.SetSessionID(id)
	_ = s.machine.Fire(state.EventConnected)
	_ = s.machine.Fire(state.EventListen)
	s.meter.Reset()
	s.starts.Add(1)

	s.logger.Info("session started", "session_id", id)
	return nil
}

// End closes the conversation. Ending an inactive session does nothing.
func (s *Session) End(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.machine.Fire(state.EventEnd); err != nil {
		return nil
	}

	s.logger.Info("ending session")

	done := make(chan error, 1)
	go func() {
		done <- s.provider.Close()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	_ = s.machine.Fire(state.EventDisconnected)
	s.meter.Reset()

	if err != nil {
		s.errorCount.Add(1)
		s.machine.SetError(err.Error())
		s.logger.Warn("session end failed", "error", err)
		return &SessionError{Op: "end", Err: err}
	}

	s.logger.Info("session ended")
	return nil
}

// Toggle starts a session when disconnected and ends it otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	if s.machine.Phase() == state.Disconnected {
		return s.Start(ctx)
	}
	return s.End(ctx)
}

// SendAudio forwards a microphone chunk while connected.
func (s *Session) SendAudio(pcm []byte) {
	if !s.machine.Phase().Connected() {
		return
	}
	if err := s.provider.SendAudio(pcm); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			s.logger.Debug("send audio failed", "error", err)
		}
		return
	}
	s.chunksOut.Add(1)
}

// Run updates the volume and speaking latch until ctx is done (blocking,
// use goroutine).
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	phase := s.machine.Phase()
	if !phase.Connected() {
		return
	}

	s.mu.Lock()
	until := s.speakingUntil
	s.mu.Unlock()

	if phase == state.PhaseSpeaking && s.now().After(until) {
		_ = s.machine.Fire(state.EventListen)
		s.meter.Release()
	}

	s.machine.SetVolume(s.meter.Step())
}

func (s *Session) handleAudio(pcm []byte) {
	if !s.machine.Phase().Connected() {
		return
	}
	s.chunksIn.Add(1)

	s.meter.Observe(pcm)

	// PCM16 mono: two bytes per sample
	rate := s.cfg.OutputSampleRate
	if r, ok := s.provider.(interface{ OutputSampleRate() int }); ok && r.OutputSampleRate() > 0 {
		rate = r.OutputSampleRate()
	}
	played := time.Duration(0)
	if rate > 0 {
		played = time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
	}

	s.mu.Lock()
	now := s.now()
	if s.speakingUntil.Before(now) {
		s.speakingUntil = now
	}
	s.speakingUntil = s.speakingUntil.Add(played)
	hasSink := s.sink != nil
	s.mu.Unlock()

	_ = s.machine.Fire(state.EventSpeak)

	if !hasSink {
		return
	}
	select {
	case s.playback <- playbackChunk{pcm: pcm, gen: s.playbackGen.Load()}:
	default:
		s.dropped.Add(1)
		s.logger.Debug("playback queue full, dropping agent audio", "bytes", len(pcm))
	}
}

func (s *Session) handleAudioDone() {
	s.mu.Lock()
	s.speakingUntil = time.Time{}
	s.mu.Unlock()

	s.meter.Release()
	if s.machine.Phase().Connected() {
		_ = s.machine.Fire(state.EventListen)
	}
}

func (s *Session) handleInterruption() {
	s.mu.Lock()
	s.speakingUntil = time.Time{}
	sink := s.sink
	s.mu.Unlock()

	// queued speech is stale once the user talks over the agent
	s.playbackGen.Add(1)
	if f, ok := sink.(interface{ Flush() }); ok {
		f.Flush()
	}

	s.meter.Reset()
	if s.machine.Phase().Connected() {
		_ = s.machine.Fire(state.EventListen)
	}
	s.logger.Debug("agent interrupted")
}

func (s *Session) handleTranscript(role, text string, final bool) {
	if text == "" {
		return
	}
	s.machine.SetTranscript(text)
	s.logger.Debug("transcript", "role", role, "text", text, "final", final)
}

func (s *Session) handleError(err error) {
	s.errorCount.Add(1)
	s.machine.SetError(err.Error())
	s.logger.Warn("agent error", "error", err)
}

func (s *Session) handleDisconnect(err error) {
	s.meter.Reset()
	if s.machine.Phase().Connected() {
		_ = s.machine.Fire(state.EventDisconnected)
	}
	if err != nil {
		s.errorCount.Add(1)
		s.machine.SetError(err.Error())
	}
	s.logger.Info("session dropped by remote", "error", err)
}

// Stats contains session statistics.
type Stats struct {
	Phase        string  `json:"phase"`
	Starts       int64   `json:"starts"`
	Errors       int64   `json:"errors"`
	AudioChunks  int64   `json:"audio_chunks_in"`
	MicChunks    int64   `json:"mic_chunks_out"`
	Dropped      int64   `json:"playback_dropped"`
	Volume       float64 `json:"volume"`
	ProviderLive bool    `json:"provider_connected"`
}

// Stats returns session statistics.
func (s *Session) Stats() Stats {
	return Stats{
		Phase:        s.machine.Phase().String(),
		Starts:       s.starts.Load(),
		Errors:       s.errorCount.Load(),
		AudioChunks:  s.chunksIn.Load(),
		MicChunks:    s.chunksOut.Load(),
		Dropped:      s.dropped.Load(),
		Volume:       s.meter.Level(),
		ProviderLive: s.provider.IsConnected(),
	}
}
