package ambient

import (
	"log/slog"
	"math/rand"
	"sync"
)

// Source identifies what the player plays.
type Source int

const (
	SourceSilent Source = iota
	SourceSynth
	SourceAsset
)

func (s Source) String() string {
	switch s {
	case SourceSynth:
		return "synth"
	case SourceAsset:
		return "asset"
	default:
		return "silent"
	}
}

// PlayState is the playback state.
type PlayState int

const (
	Stopped PlayState = iota
	Playing
)

func (s PlayState) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// Config configures the ambient player.
type Config struct {
	AssetPath  string
	Volume     float64
	SampleRate int
}

// Option customizes a Player.
type Option func(*Player)

// WithRand sets the random source used for detune.
func WithRand(rng *rand.Rand) Option {
	return func(p *Player) {
		p.rng = rng
	}
}

// Player plays the ambient soundscape with a start/stop contract. All
// failures are logged; none are returned.
type Player struct {
	out    Output
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand

	mu     sync.Mutex
	source Source
	state  PlayState
	volume float64

	asset       *Asset
	assetStream Stream

	bank       *ToneBank
	bankStream Stream

	starts       int64
	resumeErrors int64
}

// New selects a source and returns a stopped player. A nil out gives a
// silent player; an asset that fails to load gives the synthesized drone.
func New(out Output, cfg Config, logger *slog.Logger, opts ...Option) *Player {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Player{
		out:    out,
		cfg:    cfg,
		logger: logger,
		volume: clampVolume(cfg.Volume),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(rand.Int63()))
	}

	switch {
	case out == nil:
		p.source = SourceSilent
		p.logger.Warn("audio output unavailable, ambient disabled")
	case cfg.AssetPath == "":
		p.source = SourceSynth
	default:
		asset, err := LoadAsset(cfg.AssetPath, cfg.SampleRate)
		if err != nil {
			p.source = SourceSynth
			p.logger.Info("ambient asset unavailable, using synthesized tones", "error", err)
			break
		}
		p.source = SourceAsset
		p.asset = asset
		p.assetStream = out.NewPlayer(asset)
		p.assetStream.SetVolume(p.volume)
		p.logger.Info("ambient asset loaded", "path", asset.Path())
	}

	return p
}

// Start begins playback. Calling it while playing does nothing.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == SourceSilent {
		p.logger.Debug("ambient start ignored, no audio output")
		return
	}
	if p.state == Playing {
		return
	}

	switch p.source {
	case SourceAsset:
		p.assetStream.SetVolume(p.volume)
		p.assetStream.Play()

	case SourceSynth:
		if p.out.Suspended() {
			if err := p.out.Resume(); err != nil {
				p.resumeErrors++
				p.logger.Warn("audio resume failed", "error", err)
			}
		}

		p.stopBank()

		p.bank = NewToneBank(p.cfg.SampleRate, p.volume, p.rng)
		p.bankStream = p.out.NewPlayer(p.bank)
		p.bankStream.SetVolume(1)
		p.bankStream.Play()

		p.logger.Info("ambient tones started",
			"tones", len(p.bank.tones),
			"master_gain", p.bank.MasterGain(),
		)
	}

	p.state = Playing
	p.starts++
}

// Stop halts playback. Calling it while stopped does nothing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Stopped {
		return
	}

	switch p.source {
	case SourceAsset:
		p.assetStream.Pause()
	case SourceSynth:
		p.stopBank()
		p.logger.Info("ambient tones stopped")
	}

	p.state = Stopped
}

func (p *Player) stopBank() {
	if p.bankStream != nil {
		_ = p.bankStream.Close()
	}
	p.bankStream = nil
	p.bank = nil
}

// SetVolume changes the volume, including on a sound that is already
// playing. Values are clamped to [0, 1].
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = clampVolume(v)
	if p.assetStream != nil {
		p.assetStream.SetVolume(p.volume)
	}
	if p.bank != nil {
		p.bank.SetVolume(p.volume)
	}
}

// Suspend pauses the audio device, e.g. while the window is minimized.
func (p *Player) Suspend() {
	if p.out == nil {
		return
	}
	if err := p.out.Suspend(); err != nil {
		p.logger.Warn("audio suspend failed", "error", err)
	}
}

// Resume restarts a suspended device.
func (p *Player) Resume() {
	if p.out == nil || !p.out.Suspended() {
		return
	}
	if err := p.out.Resume(); err != nil {
		p.mu.Lock()
		p.resumeErrors++
		p.mu.Unlock()
		p.logger.Warn("audio resume failed", "error", err)
	}
}

// State returns the playback state.
func (p *Player) State() PlayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Source returns the selected source.
func (p *Player) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Close stops playback and releases the asset.
func (p *Player) Close() error {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.assetStream != nil {
		err = p.assetStream.Close()
		p.assetStream = nil
	}
	if p.asset != nil {
		if cerr := p.asset.Close(); err == nil {
			err = cerr
		}
		p.asset = nil
	}
	p.source = SourceSilent
	return err
}

// Stats contains ambient player statistics.
type Stats struct {
	Source       string    `json:"source"`
	State        string    `json:"state"`
	Volume       float64   `json:"volume"`
	Starts       int64     `json:"starts"`
	ResumeErrors int64     `json:"resume_errors"`
	ActiveBanks  int       `json:"active_banks"`
	Frequencies  []float64 `json:"frequencies,omitempty"`
	MasterGain   float64   `json:"master_gain,omitempty"`
}

// Stats returns player statistics.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Source:       p.source.String(),
		State:        p.state.String(),
		Volume:       p.volume,
		Starts:       p.starts,
		ResumeErrors: p.resumeErrors,
	}
	if p.bank != nil {
		s.ActiveBanks = 1
		s.Frequencies = p.bank.Frequencies()
		s.MasterGain = p.bank.MasterGain()
	}
	return s
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
