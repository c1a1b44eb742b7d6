package ambient

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	r       io.Reader
	playing bool
	closed  bool
	volume  float64
}

func (s *fakeStream) Play()               { s.playing = true }
func (s *fakeStream) Pause()              { s.playing = false }
func (s *fakeStream) IsPlaying() bool     { return s.playing }
func (s *fakeStream) SetVolume(v float64) { s.volume = v }
func (s *fakeStream) Close() error        { s.playing = false; s.closed = true; return nil }

type fakeOutput struct {
	mu        sync.Mutex
	streams   []*fakeStream
	suspended bool
	resumeErr error
	resumes   int
}

func (o *fakeOutput) NewPlayer(r io.Reader) Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &fakeStream{r: r}
	o.streams = append(o.streams, s)
	return s
}

func (o *fakeOutput) Suspended() bool { return o.suspended }

func (o *fakeOutput) Suspend() error {
	o.suspended = true
	return nil
}

func (o *fakeOutput) Resume() error {
	o.resumes++
	if o.resumeErr != nil {
		return o.resumeErr
	}
	o.suspended = false
	return nil
}

func (o *fakeOutput) live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.streams {
		if !s.closed && s.playing {
			n++
		}
	}
	return n
}

func newSynthPlayer(t *testing.T, out Output) *Player {
	t.Helper()
	return New(out, Config{Volume: 0.5, SampleRate: 44100}, nil, WithRand(rand.New(rand.NewSource(1))))
}

func TestToneBank_Layout(t *testing.T) {
	b := NewToneBank(44100, 0.08, rand.New(rand.NewSource(3)))

	assert.Equal(t, []float64{55, 82.5, 110, 165, 220}, b.Frequencies())

	for i, tone := range b.Tones() {
		assert.InDelta(t, 0.15+float64(i)*0.08, tone.Gain, 1e-9)
		assert.GreaterOrEqual(t, tone.Detune, -3.0)
		assert.LessOrEqual(t, tone.Detune, 3.0)

		ratio := tone.Effective() / tone.Frequency
		assert.InDelta(t, 1, ratio, 0.002)
	}

	assert.InDelta(t, 0.08*0.3, b.MasterGain(), 1e-12)
}

func TestToneBank_FrequenciesAreCopies(t *testing.T) {
	first := NewToneBank(44100, 0.5, rand.New(rand.NewSource(1)))
	freqs := first.Frequencies()
	freqs[0] = 1000

	second := NewToneBank(44100, 0.5, rand.New(rand.NewSource(1)))
	assert.Equal(t, []float64{55, 82.5, 110, 165, 220}, second.Frequencies())
	assert.Equal(t, 55.0, first.Tones()[0].Frequency)
}

func TestToneBank_Read(t *testing.T) {
	b := NewToneBank(44100, 1, rand.New(rand.NewSource(3)))

	buf := make([]byte, 4410*4+3)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4410*4, n)

	var energy float64
	for i := 0; i < n; i += 4 {
		l := int16(binary.LittleEndian.Uint16(buf[i:]))
		r := int16(binary.LittleEndian.Uint16(buf[i+2:]))
		assert.Equal(t, l, r)
		energy += math.Abs(float64(l))
	}
	assert.Greater(t, energy, 0.0)
}

func TestToneBank_LiveVolume(t *testing.T) {
	b := NewToneBank(44100, 1, rand.New(rand.NewSource(3)))

	b.SetVolume(0)
	buf := make([]byte, 400)
	_, _ = b.Read(buf)
	for _, v := range buf {
		assert.Zero(t, v)
	}
}

func TestPlayer_MissingAssetFallsBackToTones(t *testing.T) {
	out := &fakeOutput{}
	p := New(out, Config{
		AssetPath:  filepath.Join(t.TempDir(), "ambient-music.mp3"),
		Volume:     0.08,
		SampleRate: 44100,
	}, nil)

	assert.Equal(t, SourceSynth, p.Source())

	p.Start()
	stats := p.Stats()
	assert.Equal(t, "playing", stats.State)
	assert.Equal(t, []float64{55, 82.5, 110, 165, 220}, stats.Frequencies)
	assert.Equal(t, 1, stats.ActiveBanks)
	assert.InDelta(t, 0.08*0.3, stats.MasterGain, 1e-12)
}

func TestPlayer_CorruptAssetFallsBackToTones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0644))

	p := New(&fakeOutput{}, Config{AssetPath: path, Volume: 0.1, SampleRate: 44100}, nil)
	assert.Equal(t, SourceSynth, p.Source())
}

// writeSilentMP3 writes MPEG-1 Layer III frames at 128 kbps / 44.1 kHz
// stereo whose side info and main data are all zero, which decode to silence.
func writeSilentMP3(t *testing.T, frames int) string {
	t.Helper()

	const frameSize = 144 * 128000 / 44100
	frame := make([]byte, frameSize)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})

	data := make([]byte, 0, frames*frameSize)
	for i := 0; i < frames; i++ {
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "ambient-music.mp3")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestPlayer_LoadedAssetPlaysDirectly(t *testing.T) {
	out := &fakeOutput{}
	p := New(out, Config{
		AssetPath:  writeSilentMP3(t, 8),
		Volume:     0.08,
		SampleRate: 44100,
	}, nil)
	defer p.Close()

	require.Equal(t, SourceAsset, p.Source())
	require.Len(t, out.streams, 1)
	stream := out.streams[0]
	assert.IsType(t, &Asset{}, stream.r)

	p.SetVolume(0.2)
	p.Start()
	p.Start()
	assert.True(t, stream.playing)
	assert.InDelta(t, 0.2, stream.volume, 1e-12)

	p.Stop()
	assert.False(t, stream.playing)
	assert.False(t, stream.closed)

	// the tone bank is never built on this path
	assert.Len(t, out.streams, 1)
	stats := p.Stats()
	assert.Equal(t, "asset", stats.Source)
	assert.Equal(t, 0, stats.ActiveBanks)
	assert.Equal(t, int64(1), stats.Starts)
}

func TestAsset_LoopsAtEnd(t *testing.T) {
	a, err := LoadAsset(writeSilentMP3(t, 4), 44100)
	require.NoError(t, err)
	defer a.Close()

	length := a.dec.Length()
	require.Positive(t, length)

	buf := make([]byte, 4096)
	var total int64
	for total < 3*length {
		n, err := a.Read(buf)
		require.NoError(t, err)
		require.Positive(t, n)
		total += int64(n)
	}
}

func TestLoadAsset_SampleRateMismatch(t *testing.T) {
	_, err := LoadAsset(writeSilentMP3(t, 2), 48000)
	assert.ErrorIs(t, err, ErrAssetLoad)
}

func TestLoadAsset_Errors(t *testing.T) {
	_, err := LoadAsset("/nonexistent/ambient.mp3", 44100)
	assert.ErrorIs(t, err, ErrAssetLoad)

	path := filepath.Join(t.TempDir(), "zeros.mp3")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0644))
	_, err = LoadAsset(path, 44100)
	assert.ErrorIs(t, err, ErrAssetLoad)
}

func TestPlayer_StartIdempotent(t *testing.T) {
	out := &fakeOutput{}
	p := newSynthPlayer(t, out)

	p.Start()
	p.Start()

	assert.Equal(t, Playing, p.State())
	assert.Len(t, out.streams, 1)
	assert.Equal(t, 1, out.live())
	assert.Equal(t, int64(1), p.Stats().Starts)
}

func TestPlayer_StopWhenStopped(t *testing.T) {
	out := &fakeOutput{}
	p := newSynthPlayer(t, out)

	assert.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})
	assert.Equal(t, Stopped, p.State())
	assert.Empty(t, out.streams)
}

func TestPlayer_StartStopCycles(t *testing.T) {
	out := &fakeOutput{}
	p := newSynthPlayer(t, out)

	for i := 0; i < 3; i++ {
		p.Start()
		assert.Equal(t, 1, out.live())
		p.Stop()
		assert.Equal(t, 0, out.live())
	}

	assert.Len(t, out.streams, 3)
	for _, s := range out.streams {
		assert.True(t, s.closed)
	}
	assert.Equal(t, 0, p.Stats().ActiveBanks)
}

func TestPlayer_ResumesSuspendedOutput(t *testing.T) {
	out := &fakeOutput{suspended: true}
	p := newSynthPlayer(t, out)

	p.Start()
	assert.Equal(t, 1, out.resumes)
	assert.False(t, out.suspended)
}

func TestPlayer_ResumeFailureIsNotFatal(t *testing.T) {
	out := &fakeOutput{suspended: true, resumeErr: errors.New("autoplay blocked")}
	p := newSynthPlayer(t, out)

	p.Start()

	assert.Equal(t, Playing, p.State())
	assert.Equal(t, int64(1), p.Stats().ResumeErrors)
	assert.Equal(t, 1, out.live())
}

func TestPlayer_LiveVolume(t *testing.T) {
	out := &fakeOutput{}
	p := newSynthPlayer(t, out)
	p.Start()

	p.SetVolume(1)
	assert.InDelta(t, 0.3, p.Stats().MasterGain, 1e-12)

	p.SetVolume(4)
	assert.Equal(t, 1.0, p.Stats().Volume)

	p.SetVolume(-1)
	assert.Equal(t, 0.0, p.Stats().MasterGain)
}

func TestPlayer_SilentWithoutOutput(t *testing.T) {
	p := New(nil, Config{Volume: 0.5, SampleRate: 44100}, nil)

	assert.Equal(t, SourceSilent, p.Source())
	assert.NotPanics(t, func() {
		p.Start()
		p.SetVolume(0.2)
		p.Suspend()
		p.Resume()
		p.Stop()
	})
	assert.Equal(t, Stopped, p.State())
	assert.NoError(t, p.Close())
}

func TestPlayer_Close(t *testing.T) {
	out := &fakeOutput{}
	p := newSynthPlayer(t, out)
	p.Start()

	require.NoError(t, p.Close())
	assert.Equal(t, 0, out.live())
	assert.Equal(t, SourceSilent, p.Source())

	// further calls are no-ops
	p.Start()
	assert.Equal(t, Stopped, p.State())
}
