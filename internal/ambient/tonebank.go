// Package ambient plays the background soundscape: a looping asset when one
// is available, otherwise a synthesized drone.
package ambient

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync/atomic"
)

// baseFrequencies is the drone's harmonic stack in Hz.
var baseFrequencies = [...]float64{55, 82.5, 110, 165, 220}

const (
	toneGainBase   = 0.15
	toneGainStep   = 0.08
	maxDetuneCents = 3.0

	// MasterScale converts a volume into the bank's master gain.
	MasterScale = 0.3

	bytesPerFrame = 4 // int16 stereo
)

// Tone is one oscillator of the bank.
type Tone struct {
	Frequency float64 `json:"frequency"`
	Detune    float64 `json:"detune_cents"`
	Gain      float64 `json:"gain"`
}

// Effective returns the detuned frequency in Hz.
func (t Tone) Effective() float64 {
	return t.Frequency * math.Pow(2, t.Detune/1200)
}

// ToneBank is a set of sine oscillators mixed into a shared master gain.
// It implements io.Reader producing signed 16-bit little-endian stereo.
type ToneBank struct {
	sampleRate float64
	tones      []Tone
	phases     []float64
	steps      []float64

	master atomic.Uint64 // math.Float64bits
}

// NewToneBank builds the drone for the given volume. rng supplies detune.
func NewToneBank(sampleRate int, volume float64, rng *rand.Rand) *ToneBank {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	b := &ToneBank{
		sampleRate: float64(sampleRate),
		tones:      make([]Tone, len(baseFrequencies)),
		phases:     make([]float64, len(baseFrequencies)),
		steps:      make([]float64, len(baseFrequencies)),
	}

	for i, f := range baseFrequencies {
		t := Tone{
			Frequency: f,
			Detune:    rng.Float64()*2*maxDetuneCents - maxDetuneCents,
			Gain:      toneGainBase + float64(i)*toneGainStep,
		}
		b.tones[i] = t
		b.steps[i] = 2 * math.Pi * t.Effective() / b.sampleRate
	}

	b.SetVolume(volume)
	return b
}

// SetVolume updates the master gain on a running bank.
func (b *ToneBank) SetVolume(volume float64) {
	b.master.Store(math.Float64bits(volume * MasterScale))
}

// MasterGain returns the current master gain.
func (b *ToneBank) MasterGain() float64 {
	return math.Float64frombits(b.master.Load())
}

// Tones returns a copy of the oscillator settings.
func (b *ToneBank) Tones() []Tone {
	out := make([]Tone, len(b.tones))
	copy(out, b.tones)
	return out
}

// Frequencies returns the base frequencies of the oscillators.
func (b *ToneBank) Frequencies() []float64 {
	out := make([]float64, len(b.tones))
	for i, t := range b.tones {
		out[i] = t.Frequency
	}
	return out
}

// Read renders whole stereo frames into p.
func (b *ToneBank) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	master := b.MasterGain()

	for f := 0; f < frames; f++ {
		var s float64
		for i := range b.tones {
			s += math.Sin(b.phases[i]) * b.tones[i].Gain
			b.phases[i] += b.steps[i]
			if b.phases[i] >= 2*math.Pi {
				b.phases[i] -= 2 * math.Pi
			}
		}
		s *= master

		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := uint16(int16(s * math.MaxInt16))

		off := f * bytesPerFrame
		binary.LittleEndian.PutUint16(p[off:], v)
		binary.LittleEndian.PutUint16(p[off+2:], v)
	}

	return frames * bytesPerFrame, nil
}
