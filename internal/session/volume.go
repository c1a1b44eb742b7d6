package session

import (
	"encoding/binary"
	"math"
	"sync"
)

// Level mapping for agent speech.
const (
	VolumeFloorDB = -50.0
	VolumeCeilDB  = -10.0

	volumeAttack  = 0.65
	volumeRelease = 0.2
)

// NormalizedLevel maps the RMS of PCM16 little-endian samples onto [0, 1]
// between VolumeFloorDB and VolumeCeilDB.
func NormalizedLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms <= 0 {
		return 0
	}

	db := 20 * math.Log10(rms)
	v := (db - VolumeFloorDB) / (VolumeCeilDB - VolumeFloorDB)
	return math.Max(0, math.Min(1, v))
}

// VolumeMeter is an envelope follower over chunk levels.
type VolumeMeter struct {
	mu     sync.Mutex
	target float64
	level  float64
}

// Observe sets the target from a PCM16 chunk.
func (m *VolumeMeter) Observe(pcm []byte) {
	v := NormalizedLevel(pcm)

	m.mu.Lock()
	m.target = v
	m.mu.Unlock()
}

// Release lets the level decay toward zero.
func (m *VolumeMeter) Release() {
	m.mu.Lock()
	m.target = 0
	m.mu.Unlock()
}

// Reset drops the level to zero immediately.
func (m *VolumeMeter) Reset() {
	m.mu.Lock()
	m.target = 0
	m.level = 0
	m.mu.Unlock()
}

// Step moves the level one tick toward the target and returns it.
func (m *VolumeMeter) Step() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	gain := volumeRelease
	if m.target > m.level {
		gain = volumeAttack
	}
	m.level += gain * (m.target - m.level)
	if m.level < 1e-4 {
		m.level = 0
	}
	return m.level
}

// Level returns the current level.
func (m *VolumeMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
