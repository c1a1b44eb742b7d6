package orb

import "github.com/teslashibe/go-orb/internal/state"

// Intensity levels per mode.
const (
	IdleIntensity          = 0.05
	ListeningBaseIntensity = 0.15
	ListeningVolumeGain    = 0.3
	SpeakingBaseIntensity  = 0.25
	SpeakingVolumeGain     = 0.5

	// MaxIntensity is the ceiling reached while speaking at full volume.
	MaxIntensity = SpeakingBaseIntensity + SpeakingVolumeGain
)

// TargetIntensity maps a mode and volume to the deformation strength the orb
// eases toward. Volume is clamped to [0, 1].
func TargetIntensity(mode state.Mode, volume float64) float64 {
	v := clamp(volume, 0, 1)

	switch mode {
	case state.Idle:
		return IdleIntensity
	case state.Listening:
		return ListeningBaseIntensity + v*ListeningVolumeGain
	case state.Speaking:
		return SpeakingBaseIntensity + v*SpeakingVolumeGain
	default:
		return IdleIntensity
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
