package orb

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/teslashibe/go-orb/internal/noise"
	"github.com/teslashibe/go-orb/internal/state"
)

// DeformerConfig tunes the per-frame deformation.
type DeformerConfig struct {
	NoiseScale        float64 // spatial scale applied to original coordinates
	SmoothingRate     float64 // intensity easing rate per second
	TimeScale         float64 // noise time scale outside speaking
	SpeakingTimeScale float64
	YawRate           float64 // rad/s outside speaking
	SpeakingYawRate   float64
	PitchRate         float64 // rad/s, all modes
}

// DefaultDeformerConfig returns the standard orb motion.
func DefaultDeformerConfig() DeformerConfig {
	return DeformerConfig{
		NoiseScale:        0.5,
		SmoothingRate:     2,
		TimeScale:         1,
		SpeakingTimeScale: 2,
		YawRate:           0.1,
		SpeakingYawRate:   0.5,
		PitchRate:         0.05,
	}
}

// Deformer displaces the mesh vertices along their radial directions with a
// time-varying noise field. It is not safe for concurrent use.
type Deformer struct {
	mesh  *Mesh
	field noise.Field
	cfg   DeformerConfig

	radial []mgl32.Vec3

	clock    float64
	target   float64
	current  float64
	yaw      float64
	pitch    float64
	revision uint64
	closed   bool
}

// NewDeformer creates a deformer that owns the given noise field.
func NewDeformer(mesh *Mesh, field noise.Field, cfg DeformerConfig) *Deformer {
	radial := make([]mgl32.Vec3, len(mesh.Original))
	for i, p := range mesh.Original {
		if p.Len() > 0 {
			radial[i] = p.Normalize()
		}
	}

	return &Deformer{
		mesh:   mesh,
		field:  field,
		cfg:    cfg,
		radial: radial,
	}
}

// Step advances the deformation by dt seconds. It returns false once the
// deformer is closed, in which case nothing is written.
func (d *Deformer) Step(dt float64, mode state.Mode, volume float64) bool {
	if d.closed {
		return false
	}
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}

	d.clock += dt

	d.target = TargetIntensity(mode, volume)
	d.current += (d.target - d.current) * math.Min(dt*d.cfg.SmoothingRate, 1)

	timeScale := d.cfg.TimeScale
	yawRate := d.cfg.YawRate
	if mode == state.Speaking {
		timeScale = d.cfg.SpeakingTimeScale
		yawRate = d.cfg.SpeakingYawRate
	}

	s := d.cfg.NoiseScale
	drift := d.clock * timeScale
	for i, p := range d.mesh.Original {
		n := d.field.Eval3(
			float64(p[0])*s,
			float64(p[1])*s+drift,
			float64(p[2])*s,
		)
		disp := float32(n * d.current)
		d.mesh.Positions[i] = p.Add(d.radial[i].Mul(disp))
	}

	d.revision++
	d.yaw += dt * yawRate
	d.pitch += dt * d.cfg.PitchRate

	return true
}

// Close stops all further vertex writes.
func (d *Deformer) Close() {
	d.closed = true
}

// Closed reports whether Close was called.
func (d *Deformer) Closed() bool {
	return d.closed
}

// Mesh returns the deformed mesh.
func (d *Deformer) Mesh() *Mesh {
	return d.mesh
}

// Intensity returns the smoothed intensity.
func (d *Deformer) Intensity() float64 {
	return d.current
}

// Target returns the intensity being eased toward.
func (d *Deformer) Target() float64 {
	return d.target
}

// Clock returns the accumulated time in seconds.
func (d *Deformer) Clock() float64 {
	return d.clock
}

// Rotation returns yaw and pitch in radians.
func (d *Deformer) Rotation() (yaw, pitch float64) {
	return d.yaw, d.pitch
}

// Revision increments on every write to the working positions.
func (d *Deformer) Revision() uint64 {
	return d.revision
}

// ModelMatrix returns the orb's model transform for the given uniform scale.
func ModelMatrix(yaw, pitch float64, scale float32) mgl32.Mat4 {
	return mgl32.HomogRotate3DX(float32(pitch)).
		Mul4(mgl32.HomogRotate3DY(float32(yaw))).
		Mul4(mgl32.Scale3D(scale, scale, scale))
}
