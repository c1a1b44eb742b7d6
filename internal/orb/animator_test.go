package orb

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-orb/internal/noise"
	"github.com/teslashibe/go-orb/internal/state"
)

type fixedSource struct {
	snap state.Snapshot
}

func (f fixedSource) Snapshot() state.Snapshot { return f.snap }

func newTestAnimator(t *testing.T, mode state.Mode, volume float64) *Animator {
	t.Helper()

	d := NewDeformer(NewIcosphere(1, 1), noise.NewSimplex(4), DefaultDeformerConfig())
	stars := NewStarfield(200, rand.New(rand.NewSource(1)))
	cfg := DefaultAnimatorConfig()
	cfg.FrameInterval = 5 * time.Millisecond

	return NewAnimator(d, stars, fixedSource{state.Snapshot{Mode: mode, Volume: volume}}, cfg, nil)
}

func TestAnimator_Advance(t *testing.T) {
	a := newTestAnimator(t, state.Speaking, 1)

	require.True(t, a.Advance(50*time.Millisecond))

	frame := a.Latest()
	assert.Equal(t, state.Speaking, frame.Mode)
	assert.InDelta(t, 0.75, frame.Target, 1e-9)
	assert.Greater(t, frame.Intensity, 0.0)
	assert.Equal(t, uint64(1), frame.Revision)
	assert.Equal(t, int64(1), a.Frames())
	assert.Greater(t, frame.StarYaw, 0.0)
}

func TestAnimator_ClampsStep(t *testing.T) {
	a := newTestAnimator(t, state.Idle, 0)

	a.Advance(5 * time.Second)
	assert.InDelta(t, 0.1, a.Latest().Clock, 1e-9)
}

func TestAnimator_RunAndStop(t *testing.T) {
	a := newTestAnimator(t, state.Listening, 0.5)
	ch := a.Subscribe()

	go a.Run(context.Background())

	select {
	case frame := <-ch:
		assert.Equal(t, state.Listening, frame.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	a.Stop()

	// teardown: no further vertex writes
	before := a.CopyPositions(nil)
	rev := a.Latest().Revision
	assert.False(t, a.Advance(10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, a.CopyPositions(nil))
	assert.Equal(t, rev, a.Latest().Revision)

	_, ok := <-ch
	for ok {
		_, ok = <-ch
	}
	assert.True(t, a.Stats().Stopped)
}

func TestAnimator_StopBeforeRun(t *testing.T) {
	a := newTestAnimator(t, state.Idle, 0)
	a.Stop()

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.Frames())
}

func TestAnimator_Stats(t *testing.T) {
	a := newTestAnimator(t, state.Speaking, 0.2)
	ch := a.Subscribe()
	defer a.Unsubscribe(ch)

	a.Advance(10 * time.Millisecond)
	stats := a.Stats()

	assert.Equal(t, 42, stats.Vertices)
	assert.Equal(t, 80, stats.Triangles)
	assert.Equal(t, 1, stats.SubscriberCount)
	assert.Equal(t, "speaking", stats.Mode)
}

func TestAnimator_CopyPositionsReusesBuffer(t *testing.T) {
	a := newTestAnimator(t, state.Idle, 0)
	a.Advance(10 * time.Millisecond)

	buf := make([]mgl32.Vec3, 0, 64)
	out := a.CopyPositions(buf)
	assert.Len(t, out, 42)
	assert.Equal(t, cap(buf), cap(out))
}

func TestStarfield(t *testing.T) {
	s := NewStarfield(200, rand.New(rand.NewSource(7)))
	require.Len(t, s.Points, 200)

	for _, p := range s.Points {
		r := float64(p.Len())
		assert.GreaterOrEqual(t, r, 5.0-1e-4)
		assert.LessOrEqual(t, r, 15.0+1e-4)
	}

	s.Step(10)
	assert.InDelta(t, 0.2, s.Yaw(), 1e-9)
}

func TestWriteGLB(t *testing.T) {
	mesh := NewIcosphere(1, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteGLB(&buf, mesh.Positions, mesh.Indices))
	assert.Equal(t, "glTF", buf.String()[:4])

	var doc gltf.Document
	require.NoError(t, gltf.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&doc))
	require.Len(t, doc.Meshes, 1)

	prim := doc.Meshes[0].Primitives[0]
	posAcc := doc.Accessors[prim.Attributes[gltf.POSITION]]
	assert.EqualValues(t, 42, posAcc.Count)
	assert.EqualValues(t, 240, doc.Accessors[*prim.Indices].Count)
}

func TestWriteGLB_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteGLB(&buf, nil, nil))
}
