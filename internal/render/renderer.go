// Package render draws the atmospheric backdrop, the orb wireframe and the
// starfield in a GLFW window.
//
// Everything here must run on the main OS thread: the caller locks it with
// runtime.LockOSThread and calls glfw.Init before New.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/teslashibe/go-orb/internal/orb"
	"github.com/teslashibe/go-orb/internal/render/shaderwatch"
)

// Config configures the window and camera.
type Config struct {
	Width     int
	Height    int
	Title     string
	FOV       float32 // degrees
	CameraZ   float32
	Opacity   float32
	ShaderDir string
	VSync     bool
}

// DefaultConfig returns the standard orb window.
func DefaultConfig() Config {
	return Config{
		Width:   800,
		Height:  800,
		Title:   "go-orb",
		FOV:     45,
		CameraZ: 4,
		Opacity: 0.8,
		VSync:   true,
	}
}

// FrameSource supplies the animated mesh.
type FrameSource interface {
	Latest() orb.Frame
	CopyPositions(dst []mgl32.Vec3) []mgl32.Vec3
	Indices() []uint32
	Stars() *orb.Starfield
}

// Controls are invoked from key and window events. Nil fields are ignored.
type Controls struct {
	ToggleSession func()
	ToggleAmbient func()
	Suspend       func(suspended bool)
}

const (
	nearPlane = 0.1
	farPlane  = 100
	starAlpha = 0.3
	starSize  = 2
	orbFill   = 0.3 // share of the shorter visible extent
)

// Renderer owns the window and its GL objects.
type Renderer struct {
	cfg      Config
	source   FrameSource
	controls Controls
	logger   *slog.Logger

	window   *glfw.Window
	programs map[string]*Program
	watcher  *shaderwatch.Watcher
	backdrop *orb.Backdrop

	backdropVAO uint32

	orbVAO, orbVBO, orbEBO uint32
	edgeCount              int32
	starVAO, starVBO       uint32
	starCount              int32

	positions  []mgl32.Vec3
	orbScale   float32
	projection mgl32.Mat4
	view       mgl32.Mat4

	// release runs in reverse order on Close or a failed New
	release []func()
	closed  sync.Once
}

// New creates the window and uploads the mesh. On error every resource
// created so far is released.
func New(cfg Config, source FrameSource, controls Controls, logger *slog.Logger) (_ *Renderer, err error) {
	if source == nil {
		return nil, errors.New("render: nil frame source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("render: invalid window size %dx%d", cfg.Width, cfg.Height)
	}

	r := &Renderer{
		cfg:      cfg,
		source:   source,
		controls: controls,
		logger:   logger.With("component", "render"),
		programs: make(map[string]*Program),
		backdrop: orb.NewBackdrop(),
	}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Samples, 4)

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}
	r.window = window
	r.onClose(window.Destroy)
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("gl init: %w", err)
	}

	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	if err := r.initPrograms(); err != nil {
		return nil, fmt.Errorf("init shaders: %w", err)
	}
	r.initBackdrop()
	r.initOrb()
	r.initStars()

	if cfg.ShaderDir != "" {
		w, err := shaderwatch.New(cfg.ShaderDir, logger)
		if err != nil {
			r.logger.Warn("shader hot reload disabled", "error", err)
		} else {
			r.watcher = w
			r.onClose(func() { w.Close() })
		}
	}

	fbW, fbH := window.GetFramebufferSize()
	r.resize(fbW, fbH)
	r.view = mgl32.LookAtV(
		mgl32.Vec3{0, 0, cfg.CameraZ},
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 1, 0},
	)

	window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) { r.resize(w, h) })
	window.SetKeyCallback(r.onKey)
	window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		width, height := w.GetSize()
		r.backdrop.SetCursor(x, y, width, height)
	})
	r.onClose(func() { window.SetCursorPosCallback(nil) })
	window.SetIconifyCallback(func(_ *glfw.Window, iconified bool) {
		if r.controls.Suspend != nil {
			r.controls.Suspend(iconified)
		}
	})

	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	gl.Enable(gl.PROGRAM_POINT_SIZE)
	gl.Enable(gl.MULTISAMPLE)
	gl.ClearColor(0, 0, 0, 1)

	r.logger.Info("renderer ready",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"edges", r.edgeCount/2,
		"stars", r.starCount,
		"shader_dir", cfg.ShaderDir,
	)

	return r, nil
}

func (r *Renderer) onClose(fn func()) {
	r.release = append(r.release, fn)
}

func (r *Renderer) initPrograms() error {
	for name, builtin := range builtinSources {
		src := builtin
		if r.cfg.ShaderDir != "" {
			if loaded, err := shaderwatch.Load(r.cfg.ShaderDir, name); err == nil {
				src = loaded
			} else {
				r.logger.Debug("using built-in shader", "program", name, "error", err)
			}
		}

		p, err := newProgram(name, src)
		if err != nil && src != builtin {
			r.logger.Warn("shader file failed, using built-in", "program", name, "error", err)
			p, err = newProgram(name, builtin)
		}
		if err != nil {
			return err
		}
		r.programs[name] = p
		r.onClose(p.Delete)
	}
	return nil
}

// initBackdrop creates the empty VAO the core profile needs to draw the
// full-screen triangle.
func (r *Renderer) initBackdrop() {
	gl.GenVertexArrays(1, &r.backdropVAO)
	r.onClose(func() { gl.DeleteVertexArrays(1, &r.backdropVAO) })
}

func (r *Renderer) initOrb() {
	r.positions = r.source.CopyPositions(r.positions)
	edges := orb.EdgeIndices(r.source.Indices())
	r.edgeCount = int32(len(edges))

	gl.GenVertexArrays(1, &r.orbVAO)
	gl.GenBuffers(1, &r.orbVBO)
	gl.GenBuffers(1, &r.orbEBO)
	r.onClose(func() {
		gl.DeleteBuffers(1, &r.orbEBO)
		gl.DeleteBuffers(1, &r.orbVBO)
		gl.DeleteVertexArrays(1, &r.orbVAO)
	})

	gl.BindVertexArray(r.orbVAO)

	gl.BindBuffer(gl.ARRAY_BUFFER, r.orbVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(r.positions)*vec3Size, gl.Ptr(r.positions), gl.DYNAMIC_DRAW)

	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, r.orbEBO)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(edges)*4, gl.Ptr(edges), gl.STATIC_DRAW)

	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, vec3Size, 0)
	gl.EnableVertexAttribArray(0)

	gl.BindVertexArray(0)
}

func (r *Renderer) initStars() {
	stars := r.source.Stars()
	if stars == nil || len(stars.Points) == 0 {
		return
	}
	r.starCount = int32(len(stars.Points))

	gl.GenVertexArrays(1, &r.starVAO)
	gl.GenBuffers(1, &r.starVBO)
	r.onClose(func() {
		gl.DeleteBuffers(1, &r.starVBO)
		gl.DeleteVertexArrays(1, &r.starVAO)
	})

	gl.BindVertexArray(r.starVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.starVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(stars.Points)*vec3Size, gl.Ptr(stars.Points), gl.STATIC_DRAW)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, vec3Size, 0)
	gl.EnableVertexAttribArray(0)
	gl.BindVertexArray(0)
}

var vec3Size = int(unsafe.Sizeof(mgl32.Vec3{}))

func (r *Renderer) resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	gl.Viewport(0, 0, int32(w), int32(h))
	aspect := float32(w) / float32(h)
	r.projection = mgl32.Perspective(mgl32.DegToRad(r.cfg.FOV), aspect, nearPlane, farPlane)
	r.orbScale = fitScale(r.cfg.FOV, r.cfg.CameraZ, aspect)
}

// fitScale sizes the orb to the shorter side of the view at the origin.
func fitScale(fov, distance, aspect float32) float32 {
	height := 2 * distance * float32(math.Tan(float64(mgl32.DegToRad(fov))/2))
	width := height * aspect
	return min(width, height) * orbFill
}

func (r *Renderer) onKey(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if action != glfw.Press {
		return
	}
	switch key {
	case glfw.KeyEscape:
		w.SetShouldClose(true)
	case glfw.KeySpace:
		if r.controls.ToggleSession != nil {
			r.controls.ToggleSession()
		}
	case glfw.KeyM:
		if r.controls.ToggleAmbient != nil {
			r.controls.ToggleAmbient()
		}
	}
}

// reloadShaders recompiles programs whose files changed. A broken edit keeps
// the previous program.
func (r *Renderer) reloadShaders() {
	if r.watcher == nil {
		return
	}
	for _, name := range r.watcher.Pending() {
		current, ok := r.programs[name]
		if !ok {
			continue
		}
		src, err := shaderwatch.Load(r.watcher.Dir(), name)
		if err != nil {
			r.logger.Warn("shader reload failed", "program", name, "error", err)
			continue
		}
		next, err := newProgram(name, src)
		if err != nil {
			r.logger.Warn("shader reload failed", "program", name, "error", err)
			continue
		}
		current.Replace(next)
		r.logger.Info("shader reloaded", "program", name)
	}
}

// Draw renders one frame.
func (r *Renderer) Draw() {
	frame := r.source.Latest()

	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	bg := r.backdrop.Uniforms(glfw.GetTime())
	fbW, fbH := r.window.GetFramebufferSize()
	p := r.programs["backdrop"]
	p.Use()
	p.SetVec2("uCursor", bg.Cursor)
	p.SetVec2("uResolution", mgl32.Vec2{float32(fbW), float32(fbH)})
	p.SetFloat("uShift", bg.Shift)
	p.SetFloat("uGlow", bg.Glow)
	p.SetFloat("uAccent", bg.Accent)
	p.SetFloat("uAccentScale", bg.AccentScale)
	gl.BindVertexArray(r.backdropVAO)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)

	if r.starCount > 0 {
		p = r.programs["stars"]
		p.Use()
		p.SetMat4("uProjection", r.projection)
		p.SetMat4("uView", r.view)
		p.SetMat4("uModel", mgl32.HomogRotate3DY(float32(frame.StarYaw)))
		p.SetFloat("uPointSize", starSize)
		p.SetVec4("uColor", mgl32.Vec4{1, 1, 1, starAlpha})

		gl.BindVertexArray(r.starVAO)
		gl.DrawArrays(gl.POINTS, 0, r.starCount)
	}

	r.positions = r.source.CopyPositions(r.positions)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.orbVBO)
	gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(r.positions)*vec3Size, gl.Ptr(r.positions))

	model := orb.ModelMatrix(frame.Yaw, frame.Pitch, r.orbScale)

	p = r.programs["orb"]
	p.Use()
	p.SetMat4("uProjection", r.projection)
	p.SetMat4("uView", r.view)
	p.SetMat4("uModel", model)
	p.SetVec4("uColor", mgl32.Vec4{1, 1, 1, r.cfg.Opacity})

	gl.BindVertexArray(r.orbVAO)
	gl.DrawElementsWithOffset(gl.LINES, r.edgeCount, gl.UNSIGNED_INT, 0)
	gl.BindVertexArray(0)
}

// Run draws until the window closes or ctx is done. It must be called from
// the thread that called New.
func (r *Renderer) Run(ctx context.Context) error {
	for !r.window.ShouldClose() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		glfw.PollEvents()
		r.reloadShaders()
		r.Draw()
		r.window.SwapBuffers()
	}
	r.logger.Info("window closed")
	return nil
}

// Close releases GL objects and the window. Safe to call more than once.
func (r *Renderer) Close() {
	r.closed.Do(func() {
		for i := len(r.release) - 1; i >= 0; i-- {
			r.release[i]()
		}
		r.release = nil
	})
}
