// Package server provides the HTTP API and orb stream for go-orb
package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-orb/internal/ambient"
	"github.com/teslashibe/go-orb/internal/config"
	"github.com/teslashibe/go-orb/internal/health"
	"github.com/teslashibe/go-orb/internal/metrics"
	"github.com/teslashibe/go-orb/internal/orb"
	"github.com/teslashibe/go-orb/internal/session"
	"github.com/teslashibe/go-orb/internal/state"
)

// sessionTimeout bounds a start or end request.
const sessionTimeout = 15 * time.Second

// SessionController starts and ends conversations.
type SessionController interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	Stats() session.Stats
}

// AmbientController controls the ambient soundscape.
type AmbientController interface {
	Start()
	Stop()
	SetVolume(v float64)
	Stats() ambient.Stats
}

// Deps are the components served by the API. Any of them may be nil; the
// matching routes then answer 503.
type Deps struct {
	Machine  *state.Machine
	Session  SessionController
	Animator *orb.Animator
	Ambient  AmbientController
	Health   *health.Checker
	Metrics  *metrics.Metrics
	Config   *config.Config
}

// Server is the HTTP server for go-orb
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	deps      Deps
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	app := fiber.New(fiber.Config{
		AppName:               "go-orb",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	interval := 100 * time.Millisecond
	if cfg.StreamHz > 0 {
		interval = time.Second / time.Duration(cfg.StreamHz)
	}

	s := &Server{
		app:       app,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		wsHub:     NewWSHub(deps.Machine, deps.Animator, deps.Session, interval, logger),
		startTime: time.Now(),
		version:   version,
	}

	if deps.Metrics != nil {
		deps.Metrics.GaugeFunc("ws_clients", "Connected orb stream clients", func() float64 {
			return float64(s.wsHub.ClientCount())
		})
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)

	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).SendString("# metrics disabled\n")
		})
	}

	api := s.app.Group("/api")

	api.Get("/state", s.stateHandler)

	sess := api.Group("/session")
	sess.Post("/start", s.sessionStartHandler)
	sess.Post("/end", s.sessionEndHandler)

	api.Get("/orb", s.orbHandler)
	api.Get("/orb/mesh.glb", s.meshHandler)
	api.Get("/orb/stream", s.wsHub.UpgradeHandler())

	api.Get("/ambient", s.ambientHandler)
	api.Post("/ambient/start", s.ambientStartHandler)
	api.Post("/ambient/stop", s.ambientStopHandler)
	api.Put("/ambient/volume", s.ambientVolumeHandler)

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

func unavailable(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": what + " not available",
	})
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.deps.Health == nil {
		return c.JSON(fiber.Map{
			"status":         health.StatusOK,
			"version":        s.version,
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		})
	}
	return c.JSON(s.deps.Health.GetStatus())
}

// stateHandler returns the conversation state
func (s *Server) stateHandler(c *fiber.Ctx) error {
	if s.deps.Machine == nil {
		return unavailable(c, "state")
	}
	return c.JSON(s.deps.Machine.Snapshot())
}

func (s *Server) sessionStartHandler(c *fiber.Ctx) error {
	return s.sessionOp(c, "start")
}

func (s *Server) sessionEndHandler(c *fiber.Ctx) error {
	return s.sessionOp(c, "end")
}

// sessionOp runs start or end. Session failures answer 502 with the
// user-visible error text.
func (s *Server) sessionOp(c *fiber.Ctx, op string) error {
	if s.deps.Session == nil {
		return unavailable(c, "session")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), sessionTimeout)
	defer cancel()

	var err error
	if op == "start" {
		err = s.deps.Session.Start(ctx)
	} else {
		err = s.deps.Session.End(ctx)
	}
	if err != nil {
		s.logger.Warn("session request failed", "op", op, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if s.deps.Machine == nil {
		return c.JSON(fiber.Map{"ok": true})
	}
	return c.JSON(s.deps.Machine.Snapshot())
}

// orbHandler returns the latest orb frame
func (s *Server) orbHandler(c *fiber.Ctx) error {
	if s.deps.Animator == nil {
		return unavailable(c, "orb")
	}
	return c.JSON(s.deps.Animator.Latest())
}

// meshHandler returns the current deformed mesh as binary glTF
func (s *Server) meshHandler(c *fiber.Ctx) error {
	if s.deps.Animator == nil {
		return unavailable(c, "orb")
	}

	positions := s.deps.Animator.CopyPositions(nil)

	var buf bytes.Buffer
	if err := orb.WriteGLB(&buf, positions, s.deps.Animator.Indices()); err != nil {
		s.logger.Warn("mesh export failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set(fiber.HeaderContentType, "model/gltf-binary")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="orb.glb"`)
	return c.Send(buf.Bytes())
}

func (s *Server) ambientHandler(c *fiber.Ctx) error {
	if s.deps.Ambient == nil {
		return unavailable(c, "ambient")
	}
	return c.JSON(s.deps.Ambient.Stats())
}

func (s *Server) ambientStartHandler(c *fiber.Ctx) error {
	if s.deps.Ambient == nil {
		return unavailable(c, "ambient")
	}
	s.deps.Ambient.Start()
	return c.JSON(s.deps.Ambient.Stats())
}

func (s *Server) ambientStopHandler(c *fiber.Ctx) error {
	if s.deps.Ambient == nil {
		return unavailable(c, "ambient")
	}
	s.deps.Ambient.Stop()
	return c.JSON(s.deps.Ambient.Stats())
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

// ambientVolumeHandler sets the ambient volume; out-of-range values are clamped
func (s *Server) ambientVolumeHandler(c *fiber.Ctx) error {
	if s.deps.Ambient == nil {
		return unavailable(c, "ambient")
	}

	var req volumeRequest
	if err := c.BodyParser(&req); err != nil || req.Volume == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": `expected body {"volume": <0..1>}`,
		})
	}

	s.deps.Ambient.SetVolume(*req.Volume)
	return c.JSON(s.deps.Ambient.Stats())
}

// configHandler returns the effective configuration, without secrets
func (s *Server) configHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
			"stream_hz":        s.cfg.StreamHz,
		},
	}

	if cfg := s.deps.Config; cfg != nil {
		out["session"] = fiber.Map{
			"agent_id":    cfg.Session.AgentID,
			"has_api_key": cfg.Session.APIKey != "",
			"base_url":    cfg.Session.BaseURL,
		}
		out["orb"] = fiber.Map{
			"radius":   cfg.Orb.Radius,
			"detail":   cfg.Orb.Detail,
			"seed":     cfg.Orb.Seed,
			"frame_hz": cfg.Orb.FrameHz,
			"stars":    cfg.Orb.Stars,
		}
		out["ambient"] = fiber.Map{
			"enabled":     cfg.Ambient.Enabled,
			"asset_path":  cfg.Ambient.AssetPath,
			"volume":      cfg.Ambient.Volume,
			"sample_rate": cfg.Ambient.SampleRate,
		}
		out["render"] = fiber.Map{
			"enabled": cfg.Render.Enabled,
			"width":   cfg.Render.Width,
			"height":  cfg.Render.Height,
			"fov":     cfg.Render.FOV,
		}
	}

	return c.JSON(out)
}

// statsHandler returns statistics of every component
func (s *Server) statsHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"ws_clients":     s.wsHub.ClientCount(),
	}
	if s.deps.Machine != nil {
		out["transitions"] = s.deps.Machine.Transitions()
	}
	if s.deps.Session != nil {
		out["session"] = s.deps.Session.Stats()
	}
	if s.deps.Animator != nil {
		out["orb"] = s.deps.Animator.Stats()
	}
	if s.deps.Ambient != nil {
		out["ambient"] = s.deps.Ambient.Stats()
	}
	return c.JSON(out)
}

// Run runs the stream hub until ctx is done (blocking, use goroutine).
func (s *Server) Run(ctx context.Context) {
	s.wsHub.Run(ctx)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
