// go-orb: voice agent orb
// Renders a breathing wireframe orb driven by a live voice conversation
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/teslashibe/go-orb/internal/ambient"
	"github.com/teslashibe/go-orb/internal/ambient/otoout"
	"github.com/teslashibe/go-orb/internal/audio"
	"github.com/teslashibe/go-orb/internal/config"
	"github.com/teslashibe/go-orb/internal/health"
	"github.com/teslashibe/go-orb/internal/metrics"
	"github.com/teslashibe/go-orb/internal/noise"
	"github.com/teslashibe/go-orb/internal/orb"
	"github.com/teslashibe/go-orb/internal/render"
	"github.com/teslashibe/go-orb/internal/server"
	"github.com/teslashibe/go-orb/internal/session"
	"github.com/teslashibe/go-orb/internal/state"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", "", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock voice provider (for testing)")
	headless    = flag.Bool("headless", false, "run without a window")
)

func init() {
	// GLFW and GL calls must stay on the main thread
	runtime.LockOSThread()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-orb %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *headless {
		cfg.Render.Enabled = false
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-orb",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	machine := state.NewMachine()
	checker := health.NewChecker(version)

	// Voice session
	var provider session.Provider
	if *useMock {
		logger.Info("using mock voice provider")
		provider = session.NewMock()
	} else {
		provider = session.NewElevenLabs(session.Config{
			AgentID:          cfg.Session.AgentID,
			APIKey:           cfg.Session.APIKey,
			BaseURL:          cfg.Session.BaseURL,
			HandshakeTimeout: cfg.Session.HandshakeTimeout,
			ReadTimeout:      cfg.Session.ReadTimeout,
			WriteTimeout:     cfg.Session.WriteTimeout,
		}, logger)
	}

	sess := session.New(provider, machine, session.ControllerConfig{
		TickInterval:     cfg.Session.TickInterval,
		OutputSampleRate: cfg.Session.OutputSampleRate,
	}, logger)

	checker.Register(health.ComponentSession, func() (bool, string) {
		if !*useMock && cfg.Session.AgentID == "" {
			return false, "no agent id configured"
		}
		snap := machine.Snapshot()
		if snap.Error != "" {
			return true, snap.Phase.String() + ": " + snap.Error
		}
		return true, snap.Phase.String()
	})

	// Microphone and speaker
	var bridge *audio.Bridge
	if cfg.Audio.Enabled {
		bridge = audio.NewBridge(audio.Config{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       1,
			ChunkDuration:  cfg.Audio.ChunkDuration,
			PlaybackRate:   cfg.Session.OutputSampleRate,
			PlaybackCmd:    cfg.Audio.PlaybackCmd,
			CaptureCmd:     cfg.Audio.CaptureCmd,
			RestartBackoff: cfg.Audio.RestartBackoff,
		}, logger)
		defer bridge.Close()

		checker.Register(health.ComponentAudio, func() (bool, string) {
			if err := bridge.Check(); err != nil {
				return false, err.Error()
			}
			return true, "available"
		})

		if bridge.IsAvailable() {
			sess.SetAudioSink(bridge)
			bridge.OnAudioChunk(func(chunk audio.AudioChunk) {
				sess.SendAudio(chunk.Data)
			})
			if err := bridge.StartCapture(ctx); err != nil {
				logger.Warn("microphone capture failed", "error", err)
			}
		} else {
			logger.Warn("audio tools unavailable, running without microphone or speaker")
		}
	}

	// Orb
	mesh := orb.NewIcosphere(float32(cfg.Orb.Radius), cfg.Orb.Detail)
	deformer := orb.NewDeformer(mesh, noise.NewSimplex(cfg.Orb.Seed), orb.DeformerConfig{
		NoiseScale:        cfg.Orb.NoiseScale,
		SmoothingRate:     cfg.Orb.SmoothingRate,
		TimeScale:         cfg.Orb.TimeScale,
		SpeakingTimeScale: cfg.Orb.SpeakingTimeScale,
		YawRate:           cfg.Orb.YawRate,
		SpeakingYawRate:   cfg.Orb.SpeakingYawRate,
		PitchRate:         cfg.Orb.PitchRate,
	})
	stars := orb.NewStarfield(cfg.Orb.Stars, rand.New(rand.NewSource(cfg.Orb.Seed)))
	animator := orb.NewAnimator(deformer, stars, machine, orb.AnimatorConfig{
		FrameInterval: cfg.Orb.FrameInterval(),
		MaxStep:       cfg.Orb.MaxStep,
	}, logger)

	// Ambient soundscape
	var player *ambient.Player
	if cfg.Ambient.Enabled {
		var out ambient.Output
		if o, err := otoout.New(cfg.Ambient.SampleRate, cfg.Ambient.ReadyWait); err != nil {
			logger.Warn("audio output unavailable", "error", err)
		} else {
			out = o
		}
		player = ambient.New(out, ambient.Config{
			AssetPath:  cfg.Ambient.AssetPath,
			Volume:     cfg.Ambient.Volume,
			SampleRate: cfg.Ambient.SampleRate,
		}, logger.With("component", "ambient"))
		defer player.Close()

		checker.Register(health.ComponentAmbient, func() (bool, string) {
			return player.Source() != ambient.SourceSilent, player.Source().String()
		})

		if cfg.Ambient.FollowSession {
			go followSession(ctx, machine, player)
		} else {
			player.Start()
		}
	}

	// Metrics
	m := metrics.New("goorb")
	sources := metrics.Sources{
		Intensity:     func() float64 { return animator.Latest().Intensity },
		Mode:          func() float64 { return float64(animator.Latest().Mode) },
		Frames:        func() float64 { return float64(animator.Frames()) },
		Phase:         func() float64 { return float64(machine.Phase()) },
		Volume:        func() float64 { return machine.Snapshot().Volume },
		SessionStarts: func() float64 { return float64(sess.Stats().Starts) },
		SessionErrors: func() float64 { return float64(sess.Stats().Errors) },
	}
	if player != nil {
		sources.AmbientPlaying = func() float64 { return metrics.Bool(player.State() == ambient.Playing) }
		sources.AmbientStarts = func() float64 { return float64(player.Stats().Starts) }
	}
	m.Bind(sources)

	go func() {
		if err := animator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("animator error", "error", err)
		}
	}()
	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session loop error", "error", err)
		}
	}()

	// HTTP API
	var srv *server.Server
	if cfg.Server.Enabled {
		deps := server.Deps{
			Machine:  machine,
			Session:  sess,
			Animator: animator,
			Health:   checker,
			Metrics:  m,
			Config:   cfg,
		}
		if player != nil {
			deps.Ambient = player
		}
		srv = server.New(cfg.Server, deps, logger, version)

		go srv.Run(ctx)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	if cfg.Session.AutoStart {
		go func() {
			if err := sess.Start(ctx); err != nil {
				logger.Warn("auto start failed", "error", err)
			}
		}()
	}

	printStartupBanner(cfg, version)

	if cfg.Render.Enabled {
		if err := runWindow(ctx, cfg.Render, animator, sess, player, checker, logger); err != nil {
			logger.Error("renderer unavailable, continuing headless", "error", err)
			checker.SetComponent(health.ComponentRenderer, false, err.Error())
			<-ctx.Done()
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	// Stop in order: server -> session -> ambient -> animator -> audio
	if srv != nil {
		logger.Info("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
	}

	if err := sess.End(shutdownCtx); err != nil {
		logger.Warn("session end error", "error", err)
	}
	sess.Close()

	if player != nil {
		player.Stop()
	}

	animator.Stop()

	if bridge != nil {
		bridge.StopCapture()
	}

	logger.Info("go-orb stopped")
}

// runWindow blocks on the main thread until the window closes or ctx ends.
// Closing the window counts as a shutdown request.
func runWindow(ctx context.Context, cfg config.RenderConfig, animator *orb.Animator, sess *session.Session, player *ambient.Player, checker *health.Checker, logger *slog.Logger) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw init: %w", err)
	}
	defer glfw.Terminate()

	controls := render.Controls{
		ToggleSession: func() {
			go func() {
				if err := sess.Toggle(ctx); err != nil {
					logger.Warn("session toggle failed", "error", err)
				}
			}()
		},
	}
	if player != nil {
		controls.ToggleAmbient = func() {
			if player.State() == ambient.Playing {
				player.Stop()
			} else {
				player.Start()
			}
		}
		controls.Suspend = func(suspended bool) {
			if suspended {
				player.Suspend()
			} else {
				player.Resume()
			}
		}
	}

	r, err := render.New(render.Config{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Title:     cfg.Title,
		FOV:       float32(cfg.FOV),
		CameraZ:   float32(cfg.CameraZ),
		Opacity:   float32(cfg.Opacity),
		ShaderDir: cfg.ShaderDir,
		VSync:     cfg.VSync,
	}, animator, controls, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	checker.SetComponent(health.ComponentRenderer, true, "window open")
	defer checker.SetComponent(health.ComponentRenderer, false, "window closed")

	return r.Run(ctx)
}

// followSession plays the ambient soundscape only while a conversation is
// connected.
func followSession(ctx context.Context, machine *state.Machine, player *ambient.Player) {
	updates := machine.Subscribe()
	defer machine.Unsubscribe(updates)

	playing := false
	apply := func(connected bool) {
		if connected == playing {
			return
		}
		playing = connected
		if connected {
			player.Start()
		} else {
			player.Stop()
		}
	}

	apply(machine.Phase().Connected())
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			// the channel drops when full, so read the live phase
			apply(machine.Phase().Connected())
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🔮 go-orb v" + version)
	fmt.Println("   Voice agent orb")
	fmt.Println()
	if cfg.Server.Enabled {
		fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
		fmt.Println()
		fmt.Println("   Endpoints:")
		fmt.Println("   GET  /health              - Health check")
		fmt.Println("   GET  /api/state           - Conversation state")
		fmt.Println("   POST /api/session/start   - Start a conversation")
		fmt.Println("   POST /api/session/end     - End the conversation")
		fmt.Println("   GET  /api/orb             - Latest orb frame")
		fmt.Println("   GET  /api/orb/mesh.glb    - Deformed mesh as glTF")
		fmt.Println("   WS   /api/orb/stream      - Real-time orb stream")
		fmt.Println("   GET  /api/ambient         - Ambient player status")
		fmt.Println("   GET  /metrics             - Prometheus metrics")
		fmt.Println()
	}
	if cfg.Render.Enabled {
		fmt.Println("   Keys: Space start/end conversation, M toggle ambient, Esc quit")
	}
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
