// Package config provides configuration management for go-orb
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Orb     OrbConfig     `mapstructure:"orb"`
	Ambient AmbientConfig `mapstructure:"ambient"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Render  RenderConfig  `mapstructure:"render"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	StreamHz        int           `mapstructure:"stream_hz"`
}

// SessionConfig configures the voice agent connection
type SessionConfig struct {
	AgentID          string        `mapstructure:"agent_id"`
	APIKey           string        `mapstructure:"api_key"` // GOORB_SESSION_API_KEY
	BaseURL          string        `mapstructure:"base_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	OutputSampleRate int           `mapstructure:"output_sample_rate"`
	AutoStart        bool          `mapstructure:"auto_start"`
}

// OrbConfig configures the orb mesh and motion
type OrbConfig struct {
	Radius            float64       `mapstructure:"radius"`
	Detail            int           `mapstructure:"detail"`
	Seed              int64         `mapstructure:"seed"`
	FrameHz           int           `mapstructure:"frame_hz"`
	MaxStep           time.Duration `mapstructure:"max_step"`
	NoiseScale        float64       `mapstructure:"noise_scale"`
	SmoothingRate     float64       `mapstructure:"smoothing_rate"`
	TimeScale         float64       `mapstructure:"time_scale"`
	SpeakingTimeScale float64       `mapstructure:"speaking_time_scale"`
	YawRate           float64       `mapstructure:"yaw_rate"`
	SpeakingYawRate   float64       `mapstructure:"speaking_yaw_rate"`
	PitchRate         float64       `mapstructure:"pitch_rate"`
	Stars             int           `mapstructure:"stars"`
}

// AmbientConfig configures the ambient soundscape
type AmbientConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	AssetPath     string        `mapstructure:"asset_path"`
	Volume        float64       `mapstructure:"volume"`
	SampleRate    int           `mapstructure:"sample_rate"`
	ReadyWait     time.Duration `mapstructure:"ready_wait"`
	FollowSession bool          `mapstructure:"follow_session"` // play only while connected
}

// AudioConfig configures microphone capture and speech playback
type AudioConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleRate     int           `mapstructure:"sample_rate"`
	ChunkDuration  time.Duration `mapstructure:"chunk_duration"`
	CaptureCmd     string        `mapstructure:"capture_cmd"`
	PlaybackCmd    string        `mapstructure:"playback_cmd"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
}

// RenderConfig configures the orb window
type RenderConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Width     int     `mapstructure:"width"`
	Height    int     `mapstructure:"height"`
	Title     string  `mapstructure:"title"`
	FOV       float64 `mapstructure:"fov"`
	CameraZ   float64 `mapstructure:"camera_z"`
	Opacity   float64 `mapstructure:"opacity"`
	ShaderDir string  `mapstructure:"shader_dir"` // hot-reloaded when set
	VSync     bool    `mapstructure:"vsync"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            9010,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			StreamHz:        10,
		},
		Session: SessionConfig{
			BaseURL:          "wss://api.elevenlabs.io/v1/convai/conversation",
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
			TickInterval:     50 * time.Millisecond,
			OutputSampleRate: 16000,
		},
		Orb: OrbConfig{
			Radius:            1,
			Detail:            1,
			Seed:              1,
			FrameHz:           60,
			MaxStep:           100 * time.Millisecond,
			NoiseScale:        0.5,
			SmoothingRate:     2,
			TimeScale:         1,
			SpeakingTimeScale: 2,
			YawRate:           0.1,
			SpeakingYawRate:   0.5,
			PitchRate:         0.05,
			Stars:             200,
		},
		Ambient: AmbientConfig{
			Enabled:       true,
			AssetPath:     "ambient-music.mp3",
			Volume:        0.08,
			SampleRate:    44100,
			ReadyWait:     2 * time.Second,
			FollowSession: true,
		},
		Audio: AudioConfig{
			Enabled:        true,
			SampleRate:     16000,
			ChunkDuration:  100 * time.Millisecond,
			CaptureCmd:     "arecord",
			PlaybackCmd:    "aplay",
			RestartBackoff: 500 * time.Millisecond,
		},
		Render: RenderConfig{
			Enabled: true,
			Width:   800,
			Height:  800,
			Title:   "go-orb",
			FOV:     45,
			CameraZ: 4,
			Opacity: 0.8,
			VSync:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Only warn, don't fail - we have defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	v.SetEnvPrefix("GOORB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")
	v.SetDefault("server.stream_hz", d.Server.StreamHz)

	// Session defaults; every key needs a default for env overrides to apply
	v.SetDefault("session.agent_id", "")
	v.SetDefault("session.api_key", "")
	v.SetDefault("session.base_url", d.Session.BaseURL)
	v.SetDefault("session.handshake_timeout", "10s")
	v.SetDefault("session.read_timeout", "60s")
	v.SetDefault("session.write_timeout", "5s")
	v.SetDefault("session.tick_interval", "50ms")
	v.SetDefault("session.output_sample_rate", d.Session.OutputSampleRate)
	v.SetDefault("session.auto_start", false)

	// Orb defaults
	v.SetDefault("orb.radius", d.Orb.Radius)
	v.SetDefault("orb.detail", d.Orb.Detail)
	v.SetDefault("orb.seed", d.Orb.Seed)
	v.SetDefault("orb.frame_hz", d.Orb.FrameHz)
	v.SetDefault("orb.max_step", "100ms")
	v.SetDefault("orb.noise_scale", d.Orb.NoiseScale)
	v.SetDefault("orb.smoothing_rate", d.Orb.SmoothingRate)
	v.SetDefault("orb.time_scale", d.Orb.TimeScale)
	v.SetDefault("orb.speaking_time_scale", d.Orb.SpeakingTimeScale)
	v.SetDefault("orb.yaw_rate", d.Orb.YawRate)
	v.SetDefault("orb.speaking_yaw_rate", d.Orb.SpeakingYawRate)
	v.SetDefault("orb.pitch_rate", d.Orb.PitchRate)
	v.SetDefault("orb.stars", d.Orb.Stars)

	// Ambient defaults
	v.SetDefault("ambient.enabled", d.Ambient.Enabled)
	v.SetDefault("ambient.asset_path", d.Ambient.AssetPath)
	v.SetDefault("ambient.volume", d.Ambient.Volume)
	v.SetDefault("ambient.sample_rate", d.Ambient.SampleRate)
	v.SetDefault("ambient.ready_wait", "2s")
	v.SetDefault("ambient.follow_session", d.Ambient.FollowSession)

	// Audio defaults
	v.SetDefault("audio.enabled", d.Audio.Enabled)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.chunk_duration", "100ms")
	v.SetDefault("audio.capture_cmd", d.Audio.CaptureCmd)
	v.SetDefault("audio.playback_cmd", d.Audio.PlaybackCmd)
	v.SetDefault("audio.restart_backoff", "500ms")

	// Render defaults
	v.SetDefault("render.enabled", d.Render.Enabled)
	v.SetDefault("render.width", d.Render.Width)
	v.SetDefault("render.height", d.Render.Height)
	v.SetDefault("render.title", d.Render.Title)
	v.SetDefault("render.fov", d.Render.FOV)
	v.SetDefault("render.camera_z", d.Render.CameraZ)
	v.SetDefault("render.opacity", d.Render.Opacity)
	v.SetDefault("render.shader_dir", "")
	v.SetDefault("render.vsync", d.Render.VSync)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.StreamHz < 1 || c.Server.StreamHz > 60 {
		return fmt.Errorf("stream_hz must be between 1 and 60, got %d", c.Server.StreamHz)
	}

	if c.Session.TickInterval <= 0 {
		return fmt.Errorf("session tick_interval must be positive, got %v", c.Session.TickInterval)
	}

	if c.Orb.Detail < 0 || c.Orb.Detail > 5 {
		return fmt.Errorf("orb detail must be between 0 and 5, got %d", c.Orb.Detail)
	}

	if c.Orb.Radius <= 0 {
		return fmt.Errorf("orb radius must be positive, got %f", c.Orb.Radius)
	}

	if c.Orb.FrameHz < 1 || c.Orb.FrameHz > 240 {
		return fmt.Errorf("frame_hz must be between 1 and 240, got %d", c.Orb.FrameHz)
	}

	if c.Orb.Stars < 0 {
		return fmt.Errorf("orb stars must not be negative, got %d", c.Orb.Stars)
	}

	if c.Ambient.Volume < 0 || c.Ambient.Volume > 1 {
		return fmt.Errorf("ambient volume must be between 0 and 1, got %f", c.Ambient.Volume)
	}

	if c.Ambient.SampleRate <= 0 {
		return fmt.Errorf("ambient sample_rate must be positive, got %d", c.Ambient.SampleRate)
	}

	if c.Audio.ChunkDuration <= 0 {
		return fmt.Errorf("audio chunk_duration must be positive, got %v", c.Audio.ChunkDuration)
	}

	if c.Render.Opacity < 0 || c.Render.Opacity > 1 {
		return fmt.Errorf("render opacity must be between 0 and 1, got %f", c.Render.Opacity)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// FrameInterval returns the animator tick period.
func (o OrbConfig) FrameInterval() time.Duration {
	return time.Second / time.Duration(o.FrameHz)
}
