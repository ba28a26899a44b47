package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Rooms     RoomConfig
	WebSocket WebSocketConfig
	Runner    RunnerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"3001"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// RoomConfig holds collaboration room configuration.
type RoomConfig struct {
	GracePeriod     time.Duration `envconfig:"ROOM_GRACE_PERIOD" default:"5m"`
	DefaultLanguage string        `envconfig:"ROOM_DEFAULT_LANGUAGE" default:"java"`
	WhiteboardLimit int           `envconfig:"ROOM_WHITEBOARD_LIMIT" default:"5000"`
}

// WebSocketConfig holds event channel configuration.
type WebSocketConfig struct {
	ReadBufferSize  int           `envconfig:"WS_READ_BUFFER" default:"4096"`
	WriteBufferSize int           `envconfig:"WS_WRITE_BUFFER" default:"4096"`
	MaxMessageBytes int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"1048576"`
	SendBuffer      int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	PingPeriod      time.Duration `envconfig:"WS_PING_PERIOD" default:"30s"`
	WriteWait       time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
}

// RunnerConfig holds code execution configuration.
type RunnerConfig struct {
	Timeout         time.Duration `envconfig:"RUNNER_TIMEOUT" default:"10s"`
	WorkDir         string        `envconfig:"RUNNER_WORKDIR"`
	MaxOutputBytes  int           `envconfig:"RUNNER_MAX_OUTPUT_BYTES" default:"65536"`
	MaxConcurrent   int           `envconfig:"RUNNER_MAX_CONCURRENT" default:"8"`
	JSEngine        string        `envconfig:"RUNNER_JS_ENGINE" default:"node"`
	ToolchainFile   string        `envconfig:"RUNNER_TOOLCHAIN_FILE"`
	JanitorInterval time.Duration `envconfig:"RUNNER_JANITOR_INTERVAL" default:"10m"`
	StaleAfter      time.Duration `envconfig:"RUNNER_STALE_AFTER" default:"30m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Runner.WorkDir == "" {
		cfg.Runner.WorkDir = defaultWorkDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("RUNNER_TIMEOUT must be positive, got %s", c.Runner.Timeout)
	}
	if c.Runner.MaxConcurrent <= 0 {
		return fmt.Errorf("RUNNER_MAX_CONCURRENT must be positive, got %d", c.Runner.MaxConcurrent)
	}
	if c.Runner.JSEngine != "node" && c.Runner.JSEngine != "embedded" {
		return fmt.Errorf("RUNNER_JS_ENGINE must be node or embedded, got %q", c.Runner.JSEngine)
	}
	if c.Rooms.GracePeriod < 0 {
		return fmt.Errorf("ROOM_GRACE_PERIOD must not be negative, got %s", c.Rooms.GracePeriod)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.WebSocket.SendBuffer)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3001",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		Rooms: RoomConfig{
			GracePeriod:     5 * time.Minute,
			DefaultLanguage: "java",
			WhiteboardLimit: 5000,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MaxMessageBytes: 1 << 20,
			SendBuffer:      256,
			PingPeriod:      30 * time.Second,
			WriteWait:       10 * time.Second,
		},
		Runner: RunnerConfig{
			Timeout:         10 * time.Second,
			WorkDir:         defaultWorkDir(),
			MaxOutputBytes:  64 << 10,
			MaxConcurrent:   8,
			JSEngine:        "node",
			JanitorInterval: 10 * time.Minute,
			StaleAfter:      30 * time.Minute,
		},
	}
}

func defaultWorkDir() string {
	return filepath.Join(os.TempDir(), "codesphere-runs")
}
