// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Records   RecordsConfig   `mapstructure:"records"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// PortFallback lets the OS pick a free port when Port is taken.
	PortFallback bool `mapstructure:"port_fallback"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CORSConfig lists browser origins allowed to call the API and open sockets.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ProgressConfig tunes the mock run driver and per-subscriber delivery.
type ProgressConfig struct {
	Steps        int           `mapstructure:"steps"`
	StepInterval time.Duration `mapstructure:"step_interval"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	ReadBuffer   int           `mapstructure:"read_buffer"`
	WriteBuffer  int           `mapstructure:"write_buffer"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
}

// RateLimitConfig throttles WebSocket joins per client address.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory record store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RecordsConfig bounds the recent-configs index.
type RecordsConfig struct {
	RecentCap int `mapstructure:"recent_cap"`
}

// PubSubConfig holds metadata for run-completion notifications. Leaving
// ProjectID empty keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.port_fallback", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("progress.steps", 20)
	v.SetDefault("progress.step_interval", time.Second)
	v.SetDefault("progress.send_timeout", 10*time.Second)
	v.SetDefault("progress.send_buffer", 64)
	v.SetDefault("ws.read_buffer", 1024)
	v.SetDefault("ws.write_buffer", 1024)
	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("database.table", "sweep_configs")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("records.recent_cap", 100)
	v.SetDefault("pubsub.topic_name", "sweep-runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 0-65535")
	}
	if c.Progress.Steps < 2 || c.Progress.Steps > 100 {
		return fmt.Errorf("progress.steps must be within 2-100")
	}
	if c.Progress.StepInterval <= 0 {
		return fmt.Errorf("progress.step_interval must be > 0")
	}
	if c.Progress.SendTimeout <= 0 {
		return fmt.Errorf("progress.send_timeout must be > 0")
	}
	if c.Progress.SendBuffer <= 0 {
		return fmt.Errorf("progress.send_buffer must be > 0")
	}
	if c.WS.PongWait > 0 && c.WS.PingInterval >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_interval must be shorter than ws.pong_wait")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be > 0 when rate limiting is enabled")
	}
	if c.Records.RecentCap <= 0 {
		return fmt.Errorf("records.recent_cap must be > 0")
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	return nil
}
