// Package config loads parley's settings from defaults, a YAML file and the
// environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"parley/internal/auth"
	pkgdatabase "parley/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. PARLEY_HTTP_PORT.
const EnvPrefix = "PARLEY"

// Journal backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// ARCHITECTURAL DISCOVERY: one struct serves both loaders. yaml tags name the
// file keys; sections carry envconfig tags and leaves use split_words, so a
// variable is PARLEY_<SECTION>_<FIELD_WORDS>. Leaves must not carry envconfig
// tags: envconfig falls back to the bare tag name, and PATH or PORT would
// then be read from the ambient environment.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Journal   JournalConfig   `yaml:"journal" envconfig:"JOURNAL"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Room      RoomConfig      `yaml:"room" envconfig:"ROOM"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// DatabaseConfig mirrors pkg/database.Config.
type DatabaseConfig struct {
	Path            string        `yaml:"path" split_words:"true"`
	MaxConnections  int           `yaml:"max_connections" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" split_words:"true"`
	WriteBuffer     int           `yaml:"write_buffer" split_words:"true"`
	RetryDelay      time.Duration `yaml:"retry_delay" split_words:"true"`
}

// JournalConfig selects where room transcripts and session audits are kept.
// Users always live in the sqlite database.
type JournalConfig struct {
	Backend   string `yaml:"backend" split_words:"true"`
	Dir       string `yaml:"dir" split_words:"true"`
	QueueSize int    `yaml:"queue_size" split_words:"true"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" split_words:"true"`
	SweepInterval time.Duration `yaml:"sweep_interval" split_words:"true"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" split_words:"true"`
	PongWait     time.Duration `yaml:"pong_wait" split_words:"true"`
	SendBuffer   int           `yaml:"send_buffer" split_words:"true"`
	HubBuffer    int           `yaml:"hub_buffer" split_words:"true"`
}

// RoomConfig holds defaults for rooms created over the API.
type RoomConfig struct {
	Logged bool `yaml:"logged" split_words:"true"`
}

// RateLimitConfig bounds message and reaction posts per user, and login
// attempts per client address. Zero per-minute values disable a limiter.
type RateLimitConfig struct {
	PerMinute      int `yaml:"per_minute" split_words:"true"`
	Burst          int `yaml:"burst" split_words:"true"`
	LoginPerMinute int `yaml:"login_per_minute" split_words:"true"`
	LoginBurst     int `yaml:"login_burst" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
	Caller bool   `yaml:"caller" split_words:"true"`
}

// AuthConfig carries the argon2id cost for newly hashed passwords. Existing
// hashes keep the parameters they were created with.
type AuthConfig struct {
	Memory      uint32 `yaml:"memory" split_words:"true"`
	Iterations  uint32 `yaml:"iterations" split_words:"true"`
	Parallelism uint8  `yaml:"parallelism" split_words:"true"`
}

// CORSConfig controls cross-origin access to the HTTP API. List values are
// comma separated in the environment.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
	AllowedMethods []string `yaml:"allowed_methods" split_words:"true"`
	AllowedHeaders []string `yaml:"allowed_headers" split_words:"true"`
	MaxAge         int      `yaml:"max_age" split_words:"true"`
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() *Config {
	db := pkgdatabase.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:            db.DatabasePath,
			MaxConnections:  db.MaxConnections,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
			WriteBuffer:     db.WriteBuffer,
			RetryDelay:      db.RetryDelay,
		},
		Journal: JournalConfig{
			Backend:   BackendSQLite,
			Dir:       "./data/journal",
			QueueSize: 1024,
		},
		Session: SessionConfig{
			IdleTimeout:   5 * time.Minute,
			SweepInterval: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			SendBuffer:   100,
			HubBuffer:    1000,
		},
		Room: RoomConfig{Logged: true},
		RateLimit: RateLimitConfig{
			PerMinute:      60,
			Burst:          10,
			LoginPerMinute: 10,
			LoginBurst:     5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Memory:      auth.DefaultParams.Memory,
			Iterations:  auth.DefaultParams.Iterations,
			Parallelism: auth.DefaultParams.Parallelism,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Session-Token"},
			MaxAge:         86400,
		},
	}
}

// Validate rejects configurations the application cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return errors.New("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}

	if err := c.DatabaseConfig().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	switch c.Journal.Backend {
	case BackendSQLite:
	case BackendBadger:
		if c.Journal.Dir == "" {
			return errors.New("journal dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}
	if c.Journal.QueueSize <= 0 {
		return errors.New("journal queue size must be positive")
	}

	if c.Session.IdleTimeout <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session sweep interval must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("websocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return errors.New("websocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 || c.WebSocket.HubBuffer <= 0 {
		return errors.New("websocket buffers must be positive")
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.LoginPerMinute < 0 {
		return errors.New("rate limits cannot be negative")
	}
	if c.RateLimit.PerMinute > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("rate limit burst must be positive")
	}
	if c.RateLimit.LoginPerMinute > 0 && c.RateLimit.LoginBurst <= 0 {
		return errors.New("login rate limit burst must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}

	if c.Auth.Memory < 8*uint32(c.Auth.Parallelism) || c.Auth.Iterations == 0 || c.Auth.Parallelism == 0 {
		return errors.New("auth argon2 parameters out of range")
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return errors.New("cors allowed origins cannot be empty")
	}
	if c.CORS.MaxAge < 0 {
		return errors.New("cors max age cannot be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// DatabaseConfig converts the database section for pkg/database.
func (c *Config) DatabaseConfig() *pkgdatabase.Config {
	return &pkgdatabase.Config{
		DatabasePath:    c.Database.Path,
		MaxConnections:  c.Database.MaxConnections,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		WriteBuffer:     c.Database.WriteBuffer,
		RetryDelay:      c.Database.RetryDelay,
	}
}

// AuthParams returns the argon2id parameters for new hashes.
func (c *Config) AuthParams() auth.Params {
	p := auth.DefaultParams
	p.Memory = c.Auth.Memory
	p.Iterations = c.Auth.Iterations
	p.Parallelism = c.Auth.Parallelism
	return p
}

// LoadFromEnv returns the defaults overridden by PARLEY_* variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// LoadFromFile returns the defaults overridden by the YAML file at path.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence layers defaults, then the file (when path is not
// empty), then the environment, and validates the result once.
// FUNCTIONAL DISCOVERY: a named file that cannot be read is an error. Falling
// back to defaults would start the server on the wrong database.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides only the variables that are set; the struct carries no
// envconfig defaults, which would otherwise clobber file values.
func applyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read %s_* environment: %w", EnvPrefix, err)
	}
	return nil
}
