// Package config loads the NeoGuard service configuration. Values come
// from three layers: built-in defaults, an optional YAML file, and
// environment variables, with the environment winning.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Registry RegistryConfig `yaml:"registry"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"NEOGUARD_LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"NEOGUARD_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"NEOGUARD_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"NEOGUARD_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"NEOGUARD_ALLOWED_ORIGINS"`
}

// DatabaseConfig configures Postgres persistence. An empty DSN keeps the
// service on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"NEOGUARD_POSTGRES_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"NEOGUARD_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"NEOGUARD_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"NEOGUARD_DB_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"NEOGUARD_DB_MIGRATE"`
}

// RedisConfig configures the registry read cache. An empty Addr disables
// caching.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"NEOGUARD_REDIS_ADDR"`
	Password string        `yaml:"password" env:"NEOGUARD_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"NEOGUARD_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"NEOGUARD_REDIS_TTL"`
}

// AuthConfig configures request authentication and rate limiting.
type AuthConfig struct {
	// JWTPublicKeyFile is the PEM file holding the RSA public key user
	// tokens are verified against. Empty disables user authentication,
	// which is only sane for local development.
	JWTPublicKeyFile string `yaml:"jwt_public_key_file" env:"NEOGUARD_JWT_PUBLIC_KEY_FILE"`
	// RelayerPublicKeyFile verifies relayer service tokens. Empty
	// disables the relayer endpoints.
	RelayerPublicKeyFile string   `yaml:"relayer_public_key_file" env:"NEOGUARD_RELAYER_PUBLIC_KEY_FILE"`
	AllowedRelayers      []string `yaml:"allowed_relayers" env:"NEOGUARD_ALLOWED_RELAYERS"`
	RateLimitPerSecond   int      `yaml:"rate_limit_per_second" env:"NEOGUARD_RATE_LIMIT_PER_SECOND"`
	RateLimitBurst       int      `yaml:"rate_limit_burst" env:"NEOGUARD_RATE_LIMIT_BURST"`
}

// RegistryConfig configures the deployment registry.
type RegistryConfig struct {
	Admin             string        `yaml:"admin" env:"NEOGUARD_REGISTRY_ADMIN"`
	Implementation    string        `yaml:"implementation" env:"NEOGUARD_IMPLEMENTATION"`
	DefaultTimelock   time.Duration `yaml:"default_timelock" env:"NEOGUARD_DEFAULT_TIMELOCK"`
	ReconcileSchedule string        `yaml:"reconcile_schedule" env:"NEOGUARD_RECONCILE_SCHEDULE"`
}

// EventsConfig configures the event stream.
type EventsConfig struct {
	BufferSize    int  `yaml:"buffer_size" env:"NEOGUARD_EVENT_BUFFER_SIZE"`
	ArchiveBuffer int  `yaml:"archive_buffer" env:"NEOGUARD_EVENT_ARCHIVE_BUFFER"`
	Archive       bool `yaml:"archive" env:"NEOGUARD_EVENT_ARCHIVE"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"NEOGUARD_LOG_LEVEL"`
	Dev   bool   `yaml:"dev" env:"NEOGUARD_LOG_DEV"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			TTL: 5 * time.Minute,
		},
		Auth: AuthConfig{
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Registry: RegistryConfig{
			DefaultTimelock:   604800 * time.Second,
			ReconcileSchedule: "@every 5m",
		},
		Events: EventsConfig{
			BufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment. A missing file is not an error; env and defaults still
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env and defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Auth.RateLimitPerSecond <= 0 {
		return fmt.Errorf("auth.rate_limit_per_second must be positive")
	}
	if c.Auth.RateLimitBurst <= 0 {
		return fmt.Errorf("auth.rate_limit_burst must be positive")
	}
	if c.Registry.DefaultTimelock <= 0 {
		return fmt.Errorf("registry.default_timelock must be positive")
	}
	if c.Events.Archive && c.Database.DSN == "" {
		return fmt.Errorf("events.archive requires database.dsn")
	}
	return nil
}
