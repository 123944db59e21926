// Package config resolves runtime configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit config file is named.
const DefaultPath = "configs/default.yaml"

type Config struct {
	HTTPAddr     string `yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr     string `yaml:"grpc_addr" env:"GRPC_ADDR"`
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Empty DatabaseURL / RedisURL select the in-memory stores.
	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL       string `yaml:"redis_url" env:"REDIS_URL"`
	AutoMigrate    bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	AdminJWTSecret string `yaml:"admin_jwt_secret" env:"ADMIN_JWT_SECRET"`

	Events      Events      `yaml:"events"`
	Session     Session     `yaml:"session"`
	Maintenance Maintenance `yaml:"maintenance"`
	HTTP        HTTP        `yaml:"http"`
}

// Events selects the broker sink: Kafka when brokers are set, else NATS when
// a URL is set, else the log sink.
type Events struct {
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS"`
	Topic        string   `yaml:"topic" env:"EVENTS_TOPIC"`
	NATSURL      string   `yaml:"nats_url" env:"NATS_URL"`
	QueueSize    int      `yaml:"queue_size" env:"EVENTS_QUEUE_SIZE"`
}

type Session struct {
	CookieName string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME"`
	IdleTTL    time.Duration `yaml:"idle_ttl" env:"SESSION_IDLE_TTL"`
	MaxAge     time.Duration `yaml:"max_age" env:"SESSION_MAX_AGE"`
}

type Maintenance struct {
	BlockPurgeInterval   time.Duration `yaml:"block_purge_interval" env:"BLOCK_PURGE_INTERVAL"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval" env:"SESSION_SWEEP_INTERVAL"`
}

type HTTP struct {
	RateLimitRPS   float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Events: Events{
			Topic:     "auth-events",
			QueueSize: 1024,
		},
		Session: Session{
			CookieName: "SESSION",
			IdleTTL:    30 * time.Minute,
			MaxAge:     12 * time.Hour,
		},
		Maintenance: Maintenance{
			BlockPurgeInterval:   time.Minute,
			SessionSweepInterval: 5 * time.Minute,
		},
		HTTP: HTTP{
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			MaxBodyBytes:   1 << 20,
		},
	}
}

// Load resolves configuration from path (a missing file is not an error)
// and the process environment.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, env envconfig.Lookuper) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           &cfg,
		Lookuper:         env,
		DefaultOverwrite: true,
	}); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return errors.New("config: http_addr is required")
	case c.Session.CookieName == "":
		return errors.New("config: session.cookie_name is required")
	case c.Session.IdleTTL <= 0:
		return errors.New("config: session.idle_ttl must be positive")
	case c.Session.MaxAge < c.Session.IdleTTL:
		return errors.New("config: session.max_age must not be shorter than idle_ttl")
	case c.Events.QueueSize <= 0:
		return errors.New("config: events.queue_size must be positive")
	case c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0:
		return errors.New("config: rate limit must be positive")
	case c.Maintenance.BlockPurgeInterval <= 0 || c.Maintenance.SessionSweepInterval <= 0:
		return errors.New("config: maintenance intervals must be positive")
	}
	return nil
}

// MemoryMode reports whether no external stores are configured.
func (c Config) MemoryMode() bool {
	return c.DatabaseURL == "" && c.RedisURL == ""
}
