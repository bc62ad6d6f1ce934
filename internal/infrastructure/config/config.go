package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/allabud/auction-backend/internal/domain/auction"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Auction   AuctionConfig   `koanf:"auction"`
	Locks     LockConfig      `koanf:"locks"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Enabled switches the store from in-memory to Postgres.
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Enabled switches on the redis-backed bid rate limiter.
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type AuctionConfig struct {
	MinDuration         time.Duration        `koanf:"min_duration"`
	EndingSoonThreshold time.Duration        `koanf:"ending_soon_threshold"`
	Ladder              []auction.LadderRule `koanf:"ladder"`
}

type LockConfig struct {
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type SchedulerConfig struct {
	Interval         time.Duration `koanf:"interval"`
	EndingSoonWindow time.Duration `koanf:"ending_soon_window"`
	EndingSoonEvery  time.Duration `koanf:"ending_soon_every"`
	GracePeriod      time.Duration `koanf:"grace_period"`
}

type RateLimitConfig struct {
	MaxBidsPerMinute     int `koanf:"max_bids_per_minute"`
	MaxRequestsPerMinute int `koanf:"max_requests_per_minute"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `koanf:"tracing_enabled"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
}

// Load builds the configuration from defaults, the optional
// configs/config.yaml, and AUC_-prefixed environment variables, in that
// order of precedence.
func Load() (*Config, error) {
	return LoadFrom("configs/config.yaml")
}

func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auction: AuctionConfig{
			MinDuration:         5 * time.Minute,
			EndingSoonThreshold: time.Minute,
			Ladder:              auction.DefaultLadderRules(),
		},
		Locks: LockConfig{
			Timeout:    500 * time.Millisecond,
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Interval:         5 * time.Second,
			EndingSoonWindow: 5 * time.Minute,
			EndingSoonEvery:  30 * time.Second,
			GracePeriod:      time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxBidsPerMinute:     10,
			MaxRequestsPerMinute: 100,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// The config file is optional.
	if path != "" {
		_ = k.Load(file.Provider(path), yaml.Parser())
	}

	if err := k.Load(env.Provider("AUC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUC_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled")
	}
	if _, err := auction.NewLadder(c.Auction.Ladder); err != nil {
		return fmt.Errorf("invalid bid ladder: %w", err)
	}
	return nil
}
