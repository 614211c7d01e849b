// Package config loads service configuration from a YAML file and
// CUTOVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides.
// CUTOVER_DATABASE_URL maps to database.url.
const EnvPrefix = "CUTOVER_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Log           LogConfig           `koanf:"log"`
	JWT           JWTConfig           `koanf:"jwt"`
	CORS          CORSConfig          `koanf:"cors"`
	Runbook       RunbookConfig       `koanf:"runbook"`
	Escalation    EscalationConfig    `koanf:"escalation"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// RedisConfig enables the shared escalation lock. Empty URL keeps locks in-process.
type RedisConfig struct {
	URL            string        `koanf:"url"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
	LockAttempts   uint          `koanf:"lock_attempts"`
	LockRetryDelay time.Duration `koanf:"lock_retry_delay"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig holds bearer token settings.
type JWTConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// RunbookConfig holds plan defaults.
type RunbookConfig struct {
	HypercareWeeks int `koanf:"hypercare_weeks"`
}

// EscalationConfig holds escalation engine settings.
type EscalationConfig struct {
	// SweepInterval enables the periodic breach/escalation sweep. Zero disables it.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	RuleCacheTTL  time.Duration `koanf:"rule_cache_ttl"`
}

// NotificationsConfig holds escalation delivery settings.
type NotificationsConfig struct {
	Enabled        bool             `koanf:"enabled"`
	QueueSize      int              `koanf:"queue_size"`
	NumWorkers     int              `koanf:"num_workers"`
	RateLimit      float64          `koanf:"rate_limit"`
	DefaultChannel string           `koanf:"default_channel"`
	DefaultTarget  string           `koanf:"default_target"`
	BaseURL        string           `koanf:"base_url"`
	Retry          RetryConfig      `koanf:"retry"`
	Breaker        BreakerConfig    `koanf:"breaker"`
	Mattermost     MattermostConfig `koanf:"mattermost"`
	Slack          SlackConfig      `koanf:"slack"`
}

// RetryConfig holds delivery retry settings.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// BreakerConfig holds per-channel circuit breaker settings.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
	OpenTimeout         time.Duration `koanf:"open_timeout"`
}

// MattermostConfig holds Mattermost webhook settings.
type MattermostConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Username   string        `koanf:"username"`
	IconURL    string        `koanf:"icon_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	APIURL   string `koanf:"api_url"`
}

// Default returns configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Redis: RedisConfig{
			LockTTL:        30 * time.Second,
			LockAttempts:   20,
			LockRetryDelay: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			TokenDuration: 12 * time.Hour,
		},
		Runbook: RunbookConfig{
			HypercareWeeks: 2,
		},
		Escalation: EscalationConfig{
			RuleCacheTTL: time.Minute,
		},
		Notifications: NotificationsConfig{
			QueueSize:  256,
			NumWorkers: 2,
			RateLimit:  5,
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        30 * time.Second,
				BackoffMultiplier: 2.0,
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         time.Minute,
			},
			Mattermost: MattermostConfig{
				Username: "Cutover",
				Timeout:  10 * time.Second,
			},
		},
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CUTOVER_SECTION_SOME_KEY to section.some_key.
// A double underscore descends one more level:
// CUTOVER_NOTIFICATIONS_RETRY__MAX_ATTEMPTS is notifications.retry.max_attempts.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + strings.ReplaceAll(rest, "__", ".")
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if c.Runbook.HypercareWeeks <= 0 {
		errs = append(errs, errors.New("runbook.hypercare_weeks must be positive"))
	}
	if c.Escalation.SweepInterval < 0 {
		errs = append(errs, errors.New("escalation.sweep_interval must not be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Notifications.Enabled && c.Notifications.NumWorkers <= 0 {
		errs = append(errs, errors.New("notifications.num_workers must be positive"))
	}
	return errors.Join(errs...)
}
