// Package config holds the runtime configuration of the duochat server.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// YAML file (--config or DUOCHAT_CONFIG), environment variables, then
// command-line flags. Invalid numeric values fall back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Push queue backends.
const (
	QueueMemory = "memory"
	QueueAsynq  = "asynq"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	Push   PushConfig   `yaml:"push"`
	AWS    AWSConfig    `yaml:"aws"`
	Log    LogConfig    `yaml:"log"`
}

// RateLimitConfig defines the per-connection token bucket for
// persistence-backed events.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// ServerConfig covers the HTTP listener and WebSocket transport.
type ServerConfig struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	// SendBuffer is the number of outbound frames queued per connection
	// before it is treated as a slow consumer.
	SendBuffer      int           `yaml:"send_buffer"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures the handshake authenticator.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	// SubscriptionsTable moves push subscriptions to DynamoDB when set.
	SubscriptionsTable string `yaml:"subscriptions_table"`
}

// RedisConfig enables the user profile cache and the asynq push queue.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	UserCacheTTL time.Duration `yaml:"user_cache_ttl"`
}

// PushConfig configures offline push delivery.
type PushConfig struct {
	VAPIDPublicKey        string        `yaml:"vapid_public_key"`
	VAPIDPrivateKey       string        `yaml:"vapid_private_key"`
	ContactEmail          string        `yaml:"contact_email"`
	Queue                 string        `yaml:"queue"`
	Workers               int           `yaml:"workers"`
	Buffer                int           `yaml:"buffer"`
	Parallelism           int           `yaml:"parallelism"`
	Timeout               time.Duration `yaml:"timeout"`
	PresenceNotifications bool          `yaml:"presence_notifications"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// AWSConfig configures AWS-backed secret resolution.
type AWSConfig struct {
	Region      string `yaml:"region"`
	ParamPrefix string `yaml:"param_prefix"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 4096,
			RateLimit: RateLimitConfig{
				Burst:          5,
				RefillInterval: time.Second,
			},
			SendBuffer:      256,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			CookieName: "duochat_auth",
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Redis: RedisConfig{
			UserCacheTTL: 5 * time.Minute,
		},
		Push: PushConfig{
			ContactEmail:          "mailto:admin@example.com",
			Queue:                 QueueMemory,
			Workers:               4,
			Buffer:                256,
			Parallelism:           8,
			Timeout:               10 * time.Second,
			PresenceNotifications: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (or
// DUOCHAT_CONFIG when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("DUOCHAT_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Sanitize()
	return cfg, nil
}

// LoadFile merges the YAML file at path into c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Sanitize replaces invalid values with defaults.
func (c *Config) Sanitize() {
	def := Default()

	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Server.MaxMessageSize <= 0 {
		c.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = def.Server.RateLimit.Burst
	}
	if c.Server.RateLimit.RefillInterval <= 0 {
		c.Server.RateLimit.RefillInterval = def.Server.RateLimit.RefillInterval
	}
	if c.Server.SendBuffer <= 0 {
		c.Server.SendBuffer = def.Server.SendBuffer
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = def.Auth.CookieName
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Redis.UserCacheTTL <= 0 {
		c.Redis.UserCacheTTL = def.Redis.UserCacheTTL
	}

	c.Push.Queue = strings.ToLower(strings.TrimSpace(c.Push.Queue))
	if c.Push.Queue == "" {
		c.Push.Queue = def.Push.Queue
	}
	if c.Push.ContactEmail == "" {
		c.Push.ContactEmail = def.Push.ContactEmail
	}
	if !strings.HasPrefix(c.Push.ContactEmail, "mailto:") && !strings.HasPrefix(c.Push.ContactEmail, "https:") {
		c.Push.ContactEmail = "mailto:" + c.Push.ContactEmail
	}
	if c.Push.Workers <= 0 {
		c.Push.Workers = def.Push.Workers
	}
	if c.Push.Buffer <= 0 {
		c.Push.Buffer = def.Push.Buffer
	}
	if c.Push.Parallelism <= 0 {
		c.Push.Parallelism = def.Push.Parallelism
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = def.Push.Timeout
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate reports settings that cannot work together. It runs after secrets
// have been resolved.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url (DB_URL) is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Push.Queue {
	case QueueMemory:
	case QueueAsynq:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url (REDIS_URL) is required for the asynq push queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown push queue %q", c.Push.Queue))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push needs both VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
