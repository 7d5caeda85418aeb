package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command-line overrides. Only flags the user actually set
// are applied.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath     string
	Port           string
	AllowedOrigins []string
	StoreDriver    string
	DatabaseURL    string
	RedisURL       string
	PushQueue      string
	LogLevel       string
	LogFormat      string
}

// RegisterFlags defines the server flags on fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "path to a YAML config file (default $DUOCHAT_CONFIG)")
	fs.StringVar(&f.Port, "port", "", "listen address, e.g. :8080")
	fs.StringSliceVar(&f.AllowedOrigins, "allowed-origins", nil, "comma-separated WebSocket origin allow-list")
	fs.StringVar(&f.StoreDriver, "store", "", "durable store driver: memory or postgres")
	fs.StringVar(&f.DatabaseURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&f.RedisURL, "redis-url", "", "Redis URL for the user cache and asynq queue")
	fs.StringVar(&f.PushQueue, "push-queue", "", "push job queue: memory or asynq")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "", "log format: text or json")
	return f
}

// Apply copies every flag that was set on the command line into c.
func (f *Flags) Apply(c *Config) {
	changed := f.fs.Changed
	if changed("port") {
		c.Server.Port = f.Port
	}
	if changed("allowed-origins") {
		c.Server.AllowedOrigins = append([]string(nil), f.AllowedOrigins...)
	}
	if changed("store") {
		c.Store.Driver = f.StoreDriver
	}
	if changed("db-url") {
		c.Store.DatabaseURL = f.DatabaseURL
	}
	if changed("redis-url") {
		c.Redis.URL = f.RedisURL
	}
	if changed("push-queue") {
		c.Push.Queue = f.PushQueue
	}
	if changed("log-level") {
		c.Log.Level = f.LogLevel
	}
	if changed("log-format") {
		c.Log.Format = f.LogFormat
	}
	c.Sanitize()
}
