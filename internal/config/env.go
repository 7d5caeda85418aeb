package config

import (
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c with the environment variables present in lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("SERVER_PORT"); ok {
		c.Server.Port = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = parseOrigins(v)
	}
	if v, ok := get("MAX_MESSAGE_SIZE"); ok {
		c.Server.MaxMessageSize = parseMaxMessageSize(v, c.Server.MaxMessageSize)
	}
	if v, ok := get("RATE_LIMIT_BURST"); ok {
		c.Server.RateLimit.Burst = parseIntValue(v, c.Server.RateLimit.Burst)
	}
	if v, ok := get("RATE_LIMIT_REFILL_INTERVAL"); ok {
		c.Server.RateLimit.RefillInterval = parseSeconds(v, c.Server.RateLimit.RefillInterval)
	}

	if v, ok := get("JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := get("COOKIE_NAME"); ok {
		c.Auth.CookieName = v
	}

	if v, ok := get("STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := get("DB_URL"); ok {
		c.Store.DatabaseURL = v
	}
	if v, ok := get("SUBSCRIPTIONS_TABLE"); ok {
		c.Store.SubscriptionsTable = v
	}

	if v, ok := get("REDIS_URL"); ok {
		c.Redis.URL = v
	}

	if v, ok := get("VAPID_PUBLIC_KEY"); ok {
		c.Push.VAPIDPublicKey = v
	}
	if v, ok := get("VAPID_PRIVATE_KEY"); ok {
		c.Push.VAPIDPrivateKey = v
	}
	if v, ok := get("PUSH_CONTACT_EMAIL"); ok {
		c.Push.ContactEmail = v
	}
	if v, ok := get("PUSH_QUEUE"); ok {
		c.Push.Queue = v
	}
	if v, ok := get("PUSH_WORKERS"); ok {
		c.Push.Workers = parseIntValue(v, c.Push.Workers)
	}
	if v, ok := get("PUSH_TIMEOUT_SECONDS"); ok {
		c.Push.Timeout = parseSeconds(v, c.Push.Timeout)
	}
	if v, ok := get("PUSH_PRESENCE_NOTIFICATIONS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Push.PresenceNotifications = b
		}
	}

	if v, ok := get("AWS_REGION"); ok {
		c.AWS.Region = v
	}
	if v, ok := get("PARAM_PREFIX"); ok {
		c.AWS.ParamPrefix = v
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
