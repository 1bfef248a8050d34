package ratelimit

import (
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

// DefaultRedisPrefix namespaces limiter keys in a shared redis.
const DefaultRedisPrefix = "vpnpool:rl"

// Settings captures the active limiter configuration.
type Settings struct {
	Limit         int
	Window        time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() Settings

// FromConfig converts the rate-limit config section.
func FromConfig(cfg config.RateLimitConfig) Settings {
	s := Settings{
		Limit:         cfg.Limit,
		Window:        cfg.Window,
		RedisEnabled:  cfg.Redis.Enabled,
		RedisAddr:     strings.TrimSpace(cfg.Redis.Addr),
		RedisPassword: strings.TrimSpace(cfg.Redis.Password),
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   strings.TrimSpace(cfg.Redis.Prefix),
	}
	if s.Limit < 0 {
		s.Limit = 0
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	if s.RedisDB < 0 {
		s.RedisDB = 0
	}
	if s.RedisPrefix == "" {
		s.RedisPrefix = DefaultRedisPrefix
	}
	if s.RedisAddr == "" {
		s.RedisEnabled = false
	}
	return s
}

// Static returns a provider that always yields s.
func Static(s Settings) SettingsProvider {
	return func() Settings { return s }
}
