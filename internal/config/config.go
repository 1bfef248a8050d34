package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvRedisAddr    = "REDIS_ADDR"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// ErrNoServers indicates the config declares no VPN servers.
var ErrNoServers = errors.New("config: at least one server is required")

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

const (
	defaultHTTPAddr         = ":8080"
	defaultWebhookPath      = "/webhook/yookassa"
	defaultSubscriptionPath = "/sub"
	defaultOracleTimeout    = 10 * time.Second
	defaultOracleCacheTTL   = 15 * time.Second
	defaultMaxUsers         = 80
	defaultServerPort       = 443
	defaultSSHPort          = 22
	defaultFingerprint      = "safari"
	defaultXrayConfigPath   = "/usr/local/etc/xray/config.json"
	defaultXrayService      = "xray"
	defaultRateLimitPrefix  = "vpnpool:rl"
	defaultRateLimitWindow  = time.Minute
	defaultMonitorInterval  = 5 * time.Minute
	defaultMonitorLowWater  = 10
)

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// HTTPConfig holds listener and route settings.
type HTTPConfig struct {
	Addr             string `yaml:"addr"`
	WebhookPath      string `yaml:"webhook-path"`
	SubscriptionPath string `yaml:"subscription-path"`
	PublicURL        string `yaml:"public-url"`
}

// SubscriptionURL returns the public subscription address for identifier, or
// "" when no public URL is configured.
func (h HTTPConfig) SubscriptionURL(identifier string) string {
	base := strings.TrimRight(strings.TrimSpace(h.PublicURL), "/")
	identifier = strings.TrimSpace(identifier)
	if base == "" || identifier == "" {
		return ""
	}
	return base + "/" + strings.Trim(h.SubscriptionPath, "/") + "/" + identifier
}

// LoggingConfig controls the logrus output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// OracleConfig bounds calls to the load oracle.
type OracleConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache-ttl"`
	Static   bool          `yaml:"static"`
}

// SSHConfig describes how to reach the VPN daemon host.
type SSHConfig struct {
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Port       int    `yaml:"port"`
	ConfigPath string `yaml:"config-path"`
	Service    string `yaml:"service"`
	AccessLog  string `yaml:"access-log"`
	HostKey    string `yaml:"host-key"`
}

// Server is a static VPN backend definition.
type Server struct {
	Name        string    `yaml:"name"`
	Label       string    `yaml:"label"`
	Host        string    `yaml:"host"`
	Port        int       `yaml:"port"`
	SNI         string    `yaml:"sni"`
	PublicKey   string    `yaml:"public-key"`
	ShortID     string    `yaml:"short-id"`
	Fingerprint string    `yaml:"fingerprint"`
	MaxUsers    int       `yaml:"max-users"`
	SSH         SSHConfig `yaml:"ssh"`
}

// DisplayLabel returns the label shown to clients, falling back to the name.
func (s Server) DisplayLabel() string {
	if label := strings.TrimSpace(s.Label); label != "" {
		return label
	}
	return s.Name
}

// Plan is a subscription tier.
type Plan struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Days        int     `yaml:"days"`
	Price       float64 `yaml:"price"`
	Connections int     `yaml:"connections"`
}

// RedisConfig holds the optional redis backend for rate limiting.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig throttles subscription delivery requests.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Redis  RedisConfig   `yaml:"redis"`
}

// SyncConfig toggles pushing clients to the VPN daemon.
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MonitorConfig controls the background pool watcher. A negative interval
// disables it.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	LowWater int           `yaml:"low-water"`
}

// Config is the full, immutable service configuration.
type Config struct {
	DatabaseDSN string          `yaml:"database-dsn"`
	Database    DatabaseConfig  `yaml:"database"`
	HTTP        HTTPConfig      `yaml:"http"`
	JWT         JWTConfig       `yaml:"jwt"`
	Logging     LoggingConfig   `yaml:"logging"`
	Oracle      OracleConfig    `yaml:"oracle"`
	Servers     []Server        `yaml:"servers"`
	Plans       []Plan          `yaml:"plans"`
	RateLimit   RateLimitConfig `yaml:"rate-limit"`
	Sync        SyncConfig      `yaml:"sync"`
	Monitor     MonitorConfig   `yaml:"monitor"`
	BrandName   string          `yaml:"brand-name"`
}

// DSN returns the effective database DSN.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseDSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.Database.DSN)
}

// Server returns the server with the given name.
func (c *Config) Server(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

// Load reads the YAML config at configPath, applies env overrides and defaults,
// and validates the result.
func Load(configPath string) (*Config, error) {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return nil, errValidate
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		c.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			c.JWT.Expiry = expiry
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.RateLimit.Redis.Addr = addr
		c.RateLimit.Redis.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.HTTP.WebhookPath) == "" {
		c.HTTP.WebhookPath = defaultWebhookPath
	}
	if strings.TrimSpace(c.HTTP.SubscriptionPath) == "" {
		c.HTTP.SubscriptionPath = defaultSubscriptionPath
	}
	c.HTTP.SubscriptionPath = "/" + strings.Trim(c.HTTP.SubscriptionPath, "/")
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = defaultOracleTimeout
	}
	if c.Oracle.CacheTTL < 0 {
		c.Oracle.CacheTTL = 0
	} else if c.Oracle.CacheTTL == 0 {
		c.Oracle.CacheTTL = defaultOracleCacheTTL
	}
	if strings.TrimSpace(c.BrandName) == "" {
		c.BrandName = "SyntaxVPN"
	}
	for i := range c.Servers {
		s := &c.Servers[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Port <= 0 {
			s.Port = defaultServerPort
		}
		if s.MaxUsers <= 0 {
			s.MaxUsers = defaultMaxUsers
		}
		if strings.TrimSpace(s.Fingerprint) == "" {
			s.Fingerprint = defaultFingerprint
		}
		if s.SSH.Port <= 0 {
			s.SSH.Port = defaultSSHPort
		}
		if strings.TrimSpace(s.SSH.ConfigPath) == "" {
			s.SSH.ConfigPath = defaultXrayConfigPath
		}
		if strings.TrimSpace(s.SSH.Service) == "" {
			s.SSH.Service = defaultXrayService
		}
		if strings.TrimSpace(s.SSH.AccessLog) == "" {
			s.SSH.AccessLog = "/var/log/xray/access.log"
		}
	}
	if c.RateLimit.Limit < 0 {
		c.RateLimit.Limit = 0
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = defaultRateLimitWindow
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = defaultMonitorInterval
	}
	if c.Monitor.LowWater <= 0 {
		c.Monitor.LowWater = defaultMonitorLowWater
	}
	if strings.TrimSpace(c.RateLimit.Redis.Prefix) == "" {
		c.RateLimit.Redis.Prefix = defaultRateLimitPrefix
	}
	if c.RateLimit.Redis.DB < 0 {
		c.RateLimit.Redis.DB = 0
	}
}

func (c *Config) validate() error {
	if c.DSN() == "" {
		return ErrMissingDatabaseDSN
	}
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("config: server name is required")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("config: duplicate server %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("config: server %q: host is required", s.Name)
		}
	}
	planIDs := make(map[string]struct{}, len(c.Plans))
	for _, p := range c.Plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("config: plan id is required")
		}
		if p.Days <= 0 {
			return fmt.Errorf("config: plan %q: days must be positive", id)
		}
		if _, dup := planIDs[id]; dup {
			return fmt.Errorf("config: duplicate plan %q", id)
		}
		planIDs[id] = struct{}{}
	}
	return nil
}
