package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/plans"
	"github.com/syntaxvpn/vpnpool/internal/security"
	"gopkg.in/yaml.v3"

	log "github.com/sirupsen/logrus"
)

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "vpnpool.db"

// ErrConfigExists is returned when init would overwrite a config file.
var ErrConfigExists = errors.New("config file already exists")

// InitOptions describes the starter config written by WriteConfigFile.
type InitOptions struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabaseSSLMode  string
	DatabasePath     string
	BrandName        string
	ListenAddr       string
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// BuildDSN builds a database DSN from the init options.
func BuildDSN(opts InitOptions) (string, error) {
	switch strings.ToLower(strings.TrimSpace(opts.DatabaseType)) {
	case "postgres":
		if strings.TrimSpace(opts.DatabaseHost) == "" || strings.TrimSpace(opts.DatabaseName) == "" {
			return "", fmt.Errorf("database host and name are required")
		}
		port := opts.DatabasePort
		if port <= 0 {
			port = 5432
		}
		sslMode := opts.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			opts.DatabaseUser,
			opts.DatabasePassword,
			opts.DatabaseHost,
			port,
			opts.DatabaseName,
			sslMode,
		), nil
	case "", "sqlite":
		return buildSQLiteDSN(opts.DatabasePath), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", opts.DatabaseType)
	}
}

// buildSQLiteDSN constructs a SQLite DSN with WAL enabled.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_pragma=journal_mode(WAL)"
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Ping()
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	DatabaseDSN string       `yaml:"database-dsn"`
	BrandName   string       `yaml:"brand-name"`
	HTTP        httpCfg      `yaml:"http"`
	JWT         jwtCfg       `yaml:"jwt"`
	Oracle      oracleCfg    `yaml:"oracle"`
	Servers     []serverCfg  `yaml:"servers"`
	Plans       []planCfg    `yaml:"plans"`
	RateLimit   rateLimitCfg `yaml:"rate-limit"`
}

type httpCfg struct {
	Addr string `yaml:"addr"`
}

type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type oracleCfg struct {
	Static bool `yaml:"static"`
}

type serverCfg struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Host     string `yaml:"host"`
	MaxUsers int    `yaml:"max-users"`
}

type planCfg struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name"`
	Days  int     `yaml:"days"`
	Price float64 `yaml:"price"`
}

type rateLimitCfg struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.RandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes a starter config with one placeholder server and
// the default plans. It refuses to overwrite an existing file.
func WriteConfigFile(configPath string, opts InitOptions) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	dsn, errDSN := BuildDSN(opts)
	if errDSN != nil {
		return errDSN
	}

	cfg := configFile{
		DatabaseDSN: dsn,
		BrandName:   strings.TrimSpace(opts.BrandName),
		HTTP:        httpCfg{Addr: opts.ListenAddr},
		JWT: jwtCfg{
			Secret: generateJWTSecret(),
			Expiry: "720h",
		},
		Oracle: oracleCfg{Static: true},
		Servers: []serverCfg{
			{Name: "server1", Label: "Server 1", Host: "vpn.example.com", MaxUsers: 80},
		},
		RateLimit: rateLimitCfg{Limit: 60, Window: "1m"},
	}
	for _, p := range plans.Defaults() {
		cfg.Plans = append(cfg.Plans, planCfg{ID: p.ID, Name: p.Name, Days: p.Days, Price: p.Price})
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}
