package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/connlink"
	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/delivery"
	admin "github.com/syntaxvpn/vpnpool/internal/http/api/admin"
	"github.com/syntaxvpn/vpnpool/internal/http/api/front"
	"github.com/syntaxvpn/vpnpool/internal/ledger"
	"github.com/syntaxvpn/vpnpool/internal/monitor"
	"github.com/syntaxvpn/vpnpool/internal/oracle"
	"github.com/syntaxvpn/vpnpool/internal/plans"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/provision"
	"github.com/syntaxvpn/vpnpool/internal/ratelimit"
	"github.com/syntaxvpn/vpnpool/internal/remote"
	"github.com/syntaxvpn/vpnpool/internal/report"
	"github.com/syntaxvpn/vpnpool/internal/selector"
	"github.com/syntaxvpn/vpnpool/internal/users"
	"github.com/syntaxvpn/vpnpool/internal/vpnsync"
	"gorm.io/gorm"

	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Services is the wired object graph of a running instance.
type Services struct {
	DB           *gorm.DB
	Config       *config.Config
	Plans        *plans.Catalogue
	Pool         *pool.Pool
	Ledger       *ledger.Ledger
	Users        *users.Registry
	Links        *connlink.Generator
	Oracle       oracle.Oracle
	Selector     *selector.Selector
	Syncer       vpnsync.Syncer
	Events       *provision.EventLog
	Orchestrator *provision.Orchestrator
	Delivery     *delivery.Service
	Reports      *report.Reporter
	Limiter      *ratelimit.Manager
}

// Build wires every component on top of an open, migrated connection.
// runner is used for oracle and sync calls; nil selects SSH.
func Build(conn *gorm.DB, cfg *config.Config, runner remote.Runner) *Services {
	s := &Services{DB: conn, Config: cfg}
	s.Plans = plans.FromConfig(cfg.Plans)
	s.Pool = pool.New(conn)
	s.Ledger = ledger.New(conn, s.Plans)
	s.Users = users.NewRegistry(conn)
	s.Links = connlink.New(cfg.Servers, cfg.BrandName)
	s.Events = provision.NewEventLog(conn)

	needsRemote := !cfg.Oracle.Static || cfg.Sync.Enabled
	if runner == nil && needsRemote {
		runner = remote.NewSSHRunner(cfg.Oracle.Timeout)
	}

	var connections report.ConnectionSource
	if cfg.Oracle.Static {
		counts := make(map[string]int, len(cfg.Servers))
		for _, srv := range cfg.Servers {
			counts[srv.Name] = 0
		}
		s.Oracle = oracle.NewStatic(counts)
	} else {
		sshOracle := oracle.NewSSH(runner, cfg.Servers, cfg.Oracle.Timeout)
		s.Oracle = oracle.NewCached(sshOracle, cfg.Oracle.CacheTTL)
		connections = sshOracle
	}
	s.Selector = selector.New(s.Oracle, cfg.Servers, cfg.Oracle.Timeout)

	if cfg.Sync.Enabled {
		s.Syncer = vpnsync.NewSSH(runner, cfg.Servers, cfg.Oracle.Timeout)
	} else {
		s.Syncer = vpnsync.Noop{}
	}

	s.Orchestrator = provision.New(provision.Deps{
		Plans:    s.Plans,
		Selector: s.Selector,
		Pool:     s.Pool,
		Ledger:   s.Ledger,
		Linker:   s.Links,
		Users:    s.Users,
		Syncer:   s.Syncer,
		Events:   s.Events,
	}, 0, "")
	s.Delivery = delivery.New(s.Ledger, s.Links)
	s.Reports = report.New(conn, s.Plans, s.Pool, s.Selector, connections)
	s.Limiter = ratelimit.NewManager(ratelimit.Static(ratelimit.FromConfig(cfg.RateLimit)), nil, nil)
	return s
}

// Router returns the gin engine serving every route.
func (s *Services) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	front.RegisterFrontRoutes(engine, s.Config.HTTP, s.Orchestrator, s.Delivery, s.Limiter)
	admin.RegisterAdminRoutes(engine, s.DB, s.Config.JWT, s.Reports, s.Selector)
	return engine
}

// Close releases the limiter and database handles.
func (s *Services) Close() error {
	errLimiter := s.Limiter.Close()
	errDB := db.Close(s.DB)
	return errors.Join(errLimiter, errDB)
}

// Open connects to the configured database and applies migrations.
func Open(cfg *config.Config) (*gorm.DB, error) {
	conn, errOpen := db.Open(cfg.DSN())
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		_ = db.Close(conn)
		return nil, errMigrate
	}
	return conn, nil
}

// Migrate opens the database and runs migrations.
func Migrate(cfg *config.Config) error {
	conn, errOpen := Open(cfg)
	if errOpen != nil {
		return errOpen
	}
	return db.Close(conn)
}

// RunServer boots the HTTP service and blocks until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config) error {
	conn, errOpen := Open(cfg)
	if errOpen != nil {
		return errOpen
	}
	services := Build(conn, cfg, nil)
	defer func() {
		if errClose := services.Close(); errClose != nil {
			log.Errorf("close services: %v", errClose)
		}
	}()

	if stats, errStats := services.Pool.Stats(ctx); errStats == nil {
		log.WithFields(log.Fields{"free": stats.Free, "total": stats.Total}).Info("identifier pool loaded")
	}

	monitor.New(services.Pool, services.Selector, cfg.Servers, cfg.Monitor).Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           services.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.WithFields(log.Fields{
		"addr":       cfg.HTTP.Addr,
		"public_url": cfg.HTTP.PublicURL,
		"database":   describeDSN(cfg.DSN()),
		"servers":    len(cfg.Servers),
		"sync":       cfg.Sync.Enabled,
	}).Info("starting server")
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", errListen)
	}
	return nil
}

// requestLogger logs one line per request at debug level, and failures above it.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  status,
			"latency": time.Since(start).String(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request failed")
		default:
			entry.Debug("request")
		}
	}
}
