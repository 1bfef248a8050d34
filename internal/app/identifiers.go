package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/security"

	log "github.com/sirupsen/logrus"
)

// LoadIdentifiers adds identifiers to the pool of a configured server and
// returns how many were new.
func LoadIdentifiers(ctx context.Context, cfg *config.Config, server string, identifiers []string) (int, error) {
	server = strings.TrimSpace(server)
	if _, ok := cfg.Server(server); !ok {
		return 0, fmt.Errorf("unknown server %q", server)
	}
	conn, errOpen := Open(cfg)
	if errOpen != nil {
		return 0, errOpen
	}
	defer func() { _ = db.Close(conn) }()

	added, errLoad := pool.New(conn).LoadBulk(ctx, identifiers, server)
	if errLoad != nil {
		return 0, errLoad
	}
	log.WithFields(log.Fields{
		"server":  server,
		"read":    len(identifiers),
		"added":   added,
		"skipped": len(identifiers) - added,
	}).Info("identifiers loaded")
	return added, nil
}

// IssueAdminToken signs an operator token with the configured secret.
// A non-positive ttl uses the configured expiry.
func IssueAdminToken(cfg *config.Config, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = cfg.JWT.Expiry
	}
	return security.IssueAdminToken(cfg.JWT.Secret, name, ttl)
}
