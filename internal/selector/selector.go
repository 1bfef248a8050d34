// Package selector picks the least-loaded VPN server with spare capacity.
package selector

import (
	"context"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/oracle"

	log "github.com/sirupsen/logrus"
)

// ServerLoad is the observed load of one configured server.
type ServerLoad struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Occupancy int    `json:"online"`
	MaxUsers  int    `json:"max"`
	Known     bool   `json:"known"`
	Eligible  bool   `json:"eligible"`
}

// Selector chooses a server by occupancy reported from an oracle.
type Selector struct {
	oracle  oracle.Oracle
	servers []config.Server
	timeout time.Duration
}

// New constructs a Selector. Servers keep their configured order, which
// breaks ties between equally loaded servers.
func New(o oracle.Oracle, servers []config.Server, timeout time.Duration) *Selector {
	cp := make([]config.Server, len(servers))
	copy(cp, servers)
	return &Selector{oracle: o, servers: cp, timeout: timeout}
}

// Snapshot reads occupancy for every configured server. Servers the oracle
// cannot report on are marked unknown and ineligible.
func (s *Selector) Snapshot(ctx context.Context) []ServerLoad {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	counts, errAll := s.oracle.OccupancyAll(ctx)
	if errAll != nil {
		log.WithError(errAll).Warn("selector: occupancy unavailable")
	}

	loads := make([]ServerLoad, 0, len(s.servers))
	for _, srv := range s.servers {
		load := ServerLoad{Name: srv.Name, Label: srv.DisplayLabel(), MaxUsers: srv.MaxUsers}
		if count, ok := counts[srv.Name]; ok {
			load.Occupancy = count
			load.Known = true
			load.Eligible = count < srv.MaxUsers
		}
		loads = append(loads, load)
	}
	return loads
}

// SelectServer returns the eligible server with the strictly lowest
// occupancy, or false when every server is full or unknown.
func (s *Selector) SelectServer(ctx context.Context) (string, bool) {
	return Pick(s.Snapshot(ctx))
}

// Pick applies the selection rule to a snapshot.
func Pick(loads []ServerLoad) (string, bool) {
	best := -1
	for i, load := range loads {
		if !load.Eligible {
			continue
		}
		if best < 0 || load.Occupancy < loads[best].Occupancy {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return loads[best].Name, true
}
