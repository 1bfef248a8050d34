package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/selector"

	log "github.com/sirupsen/logrus"
)

const (
	checkTimeout    = 30 * time.Second
	defaultInterval = 5 * time.Minute
)

// PoolStats reports identifier usage.
type PoolStats interface {
	Stats(ctx context.Context) (pool.Stats, error)
}

// Loads reports live server occupancy.
type Loads interface {
	Snapshot(ctx context.Context) []selector.ServerLoad
}

// Alert flags a server whose free identifiers fell to the low-water mark.
type Alert struct {
	Server string
	Free   int64
}

// Monitor periodically checks pool headroom and server load.
type Monitor struct {
	pool     PoolStats
	loads    Loads
	servers  []string
	interval time.Duration
	lowWater int64
}

// New constructs a Monitor. It returns nil when cfg disables monitoring.
func New(p PoolStats, loads Loads, servers []config.Server, cfg config.MonitorConfig) *Monitor {
	if p == nil || cfg.Interval < 0 {
		return nil
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	names := make([]string, 0, len(servers))
	for _, srv := range servers {
		names = append(names, srv.Name)
	}
	return &Monitor{
		pool:     p,
		loads:    loads,
		servers:  names,
		interval: interval,
		lowWater: int64(cfg.LowWater),
	}
}

// Start runs the check loop in the background until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	go m.run(ctx)
	log.Infof("pool monitor started (interval=%s, low-water=%d)", m.interval, m.lowWater)
}

func (m *Monitor) run(ctx context.Context) {
	if _, err := m.CheckOnce(ctx); err != nil {
		log.WithError(err).Warn("pool monitor: initial check failed")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CheckOnce(ctx); err != nil {
				log.WithError(err).Warn("pool monitor: check failed")
			}
		}
	}
}

// CheckOnce logs the current load and returns the configured servers at or
// below the low-water mark, in configuration order.
func (m *Monitor) CheckOnce(ctx context.Context) ([]Alert, error) {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	stats, err := m.pool.Stats(checkCtx)
	if err != nil {
		return nil, fmt.Errorf("monitor: pool stats: %w", err)
	}

	var alerts []Alert
	for _, name := range m.servers {
		free := stats.Server(name).Free()
		if free > m.lowWater {
			continue
		}
		alerts = append(alerts, Alert{Server: name, Free: free})
		log.WithFields(log.Fields{"server": name, "free": free}).Warn("pool monitor: identifiers running low")
	}

	if m.loads != nil {
		for _, load := range m.loads.Snapshot(checkCtx) {
			log.WithFields(log.Fields{
				"server":   load.Name,
				"online":   load.Occupancy,
				"max":      load.MaxUsers,
				"eligible": load.Eligible,
			}).Debug("pool monitor: server load")
		}
	}
	return alerts, nil
}
