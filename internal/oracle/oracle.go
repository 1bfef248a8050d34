// Package oracle reports the live occupancy of VPN servers.
//
// Occupancy is a best-effort signal: it may lag behind the identifier pool
// and a server whose occupancy cannot be read is simply absent from
// OccupancyAll results.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownServer is returned for servers the oracle cannot report on.
var ErrUnknownServer = errors.New("oracle: unknown server")

// Oracle reports current concurrent sessions per server.
type Oracle interface {
	Occupancy(ctx context.Context, server string) (int, error)
	// OccupancyAll returns the servers whose occupancy could be read.
	OccupancyAll(ctx context.Context) (map[string]int, error)
}

// Static is an in-memory oracle, used for tests and for deployments
// without SSH access to the VPN hosts.
type Static struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewStatic constructs a Static oracle.
func NewStatic(counts map[string]int) *Static {
	s := &Static{counts: make(map[string]int, len(counts))}
	for k, v := range counts {
		s.counts[k] = v
	}
	return s
}

// Set updates the occupancy of server.
func (s *Static) Set(server string, count int) {
	s.mu.Lock()
	s.counts[server] = count
	s.mu.Unlock()
}

// Delete removes server, making it unknown.
func (s *Static) Delete(server string) {
	s.mu.Lock()
	delete(s.counts, server)
	s.mu.Unlock()
}

// Occupancy implements Oracle.
func (s *Static) Occupancy(_ context.Context, server string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.counts[server]
	if !ok {
		return 0, ErrUnknownServer
	}
	return v, nil
}

// OccupancyAll implements Oracle.
func (s *Static) OccupancyAll(context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

// Func adapts a per-server function to Oracle over a fixed server list.
type Func struct {
	Servers []string
	Timeout time.Duration
	Fn      func(ctx context.Context, server string) (int, error)
}

// Occupancy implements Oracle.
func (f Func) Occupancy(ctx context.Context, server string) (int, error) {
	if f.Fn == nil {
		return 0, ErrUnknownServer
	}
	ctx, cancel := withTimeout(ctx, f.Timeout)
	defer cancel()
	return f.Fn(ctx, server)
}

// OccupancyAll implements Oracle.
func (f Func) OccupancyAll(ctx context.Context) (map[string]int, error) {
	return collect(ctx, f.Servers, f.Timeout, f.Occupancy)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// collect queries every server concurrently. Failed servers are logged and
// left out; an error is returned only when no server could be read.
func collect(ctx context.Context, servers []string, timeout time.Duration, occupancy func(context.Context, string) (int, error)) (map[string]int, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		out     = make(map[string]int, len(servers))
		lastErr error
		g       errgroup.Group
	)
	for _, name := range servers {
		g.Go(func() error {
			count, errCount := occupancy(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if errCount != nil {
				lastErr = errCount
				log.WithError(errCount).WithField("server", name).Warn("oracle: occupancy unavailable")
				return nil
			}
			out[name] = count
			return nil
		})
	}
	_ = g.Wait()
	if len(out) == 0 && lastErr != nil {
		return out, fmt.Errorf("oracle: no server reachable: %w", lastErr)
	}
	return out, nil
}
