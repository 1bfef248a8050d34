package oracle

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Cached serves an occupancy snapshot for ttl and coalesces refreshes.
// A failed refresh falls back to the previous snapshot when one exists.
type Cached struct {
	next Oracle
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	snapshot map[string]int
	expires  time.Time

	sg singleflight.Group
}

// NewCached wraps next. A non-positive ttl disables caching.
func NewCached(next Oracle, ttl time.Duration) *Cached {
	return &Cached{next: next, ttl: ttl, now: time.Now}
}

// Occupancy implements Oracle.
func (c *Cached) Occupancy(ctx context.Context, server string) (int, error) {
	all, err := c.OccupancyAll(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := all[server]
	if !ok {
		return 0, ErrUnknownServer
	}
	return v, nil
}

// OccupancyAll implements Oracle.
func (c *Cached) OccupancyAll(ctx context.Context) (map[string]int, error) {
	if c.ttl <= 0 {
		return c.next.OccupancyAll(ctx)
	}
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}

	v, err, _ := c.sg.Do("occupancy-all", func() (any, error) {
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		data, errRefresh := c.next.OccupancyAll(ctx)
		if errRefresh != nil {
			c.mu.RLock()
			stale := cloneCounts(c.snapshot)
			c.mu.RUnlock()
			if stale != nil {
				log.WithError(errRefresh).Warn("oracle: refresh failed, serving stale snapshot")
				return stale, nil
			}
			return nil, errRefresh
		}
		c.mu.Lock()
		c.snapshot = cloneCounts(data)
		c.expires = c.now().Add(c.ttl)
		c.mu.Unlock()
		return cloneCounts(data), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneCounts(v.(map[string]int)), nil
}

// Invalidate drops the cached snapshot.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *Cached) fresh() (map[string]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot != nil && c.now().Before(c.expires) {
		return cloneCounts(c.snapshot), true
	}
	return nil, false
}

func cloneCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
