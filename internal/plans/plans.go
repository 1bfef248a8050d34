// Package plans holds the static subscription plan catalogue.
package plans

import (
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

// DefaultDuration is applied by DurationOrDefault for unrecognized plan ids.
const DefaultDuration = 30 * 24 * time.Hour

// Plan is one purchasable subscription tier.
type Plan struct {
	ID          string
	Name        string
	Days        int
	Price       float64
	Connections int
}

// Duration returns the plan period.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Days) * 24 * time.Hour
}

// Defaults mirrors the tiers sold since launch.
func Defaults() []Plan {
	return []Plan{
		{ID: "plan_1", Name: "1 month", Days: 30, Price: 199, Connections: 3},
		{ID: "plan_3", Name: "3 months", Days: 90, Price: 549, Connections: 3},
		{ID: "plan_6", Name: "6 months", Days: 180, Price: 999, Connections: 3},
		{ID: "plan_12", Name: "12 months", Days: 365, Price: 1799, Connections: 3},
		{ID: "plan_test", Name: "Test", Days: 1, Price: 0, Connections: 1},
	}
}

// Catalogue is an immutable plan table keyed by plan id.
type Catalogue struct {
	order []string
	byID  map[string]Plan
}

// New builds a catalogue. An empty list yields the default tiers.
func New(list []Plan) *Catalogue {
	if len(list) == 0 {
		list = Defaults()
	}
	c := &Catalogue{byID: make(map[string]Plan, len(list))}
	for _, p := range list {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		p.ID = id
		if _, exists := c.byID[id]; !exists {
			c.order = append(c.order, id)
		}
		c.byID[id] = p
	}
	return c
}

// FromConfig builds a catalogue from configured plans.
func FromConfig(cfgPlans []config.Plan) *Catalogue {
	list := make([]Plan, 0, len(cfgPlans))
	for _, p := range cfgPlans {
		list = append(list, Plan{
			ID:          p.ID,
			Name:        p.Name,
			Days:        p.Days,
			Price:       p.Price,
			Connections: p.Connections,
		})
	}
	return New(list)
}

// Lookup returns the plan with the given id.
func (c *Catalogue) Lookup(id string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// Known reports whether id names a plan.
func (c *Catalogue) Known(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// Duration returns the period for a known plan.
func (c *Catalogue) Duration(id string) (time.Duration, bool) {
	p, ok := c.Lookup(id)
	if !ok {
		return 0, false
	}
	return p.Duration(), true
}

// DurationOrDefault returns the plan period, or DefaultDuration for unknown ids.
// Provisioning rejects unknown plans before this is reached.
func (c *Catalogue) DurationOrDefault(id string) time.Duration {
	if d, ok := c.Duration(id); ok {
		return d
	}
	return DefaultDuration
}

// Price returns the plan price, zero for unknown ids.
func (c *Catalogue) Price(id string) float64 {
	p, _ := c.Lookup(id)
	return p.Price
}

// All returns plans in declaration order.
func (c *Catalogue) All() []Plan {
	if c == nil {
		return nil
	}
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}
