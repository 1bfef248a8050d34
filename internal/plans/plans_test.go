package plans

import (
	"testing"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

func TestDefaults(t *testing.T) {
	c := New(nil)
	cases := map[string]int{"plan_1": 30, "plan_3": 90, "plan_6": 180, "plan_12": 365, "plan_test": 1}
	for id, days := range cases {
		d, ok := c.Duration(id)
		if !ok {
			t.Fatalf("expected %s to be known", id)
		}
		if d != time.Duration(days)*24*time.Hour {
			t.Fatalf("%s: expected %d days, got %v", id, days, d)
		}
	}
	if got := len(c.All()); got != len(cases) {
		t.Fatalf("expected %d plans, got %d", len(cases), got)
	}
}

func TestDurationOrDefault_UnknownPlan(t *testing.T) {
	c := New(nil)
	if c.Known("plan_99") {
		t.Fatalf("plan_99 must be unknown")
	}
	if got := c.DurationOrDefault("plan_99"); got != DefaultDuration {
		t.Fatalf("expected default duration, got %v", got)
	}
	if got := c.Price("plan_99"); got != 0 {
		t.Fatalf("expected zero price, got %v", got)
	}
}

func TestFromConfig_OverridesDefaults(t *testing.T) {
	c := FromConfig([]config.Plan{
		{ID: " weekly ", Name: "Week", Days: 7, Price: 59},
		{ID: "plan_1", Days: 31, Price: 249},
	})
	if c.Known("plan_3") {
		t.Fatalf("configured catalogue must not include defaults")
	}
	d, ok := c.Duration("weekly")
	if !ok || d != 7*24*time.Hour {
		t.Fatalf("unexpected weekly duration %v ok=%v", d, ok)
	}
	if c.Price("plan_1") != 249 {
		t.Fatalf("expected configured price")
	}
	all := c.All()
	if len(all) != 2 || all[0].ID != "weekly" || all[1].ID != "plan_1" {
		t.Fatalf("unexpected order %+v", all)
	}
}
