package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/pool"
)

type fakePool struct {
	stats pool.Stats
	err   error
}

func (f fakePool) Stats(context.Context) (pool.Stats, error) { return f.stats, f.err }

func TestCheckOnce_ReportsLowServers(t *testing.T) {
	p := fakePool{stats: pool.Stats{Servers: []pool.ServerStats{
		{Server: "de", Used: 95, Total: 100},
		{Server: "fi", Used: 10, Total: 100},
	}}}
	servers := []config.Server{{Name: "de"}, {Name: "fi"}, {Name: "nl"}}
	m := New(p, nil, servers, config.MonitorConfig{Interval: time.Minute, LowWater: 5})

	alerts, err := m.CheckOnce(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", alerts)
	}
	if alerts[0] != (Alert{Server: "de", Free: 5}) || alerts[1] != (Alert{Server: "nl", Free: 0}) {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestCheckOnce_PropagatesErrors(t *testing.T) {
	m := New(fakePool{err: errors.New("db down")}, nil, nil, config.MonitorConfig{Interval: time.Minute, LowWater: 1})
	if _, err := m.CheckOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_Disabled(t *testing.T) {
	if m := New(fakePool{}, nil, nil, config.MonitorConfig{Interval: -1}); m != nil {
		t.Fatalf("expected nil monitor when disabled")
	}
	var m *Monitor
	m.Start(context.Background())
}
