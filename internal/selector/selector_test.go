package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/oracle"
)

func servers(maxes ...int) []config.Server {
	names := []string{"A", "B", "C"}
	out := make([]config.Server, 0, len(maxes))
	for i, m := range maxes {
		out = append(out, config.Server{Name: names[i], MaxUsers: m})
	}
	return out
}

func TestSelectServer(t *testing.T) {
	tests := []struct {
		name    string
		servers []config.Server
		counts  map[string]int
		want    string
		wantOK  bool
	}{
		{name: "lowest occupancy wins", servers: servers(80, 80), counts: map[string]int{"A": 10, "B": 5}, want: "B", wantOK: true},
		{name: "full server skipped", servers: servers(10, 80), counts: map[string]int{"A": 3, "B": 5}, want: "A", wantOK: true},
		{name: "at max is ineligible", servers: servers(3, 80), counts: map[string]int{"A": 3, "B": 79}, want: "B", wantOK: true},
		{name: "tie keeps configured order", servers: servers(80, 80, 80), counts: map[string]int{"A": 4, "B": 2, "C": 2}, want: "B", wantOK: true},
		{name: "all full", servers: servers(10, 20), counts: map[string]int{"A": 10, "B": 25}, wantOK: false},
		{name: "unknown server ineligible", servers: servers(80, 80), counts: map[string]int{"A": 80}, wantOK: false},
		{name: "empty pool of servers", servers: nil, counts: map[string]int{}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(oracle.NewStatic(tt.counts), tt.servers, time.Second)
			got, ok := s.SelectServer(context.Background())
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("SelectServer() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSnapshot_OracleFailure(t *testing.T) {
	failing := oracle.Func{
		Servers: []string{"A", "B"},
		Fn: func(context.Context, string) (int, error) {
			return 0, errors.New("ssh: handshake failed")
		},
	}
	s := New(failing, servers(80, 80), 50*time.Millisecond)
	loads := s.Snapshot(context.Background())
	if len(loads) != 2 {
		t.Fatalf("expected 2 loads, got %d", len(loads))
	}
	for _, l := range loads {
		if l.Known || l.Eligible {
			t.Fatalf("unreachable server must be unknown and ineligible: %+v", l)
		}
	}
	if _, ok := Pick(loads); ok {
		t.Fatalf("expected no server when oracle is down")
	}
}
