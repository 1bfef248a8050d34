package oracle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

const ssOutput = `ESTAB 0 0 10.0.0.5:443 91.10.1.2:51234 users:(("xray",pid=812,fd=9))
ESTAB 0 0 10.0.0.5:443 91.10.1.2:51240 users:(("xray",pid=812,fd=10))
ESTAB 0 0 [::ffff:10.0.0.5]:443 [::ffff:85.3.3.3]:40000 users:(("xray",pid=812,fd=11))
ESTAB 0 0 10.0.0.5:443 [2a01:4f8::1]:50000 users:(("xray",pid=812,fd=12))
ESTAB 0 0 10.0.0.5:22 77.1.1.1:60000 users:(("xray",pid=812,fd=13))
garbage`

const accessLog = `2025/01/02 10:00:00 from 91.10.1.2:51234 accepted tcp:www.google.com:443 [vless-in -> direct] email: 1001
2025/01/02 10:00:01 from 85.3.3.3:40000 accepted tcp:example.com:443 [vless-in -> direct] email: 1001
2025/01/02 10:00:02 from 2a01:4f8::1:50000 accepted tcp:example.com:443 [vless-in -> direct] email: 2002
2025/01/02 10:00:03 from 91.10.1.2:51240 accepted tcp:example.com:443 [vless-in -> direct] email: 1001`

type fakeRunner struct {
	outputs map[string]string
	err     error
	calls   atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, _ config.Server, cmd string, _ []byte) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func testServers() []config.Server {
	return []config.Server{
		{Name: "germany", Host: "de.example.net", Port: 443, SSH: config.SSHConfig{AccessLog: "/var/log/xray/access.log"}},
	}
}

func TestParseActiveIPs(t *testing.T) {
	got := parseActiveIPs(ssOutput, 443)
	want := []string{"2a01:4f8::1", "85.3.3.3", "91.10.1.2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("parseActiveIPs = %v, want %v", got, want)
	}
	if len(parseActiveIPs("", 443)) != 0 {
		t.Fatalf("expected no addresses for empty output")
	}
}

func TestSSHOracle_OccupancyAndConnections(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"ss ": ssOutput, "tail ": accessLog}}
	o := NewSSH(runner, testServers(), time.Second)
	ctx := context.Background()

	count, err := o.Occupancy(ctx, "germany")
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unique peers, got %d", count)
	}
	if _, errUnknown := o.Occupancy(ctx, "mars"); !errors.Is(errUnknown, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", errUnknown)
	}

	conns, err := o.Connections(ctx, "germany")
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if conns["1001"] != 2 || conns["2002"] != 1 || len(conns) != 2 {
		t.Fatalf("unexpected connections %v", conns)
	}
}

func TestSSHOracle_OccupancyAllDropsUnreachable(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	o := NewSSH(runner, testServers(), time.Second)
	all, err := o.OccupancyAll(context.Background())
	if err == nil {
		t.Fatalf("expected error when every server is unreachable")
	}
	if len(all) != 0 {
		t.Fatalf("expected empty snapshot, got %v", all)
	}
}

func TestFunc_PartialFailure(t *testing.T) {
	f := Func{
		Servers: []string{"a", "b", "c"},
		Timeout: time.Second,
		Fn: func(_ context.Context, server string) (int, error) {
			if server == "b" {
				return 0, errors.New("timeout")
			}
			return len(server) * 10, nil
		},
	}
	all, err := f.OccupancyAll(context.Background())
	if err != nil {
		t.Fatalf("partial failure should not be an error: %v", err)
	}
	if len(all) != 2 || all["a"] != 10 || all["c"] != 10 {
		t.Fatalf("unexpected snapshot %v", all)
	}
	if _, ok := all["b"]; ok {
		t.Fatalf("failed server must be absent")
	}
}

func TestFunc_TimeoutBoundsSlowServer(t *testing.T) {
	f := Func{
		Servers: []string{"slow"},
		Timeout: 20 * time.Millisecond,
		Fn: func(ctx context.Context, _ string) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	start := time.Now()
	_, err := f.OccupancyAll(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("oracle call was not bounded")
	}
}

type countingOracle struct {
	calls atomic.Int32
	err   error
	data  map[string]int
}

func (c *countingOracle) Occupancy(ctx context.Context, server string) (int, error) {
	all, err := c.OccupancyAll(ctx)
	if err != nil {
		return 0, err
	}
	return all[server], nil
}

func (c *countingOracle) OccupancyAll(context.Context) (map[string]int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return cloneCounts(c.data), nil
}

func TestCached_ServesSnapshotWithinTTL(t *testing.T) {
	next := &countingOracle{data: map[string]int{"a": 1}}
	c := NewCached(next, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if v, err := c.Occupancy(ctx, "a"); err != nil || v != 1 {
			t.Fatalf("occupancy = %d, %v", v, err)
		}
	}
	if next.calls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", next.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	next.err = errors.New("ssh down")
	all, err := c.OccupancyAll(ctx)
	if err != nil {
		t.Fatalf("expected stale snapshot, got error %v", err)
	}
	if all["a"] != 1 {
		t.Fatalf("unexpected stale snapshot %v", all)
	}
	if _, errUnknown := c.Occupancy(ctx, "b"); !errors.Is(errUnknown, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", errUnknown)
	}

	c.Invalidate()
	if _, errNoSnap := c.OccupancyAll(ctx); errNoSnap == nil {
		t.Fatalf("expected error without any snapshot")
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]int{"a": 3})
	s.Set("b", 4)
	s.Delete("a")
	if _, err := s.Occupancy(context.Background(), "a"); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected unknown server after delete, got %v", err)
	}
	all, _ := s.OccupancyAll(context.Background())
	if len(all) != 1 || all["b"] != 4 {
		t.Fatalf("unexpected snapshot %v", all)
	}
}

func TestDevicesByEmail_MatchesWholeAddress(t *testing.T) {
	logTail := `2025/01/02 10:00:00 from 1.2.3.4:5000 accepted tcp:example.com:443 [vless-in -> direct] email: 3003
2025/01/02 10:00:01 from 11.2.3.45:6000 accepted tcp:example.com:443 [vless-in -> direct] email: 4004
2025/01/02 10:00:02 from tcp:[::ffff:5.6.7.8]:7000 accepted tcp:example.com:443 [vless-in -> direct] email: 5005`

	got := devicesByEmail([]string{"1.2.3.4", "5.6.7.8"}, logTail)
	if len(got) != 2 || got["3003"] != 1 || got["5005"] != 1 {
		t.Fatalf("unexpected devices %v", got)
	}
	if _, ok := got["4004"]; ok {
		t.Fatalf("1.2.3.4 must not match 11.2.3.45: %v", got)
	}
}
