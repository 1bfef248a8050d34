package oracle

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/remote"
)

const (
	// establishedCmd lists established TCP sockets owned by the xray process.
	establishedCmd = "ss -tnp | grep xray | grep ESTAB"
	accessLogTail  = 20000
)

var emailPattern = regexp.MustCompile(`email:\s*(\S+)`)

// SSHOracle counts unique client addresses connected to the xray listener.
type SSHOracle struct {
	runner  remote.Runner
	servers []config.Server
	timeout time.Duration
}

// NewSSH constructs an SSHOracle over the configured servers.
func NewSSH(runner remote.Runner, servers []config.Server, timeout time.Duration) *SSHOracle {
	cp := make([]config.Server, len(servers))
	copy(cp, servers)
	return &SSHOracle{runner: runner, servers: cp, timeout: timeout}
}

func (o *SSHOracle) server(name string) (config.Server, bool) {
	for _, s := range o.servers {
		if s.Name == name {
			return s, true
		}
	}
	return config.Server{}, false
}

// ActiveIPs returns the sorted unique client addresses on server.
func (o *SSHOracle) ActiveIPs(ctx context.Context, name string) ([]string, error) {
	srv, ok := o.server(name)
	if !ok {
		return nil, ErrUnknownServer
	}
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()
	out, errRun := o.runner.Run(ctx, srv, establishedCmd, nil)
	if errRun != nil {
		return nil, fmt.Errorf("oracle: %s: list sockets: %w", name, errRun)
	}
	return parseActiveIPs(out, srv.Port), nil
}

// Occupancy implements Oracle.
func (o *SSHOracle) Occupancy(ctx context.Context, name string) (int, error) {
	ips, err := o.ActiveIPs(ctx, name)
	if err != nil {
		return 0, err
	}
	return len(ips), nil
}

// OccupancyAll implements Oracle.
func (o *SSHOracle) OccupancyAll(ctx context.Context) (map[string]int, error) {
	names := make([]string, 0, len(o.servers))
	for _, s := range o.servers {
		names = append(names, s.Name)
	}
	return collect(ctx, names, o.timeout, o.Occupancy)
}

// Connections maps each client email seen on server to its number of
// connected devices, resolved through the most recent access log entry
// for every active address.
func (o *SSHOracle) Connections(ctx context.Context, name string) (map[string]int, error) {
	srv, ok := o.server(name)
	if !ok {
		return nil, ErrUnknownServer
	}
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	sockets, errRun := o.runner.Run(ctx, srv, establishedCmd, nil)
	if errRun != nil {
		return nil, fmt.Errorf("oracle: %s: list sockets: %w", name, errRun)
	}
	ips := parseActiveIPs(sockets, srv.Port)
	if len(ips) == 0 {
		return map[string]int{}, nil
	}
	cmd := fmt.Sprintf("tail -n %d %s", accessLogTail, remote.ShellQuote(srv.SSH.AccessLog))
	logTail, errLog := o.runner.Run(ctx, srv, cmd, nil)
	if errLog != nil {
		return nil, fmt.Errorf("oracle: %s: read access log: %w", name, errLog)
	}
	return devicesByEmail(ips, logTail), nil
}

// parseActiveIPs extracts unique peer addresses of sockets whose local
// address listens on port. IPv4-mapped IPv6 peers are unwrapped.
func parseActiveIPs(output string, port int) []string {
	suffix := ":" + strconv.Itoa(port)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		local, peer := fields[3], fields[4]
		if !strings.HasSuffix(local, suffix) {
			continue
		}
		idx := strings.LastIndex(peer, ":")
		if idx <= 0 {
			continue
		}
		host := peer[:idx]
		host = strings.TrimPrefix(host, "[::ffff:")
		host = strings.Trim(host, "[]")
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

func devicesByEmail(ips []string, logTail string) map[string]int {
	wanted := make(map[string]bool, len(ips))
	for _, ip := range ips {
		wanted[ip] = true
	}
	lines := strings.Split(logTail, "\n")
	byEmail := make(map[string]map[string]struct{})
	for i := len(lines) - 1; i >= 0 && len(wanted) > 0; i-- {
		src, ok := sourceAddr(lines[i])
		if !ok || !wanted[src] {
			continue
		}
		m := emailPattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		delete(wanted, src)
		if byEmail[m[1]] == nil {
			byEmail[m[1]] = make(map[string]struct{})
		}
		byEmail[m[1]][src] = struct{}{}
	}
	out := make(map[string]int, len(byEmail))
	for email, set := range byEmail {
		out[email] = len(set)
	}
	return out
}

// sourceAddr returns the client host of an access log line, the address
// after "from " without its port.
func sourceAddr(line string) (string, bool) {
	idx := strings.Index(line, "from ")
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(line[idx+len("from "):])
	if len(fields) == 0 {
		return "", false
	}
	addr := strings.TrimPrefix(strings.TrimPrefix(fields[0], "tcp:"), "udp:")
	colon := strings.LastIndex(addr, ":")
	if colon <= 0 {
		return "", false
	}
	host := strings.TrimPrefix(addr[:colon], "[::ffff:")
	host = strings.Trim(host, "[]")
	return host, host != ""
}
