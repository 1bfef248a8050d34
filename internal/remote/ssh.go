// Package remote runs commands on VPN hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 10 * time.Second

// Runner executes a shell command on a server and returns trimmed stdout.
type Runner interface {
	Run(ctx context.Context, target config.Server, cmd string, stdin []byte) (string, error)
}

// SSHRunner dials a fresh SSH connection per command with password auth.
type SSHRunner struct {
	DialTimeout time.Duration

	warnOnce sync.Once
}

// NewSSHRunner constructs an SSHRunner.
func NewSSHRunner(dialTimeout time.Duration) *SSHRunner {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &SSHRunner{DialTimeout: dialTimeout}
}

func (r *SSHRunner) hostKeyCallback(target config.Server) (ssh.HostKeyCallback, error) {
	raw := strings.TrimSpace(target.SSH.HostKey)
	if raw == "" {
		r.warnOnce.Do(func() {
			log.Warn("remote: ssh host key not configured, host keys are not verified")
		})
		return ssh.InsecureIgnoreHostKey(), nil
	}
	key, _, _, _, errParse := ssh.ParseAuthorizedKey([]byte(raw))
	if errParse != nil {
		return nil, fmt.Errorf("remote: %s: parse host key: %w", target.Name, errParse)
	}
	return ssh.FixedHostKey(key), nil
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, target config.Server, cmd string, stdin []byte) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hostKey, errKey := r.hostKeyCallback(target)
	if errKey != nil {
		return "", errKey
	}
	clientCfg := &ssh.ClientConfig{
		User:            target.SSH.User,
		Auth:            []ssh.AuthMethod{ssh.Password(target.SSH.Password)},
		HostKeyCallback: hostKey,
		Timeout:         r.DialTimeout,
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.SSH.Port))

	dialer := net.Dialer{Timeout: r.DialTimeout}
	netConn, errDial := dialer.DialContext(ctx, "tcp", addr)
	if errDial != nil {
		return "", fmt.Errorf("remote: %s: dial: %w", target.Name, errDial)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, errHandshake := ssh.NewClientConn(netConn, addr, clientCfg)
	if errHandshake != nil {
		_ = netConn.Close()
		return "", fmt.Errorf("remote: %s: handshake: %w", target.Name, errHandshake)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = client.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, errSession := client.NewSession()
	if errSession != nil {
		return "", fmt.Errorf("remote: %s: session: %w", target.Name, errSession)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}
	if errRun := session.Run(cmd); errRun != nil {
		if errCtx := ctx.Err(); errCtx != nil {
			return "", fmt.Errorf("remote: %s: %w", target.Name, errCtx)
		}
		// grep exits 1 when nothing matched.
		var exitErr *ssh.ExitError
		if errors.As(errRun, &exitErr) && exitErr.ExitStatus() == 1 && stderr.Len() == 0 {
			return strings.TrimSpace(stdout.String()), nil
		}
		return "", fmt.Errorf("remote: %s: run: %w: %s", target.Name, errRun, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ShellQuote wraps s in single quotes for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
