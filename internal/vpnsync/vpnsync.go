// Package vpnsync pushes identifier changes to the VPN daemon configuration.
package vpnsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/remote"

	log "github.com/sirupsen/logrus"
)

// Syncer adds and removes clients on a VPN server. Both calls are idempotent.
type Syncer interface {
	AddClient(ctx context.Context, server, identifier, email string) error
	RemoveClient(ctx context.Context, server, identifier string) error
}

// Noop is used when the daemon reads identifiers from elsewhere.
type Noop struct{}

// AddClient implements Syncer.
func (Noop) AddClient(context.Context, string, string, string) error { return nil }

// RemoveClient implements Syncer.
func (Noop) RemoveClient(context.Context, string, string) error { return nil }

// SSHSyncer patches the xray config.json over SSH and restarts the service.
// Patches to one server are serialised; the read-modify-write would
// otherwise drop concurrent changes.
type SSHSyncer struct {
	runner  remote.Runner
	servers []config.Server
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewSSH constructs an SSHSyncer.
func NewSSH(runner remote.Runner, servers []config.Server, timeout time.Duration) *SSHSyncer {
	cp := make([]config.Server, len(servers))
	copy(cp, servers)
	return &SSHSyncer{runner: runner, servers: cp, timeout: timeout, locks: make(map[string]chan struct{})}
}

// lock acquires the patch lock of server, giving up when ctx is done.
func (s *SSHSyncer) lock(ctx context.Context, server string) (func(), error) {
	s.mu.Lock()
	ch, ok := s.locks[server]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[server] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SSHSyncer) server(name string) (config.Server, error) {
	for _, srv := range s.servers {
		if srv.Name == name {
			return srv, nil
		}
	}
	return config.Server{}, fmt.Errorf("vpnsync: unknown server %q", name)
}

// AddClient implements Syncer.
func (s *SSHSyncer) AddClient(ctx context.Context, server, identifier, email string) error {
	return s.patch(ctx, server, func(data []byte) ([]byte, bool, error) {
		return AddClientJSON(data, identifier, email)
	})
}

// RemoveClient implements Syncer.
func (s *SSHSyncer) RemoveClient(ctx context.Context, server, identifier string) error {
	return s.patch(ctx, server, func(data []byte) ([]byte, bool, error) {
		return RemoveClientJSON(data, identifier)
	})
}

func (s *SSHSyncer) patch(ctx context.Context, server string, mutate func([]byte) ([]byte, bool, error)) error {
	srv, errServer := s.server(server)
	if errServer != nil {
		return errServer
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	unlock, errLock := s.lock(ctx, server)
	if errLock != nil {
		return fmt.Errorf("vpnsync: %s: wait for config lock: %w", server, errLock)
	}
	defer unlock()

	path := remote.ShellQuote(srv.SSH.ConfigPath)
	current, errRead := s.runner.Run(ctx, srv, "cat "+path, nil)
	if errRead != nil {
		return fmt.Errorf("vpnsync: %s: read config: %w", server, errRead)
	}
	updated, changed, errMutate := mutate([]byte(current))
	if errMutate != nil {
		return fmt.Errorf("vpnsync: %s: %w", server, errMutate)
	}
	if !changed {
		return nil
	}

	tmp := remote.ShellQuote(srv.SSH.ConfigPath + ".tmp")
	if _, errWrite := s.runner.Run(ctx, srv, "cat > "+tmp+" && mv "+tmp+" "+path, updated); errWrite != nil {
		return fmt.Errorf("vpnsync: %s: write config: %w", server, errWrite)
	}
	if _, errRestart := s.runner.Run(ctx, srv, "systemctl restart "+remote.ShellQuote(srv.SSH.Service), nil); errRestart != nil {
		return fmt.Errorf("vpnsync: %s: restart %s: %w", server, srv.SSH.Service, errRestart)
	}
	log.WithFields(log.Fields{"server": server, "service": srv.SSH.Service}).Info("vpnsync: daemon config updated")
	return nil
}

const emailLength = 8

// EmailFor is the client tag recorded in the daemon config and access log:
// the identifier's first eight characters.
func EmailFor(identifier string) string {
	if len(identifier) <= emailLength {
		return identifier
	}
	return identifier[:emailLength]
}
