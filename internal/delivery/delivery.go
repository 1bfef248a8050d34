// Package delivery serves subscription links to VPN client apps.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/models"
)

var (
	// ErrNotFound is returned for identifiers without any subscription.
	ErrNotFound = errors.New("delivery: subscription not found")
	// ErrExpired is returned when the subscription is inactive or past its end date.
	ErrExpired = errors.New("delivery: subscription expired")
)

// Subscriptions finds the subscription that owns an identifier.
type Subscriptions interface {
	ByIdentifier(ctx context.Context, value string) (*models.Subscription, error)
}

// Linker renders links for every server.
type Linker interface {
	Links(identifier string) []string
}

// Bundle is what a client app receives.
type Bundle struct {
	Links   []string
	Expires time.Time
}

// UserInfo renders the Subscription-Userinfo header value.
func (b Bundle) UserInfo() string {
	return fmt.Sprintf("upload=0; download=0; total=0; expire=%d", b.Expires.Unix())
}

// Service resolves identifiers to link bundles.
type Service struct {
	subs   Subscriptions
	linker Linker
	now    func() time.Time
}

// New constructs a Service.
func New(subs Subscriptions, linker Linker) *Service {
	return &Service{subs: subs, linker: linker, now: time.Now}
}

// Deliver returns the link bundle for identifier when its subscription is
// active and unexpired. Expiry is checked here since no sweep flips
// the active flag.
func (s *Service) Deliver(ctx context.Context, identifier string) (Bundle, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Bundle{}, ErrNotFound
	}
	sub, errFind := s.subs.ByIdentifier(ctx, identifier)
	if errFind != nil {
		return Bundle{}, errFind
	}
	if sub == nil {
		return Bundle{}, ErrNotFound
	}
	if !sub.Live(s.now()) {
		return Bundle{}, ErrExpired
	}
	return Bundle{Links: s.linker.Links(sub.UUID), Expires: sub.EndDate}, nil
}
