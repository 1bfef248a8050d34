// Package provision turns a confirmed payment into a subscription with an
// identifier on the least-loaded server.
package provision

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/ledger"
	"github.com/syntaxvpn/vpnpool/internal/models"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/vpnsync"

	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout      = 30 * time.Second
	compensationTimeout = 10 * time.Second
)

// Event is a confirmed payment.
type Event struct {
	TelegramID int64
	PlanID     string
	EventID    string
	Username   string
	FullName   string
	Payload    []byte
}

// Plans validates plan ids.
type Plans interface {
	Known(id string) bool
}

// Selector picks a server with spare capacity.
type Selector interface {
	SelectServer(ctx context.Context) (string, bool)
}

// Pool reserves and returns identifiers.
type Pool interface {
	Claim(ctx context.Context, server string, telegramID int64) (models.Identifier, error)
	Release(ctx context.Context, value string) error
}

// Ledger records subscriptions.
type Ledger interface {
	Renew(ctx context.Context, a ledger.Activation) (ledger.Renewal, error)
	ByEvent(ctx context.Context, eventID string) (*models.Subscription, error)
}

// Linker derives connection material.
type Linker interface {
	Link(identifier, server, label string) (string, error)
}

// Users is the subscriber registry.
type Users interface {
	EnsureUser(ctx context.Context, telegramID int64, username, fullName string) (bool, error)
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Plans    Plans
	Selector Selector
	Pool     Pool
	Ledger   Ledger
	Linker   Linker
	Users    Users
	Syncer   vpnsync.Syncer
	Events   *EventLog
}

// Orchestrator runs the provisioning workflow.
type Orchestrator struct {
	deps    Deps
	timeout time.Duration
	label   string
}

// New constructs an Orchestrator. label is the link fragment shown in
// clients; empty uses the server label.
func New(deps Deps, timeout time.Duration, label string) *Orchestrator {
	if deps.Syncer == nil {
		deps.Syncer = vpnsync.Noop{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Orchestrator{deps: deps, timeout: timeout, label: label}
}

// Provision allocates an identifier for ev and records the subscription.
// Every failure is reported through Result; Provision never panics on input.
func (o *Orchestrator) Provision(ctx context.Context, ev Event) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.PlanID = strings.TrimSpace(ev.PlanID)
	fields := log.Fields{"telegram_id": ev.TelegramID, "plan": ev.PlanID, "event": ev.EventID}

	if !o.deps.Plans.Known(ev.PlanID) {
		log.WithFields(fields).Warn("provision: unknown plan")
		return failed(KindUnknownPlan, nil)
	}

	first, errRecord := o.deps.Events.Record(ctx, ev)
	if errRecord != nil {
		log.WithError(errRecord).WithFields(fields).Error("provision: record event failed")
		return failed(KindError, errRecord)
	}
	if !first {
		log.WithFields(fields).Info("provision: redelivered payment event")
	}

	res := o.provision(ctx, ev, fields)
	if errFinish := o.deps.Events.Finish(context.WithoutCancel(ctx), ev.EventID, res.Kind); errFinish != nil {
		log.WithError(errFinish).WithFields(fields).Warn("provision: store event outcome failed")
	}
	return res
}

func (o *Orchestrator) provision(ctx context.Context, ev Event, fields log.Fields) Result {
	if dup, errDup := o.deps.Ledger.ByEvent(ctx, ev.EventID); errDup != nil {
		return failed(KindError, errDup)
	} else if dup != nil {
		log.WithFields(fields).Info("provision: event already provisioned")
		return duplicate(dup)
	}

	if _, errUser := o.deps.Users.EnsureUser(ctx, ev.TelegramID, ev.Username, ev.FullName); errUser != nil {
		log.WithError(errUser).WithFields(fields).Error("provision: ensure user failed")
		return failed(KindError, errUser)
	}

	server, ok := o.deps.Selector.SelectServer(ctx)
	if !ok {
		log.WithFields(fields).Error("provision: no server has capacity")
		return failed(KindNoCapacity, nil)
	}
	fields["server"] = server

	identifier, errClaim := o.claim(ctx, server, ev.TelegramID)
	switch {
	case errors.Is(errClaim, pool.ErrPoolExhausted):
		log.WithFields(fields).Error("provision: identifier pool exhausted")
		return failed(KindPoolExhausted, errClaim)
	case errors.Is(errClaim, pool.ErrAlreadyAssigned):
		log.WithFields(fields).Warn("provision: identifier race lost twice")
		return failed(KindConflict, errClaim)
	case errClaim != nil:
		log.WithError(errClaim).WithFields(fields).Error("provision: claim identifier failed")
		return failed(KindError, errClaim)
	}
	fields["uuid"] = identifier.UUID

	link, errLink := o.deps.Linker.Link(identifier.UUID, server, o.label)
	if errLink != nil {
		o.compensate(ctx, identifier.UUID, server, false, fields)
		return failed(KindError, errLink)
	}

	if errSync := o.deps.Syncer.AddClient(ctx, server, identifier.UUID, vpnsync.EmailFor(identifier.UUID)); errSync != nil {
		log.WithError(errSync).WithFields(fields).Error("provision: vpn daemon sync failed")
		o.compensate(ctx, identifier.UUID, server, false, fields)
		return failed(KindSyncFailed, errSync)
	}

	renewal, errActivate := o.deps.Ledger.Renew(ctx, ledger.Activation{
		TelegramID: ev.TelegramID,
		PlanID:     ev.PlanID,
		UUID:       identifier.UUID,
		Server:     server,
		Link:       link,
		EventID:    ev.EventID,
	})
	sub := renewal.Subscription
	if errActivate != nil {
		o.compensate(ctx, identifier.UUID, server, true, fields)
		switch {
		case errors.Is(errActivate, ledger.ErrDuplicateEvent) && sub != nil:
			log.WithFields(fields).Info("provision: concurrent delivery already provisioned")
			return duplicate(sub)
		case errors.Is(errActivate, ledger.ErrConflictingState):
			log.WithFields(fields).Warn("provision: conflicting subscription state")
			return failed(KindConflict, errActivate)
		default:
			log.WithError(errActivate).WithFields(fields).Error("provision: activate subscription failed")
			return failed(KindError, errActivate)
		}
	}

	// Retire only what this activation deactivated.
	for i := range renewal.Superseded {
		if renewal.Superseded[i].UUID != identifier.UUID {
			o.retire(ctx, &renewal.Superseded[i], fields)
		}
	}

	log.WithFields(fields).Info("provision: subscription activated")
	return Result{
		Kind:         KindProvisioned,
		Server:       server,
		UUID:         identifier.UUID,
		Link:         link,
		Subscription: sub,
	}
}

// claim retries once on a lost race against the same server.
func (o *Orchestrator) claim(ctx context.Context, server string, telegramID int64) (models.Identifier, error) {
	identifier, err := o.deps.Pool.Claim(ctx, server, telegramID)
	if errors.Is(err, pool.ErrAlreadyAssigned) {
		identifier, err = o.deps.Pool.Claim(ctx, server, telegramID)
	}
	return identifier, err
}

// compensate returns a claimed identifier to the pool after a later step failed.
func (o *Orchestrator) compensate(ctx context.Context, identifier, server string, synced bool, fields log.Fields) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if synced {
		if errRemove := o.deps.Syncer.RemoveClient(cctx, server, identifier); errRemove != nil {
			log.WithError(errRemove).WithFields(fields).Warn("provision: remove client after failure")
		}
	}
	if errRelease := o.deps.Pool.Release(cctx, identifier); errRelease != nil {
		log.WithError(errRelease).WithFields(fields).Error("provision: release identifier after failure")
	}
}

// retire frees the identifier of a superseded subscription.
func (o *Orchestrator) retire(ctx context.Context, previous *models.Subscription, fields log.Fields) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	entry := log.WithFields(fields).WithField("previous_uuid", previous.UUID)
	if errRemove := o.deps.Syncer.RemoveClient(cctx, previous.Server, previous.UUID); errRemove != nil {
		entry.WithError(errRemove).Warn("provision: remove superseded client")
		return
	}
	if errRelease := o.deps.Pool.Release(cctx, previous.UUID); errRelease != nil && !errors.Is(errRelease, pool.ErrNotFound) {
		entry.WithError(errRelease).Warn("provision: release superseded identifier")
	}
}

func duplicate(sub *models.Subscription) Result {
	return Result{
		Kind:         KindDuplicate,
		Server:       sub.Server,
		UUID:         sub.UUID,
		Link:         sub.Link,
		Subscription: sub,
	}
}
