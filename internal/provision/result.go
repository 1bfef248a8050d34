package provision

import (
	"fmt"

	"github.com/syntaxvpn/vpnpool/internal/models"
)

// Kind tags the outcome of a provisioning attempt.
type Kind string

// Provisioning outcomes.
const (
	KindProvisioned   Kind = "provisioned"
	KindDuplicate     Kind = "duplicate"
	KindUnknownPlan   Kind = "unknown_plan"
	KindNoCapacity    Kind = "no_capacity"
	KindPoolExhausted Kind = "pool_exhausted"
	KindConflict      Kind = "conflict"
	KindSyncFailed    Kind = "sync_failed"
	KindError         Kind = "error"
)

// Terminal reports whether retrying the same event cannot help until an
// operator intervenes or the input changes.
func (k Kind) Terminal() bool {
	switch k {
	case KindUnknownPlan, KindNoCapacity, KindPoolExhausted:
		return true
	default:
		return false
	}
}

// Result is the tagged outcome of Provision. Server, UUID, Link and
// Subscription are set for KindProvisioned and KindDuplicate.
type Result struct {
	Kind         Kind
	Server       string
	UUID         string
	Link         string
	Subscription *models.Subscription
	Err          error
}

// OK reports whether the user holds a subscription for the event.
func (r Result) OK() bool {
	return r.Kind == KindProvisioned || r.Kind == KindDuplicate
}

// AsError returns nil for successful results and a *Failure otherwise.
func (r Result) AsError() error {
	if r.OK() {
		return nil
	}
	return &Failure{Kind: r.Kind, Err: r.Err}
}

// Failure is a failed Result usable with errors.As.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "provision: " + string(f.Kind)
	}
	return fmt.Sprintf("provision: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func failed(kind Kind, err error) Result {
	return Result{Kind: kind, Err: err}
}
