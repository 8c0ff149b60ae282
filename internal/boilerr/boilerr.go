// Package boilerr provides the closed-set error taxonomy shared by every
// Boilerhouse component (spec §7, Design Notes "Error propagation via sum
// types"). Rather than a family of sentinel error values or bespoke types
// per package, every failure surfaced across a component boundary is a
// *boilerr.Error carrying one of a fixed set of Kinds, so API handlers can
// branch on kind uniformly instead of on error identity or message text.
package boilerr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories from spec §7.
type Kind string

const (
	NotFound      Kind = "not_found"
	Capacity      Kind = "capacity"
	Timeout       Kind = "timeout"
	Configuration Kind = "configuration"
	Runtime       Kind = "runtime"
	Sync          Kind = "sync"
	Hook          Kind = "hook"
	Invariant     Kind = "invariant"
	Persistence   Kind = "persistence"
)

// Error is the concrete error type every core operation returns.
type Error struct {
	Kind Kind
	Code string // short machine code, e.g. "pool_at_capacity", "acquire_timeout"
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is match on Kind+Code alone, or on Kind alone when the
// target's Code is empty (as with boilerr.New(kind, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// New builds a bare Error used as an errors.Is sentinel.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code, msg: code}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error carrying cause as the wrapped error.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, msg: code, err: cause}
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the Code from err, or "" if err is not a *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinels for common codes referenced throughout spec §4-§7. Callers
// compare with errors.Is(err, boilerr.ErrPoolNotFound) etc.
var (
	ErrPoolNotFound       = New(NotFound, "pool_not_found")
	ErrTenantNotClaimed   = New(NotFound, "tenant_not_claimed")
	ErrContainerNotFound  = New(NotFound, "container_not_found")
	ErrWorkloadNotFound   = New(NotFound, "workload_not_found")
	ErrPoolExists         = New(Configuration, "pool_exists")
	ErrPoolAtCapacity     = New(Capacity, "pool_at_capacity")
	ErrAcquireTimeout     = New(Timeout, "acquire_timeout")
	ErrStartTimeout       = New(Timeout, "start_timeout")
	ErrHookTimeout        = New(Timeout, "hook_timeout")
	ErrSyncNotConfigured  = New(Configuration, "sync_not_configured")
	ErrInvalidWorkload    = New(Configuration, "invalid_workload")
	ErrImageUnavailable   = New(Runtime, "image_unavailable")
	ErrRuntimeUnavailable = New(Runtime, "runtime_unavailable")
	ErrContainerCreate    = New(Runtime, "container_create_failed")
	ErrInvariantViolation = New(Invariant, "invariant_violation")
)
