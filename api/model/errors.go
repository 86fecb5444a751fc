package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoEligibleNode      = errors.New("no node satisfies the requested memory, disk and port requirements")
	ErrNoAvailablePorts    = errors.New("no free ports left in the node's allocation range")
	ErrCannotRemovePrimary = errors.New("cannot remove the primary allocation")
)

// ValidationError rejects malformed input before any ledger or daemon work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LimitExceeded is returned when a quota would be breached.
type LimitExceeded struct {
	Resource string
	Limit    int64
	Wanted   int64
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("%s limit exceeded (limit %d, requested total %d)", e.Resource, e.Limit, e.Wanted)
}

// PermissionDenied is returned when the actor lacks a capability on a server.
type PermissionDenied struct {
	Permission string
}

func (e *PermissionDenied) Error() string {
	return "permission denied: " + e.Permission
}

// AuthError rejects a bad daemon credential or console session.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// StateConflict is returned when a lifecycle event is not valid for the
// server's current status.
type StateConflict struct {
	Status    Status
	Suspended bool
	Action    string
}

func (e *StateConflict) Error() string {
	if e.Suspended {
		return fmt.Sprintf("cannot %s: server is suspended", e.Action)
	}
	return fmt.Sprintf("cannot %s while server is %s", e.Action, e.Status)
}
