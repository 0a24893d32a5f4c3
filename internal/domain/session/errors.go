package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is matched by every PermissionError.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoSessionID is returned when an operation needs a bound id.
	ErrNoSessionID = errors.New("no id bound")
	// ErrDisposed is returned by operations on a disposed session.
	ErrDisposed = errors.New("session disposed")
	// ErrWrongKind is returned when a scope is already held by the other variant.
	ErrWrongKind = errors.New("scope registered with a different session kind")
)

// LoadError wraps a failed transcript or listing fetch.
type LoadError struct {
	Op        string
	Scope     string
	SessionID string
	Err       error
}

func (e *LoadError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s (scope %s): %v", e.Op, e.SessionID, e.Scope, e.Err)
	}
	return fmt.Sprintf("%s scope %s: %v", e.Op, e.Scope, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SaveError wraps a failed save.
type SaveError struct {
	Op        string
	Scope     string
	SessionID string
	Err       error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("%s scope %s: %v", e.Op, e.Scope, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// PermissionError reports an operation outside the session's capabilities.
type PermissionError struct {
	Op    Capability
	Kind  Kind
	Scope string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s session %s: %s: %v", e.Kind, e.Scope, e.Op, ErrPermissionDenied)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// ChannelError wraps a push channel failure.
type ChannelError struct {
	Op    string
	Scope string
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s for %s: %v", e.Op, e.Scope, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
