package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSessionName is returned for names that are empty or unsafe as a directory name.
	ErrInvalidSessionName = errors.New("invalid session name")

	// ErrNotReady is returned when a session is not connected yet.
	ErrNotReady = errors.New("session not ready")

	// ErrInvalidNumber is returned when a destination number normalizes to nothing usable.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrRegistryClosed is returned after Registry.Close.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrRegistryFull is returned when the configured session bound is reached.
	ErrRegistryFull = errors.New("registry full")

	// ErrDispatch classifies capability-reported send failures (see DispatchError).
	ErrDispatch = errors.New("dispatch failed")

	// ErrLogout classifies capability-reported logout failures (see LogoutError).
	ErrLogout = errors.New("logout failed")
)

// DispatchError wraps a failure reported by the capability while sending.
// errors.Is matches both ErrDispatch and the underlying cause.
type DispatchError struct {
	Session string
	ChatID  string
	Cause   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("session %s: send to %s: %v", e.Session, e.ChatID, e.Cause)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Cause} }

// LogoutError wraps a failure reported by the capability while logging out.
// The Handle's state is unchanged when it is returned.
type LogoutError struct {
	Session string
	Cause   error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("session %s: logout: %v", e.Session, e.Cause)
}

func (e *LogoutError) Unwrap() []error { return []error{ErrLogout, e.Cause} }
