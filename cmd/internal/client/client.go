// Package client defines the messaging capability a session drives.
//
// The capability is opaque to the rest of pairline: it connects, sends,
// logs out and tears down, and reports what happened through an ordered
// event stream. Drivers in this package (sim, bridge) implement it.
package client

import (
	"context"
	"errors"
	"log/slog"
)

// EventKind is the wire-stable name of a capability event.
type EventKind string

const (
	// EventQR carries a freshly issued pairing code in Event.Code.
	EventQR EventKind = "qr"
	// EventReady reports that the account is linked and usable.
	EventReady EventKind = "ready"
	// EventAuthenticated reports that stored credentials were accepted.
	EventAuthenticated EventKind = "authenticated"
	// EventAuthFailure reports that credentials were rejected; Reason carries the cause.
	EventAuthFailure EventKind = "auth_failure"
	// EventDisconnected reports that the link is gone; Reason carries the cause.
	EventDisconnected EventKind = "disconnected"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventQR, EventReady, EventAuthenticated, EventAuthFailure, EventDisconnected:
		return true
	default:
		return false
	}
}

// Event is one notification from a capability.
type Event struct {
	Kind   EventKind
	Code   string
	Reason string
}

// Client is one messaging identity's connection.
//
// Events are delivered in emission order on the channel returned by Events.
// The channel is closed after Destroy returns.
type Client interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, chatID, body string) error
	Logout(ctx context.Context) error
	Destroy(ctx context.Context) error
	Events() <-chan Event
}

// Options scope a new Client to one session.
type Options struct {
	// Session is the identity token; it doubles as the credential directory name.
	Session string
	// DataPath is the session's credential-store directory. It exists before the factory runs.
	DataPath string
	// InstanceID distinguishes successive clients built for the same session.
	InstanceID string
	Log        *slog.Logger
}

// Factory builds a Client. It must not block on network I/O; Initialize does that.
type Factory func(opts Options) (Client, error)

var (
	// ErrClosed is returned by operations on a destroyed client.
	ErrClosed = errors.New("client: closed")
	// ErrNotConnected is returned when an operation needs a linked account.
	ErrNotConnected = errors.New("client: not connected")
)

// eventQueueSize bounds per-client event buffering.
const eventQueueSize = 32
