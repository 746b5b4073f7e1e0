package session

import "time"

// State is a Handle's lifecycle position.
type State string

const (
	StateInitializing    State = "initializing"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	// StateAuthFailed is a Disconnected variant reached through an auth_failure event.
	StateAuthFailed State = "auth_failed"
)

// Status texts reported to callers.
const (
	StatusConnected    = "connected"
	StatusAwaitingScan = "awaiting-scan"
	StatusConnecting   = "connecting"
)

// Snapshot is a consistent read of a Handle.
type Snapshot struct {
	Session     string
	InstanceID  string
	State       State
	Ready       bool
	PairingCode string
	Reason      string
	UpdatedAt   time.Time
}

// HasPairingCode reports whether a scan is pending.
func (s Snapshot) HasPairingCode() bool { return s.PairingCode != "" }

// StatusText derives the caller-facing status.
func (s Snapshot) StatusText() string {
	return statusText(s.Ready, s.PairingCode)
}

func statusText(ready bool, code string) string {
	switch {
	case ready:
		return StatusConnected
	case code != "":
		return StatusAwaitingScan
	default:
		return StatusConnecting
	}
}
