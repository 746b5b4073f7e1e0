// Package session owns the lifecycle of per-name messaging sessions.
//
// A Registry maps session names to Handles. Each Handle exclusively owns one
// client.Client and applies that client's events, in order, on a single
// goroutine. When a client disconnects or fails authentication the Handle
// releases it and the Registry schedules a one-shot recovery that replaces
// the Handle under the same name.
//
// Invariants:
//   - at most one live client per session name
//   - a Handle is never ready while holding a pairing code
//   - request paths read Handles; only client events (and Logout) mutate them
package session
