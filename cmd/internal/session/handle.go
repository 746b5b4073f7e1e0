package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pairline/cmd/internal/client"
)

// causeLogout labels the transition applied by a successful Logout.
const causeLogout = "logout"

// lifecycle receives a Handle's transitions. The Registry implements it.
type lifecycle interface {
	transitioned(h *Handle, cause string, snap Snapshot)
	terminated(h *Handle, ev client.Event)
}

// Handle is one session's state plus the client it exclusively owns.
//
// Concurrency model:
//   - the event loop (run) is the only consumer of the client's events, so
//     events are applied in emission order
//   - run publishes the creation snapshot before any event, so watchers and
//     the catalog never see a Handle's transitions out of order
//   - mu guards the state fields for request-path readers
//   - release is idempotent and is the only path that destroys the client
type Handle struct {
	name       string
	instanceID string
	dataPath   string
	createdAt  time.Time

	client  client.Client
	hooks   lifecycle
	log     *slog.Logger
	metrics *Metrics

	mu          sync.RWMutex
	state       State
	ready       bool
	pairingCode string
	reason      string
	updatedAt   time.Time

	// origin is the cause of the first snapshot run publishes.
	origin string

	// local carries events that originate outside the client (initialize failures).
	local    chan client.Event
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	releaseOnce sync.Once
	released    chan struct{}
	releaseErr  error
}

func newHandle(name, instanceID, dataPath string, c client.Client, hooks lifecycle, log *slog.Logger, metrics *Metrics, now time.Time) *Handle {
	return &Handle{
		name:       name,
		instanceID: instanceID,
		dataPath:   dataPath,
		createdAt:  now,
		client:     c,
		hooks:      hooks,
		log:        log,
		metrics:    metrics,
		state:      StateInitializing,
		updatedAt:  now,
		local:      make(chan client.Event, 1),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		released:   make(chan struct{}),
	}
}

// Name returns the session name.
func (h *Handle) Name() string { return h.name }

// InstanceID identifies the client this Handle owns; it changes on every replacement.
func (h *Handle) InstanceID() string { return h.instanceID }

// DataPath is the session's credential-store directory.
func (h *Handle) DataPath() string { return h.dataPath }

// IsReady reports whether the client is connected.
func (h *Handle) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// CurrentPairingCode returns the pending pairing code, if any.
func (h *Handle) CurrentPairingCode() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pairingCode, h.pairingCode != ""
}

// StatusText is one of StatusConnected, StatusAwaitingScan, StatusConnecting.
func (h *Handle) StatusText() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return statusText(h.ready, h.pairingCode)
}

// State returns the lifecycle position.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Snapshot returns all state fields read under one lock.
func (h *Handle) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Snapshot{
		Session:     h.name,
		InstanceID:  h.instanceID,
		State:       h.state,
		Ready:       h.ready,
		PairingCode: h.pairingCode,
		Reason:      h.reason,
		UpdatedAt:   h.updatedAt,
	}
}

// Released reports whether the client has been destroyed.
func (h *Handle) Released() bool {
	select {
	case <-h.released:
		return true
	default:
		return false
	}
}

// Logout asks the client to unlink the account. On success the Handle stops
// being ready and drops any pairing code; on failure nothing changes.
func (h *Handle) Logout(ctx context.Context) error {
	if err := h.client.Logout(ctx); err != nil {
		h.log.Error("session.logout.fail", "err", err)
		h.metrics.logout("fail")
		return &LogoutError{Session: h.name, Cause: err}
	}

	h.mu.Lock()
	h.ready = false
	h.pairingCode = ""
	h.state = StateDisconnected
	h.reason = causeLogout
	h.updatedAt = time.Now().UTC()
	h.mu.Unlock()

	h.log.Info("session.logout")
	h.metrics.logout("ok")
	h.hooks.transitioned(h, causeLogout, h.Snapshot())
	return nil
}

// run is the Handle's event loop. It returns after a terminal event or release.
func (h *Handle) run() {
	defer close(h.loopDone)

	if h.origin != "" && !h.stopping() {
		h.hooks.transitioned(h, h.origin, h.Snapshot())
	}

	events := h.client.Events()
	for {
		var ev client.Event
		select {
		case <-h.stop:
			return
		case ev = <-h.local:
		case e, ok := <-events:
			if !ok {
				if h.stopping() {
					return
				}
				ev = client.Event{Kind: client.EventDisconnected, Reason: "event stream closed"}
				events = nil
			} else {
				ev = e
			}
		}
		if h.stopping() {
			return
		}

		terminal, known := h.apply(ev)
		if !known {
			h.log.Warn("session.event.unknown", "kind", string(ev.Kind))
			continue
		}
		h.logEvent(ev)
		h.hooks.transitioned(h, string(ev.Kind), h.Snapshot())

		if terminal {
			h.hooks.terminated(h, ev)
			return
		}
	}
}

// apply performs the state transition for ev.
func (h *Handle) apply(ev client.Event) (terminal, known bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case client.EventQR:
		h.pairingCode = ev.Code
		h.ready = false
		h.state = StateAwaitingPairing
	case client.EventReady:
		h.pairingCode = ""
		h.ready = true
		h.state = StateConnected
		h.reason = ""
	case client.EventAuthenticated:
		return false, true
	case client.EventAuthFailure:
		h.ready = false
		h.pairingCode = ""
		h.state = StateAuthFailed
		h.reason = ev.Reason
		terminal = true
	case client.EventDisconnected:
		h.ready = false
		h.pairingCode = ""
		h.state = StateDisconnected
		h.reason = ev.Reason
		terminal = true
	default:
		return false, false
	}

	h.updatedAt = time.Now().UTC()
	return terminal, true
}

func (h *Handle) logEvent(ev client.Event) {
	switch ev.Kind {
	case client.EventQR:
		h.log.Info("session.event.qr")
	case client.EventReady:
		h.log.Info("session.event.ready")
	case client.EventAuthenticated:
		h.log.Info("session.event.authenticated")
	case client.EventAuthFailure:
		h.log.Error("session.event.auth_failure", "reason", ev.Reason)
	case client.EventDisconnected:
		h.log.Info("session.event.disconnected", "reason", ev.Reason)
	}
}

// inject feeds an event that did not come from the client into the loop.
func (h *Handle) inject(ev client.Event) {
	select {
	case h.local <- ev:
	case <-h.stop:
	}
}

func (h *Handle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// release stops the event loop and destroys the client exactly once.
// Concurrent callers block until the first release completes.
func (h *Handle) release(ctx context.Context) error {
	h.releaseOnce.Do(func() {
		h.stopOnce.Do(func() { close(h.stop) })

		h.releaseErr = h.client.Destroy(ctx)
		close(h.released)

		if h.releaseErr != nil {
			h.log.Error("session.release.fail", "err", h.releaseErr)
			return
		}
		h.log.Info("session.released")
	})
	return h.releaseErr
}
