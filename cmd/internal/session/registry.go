package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pairline/cmd/internal/client"
	"pairline/cmd/internal/ids"

	"golang.org/x/sync/errgroup"
)

const (
	defaultRecoveryDelay  = 5 * time.Second
	defaultInitTimeout    = 2 * time.Minute
	defaultReleaseTimeout = 10 * time.Second
	catalogTimeout        = 5 * time.Second

	causeCreate  = "create"
	causeRestart = "restart"
)

// Config controls a Registry.
type Config struct {
	// DataDir is the credential-store root; each session gets DataDir/<name>.
	DataDir string

	// RecoveryDelay is the fixed delay between a disconnect and the replacement client.
	RecoveryDelay time.Duration

	// RecoveryMaxAttempts caps consecutive recoveries that never reach ready.
	// Zero means unbounded.
	RecoveryMaxAttempts int

	// MaxSessions bounds the number of registered names. Zero means unbounded.
	MaxSessions int

	InitTimeout    time.Duration
	ReleaseTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the base logger; session lines add session and instance_id.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) error {
		if log == nil {
			return errors.New("session: nil logger")
		}
		r.log = log
		return nil
	}
}

// WithCatalog records every transition in c. The Registry does not close c.
func WithCatalog(c Catalog) Option {
	return func(r *Registry) error {
		if c == nil {
			return errors.New("session: nil catalog")
		}
		r.catalog = c
		return nil
	}
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) error {
		r.metrics = m
		return nil
	}
}

type entry struct {
	h *Handle
	// timer is non-nil while a recovery is pending for h.
	timer *time.Timer
	// attempts counts recoveries since the session was last ready.
	attempts int
}

// Registry maps session names to Handles.
//
// GetOrCreate is serialized by mu, so a name never has two live clients.
// A Handle whose client was released is treated as absent unless a recovery
// for it is pending; recovery and Restart replace an entry only if it still
// holds the Handle they were started for.
type Registry struct {
	cfg      Config
	factory  client.Factory
	log      *slog.Logger
	catalog  Catalog
	metrics  *Metrics
	watchers *watchHub

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry constructs a Registry that builds clients with factory.
func NewRegistry(cfg Config, factory client.Factory, opts ...Option) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("session: nil client factory")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("session: empty data dir")
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = defaultRecoveryDelay
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	if cfg.RecoveryMaxAttempts < 0 || cfg.MaxSessions < 0 {
		return nil, errors.New("session: negative limit")
	}

	r := &Registry{
		cfg:      cfg,
		factory:  factory,
		log:      slog.Default(),
		catalog:  NewMemoryCatalog(),
		watchers: newWatchHub(),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Catalog returns the store the Registry records into.
func (r *Registry) Catalog() Catalog { return r.catalog }

// GetOrCreate returns the Handle registered under name, creating it if needed.
// A new Handle is returned immediately; its client initializes in the background.
func (r *Registry) GetOrCreate(name string) (*Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	e, ok := r.entries[name]
	if ok && (!e.h.Released() || e.timer != nil) {
		h := e.h
		r.mu.Unlock()
		return h, nil
	}
	if !ok && r.cfg.MaxSessions > 0 && len(r.entries) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		r.log.Warn("session.create.full", "session", name, "max_sessions", r.cfg.MaxSessions)
		return nil, ErrRegistryFull
	}

	h, err := r.createLocked(name, causeCreate)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if ok {
		// Released with no pending recovery: a request re-arms it.
		e.h = h
		e.attempts = 0
	} else {
		r.entries[name] = &entry{h: h}
	}
	r.mu.Unlock()
	return h, nil
}

// Lookup returns the current Handle for name without creating one.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.h, true
}

// Restart releases the current client for name and registers a fresh one.
// A pending recovery is cancelled. If name is unknown it is created.
func (r *Registry) Restart(ctx context.Context, name string) (*Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return r.GetOrCreate(name)
	}
	stopTimer(e)
	old := e.h
	r.mu.Unlock()

	if err := old.release(ctx); err != nil {
		old.log.Warn("session.restart.release_fail", "err", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok = r.entries[name]
	if ok && e.h != old {
		// Replaced while we were releasing.
		h := e.h
		r.mu.Unlock()
		return h, nil
	}
	h, err := r.createLocked(name, causeRestart)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if ok {
		stopTimer(e)
		e.h = h
		e.attempts = 0
	} else {
		r.entries[name] = &entry{h: h}
	}
	r.mu.Unlock()

	h.log.Info("session.restarted", "previous_instance_id", old.instanceID)
	return h, nil
}

// Watch subscribes to snapshots of name. queue <= 0 selects a default buffer.
// The Watcher keeps receiving across recoveries until it is closed.
func (r *Registry) Watch(name string, queue int) (*Watcher, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	return r.watchers.add(name, queue), nil
}

// Snapshots returns the current snapshot of every session, ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.h.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Restore registers every catalogued session so stored credentials reconnect
// without waiting for a request. It returns the number of sessions registered.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	recs, err := r.catalog.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: list catalog: %w", err)
	}

	n := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := r.GetOrCreate(rec.Session); err != nil {
			if errors.Is(err, ErrRegistryFull) || errors.Is(err, ErrRegistryClosed) {
				return n, err
			}
			r.log.Warn("session.restore.skip", "session", rec.Session, "err", err)
			continue
		}
		n++
	}
	r.log.Info("session.restored", "count", n)
	return n, nil
}

// Close stops pending recoveries and releases every client. Subsequent calls
// to GetOrCreate, Restart and Watch fail with ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*Handle, 0, len(r.entries))
	for _, e := range r.entries {
		stopTimer(e)
		handles = append(handles, e.h)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error { return h.release(ctx) })
	}
	err := g.Wait()

	for _, h := range handles {
		select {
		case <-h.loopDone:
		case <-ctx.Done():
		}
	}
	r.watchers.closeAll()

	r.log.Info("session.registry.closed", "sessions", len(handles))
	return err
}

// createLocked builds a Handle and starts it. r.mu must be held, and the
// caller must register the Handle before releasing it: the event loop
// publishes its first snapshot under cause once it can take r.mu.
func (r *Registry) createLocked(name, cause string) (*Handle, error) {
	dir := filepath.Join(r.cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session %s: credential dir: %w", name, err)
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, fmt.Errorf("session %s: instance id: %w", name, err)
	}
	log := r.log.With("session", name, "instance_id", id)

	c, err := r.factory(client.Options{
		Session:    name,
		DataPath:   dir,
		InstanceID: id,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: build client: %w", name, err)
	}

	h := newHandle(name, id, dir, c, r, log, r.metrics, now)
	h.origin = cause
	r.metrics.clientCreated()

	go h.run()
	go r.initialize(h)

	log.Info("session.create", "data_path", dir)
	return h, nil
}

// initialize starts the client. A failure is fed back as a disconnect so
// the recovery policy applies.
func (r *Registry) initialize(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.InitTimeout)
	defer cancel()
	go func() {
		select {
		case <-h.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := h.client.Initialize(ctx)
	if err == nil || h.stopping() {
		return
	}
	h.log.Error("session.initialize.fail", "err", err)
	h.inject(client.Event{Kind: client.EventDisconnected, Reason: "initialize: " + err.Error()})
}

// transitioned implements lifecycle.
func (r *Registry) transitioned(h *Handle, cause string, snap Snapshot) {
	r.metrics.event(cause)

	r.mu.Lock()
	e, ok := r.entries[h.name]
	current := ok && e.h == h
	if current && snap.Ready {
		e.attempts = 0
	}
	counts := r.countsLocked()
	r.mu.Unlock()

	if !current {
		return
	}
	r.metrics.setSessions(counts)
	r.record(h, snap)
	r.watchers.publish(snap)
}

// terminated implements lifecycle.
func (r *Registry) terminated(h *Handle, ev client.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReleaseTimeout)
	_ = h.release(ctx)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	e, ok := r.entries[h.name]
	if !ok || e.h != h || e.timer != nil {
		return
	}
	r.scheduleLocked(e, string(ev.Kind))
}

// scheduleLocked arms a one-shot recovery for e.h. r.mu must be held.
func (r *Registry) scheduleLocked(e *entry, cause string) {
	stale := e.h
	if limit := r.cfg.RecoveryMaxAttempts; limit > 0 && e.attempts >= limit {
		stale.log.Warn("session.recovery.exhausted", "attempts", e.attempts, "cause", cause)
		r.metrics.recovery("exhausted")
		return
	}

	e.attempts++
	e.timer = time.AfterFunc(r.cfg.RecoveryDelay, func() { r.recover(stale) })

	stale.log.Info("session.recovery.scheduled",
		"delay", r.cfg.RecoveryDelay.String(),
		"attempt", e.attempts,
		"cause", cause,
	)
	r.metrics.recovery("scheduled")
}

// recover replaces stale with a new Handle if stale is still registered.
func (r *Registry) recover(stale *Handle) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	e, ok := r.entries[stale.name]
	if !ok || e.h != stale {
		r.mu.Unlock()
		r.metrics.recovery("superseded")
		return
	}
	e.timer = nil

	h, err := r.createLocked(stale.name, causeCreate)
	if err != nil {
		stale.log.Error("session.recovery.fail", "err", err)
		r.metrics.recovery("fail")
		r.scheduleLocked(e, "recovery_fail")
		r.mu.Unlock()
		return
	}
	e.h = h
	r.mu.Unlock()

	h.log.Info("session.recovered", "previous_instance_id", stale.instanceID)
	r.metrics.recovery("replaced")
}

func (r *Registry) countsLocked() map[string]int {
	counts := make(map[string]int, 3)
	for _, e := range r.entries {
		counts[e.h.StatusText()]++
	}
	return counts
}

func (r *Registry) record(h *Handle, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()

	err := r.catalog.Upsert(ctx, Record{
		Session:    snap.Session,
		InstanceID: snap.InstanceID,
		State:      snap.State,
		Reason:     snap.Reason,
		CreatedAt:  h.createdAt,
		UpdatedAt:  snap.UpdatedAt,
	})
	if err != nil {
		h.log.Warn("session.catalog.upsert_fail", "err", err)
	}
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
