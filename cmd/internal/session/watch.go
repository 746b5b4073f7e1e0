package session

import (
	"sync"
)

const defaultWatchQueue = 16

// Watcher receives snapshots of one session as it changes.
//
// A Watcher outlives Handle replacement: it is keyed by session name, so a
// recovered session keeps feeding the same Watcher. Updates is never closed
// by the publisher; Done is closed when the Watcher is closed.
type Watcher struct {
	Session string

	updates   chan Snapshot
	hub       *watchHub
	done      chan struct{}
	closeOnce sync.Once
}

// Updates delivers snapshots. Slow readers miss intermediate snapshots rather
// than stall the session; the most recent snapshot is always queued.
func (w *Watcher) Updates() <-chan Snapshot { return w.updates }

// Done is closed once the Watcher is closed.
func (w *Watcher) Done() <-chan struct{} {
	if w == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

// Close unsubscribes the Watcher. It is idempotent.
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.hub.remove(w)
		close(w.done)
	})
}

// watchHub fans snapshots out per session name.
type watchHub struct {
	mu     sync.RWMutex
	byName map[string]map[*Watcher]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{byName: make(map[string]map[*Watcher]struct{})}
}

func (hub *watchHub) add(name string, queue int) *Watcher {
	if queue <= 0 {
		queue = defaultWatchQueue
	}
	w := &Watcher{
		Session: name,
		updates: make(chan Snapshot, queue),
		hub:     hub,
		done:    make(chan struct{}),
	}

	hub.mu.Lock()
	set := hub.byName[name]
	if set == nil {
		set = make(map[*Watcher]struct{})
		hub.byName[name] = set
	}
	set[w] = struct{}{}
	hub.mu.Unlock()
	return w
}

func (hub *watchHub) remove(w *Watcher) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	set := hub.byName[w.Session]
	delete(set, w)
	if len(set) == 0 {
		delete(hub.byName, w.Session)
	}
}

// publish never blocks.
func (hub *watchHub) publish(snap Snapshot) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for w := range hub.byName[snap.Session] {
		select {
		case <-w.done:
			continue
		default:
		}

		w.offer(snap)
	}
}

// offer enqueues snap, evicting the oldest queued snapshots when full so the
// newest state is always delivered.
func (w *Watcher) offer(snap Snapshot) {
	for {
		select {
		case w.updates <- snap:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

func (hub *watchHub) count(name string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.byName[name])
}

func (hub *watchHub) closeAll() {
	hub.mu.RLock()
	all := make([]*Watcher, 0)
	for _, set := range hub.byName {
		for w := range set {
			all = append(all, w)
		}
	}
	hub.mu.RUnlock()

	for _, w := range all {
		w.Close()
	}
}
