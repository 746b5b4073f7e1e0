package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// simMarkerFile marks a credential directory as paired.
const simMarkerFile = "paired"

// SimConfig controls the in-process simulator.
type SimConfig struct {
	// AutoPair links the account this long after a pairing code is issued.
	// Zero disables it; callers then use (*Sim).Pair.
	AutoPair time.Duration
}

// SentMessage is one message accepted by the simulator.
type SentMessage struct {
	ChatID string
	Body   string
	At     time.Time
}

// Sim is a Client that behaves like a linked-device session without a network.
//
// A pairing code is issued on Initialize unless the credential directory
// already carries a pairing marker, in which case the session goes straight
// to ready. Pairing writes the marker; Logout removes it.
type Sim struct {
	opts Options
	cfg  SimConfig
	log  *slog.Logger

	mu          sync.Mutex
	events      chan Event
	closed      bool
	initialized bool
	ready       bool
	code        string
	timer       *time.Timer
	sent        []SentMessage
}

// NewSimFactory returns a Factory producing simulator clients.
func NewSimFactory(cfg SimConfig) Factory {
	return func(opts Options) (Client, error) {
		return NewSim(opts, cfg), nil
	}
}

// NewSim constructs a simulator client.
func NewSim(opts Options, cfg SimConfig) *Sim {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Sim{
		opts:   opts,
		cfg:    cfg,
		log:    log.With("driver", "sim"),
		events: make(chan Event, eventQueueSize),
	}
}

// Events implements Client.
func (s *Sim) Events() <-chan Event { return s.events }

// Initialize implements Client.
func (s *Sim) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}
	s.initialized = true

	if s.hasMarker() {
		s.emitLocked(Event{Kind: EventAuthenticated})
		s.ready = true
		s.emitLocked(Event{Kind: EventReady})
		return nil
	}

	s.issueCodeLocked()
	return nil
}

// Pair links the account as if the pairing code had been scanned.
func (s *Sim) Pair() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.ready {
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if err := s.writeMarker(); err != nil {
		return err
	}

	s.code = ""
	s.ready = true
	s.emitLocked(Event{Kind: EventAuthenticated})
	s.emitLocked(Event{Kind: EventReady})
	return nil
}

// Disconnect drops the link with the given reason.
func (s *Sim) Disconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.ready = false
	s.emitLocked(Event{Kind: EventDisconnected, Reason: reason})
}

// RejectAuth reports a credential rejection and forgets the pairing marker.
func (s *Sim) RejectAuth(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.ready = false
	s.removeMarker()
	s.emitLocked(Event{Kind: EventAuthFailure, Reason: reason})
}

// SendMessage implements Client.
func (s *Sim) SendMessage(ctx context.Context, chatID, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.ready {
		return ErrNotConnected
	}
	if strings.TrimSpace(chatID) == "" {
		return errors.New("client: empty chat id")
	}

	s.sent = append(s.sent, SentMessage{ChatID: chatID, Body: body, At: time.Now().UTC()})
	s.log.Debug("sim.send", "session", s.opts.Session, "chat_id", chatID, "bytes", len(body))
	return nil
}

// Sent returns a copy of all accepted messages.
func (s *Sim) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// PairingCode returns the currently issued code, if any.
func (s *Sim) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Logout implements Client. The link is dropped with reason "LOGOUT".
func (s *Sim) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.removeMarker(); err != nil {
		return err
	}
	s.ready = false
	s.code = ""
	s.emitLocked(Event{Kind: EventDisconnected, Reason: "LOGOUT"})
	return nil
}

// Destroy implements Client. It is idempotent.
func (s *Sim) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ready = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.events)
	return nil
}

func (s *Sim) issueCodeLocked() {
	s.code = newPairingCode()
	s.emitLocked(Event{Kind: EventQR, Code: s.code})

	if s.cfg.AutoPair > 0 {
		s.timer = time.AfterFunc(s.cfg.AutoPair, func() {
			if err := s.Pair(); err != nil && !errors.Is(err, ErrClosed) {
				s.log.Error("sim.autopair.fail", "session", s.opts.Session, "err", err)
			}
		})
	}
}

// emitLocked never blocks; the buffer is sized well above what one session emits between reads.
func (s *Sim) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("sim.event.drop", "session", s.opts.Session, "kind", string(ev.Kind))
	}
}

func (s *Sim) markerPath() string {
	return filepath.Join(s.opts.DataPath, simMarkerFile)
}

func (s *Sim) hasMarker() bool {
	if s.opts.DataPath == "" {
		return false
	}
	_, err := os.Stat(s.markerPath())
	return err == nil
}

func (s *Sim) writeMarker() error {
	if s.opts.DataPath == "" {
		return nil
	}
	return os.WriteFile(s.markerPath(), []byte(s.opts.InstanceID+"\n"), 0o600)
}

func (s *Sim) removeMarker() error {
	if s.opts.DataPath == "" {
		return nil
	}
	if err := os.Remove(s.markerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func newPairingCode() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
