package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	v1 "pairline/cmd/internal/client/wire/v1"
	"pairline/cmd/internal/ids"

	"github.com/coder/websocket"
)

const (
	bridgeMaxFrameBytes      = 1 << 20 // 1 MiB
	bridgeDefaultDialTimeout = 10 * time.Second
	bridgeDefaultCmdTimeout  = 60 * time.Second
	bridgeDestroyGrace       = 3 * time.Second
)

// BridgeConfig points the bridge driver at a sidecar.
type BridgeConfig struct {
	// URL is the sidecar websocket endpoint, e.g. ws://127.0.0.1:3001/session.
	URL string

	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// HTTPClient is used for the handshake; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Bridge is a Client whose protocol work happens in a sidecar process.
//
// One websocket carries one session. Commands are answered by result
// envelopes matched on reply_to; everything else the sidecar sends is an
// event. Losing the socket is reported as a disconnected event.
type Bridge struct {
	opts Options
	cfg  BridgeConfig
	log  *slog.Logger

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan v1.ResultPayload
	loopDone chan struct{}
	closed   bool
}

// NewBridgeFactory returns a Factory producing bridge clients.
func NewBridgeFactory(cfg BridgeConfig) (Factory, error) {
	if err := validateBridgeURL(cfg.URL); err != nil {
		return nil, err
	}
	return func(opts Options) (Client, error) {
		return NewBridge(opts, cfg), nil
	}, nil
}

// NewBridge constructs a bridge client. It does not dial; Initialize does.
func NewBridge(opts Options, cfg BridgeConfig) *Bridge {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = bridgeDefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = bridgeDefaultCmdTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		opts:    opts,
		cfg:     cfg,
		log:     log.With("driver", "bridge"),
		events:  make(chan Event, eventQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan v1.ResultPayload),
	}
}

// Events implements Client.
func (b *Bridge) Events() <-chan Event { return b.events }

// Initialize dials the sidecar (once) and asks it to start the session.
func (b *Bridge) Initialize(ctx context.Context) error {
	if err := b.connect(ctx); err != nil {
		return err
	}
	return b.call(ctx, v1.TypeInitialize, nil)
}

// SendMessage implements Client.
func (b *Bridge) SendMessage(ctx context.Context, chatID, body string) error {
	return b.call(ctx, v1.TypeSend, v1.SendPayload{ChatID: chatID, Body: body})
}

// Logout implements Client.
func (b *Bridge) Logout(ctx context.Context) error {
	return b.call(ctx, v1.TypeLogout, nil)
}

// Destroy asks the sidecar to tear the session down, then closes the socket.
// It is idempotent; the events channel is closed when it returns.
func (b *Bridge) Destroy(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	connected := b.conn != nil
	b.mu.Unlock()

	var callErr error
	if connected {
		dctx, cancel := context.WithTimeout(ctx, bridgeDestroyGrace)
		callErr = b.call(dctx, v1.TypeDestroy, nil)
		cancel()
	}

	b.mu.Lock()
	b.closed = true
	conn := b.conn
	done := b.loopDone
	b.mu.Unlock()

	b.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "destroy")
	}
	if done != nil {
		<-done
	}
	close(b.events)

	if callErr != nil && !errors.Is(callErr, ErrClosed) {
		b.log.Info("bridge.destroy.remote_fail", "session", b.opts.Session, "err", callErr)
	}
	return nil
}

func (b *Bridge) connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.conn != nil {
		return nil
	}

	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("bridge: parse url: %w", err)
	}
	q := u.Query()
	q.Set("session", b.opts.Session)
	q.Set("data_path", b.opts.DataPath)
	q.Set("instance_id", b.opts.InstanceID)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, u.String(), &websocket.DialOptions{
		HTTPClient:   b.cfg.HTTPClient,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return fmt.Errorf("bridge: subprotocol %q not negotiated (got %q)", v1.Subprotocol, sp)
	}
	conn.SetReadLimit(bridgeMaxFrameBytes)

	b.conn = conn
	b.loopDone = make(chan struct{})
	go b.readLoop(conn, b.loopDone)

	b.log.Info("bridge.connected", "session", b.opts.Session, "instance_id", b.opts.InstanceID)
	return nil
}

func (b *Bridge) call(ctx context.Context, typ string, payload any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	conn := b.conn
	done := b.loopDone
	if conn == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}

	id := ids.MustULID()
	reply := make(chan v1.ResultPayload, 1)
	b.pending[id] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	cctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	env, err := newEnvelope(typ, id, payload)
	if err != nil {
		return err
	}
	if err := writeEnvelope(cctx, conn, env); err != nil {
		return fmt.Errorf("bridge: write %s: %w", typ, err)
	}

	select {
	case res := <-reply:
		if !res.OK {
			msg := strings.TrimSpace(res.Error)
			if msg == "" {
				msg = "unspecified failure"
			}
			return fmt.Errorf("bridge: %s: %s", typ, msg)
		}
		return nil
	case <-done:
		return ErrClosed
	case <-cctx.Done():
		return fmt.Errorf("bridge: %s: %w", typ, cctx.Err())
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil {
				reason := "bridge connection lost"
				if status := websocket.CloseStatus(err); status != -1 {
					reason = fmt.Sprintf("bridge closed: %s", status)
				}
				b.log.Info("bridge.read.fail", "session", b.opts.Session, "err", err)
				b.emit(Event{Kind: EventDisconnected, Reason: reason})
			}
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.log.Warn("bridge.frame.bad_json", "session", b.opts.Session, "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			b.log.Warn("bridge.frame.invalid", "session", b.opts.Session, "err", err)
			continue
		}

		if env.Type == v1.TypeResult {
			b.deliver(env)
			continue
		}
		if !env.IsEvent() {
			b.log.Warn("bridge.frame.unexpected", "session", b.opts.Session, "type", env.Type)
			continue
		}

		ev, err := decodeEvent(env)
		if err != nil {
			b.log.Warn("bridge.event.bad_payload", "session", b.opts.Session, "type", env.Type, "err", err)
			continue
		}
		if !b.emit(ev) {
			return
		}
	}
}

func (b *Bridge) deliver(env v1.Envelope) {
	var res v1.ResultPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			res = v1.ResultPayload{OK: false, Error: "malformed result payload"}
		}
	}

	b.mu.Lock()
	ch := b.pending[env.ReplyTo]
	b.mu.Unlock()

	if ch == nil {
		b.log.Debug("bridge.result.orphan", "session", b.opts.Session, "reply_to", env.ReplyTo)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// emit is only called from readLoop, so it never races with close(b.events).
func (b *Bridge) emit(ev Event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func decodeEvent(env v1.Envelope) (Event, error) {
	switch env.Type {
	case v1.TypeQR:
		var p v1.QRPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, err
		}
		if strings.TrimSpace(p.Code) == "" {
			return Event{}, errors.New("empty pairing code")
		}
		return Event{Kind: EventQR, Code: p.Code}, nil
	case v1.TypeReady:
		return Event{Kind: EventReady}, nil
	case v1.TypeAuthenticated:
		return Event{Kind: EventAuthenticated}, nil
	case v1.TypeAuthFailure, v1.TypeDisconnected:
		var p v1.ReasonPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Event{}, err
			}
		}
		return Event{Kind: EventKind(env.Type), Reason: p.Reason}, nil
	default:
		return Event{}, fmt.Errorf("not an event: %q", env.Type)
	}
}

func newEnvelope(typ, id string, payload any) (v1.Envelope, error) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: typ,
		ID:   id,
		TS:   time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return v1.Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func validateBridgeURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("bridge: empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("bridge: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("bridge: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("bridge: missing host")
	}
	return nil
}
