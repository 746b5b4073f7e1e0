package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"pairline/cmd/internal/session"

	"github.com/coder/websocket"
)

const (
	// EventsSubprotocol must be offered by /events clients.
	EventsSubprotocol = "pairline.events.v1"

	eventsVersion = "v1"

	eventsDefaultHeartbeat    = 25 * time.Second
	eventsDefaultHeartbeatTTL = 5 * time.Second
	eventsDefaultWriteTimeout = 5 * time.Second
	eventsDefaultQueue        = 16
	eventsMaxPingFailures     = 3
	eventsReadLimit           = 4 << 10
)

// EventsConfig controls the /events websocket.
type EventsConfig struct {
	// AllowedOrigins lists full origins or hosts; "*" allows any.
	// A request without Origin (non-browser client) is always allowed.
	AllowedOrigins []string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
}

func (c EventsConfig) withDefaults() EventsConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = eventsDefaultHeartbeat
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = eventsDefaultHeartbeatTTL
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = eventsDefaultWriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = eventsDefaultQueue
	}
	return c
}

// StatusFrame is one message on the /events stream.
type StatusFrame struct {
	V          string    `json:"v"`
	Type       string    `json:"type"`
	Session    string    `json:"session"`
	InstanceID string    `json:"instance_id"`
	State      string    `json:"state"`
	Connected  bool      `json:"connected"`
	StatusText string    `json:"statusText"`
	QR         bool      `json:"qr"`
	Reason     string    `json:"reason,omitempty"`
	TS         time.Time `json:"ts"`
}

func newStatusFrame(s session.Snapshot) StatusFrame {
	return StatusFrame{
		V:          eventsVersion,
		Type:       "status",
		Session:    s.Session,
		InstanceID: s.InstanceID,
		State:      string(s.State),
		Connected:  s.Ready,
		StatusText: s.StatusText(),
		QR:         s.HasPairingCode(),
		Reason:     s.Reason,
		TS:         s.UpdatedAt,
	}
}

// handleEvents streams status snapshots of one session until either side closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := queryName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Session name required"})
		return
	}
	if err := enforceOrigin(r, h.cfg.Events.AllowedOrigins); err != nil {
		h.log.Info("events.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	hd, err := h.reg.GetOrCreate(name)
	if err != nil {
		h.logLookupFail(name, err)
		writeJSON(w, httpStatus(err), errorBody{Error: publicMessage(err, name)})
		return
	}
	watcher, err := h.reg.Watch(name, h.cfg.Events.QueueSize)
	if err != nil {
		writeJSON(w, httpStatus(err), errorBody{Error: publicMessage(err, name)})
		return
	}
	defer watcher.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{EventsSubprotocol},
		OriginPatterns: deriveOriginPatterns(h.cfg.Events.AllowedOrigins),
	})
	if err != nil {
		h.log.Error("events.accept.fail", "session", name, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != EventsSubprotocol {
		h.log.Info("events.reject.subprotocol", "got", sp, "want", EventsSubprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(eventsReadLimit)

	// Clients only listen; CloseRead handles control frames and peer close.
	ctx := conn.CloseRead(r.Context())

	h.log.Info("events.open", "session", name)
	defer h.log.Info("events.close", "session", name)

	if err := h.writeFrame(ctx, conn, newStatusFrame(hd.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.Events.HeartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap := <-watcher.Updates():
			if err := h.writeFrame(ctx, conn, newStatusFrame(snap)); err != nil {
				h.log.Info("events.write.fail", "session", name, "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.Events.HeartbeatTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				failures++
				h.log.Info("events.ping.fail", "session", name, "failures", failures, "err", err)
				if failures >= eventsMaxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (h *Handler) writeFrame(parent context.Context, conn *websocket.Conn, f StatusFrame) error {
	ctx, cancel := context.WithTimeout(parent, h.cfg.Events.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

func enforceOrigin(r *http.Request, allowed []string) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}
	if len(allowed) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host
// patterns so both origin checks agree.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		if h := originHostOnly(a); h != "" {
			// Accept matches against host[:port].
			seen[h] = struct{}{}
			seen[h+":*"] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
