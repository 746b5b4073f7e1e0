// Package gateway is the HTTP surface over the session registry.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pairline/cmd/internal/portal"
	"pairline/cmd/internal/session"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultMaxBodyBytes = 64 << 10 // 64 KiB
	qrImageSize         = 256
)

// Config controls gateway behavior.
type Config struct {
	MaxBodyBytes int64

	// SendWait bounds how long a send request waits for the capability.
	// Zero waits until the dispatcher's own send timeout.
	SendWait time.Duration

	// TrustProxy takes the client IP for login throttling from X-Forwarded-For.
	TrustProxy bool

	Events EventsConfig
}

// Handler serves the session endpoints.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	reg    *session.Registry
	disp   session.Dispatcher
	portal *portal.Service
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithPortal enables the /portal routes.
func WithPortal(svc *portal.Service) HandlerOption {
	return func(h *Handler) {
		if h == nil || svc == nil {
			return
		}
		h.portal = svc
	}
}

// NewHandler constructs a Handler over reg.
func NewHandler(log *slog.Logger, reg *session.Registry, disp session.Dispatcher, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if reg == nil {
		return nil, errors.New("gateway: nil registry")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	cfg.Events = cfg.Events.withDefaults()

	h := &Handler{log: log, cfg: cfg, reg: reg, disp: disp}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/{$}", h.handleIndex)
	mux.HandleFunc("/qr", h.handleQR)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/send-whatsapp", h.handleSend)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/events", h.handleEvents)

	if h.portal != nil {
		mux.HandleFunc("/portal/login", h.handlePortalLogin)
		mux.HandleFunc("/portal/me", h.handlePortalMe)
		mux.HandleFunc("/portal/qr", h.handlePortalQR)
		mux.HandleFunc("/portal/status", h.handlePortalStatus)
		mux.HandleFunc("/portal/send", h.handlePortalSend)
		mux.HandleFunc("/portal/logout", h.handlePortalLogout)
	}
}

// ---- handlers ----

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>pairline</title></head>
<body>
<h1>Multi-Session WhatsApp Web API</h1>
<ul>
<li><b>GET /qr?session=NAME</b> - pairing QR code for a session</li>
<li><b>GET /status?session=NAME</b> - connection status for a session</li>
<li><b>POST /send-whatsapp {number, message, session}</b> - send a message</li>
<li><b>GET /events?session=NAME</b> - websocket status stream</li>
</ul>
</body></html>
`

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexHTML))
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := queryName(r)
	if name == "" {
		writeText(w, http.StatusBadRequest, "Session name required")
		return
	}
	h.serveQR(w, name)
}

type statusResponse struct {
	Connected  bool   `json:"connected"`
	StatusText string `json:"statusText"`
	QR         bool   `json:"qr"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := queryName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Session name required"})
		return
	}
	h.serveStatus(w, name)
}

type sendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
	Session string `json:"session"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeResultError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Session)
	if name == "" {
		writeResultError(w, http.StatusBadRequest, "Session name required")
		return
	}
	if strings.TrimSpace(req.Number) == "" || req.Message == "" {
		writeResultError(w, http.StatusBadRequest, "Missing number or message")
		return
	}

	h.serveSend(w, r, name, req.Number, req.Message)
}

type sessionView struct {
	Session    string    `json:"session"`
	InstanceID string    `json:"instance_id"`
	State      string    `json:"state"`
	StatusText string    `json:"statusText"`
	Connected  bool      `json:"connected"`
	QR         bool      `json:"qr"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toSessionView(s session.Snapshot) sessionView {
	return sessionView{
		Session:    s.Session,
		InstanceID: s.InstanceID,
		State:      string(s.State),
		StatusText: s.StatusText(),
		Connected:  s.Ready,
		QR:         s.HasPairingCode(),
		Reason:     s.Reason,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snaps := h.reg.Snapshots()
	out := make([]sessionView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toSessionView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ---- shared by legacy and portal routes ----

func (h *Handler) serveQR(w http.ResponseWriter, name string) {
	hd, err := h.reg.GetOrCreate(name)
	if err != nil {
		h.logLookupFail(name, err)
		writeText(w, httpStatus(err), publicMessage(err, name))
		return
	}

	code, ok := hd.CurrentPairingCode()
	if !ok {
		writeText(w, http.StatusNotFound, "No QR available")
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		h.log.Error("qr.render.fail", "session", name, "err", err)
		writeText(w, http.StatusInternalServerError, "Failed to generate QR")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) serveStatus(w http.ResponseWriter, name string) {
	hd, err := h.reg.GetOrCreate(name)
	if err != nil {
		h.logLookupFail(name, err)
		writeJSON(w, httpStatus(err), errorBody{Error: publicMessage(err, name)})
		return
	}

	snap := hd.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Connected:  snap.Ready,
		StatusText: snap.StatusText(),
		QR:         snap.HasPairingCode(),
	})
}

func (h *Handler) serveSend(w http.ResponseWriter, r *http.Request, name, number, message string) {
	hd, err := h.reg.GetOrCreate(name)
	if err != nil {
		h.logLookupFail(name, err)
		writeResultError(w, httpStatus(err), publicMessage(err, name))
		return
	}

	ctx := r.Context()
	if h.cfg.SendWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.SendWait)
		defer cancel()
	}

	if err := h.disp.Send(ctx, hd, number, message); err != nil {
		writeResultError(w, httpStatus(err), publicMessage(err, name))
		return
	}
	writeJSON(w, http.StatusOK, resultBody{Status: "success", Message: "Message sent"})
}

func (h *Handler) logLookupFail(name string, err error) {
	if httpStatus(err) >= http.StatusInternalServerError {
		h.log.Error("session.lookup.fail", "session", name, "err", err)
		return
	}
	h.log.Info("session.lookup.rejected", "session", name, "err", err)
}
