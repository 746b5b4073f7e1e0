package gateway

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pairline/cmd/internal/portal"
	"pairline/cmd/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Session   string    `json:"session"`
}

type meResponse struct {
	Username string      `json:"username"`
	Session  sessionView `json:"session"`
}

type portalSendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (h *Handler) handlePortalLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password are required"})
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	issued, err := h.portal.Login(ip, req.Username, req.Password, time.Now().UTC())
	if err != nil {
		var te portal.ThrottleError
		switch {
		case errors.As(err, &te):
			w.Header().Set("Retry-After", strconv.FormatInt(int64(te.RetryAfter.Seconds())+1, 10))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many attempts"})
		case errors.Is(err, portal.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		default:
			h.log.Error("portal.login.fail", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		}
		return
	}

	// Bring the bound session up so a QR is ready by the time the page asks.
	if _, err := h.reg.GetOrCreate(issued.Session); err != nil {
		h.logLookupFail(issued.Session, err)
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		Username:  issued.Username,
		Session:   issued.Session,
	})
}

func (h *Handler) handlePortalMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requirePortalAuth(w, r)
	if !ok {
		return
	}

	hd, err := h.reg.GetOrCreate(claims.Session)
	if err != nil {
		h.logLookupFail(claims.Session, err)
		writeJSON(w, httpStatus(err), errorBody{Error: publicMessage(err, claims.Session)})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Username: claims.Username, Session: toSessionView(hd.Snapshot())})
}

func (h *Handler) handlePortalQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requirePortalAuth(w, r)
	if !ok {
		return
	}
	h.serveQR(w, claims.Session)
}

func (h *Handler) handlePortalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requirePortalAuth(w, r)
	if !ok {
		return
	}
	h.serveStatus(w, claims.Session)
}

func (h *Handler) handlePortalSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requirePortalAuth(w, r)
	if !ok {
		return
	}

	var req portalSendRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeResultError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Number) == "" || req.Message == "" {
		writeResultError(w, http.StatusBadRequest, "Missing number or message")
		return
	}
	h.serveSend(w, r, claims.Session, req.Number, req.Message)
}

// handlePortalLogout unlinks the account, then re-arms the session so a new
// pairing code is issued. The re-arm happens even if the logout failed.
func (h *Handler) handlePortalLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requirePortalAuth(w, r)
	if !ok {
		return
	}
	name := claims.Session
	ctx := r.Context()

	var logoutErr error
	if hd, found := h.reg.Lookup(name); found && !hd.Released() {
		logoutErr = hd.Logout(ctx)
	}

	if _, err := h.reg.Restart(ctx, name); err != nil {
		h.log.Error("portal.logout.restart.fail", "session", name, "err", err)
		writeResultError(w, httpStatus(err), publicMessage(err, name))
		return
	}

	if logoutErr != nil {
		writeResultError(w, http.StatusInternalServerError, publicMessage(logoutErr, name))
		return
	}
	writeJSON(w, http.StatusOK, resultBody{Status: "success", Message: "Logged out"})
}

func (h *Handler) requirePortalAuth(w http.ResponseWriter, r *http.Request) (portal.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
		return portal.Claims{}, false
	}
	claims, err := h.portal.Authenticate(token, time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
		return portal.Claims{}, false
	}
	if err := session.ValidateName(claims.Session); err != nil {
		h.log.Error("portal.session.invalid", "username", claims.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return portal.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, p := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}
