package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"pairline/cmd/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

type errorBody struct {
	Error string `json:"error"`
}

type resultBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeResultError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, resultBody{Status: "error", Error: msg})
}

// decodeBody accepts a JSON object or a urlencoded form into dst.
// Form fields are matched on the JSON tags of dst via a map round trip.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		m := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			m[k] = r.PostForm.Get(k)
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// httpStatus maps session errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSessionName), errors.Is(err, session.ErrInvalidNumber):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrRegistryFull):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrDispatch) && errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the caller-facing text for err; causes stay in logs.
func publicMessage(err error, name string) string {
	switch {
	case errors.Is(err, session.ErrInvalidSessionName):
		return "Invalid session name"
	case errors.Is(err, session.ErrInvalidNumber):
		return "Invalid number"
	case errors.Is(err, session.ErrNotReady):
		return "WhatsApp client not ready for session " + name
	case errors.Is(err, session.ErrRegistryFull):
		return "Session limit reached"
	case errors.Is(err, session.ErrRegistryClosed):
		return "Server shutting down"
	case errors.Is(err, session.ErrDispatch) && errors.Is(err, context.DeadlineExceeded):
		return "Send still in progress"
	case errors.Is(err, session.ErrDispatch):
		return "Failed to send message"
	case errors.Is(err, session.ErrLogout):
		return "Failed to log out"
	default:
		return "internal error"
	}
}

func queryName(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("session"))
}
