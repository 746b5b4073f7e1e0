// Package main is a CI smoke client for a running pairline server.
//
// It validates:
//   - /healthz and /readyz
//   - /status shape for a throwaway session
//   - /qr answers with a PNG or 404
//   - /events handshake, subprotocol selection and the initial status frame
//   - /send-whatsapp input validation
//   - optionally (-to), a real send once the session reports connected
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	eventsSubprotocol = "pairline.events.v1"
	maxReadBytes      = 1 << 16
)

type statusBody struct {
	Connected  bool   `json:"connected"`
	StatusText string `json:"statusText"`
	QR         bool   `json:"qr"`
}

type frame struct {
	V          string `json:"v"`
	Type       string `json:"type"`
	Session    string `json:"session"`
	InstanceID string `json:"instance_id"`
	Connected  bool   `json:"connected"`
	StatusText string `json:"statusText"`
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "server base URL")
		name    = flag.String("session", fmt.Sprintf("smoke-%d", time.Now().Unix()), "session name to exercise")
		origin  = flag.String("origin", "", "Origin header for the websocket handshake")
		to      = flag.String("to", "", "if set, wait for the session to connect and send to this number")
		text    = flag.String("text", "pairline smoke", "message text for -to")
		connect = flag.Duration("connect-wait", 2*time.Minute, "how long to wait for pairing when -to is set")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	u, err := url.Parse(*base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fatalf("invalid -base %q", *base)
	}
	httpc := &http.Client{Timeout: *timeout}
	root := context.Background()

	mustStatusCode(httpc, *base+"/healthz", http.StatusOK)
	mustStatusCode(httpc, *base+"/readyz", http.StatusOK)

	st := mustStatus(httpc, *base, *name)
	if *verbose {
		fmt.Printf("status: %+v\n", st)
	}

	code := mustGet(httpc, *base+"/qr?session="+url.QueryEscape(*name))
	if code != http.StatusOK && code != http.StatusNotFound {
		fatalf("/qr: unexpected status %d", code)
	}

	conn := mustDialEvents(root, *base, *name, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	first := mustReadFrame(root, conn, *timeout)
	if first.Type != "status" || first.Session != *name || first.InstanceID == "" {
		fatalf("/events: unexpected first frame %+v", first)
	}

	res := mustPostJSON(httpc, *base+"/send-whatsapp", map[string]string{"session": *name, "message": "x"})
	if res != http.StatusBadRequest {
		fatalf("/send-whatsapp without number: status %d want 400", res)
	}

	if *to != "" {
		connected := first.Connected
		deadline := time.Now().Add(*connect)
		for !connected && time.Now().Before(deadline) {
			f := mustReadFrame(root, conn, time.Until(deadline))
			if *verbose {
				fmt.Printf("frame: %+v\n", f)
			}
			connected = f.Connected
		}
		if !connected {
			fatalf("session %s did not connect within %s", *name, *connect)
		}

		res := mustPostJSON(httpc, *base+"/send-whatsapp", map[string]string{"session": *name, "number": *to, "message": *text})
		if res != http.StatusOK {
			fatalf("/send-whatsapp: status %d want 200", res)
		}
	}

	fmt.Printf("OK: session=%s instance_id=%s status=%s\n", *name, first.InstanceID, first.StatusText)
}

func mustGet(c *http.Client, u string) int {
	res, err := c.Get(u)
	if err != nil {
		fatalf("GET %s: %v", u, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode
}

func mustStatusCode(c *http.Client, u string, want int) {
	if got := mustGet(c, u); got != want {
		fatalf("GET %s: status %d want %d", u, got, want)
	}
}

func mustStatus(c *http.Client, base, name string) statusBody {
	u := base + "/status?session=" + url.QueryEscape(name)
	res, err := c.Get(u)
	if err != nil {
		fatalf("GET %s: %v", u, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("GET %s: status %d", u, res.StatusCode)
	}

	var st statusBody
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		fatalf("decode /status: %v", err)
	}
	switch st.StatusText {
	case "connected", "awaiting-scan", "connecting":
	default:
		fatalf("/status: unexpected statusText %q", st.StatusText)
	}
	if st.Connected != (st.StatusText == "connected") {
		fatalf("/status: connected=%v disagrees with statusText=%q", st.Connected, st.StatusText)
	}
	return st
}

func mustPostJSON(c *http.Client, u string, body any) int {
	b, _ := json.Marshal(body)
	res, err := c.Post(u, "application/json", bytes.NewReader(b))
	if err != nil {
		fatalf("POST %s: %v", u, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode
}

func mustDialEvents(parent context.Context, base, name, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/events?session=" + url.QueryEscape(name)

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{eventsSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", wsURL, err)
	}
	if sp := conn.Subprotocol(); sp != eventsSubprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", sp, eventsSubprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadFrame(parent context.Context, conn *websocket.Conn, wait time.Duration) frame {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fatalf("timeout waiting for /events frame")
		}
		fatalf("read /events: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		fatalf("bad frame json: %v", err)
	}
	if f.V != "v1" {
		fatalf("unexpected frame version %q", f.V)
	}
	return f
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
