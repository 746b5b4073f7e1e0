package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"pairline/cmd/internal/session"

	"github.com/coder/websocket"
)

func dialEvents(t *testing.T, e *testEnv, name string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/events?session=" + name
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{EventsSubprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StatusFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f StatusFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestEvents_StreamsUntilConnected(t *testing.T) {
	e := newTestEnv(t, session.Config{})
	conn := dialEvents(t, e, "alice")

	first := readFrame(t, conn)
	if first.V != "v1" || first.Type != "status" || first.Session != "alice" || first.InstanceID == "" {
		t.Fatalf("first frame=%+v", first)
	}

	for {
		f := readFrame(t, conn)
		if f.QR {
			break
		}
	}

	if err := e.sims.latest("alice").Pair(); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	for {
		f := readFrame(t, conn)
		if f.Connected {
			if f.StatusText != session.StatusConnected || f.QR {
				t.Fatalf("connected frame=%+v", f)
			}
			break
		}
	}
}

func TestEvents_FollowsRecoveredSession(t *testing.T) {
	e := newTestEnv(t, session.Config{})
	conn := dialEvents(t, e, "bob")

	first := readFrame(t, conn)
	eventually(t, "sim", func() bool { return e.sims.latest("bob") != nil && e.sims.latest("bob").PairingCode() != "" })
	e.sims.latest("bob").Disconnect("NAVIGATION")

	for {
		f := readFrame(t, conn)
		if f.InstanceID != first.InstanceID {
			break
		}
	}
}

func TestEvents_RejectsMissingSubprotocol(t *testing.T) {
	e := newTestEnv(t, session.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/events?session=carol"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("read err=%v want protocol error close", err)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		origin  string
		allowed []string
		wantErr bool
	}{
		{name: "no origin", origin: "", allowed: nil},
		{name: "no allowlist", origin: "https://a.example", allowed: nil, wantErr: true},
		{name: "wildcard", origin: "https://a.example", allowed: []string{"*"}},
		{name: "exact", origin: "https://a.example", allowed: []string{"https://a.example"}},
		{name: "host only", origin: "https://a.example:8443", allowed: []string{"a.example"}},
		{name: "case", origin: "https://A.Example", allowed: []string{"a.example"}},
		{name: "other", origin: "https://evil.example", allowed: []string{"https://a.example"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/events", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := enforceOrigin(r, tc.allowed)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"https://a.example:8443", "b.example", ""})
	want := []string{"a.example", "a.example:*", "b.example", "b.example:*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
	if got := deriveOriginPatterns([]string{"a.example", "*"}); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("wildcard patterns=%v", got)
	}
}
