package session

import (
	"math/rand"
	"testing"
	"time"

	"pairline/cmd/internal/client"
)

func TestHandleApply_ReadyNeverHoldsPairingCode(t *testing.T) {
	t.Parallel()

	kinds := []client.EventKind{
		client.EventQR,
		client.EventReady,
		client.EventAuthenticated,
		client.EventAuthFailure,
		client.EventDisconnected,
	}
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 200; run++ {
		h := newHandle("x", "i", "", nil, nil, testLogger(), nil, time.Now())
		for step := 0; step < 20; step++ {
			k := kinds[rng.Intn(len(kinds))]
			_, known := h.apply(client.Event{Kind: k, Code: "C", Reason: "r"})
			if !known {
				t.Fatalf("kind %s reported unknown", k)
			}
			snap := h.Snapshot()
			if snap.Ready && snap.PairingCode != "" {
				t.Fatalf("run %d step %d: ready with pairing code after %s", run, step, k)
			}
		}
	}
}

func TestHandleApply_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		ev           client.Event
		wantState    State
		wantReady    bool
		wantCode     string
		wantTerminal bool
	}{
		{name: "qr", ev: client.Event{Kind: client.EventQR, Code: "ABC123"}, wantState: StateAwaitingPairing, wantCode: "ABC123"},
		{name: "ready", ev: client.Event{Kind: client.EventReady}, wantState: StateConnected, wantReady: true},
		{name: "authenticated", ev: client.Event{Kind: client.EventAuthenticated}, wantState: StateInitializing},
		{name: "auth_failure", ev: client.Event{Kind: client.EventAuthFailure, Reason: "r"}, wantState: StateAuthFailed, wantTerminal: true},
		{name: "disconnected", ev: client.Event{Kind: client.EventDisconnected, Reason: "r"}, wantState: StateDisconnected, wantTerminal: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHandle("x", "i", "", nil, nil, testLogger(), nil, time.Now())
			terminal, known := h.apply(tc.ev)
			if !known || terminal != tc.wantTerminal {
				t.Fatalf("terminal=%v known=%v want terminal=%v", terminal, known, tc.wantTerminal)
			}
			snap := h.Snapshot()
			if snap.State != tc.wantState || snap.Ready != tc.wantReady || snap.PairingCode != tc.wantCode {
				t.Fatalf("snap=%+v want state=%s ready=%v code=%q", snap, tc.wantState, tc.wantReady, tc.wantCode)
			}
		})
	}
}

func TestHandleApply_UnknownKind(t *testing.T) {
	t.Parallel()

	h := newHandle("x", "i", "", nil, nil, testLogger(), nil, time.Now())
	if _, known := h.apply(client.Event{Kind: "change_state"}); known {
		t.Fatalf("unknown kind applied")
	}
	if h.State() != StateInitializing {
		t.Fatalf("state=%s want=%s", h.State(), StateInitializing)
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ready bool
		code  string
		want  string
	}{
		{ready: true, want: StatusConnected},
		{code: "X", want: StatusAwaitingScan},
		{want: StatusConnecting},
	}
	for _, tc := range cases {
		if got := (Snapshot{Ready: tc.ready, PairingCode: tc.code}).StatusText(); got != tc.want {
			t.Fatalf("ready=%v code=%q status=%s want=%s", tc.ready, tc.code, got, tc.want)
		}
	}
}
