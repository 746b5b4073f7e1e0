package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestSim_IssuesCodeThenPairs(t *testing.T) {
	dir := t.TempDir()
	s := NewSim(Options{Session: "alice", DataPath: dir, InstanceID: "i1"}, SimConfig{})
	ctx := context.Background()

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ev := nextEvent(t, s.Events())
	if ev.Kind != EventQR || ev.Code == "" {
		t.Fatalf("first event=%+v want qr with code", ev)
	}
	if got := s.PairingCode(); got != ev.Code {
		t.Fatalf("PairingCode()=%q want=%q", got, ev.Code)
	}

	if err := s.SendMessage(ctx, "1@c.us", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before pairing err=%v want ErrNotConnected", err)
	}

	if err := s.Pair(); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventAuthenticated {
		t.Fatalf("event=%+v want authenticated", ev)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventReady {
		t.Fatalf("event=%+v want ready", ev)
	}
	if _, err := os.Stat(filepath.Join(dir, simMarkerFile)); err != nil {
		t.Fatalf("expected pairing marker: %v", err)
	}

	if err := s.SendMessage(ctx, "1@c.us", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := s.Sent(); len(sent) != 1 || sent[0].ChatID != "1@c.us" || sent[0].Body != "hi" {
		t.Fatalf("unexpected sent log: %+v", sent)
	}
}

func TestSim_MarkerSkipsPairing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, simMarkerFile), []byte("x"), 0o600); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	s := NewSim(Options{Session: "bob", DataPath: dir}, SimConfig{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventAuthenticated {
		t.Fatalf("event=%+v want authenticated", ev)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventReady {
		t.Fatalf("event=%+v want ready", ev)
	}
}

func TestSim_AutoPair(t *testing.T) {
	s := NewSim(Options{Session: "carol", DataPath: t.TempDir()}, SimConfig{AutoPair: 10 * time.Millisecond})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []EventKind{EventQR, EventAuthenticated, EventReady}
	for _, k := range want {
		if ev := nextEvent(t, s.Events()); ev.Kind != k {
			t.Fatalf("event=%+v want %s", ev, k)
		}
	}
}

func TestSim_LogoutRemovesMarkerAndDisconnects(t *testing.T) {
	dir := t.TempDir()
	s := NewSim(Options{Session: "dave", DataPath: dir}, SimConfig{})
	ctx := context.Background()

	_ = s.Initialize(ctx)
	_ = s.Pair()
	for i := 0; i < 3; i++ {
		nextEvent(t, s.Events())
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	ev := nextEvent(t, s.Events())
	if ev.Kind != EventDisconnected || ev.Reason != "LOGOUT" {
		t.Fatalf("event=%+v want disconnected/LOGOUT", ev)
	}
	if _, err := os.Stat(filepath.Join(dir, simMarkerFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected marker removed, stat err=%v", err)
	}
}

func TestSim_DestroyClosesEventsAndIsIdempotent(t *testing.T) {
	s := NewSim(Options{Session: "erin"}, SimConfig{})
	ctx := context.Background()

	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected closed events channel")
	}
	if err := s.Initialize(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Initialize after destroy err=%v want ErrClosed", err)
	}

	// Must not panic on a closed channel.
	s.Disconnect("late")
	s.RejectAuth("late")
}

func TestEventKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range []EventKind{EventQR, EventReady, EventAuthenticated, EventAuthFailure, EventDisconnected} {
		if !k.Valid() {
			t.Fatalf("%q should be valid", k)
		}
	}
	if EventKind("change_state").Valid() {
		t.Fatalf("unknown kind reported valid")
	}
}
