package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pairline/cmd/internal/client"
)

type fakeClient struct {
	opts   client.Options
	events chan client.Event

	mu        sync.Mutex
	inits     int
	sent      []string
	destroyed bool
	closed    bool

	initErr   error
	sendErr   error
	logoutErr error
	sendGate  chan struct{}
}

func (c *fakeClient) Events() <-chan client.Event { return c.events }

func (c *fakeClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	return c.initErr
}

func (c *fakeClient) SendMessage(ctx context.Context, chatID, body string) error {
	c.mu.Lock()
	gate := c.sendGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, chatID+"|"+body)
	return nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutErr
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeClient) emit(ev client.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *fakeClient) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *fakeClient) initCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

func (c *fakeClient) sentLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	// prepare, when set, adjusts each client before it is returned.
	prepare func(n int, c *fakeClient)
}

func (f *fakeFactory) build(opts client.Options) (client.Client, error) {
	c := &fakeClient{opts: opts, events: make(chan client.Event, 16)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prepare != nil {
		f.prepare(len(f.clients), c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) (*Registry, *fakeFactory) {
	t.Helper()

	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.RecoveryDelay == 0 {
		cfg.RecoveryDelay = 20 * time.Millisecond
	}

	f := &fakeFactory{}
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	r, err := NewRegistry(cfg, f.build, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(context.Background()); err != nil && !errors.Is(err, ErrRegistryClosed) {
			t.Errorf("Close: %v", err)
		}
	})
	return r, f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
