package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Record is the durable trace of a session: enough to know it exists and
// how it last looked. Credentials stay in the session's directory.
type Record struct {
	Session    string
	InstanceID string
	State      State
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Catalog persists session records.
//
// Requirements:
//   - Upsert is keyed by Session and preserves the first CreatedAt
//   - List returns records ordered by Session
type Catalog interface {
	Upsert(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// MemoryCatalog is the default Catalog when no database is configured.
type MemoryCatalog struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryCatalog constructs an empty in-memory Catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{recs: make(map[string]Record)}
}

// Close is a no-op.
func (c *MemoryCatalog) Close() error { return nil }

// Upsert stores rec.
func (c *MemoryCatalog) Upsert(ctx context.Context, rec Record) error {
	if rec.Session == "" {
		return errors.New("catalog: missing session")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.recs[rec.Session]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	c.recs[rec.Session] = rec
	return nil
}

// List returns all records ordered by session name.
func (c *MemoryCatalog) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	out := make([]Record, 0, len(c.recs))
	for _, r := range c.recs {
		out = append(out, r)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out, nil
}
