package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestMemoryCatalog_UpsertKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	c := NewMemoryCatalog()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := c.Upsert(ctx, Record{Session: "b", State: StateInitializing, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Upsert(ctx, Record{Session: "a", State: StateInitializing, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	t1 := t0.Add(time.Hour)
	if err := c.Upsert(ctx, Record{Session: "b", State: StateConnected, CreatedAt: t1, UpdatedAt: t1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].Session != "a" || recs[1].Session != "b" {
		t.Fatalf("recs=%+v", recs)
	}
	if !recs[1].CreatedAt.Equal(t0) || recs[1].State != StateConnected || !recs[1].UpdatedAt.Equal(t1) {
		t.Fatalf("upsert lost data: %+v", recs[1])
	}

	if err := c.Upsert(ctx, Record{}); err == nil {
		t.Fatalf("expected error for empty session")
	}
}

func TestWithSchema_Validates(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		schema  string
		wantErr bool
	}{
		{schema: "pairline"},
		{schema: "tenant_2"},
		{schema: "", wantErr: true},
		{schema: "bad-name", wantErr: true},
		{schema: "x; DROP TABLE y", wantErr: true},
	} {
		c := &PostgresCatalog{}
		err := WithSchema(tc.schema)(c)
		if (err != nil) != tc.wantErr {
			t.Fatalf("WithSchema(%q) err=%v wantErr=%v", tc.schema, err, tc.wantErr)
		}
	}

	if _, err := NewPostgresCatalog(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if got := pgIdent("pairline", "sessions"); got != `"pairline"."sessions"` {
		t.Fatalf("pgIdent=%s", got)
	}
}

func TestPostgresCatalog_Integration(t *testing.T) {
	dsn := os.Getenv("PAIRLINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PAIRLINE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	schema, err := os.ReadFile("../../../migrations/0001_sessions.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	c, err := NewPostgresCatalog(pool)
	if err != nil {
		t.Fatalf("NewPostgresCatalog: %v", err)
	}

	name := "itest-" + time.Now().UTC().Format("150405.000000")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM pairline.sessions WHERE name = $1`, name)
	})

	t0 := time.Now().UTC().Truncate(time.Microsecond)
	if err := c.Upsert(ctx, Record{Session: name, InstanceID: "i1", State: StateInitializing, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Upsert(ctx, Record{Session: name, InstanceID: "i2", State: StateDisconnected, Reason: "x", CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, r := range recs {
		if r.Session != name {
			continue
		}
		if r.InstanceID != "i2" || r.State != StateDisconnected || r.Reason != "x" || !r.CreatedAt.Equal(t0) {
			t.Fatalf("unexpected record: %+v", r)
		}
		return
	}
	t.Fatalf("record %s not listed", name)
}
