package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog is a Catalog backed by the <schema>.sessions table
// (see migrations/0001_sessions.sql).
//
// Ownership model:
// - PostgresCatalog does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresCatalog behavior.
type PostgresOption func(*PostgresCatalog) error

// WithSchema sets the DB schema used by the catalog (default: "pairline").
func WithSchema(schema string) PostgresOption {
	return func(c *PostgresCatalog) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		c.schema = schema
		return nil
	}
}

// NewPostgresCatalog constructs a Postgres-backed Catalog.
func NewPostgresCatalog(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresCatalog, error) {
	c := &PostgresCatalog{
		pool:   pool,
		schema: "pairline",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return c, nil
}

// Close is a no-op because the pool is owned by the caller.
func (c *PostgresCatalog) Close() error { return nil }

// Upsert inserts or updates rec, keeping the original created_at.
func (c *PostgresCatalog) Upsert(ctx context.Context, rec Record) error {
	if c == nil || c.pool == nil {
		return errors.New("session: nil catalog")
	}
	if rec.Session == "" {
		return errors.New("catalog: missing session")
	}

	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	sessions := pgIdent(c.schema, "sessions")
	_, err := c.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (name, instance_id, state, reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE
		    SET instance_id = EXCLUDED.instance_id,
		        state       = EXCLUDED.state,
		        reason      = EXCLUDED.reason,
		        updated_at  = EXCLUDED.updated_at`,
		rec.Session, rec.InstanceID, string(rec.State), rec.Reason, created, now,
	)
	return err
}

// List returns every catalogued session ordered by name.
func (c *PostgresCatalog) List(ctx context.Context) ([]Record, error) {
	if c == nil || c.pool == nil {
		return nil, errors.New("session: nil catalog")
	}

	sessions := pgIdent(c.schema, "sessions")
	rows, err := c.pool.Query(ctx,
		`SELECT name, instance_id, state, reason, created_at, updated_at
		   FROM `+sessions+`
		  ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			state string
		)
		if err := rows.Scan(&r.Session, &r.InstanceID, &state, &r.Reason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.State = State(state)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
