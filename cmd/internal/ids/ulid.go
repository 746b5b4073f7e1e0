// Package ids provides ULID identifiers for capability instances and bridge commands.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, so successive instances of one session order naturally in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot proceed without an id.
func MustULID() string {
	id, err := NewULID(time.Now().UTC())
	if err != nil {
		panic(err)
	}
	return id
}
