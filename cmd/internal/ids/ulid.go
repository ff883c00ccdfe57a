// Package ids provides ULID primitives used for message and envelope identifiers.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalPrefix marks message ids minted on this client (optimistic entries).
const LocalPrefix = "local-"

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars).
// IDs minted within the same millisecond stay strictly increasing.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites that cannot surface an error (ids for logs, envelopes).
// It falls back to a fresh crypto/rand reader when the monotonic source overflows.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err == nil {
		return id
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// NewLocalMessageID returns an id for a locally created (not yet acknowledged) message.
func NewLocalMessageID(now time.Time) string {
	return LocalPrefix + MustULID(now)
}

// IsLocal reports whether id was produced by NewLocalMessageID.
func IsLocal(id string) bool {
	return len(id) > len(LocalPrefix) && id[:len(LocalPrefix)] == LocalPrefix
}

// Time extracts the timestamp encoded in a ULID (or local id).
func Time(id string) (time.Time, bool) {
	if IsLocal(id) {
		id = id[len(LocalPrefix):]
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
