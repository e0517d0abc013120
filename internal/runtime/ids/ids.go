// Package ids generates the identifiers used on the bus: time-sortable ULIDs
// for event ids and random UUIDs for correlation ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// CreateCorrelationID returns a fresh UUIDv4. Correlation ids are never
// reused; a new one is generated per bridge request.
func CreateCorrelationID() string {
	return uuid.NewString()
}

// IsCorrelationID reports whether s parses as a UUID. Used to shape-check
// reply envelopes before the pending-request lookup.
func IsCorrelationID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
