package store

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a prefixed ULID. ULIDs sort by creation time, which
// keeps the (created_at, job_id) pagination cursor stable.
func newID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + strings.ToLower(id.String())
}

// NewJobID returns a fresh job identifier.
func NewJobID() string { return newID("job") }

// NewAttemptID returns a fresh attempt identifier.
func NewAttemptID() string { return newID("att") }
