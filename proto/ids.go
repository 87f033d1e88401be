package proto

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

// NewMessageID returns a fresh header.msg_id. ULIDs sort by creation time,
// which keeps hub logs and the observability tap readable.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewSessionID returns a fresh header.session value.
func NewSessionID() string {
	return uuid.NewString()
}
