package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageIDPrefix marks identifiers generated by herald rather than supplied by a publisher.
const MessageIDPrefix = "msg_"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewMessageID returns a generated message identifier ("msg_" followed by a ULID).
func NewMessageID() string {
	return MessageIDPrefix + CreateULID()
}

// IsGenerated reports whether id looks like an identifier produced by NewMessageID.
func IsGenerated(id string) bool {
	raw, ok := strings.CutPrefix(id, MessageIDPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(raw)
	return err == nil
}
