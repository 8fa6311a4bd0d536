// Package id provides thread identifier generation and derivation.
//
// Two kinds of identifiers exist:
//   - Root ids (session, main thread): fresh prefixed ULIDs, globally unique
//     and lexicographically sortable.
//   - Derived ids (sub-thread, item thread): composed deterministically from
//     the parent id plus a discriminator, so the same logical call always
//     produces the same id. Backend checkpoints are keyed by these ids, which
//     is why two interleaved call chains deriving the same id is convergence,
//     not a conflict.
//
// Uniqueness scheme: derived ids are unique within one main thread's lifetime
// through a per-session monotonic counter, and globally unique through the
// ULID at the root of the composition. Item-thread ids carry no counter:
// repeat registration of the same item must return the same id.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a client session.
type SessionID string

// MainThreadID is the immutable top-level identifier of a session.
type MainThreadID string

// SubThreadID scopes one workflow execution under a main thread.
type SubThreadID string

// ItemThreadID scopes one identified item under a sub-thread.
type ItemThreadID string

func (id SessionID) String() string    { return string(id) }
func (id MainThreadID) String() string { return string(id) }
func (id SubThreadID) String() string  { return string(id) }
func (id ItemThreadID) String() string { return string(id) }

const (
	SessionPrefix = "sess"
	MainPrefix    = "main"
)

// Generator produces root ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source.
// Tests inject deterministic entropy here.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a prefixed ULID string.
func (g *Generator) Generate(prefix string) string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return fmt.Sprintf("%s_%s", prefix, ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy))
}

// NewSessionID generates a fresh session id.
func NewSessionID() SessionID {
	return SessionID(Default().Generate(SessionPrefix))
}

// NewMainThreadID generates a fresh main thread id.
func NewMainThreadID() MainThreadID {
	return MainThreadID(Default().Generate(MainPrefix))
}

// DeriveSubThread composes a sub-thread id from its main thread, the
// workflow type, and the session's monotonic counter. The counter keeps
// repeated launches of the same workflow type distinct.
func DeriveSubThread(main MainThreadID, workflowType string, seq uint64) SubThreadID {
	return SubThreadID(fmt.Sprintf("%s.%s.%d", main, workflowType, seq))
}

// DeriveScopedSubThread composes a product-search sub-thread id scoped by
// the parent workflow's sub-thread and the item being searched. Repeated
// searches for the same item get fresh ids through seq while staying nested
// under the parent.
func DeriveScopedSubThread(parent SubThreadID, itemNumber int, seq uint64) SubThreadID {
	return SubThreadID(fmt.Sprintf("%s.search-%d.%d", parent, itemNumber, seq))
}

// DeriveItemThread composes an item-thread id from its sub-thread and item
// number. No counter: the derivation is idempotent.
func DeriveItemThread(sub SubThreadID, itemNumber int) ItemThreadID {
	return ItemThreadID(fmt.Sprintf("%s.item-%d", sub, itemNumber))
}

// IsValidRoot checks whether an id string is a prefixed ULID root.
func IsValidRoot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			_, err := ulid.Parse(s[i+1:])
			return err == nil
		}
	}
	return false
}
