package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// UIDGenerator produces document uids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type UIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 uids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so the uids of one
// run sort in emission order. This helps when documents are inspected out of
// order in logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (only possible if the system random source
// is broken).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined uids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	uids []string
	idx  int
}

// NewFixedGenerator creates a generator that returns uids in order.
//
//	gen := NewFixedGenerator("start-1", "desc-1", "ev-1")
//	gen.Generate() // "start-1"
//	gen.Generate() // "desc-1"
//	gen.Generate() // "ev-1"
//	gen.Generate() // panic: all uids exhausted
func NewFixedGenerator(uids ...string) *FixedGenerator {
	return &FixedGenerator{uids: uids}
}

// Generate returns the next predetermined uid.
//
// Panics when all uids have been consumed. A run that needs more uids than
// the test provided is a test bug; failing loudly surfaces it.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.uids) {
		panic(fmt.Sprintf("FixedGenerator: all %d uids exhausted", len(g.uids)))
	}
	id := g.uids[g.idx]
	g.idx++
	return id
}
