package testutil

import (
	"fmt"
	"sync"
)

// SequentialUIDs generates predictable document uids: "<prefix>-0001",
// "<prefix>-0002", ...
//
// Unlike engine.FixedGenerator, which panics once its list is used up, this
// generator never runs out, so it suits scenarios whose document count is
// not known in advance. The same run with a fresh SequentialUIDs produces
// byte-identical documents.
//
// Implements engine.UIDGenerator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialUIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialUIDs creates a generator. An empty prefix defaults to "uid".
func NewSequentialUIDs(prefix string) *SequentialUIDs {
	if prefix == "" {
		prefix = "uid"
	}
	return &SequentialUIDs{prefix: prefix}
}

// Generate returns the next uid.
func (g *SequentialUIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
