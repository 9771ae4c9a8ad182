package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDGenerator generates invocation ids from a resettable counter.
//
// This enables deterministic log and golden output: the same scenario run
// twice with a fresh generator produces the same ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceIDGenerator creates a generator whose first id is "<prefix>-0001".
// If prefix is empty, "test-invocation" is used.
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "test-invocation"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator interface.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// Last returns the most recently generated id, or "" before the first.
func (g *SequenceIDGenerator) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq == 0 {
		return ""
	}
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// Count returns how many ids have been generated.
func (g *SequenceIDGenerator) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. After Reset, Generate returns "<prefix>-0001".
func (g *SequenceIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
