package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable transaction ids for golden comparisons.
//
// Ids have the form "<prefix>-0001", "<prefix>-0002", ... The same sequence of
// calls always produces the same ids.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "tx".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
