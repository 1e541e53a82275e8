// Package testutil holds deterministic fixtures shared by package tests:
// run ID generators and sample graphs.
package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDs returns predetermined run IDs in order, so descriptors and
// cache rows compare byte for byte across test runs.
//
// Thread-safety: FixedRunIDs is safe for concurrent use.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator over ids.
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next ID. It panics once every ID is used: the test
// compiled more artifacts than it planned for.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedRunIDs: all run IDs used")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequentialRunIDs numbers run IDs from 1 under a prefix and never runs out.
//
// Thread-safety: SequentialRunIDs is safe for concurrent use.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRunIDs creates a generator producing "<prefix>-0001",
// "<prefix>-0002", ... The prefix defaults to "run".
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialRunIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
