package testutil

import (
	"strconv"
	"sync"

	"github.com/roach88/graphcache/internal/store"
)

// SequencePlaceholders hands out "tmp-1", "tmp-2", ... in order.
//
// Unlike mutation.UUIDPlaceholders the ids are predictable, so the same
// scenario always produces byte-identical store digests and golden files.
//
// Thread-safety: safe for concurrent use.
type SequencePlaceholders struct {
	mu   sync.Mutex
	next int
}

// NewSequencePlaceholders creates a generator whose first id is "tmp-1".
func NewSequencePlaceholders() *SequencePlaceholders {
	return &SequencePlaceholders{}
}

// Generate returns the next placeholder id.
func (g *SequencePlaceholders) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return store.PlaceholderPrefix + strconv.Itoa(g.next)
}

// Reset restarts the sequence at "tmp-1".
func (g *SequencePlaceholders) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
}
