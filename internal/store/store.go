package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/graphcache/internal/ir"
)

// Store is the single authoritative in-process copy of the record graph.
//
// Thread-safety: every method is safe for concurrent use. The mutation core
// funnels all writes through one logical writer (engine.Environment); the
// lock only protects readers on other goroutines.
type Store struct {
	mu          sync.RWMutex
	records     map[string]ir.IRObject
	connections map[ir.ConnKey][]ir.Edge
	subs        subscriptions
	pending     delivery
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:     make(map[string]ir.IRObject),
		connections: make(map[ir.ConnKey][]ir.Edge),
	}
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (ir.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.records[id]
	if !ok {
		return ir.Record{}, false
	}
	return ir.Record{ID: id, Fields: fields.Clone()}, true
}

// Field returns one field of a record.
func (s *Store) Field(id, field string) (ir.IRValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[id][field]
	if !ok {
		return nil, false
	}
	return ir.CloneValue(v), true
}

// Has reports whether the store holds a record with the given id.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// GetConnection returns a copy of the ordered edges of a connection.
func (s *Store) GetConnection(owner, name string) ([]ir.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges, ok := s.connections[ir.Conn(owner, name)]
	if !ok {
		return nil, false
	}
	return slices.Clone(edges), true
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Subscribe registers fn for change events and returns its cancel func.
//
// Listeners run on the goroutine that applied the patch, or the one that
// released the last Hold, never while the store lock is held.
func (s *Store) Subscribe(fn Listener) func() {
	return s.subs.add(fn)
}

// Hold defers change delivery until the returned release func is called.
// Callers that apply patches under their own lock take a hold before locking
// and release it after unlocking, so listeners may call back into them.
// Holds nest; events are delivered when the last one is released.
func (s *Store) Hold() (release func()) {
	s.pending.hold()
	var once sync.Once
	return func() {
		once.Do(func() {
			if s.pending.release() {
				s.drain()
			}
		})
	}
}

// Apply runs every edit of p in order and returns the inverse patch.
//
// Each edit's inverse is captured from the state immediately before that
// edit runs. If any edit is rejected, the edits already applied are unwound,
// no change event is emitted, and an *EditError carrying the index of the
// rejected edit is returned.
//
// An empty patch is a no-op and emits nothing.
func (s *Store) Apply(src Source, p Patch) (Patch, error) {
	if len(p) == 0 {
		return Patch{}, nil
	}

	s.mu.Lock()
	var sc scope
	undo := make([]Patch, 0, len(p))
	for i, e := range p {
		inv, err := s.applyEdit(e, &sc)
		if err != nil {
			s.unwind(undo)
			s.mu.Unlock()
			var ee *EditError
			if errors.As(err, &ee) {
				ee.Index = i
			}
			return nil, err
		}
		undo = append(undo, inv)
	}
	s.mu.Unlock()

	inverse := make(Patch, 0, len(p))
	for i := len(undo) - 1; i >= 0; i-- {
		inverse = append(inverse, undo[i]...)
	}

	s.notify(Change{Source: src, Records: sc.records, Connections: sc.conns})
	return inverse, nil
}

// unwind reverts already-applied edits. Inverses are valid by construction;
// a failure here means the store invariants are broken.
func (s *Store) unwind(undo []Patch) {
	var discard scope
	for i := len(undo) - 1; i >= 0; i-- {
		for _, e := range undo[i] {
			if _, err := s.applyEdit(e, &discard); err != nil {
				panic(fmt.Sprintf("store: unwind failed on %s: %v", e, err))
			}
		}
	}
}

func (s *Store) notify(c Change) {
	if len(c.Records) == 0 && len(c.Connections) == 0 {
		return
	}
	if s.pending.push(c) {
		s.drain()
	}
}

func (s *Store) drain() {
	for {
		c, ok := s.pending.next()
		if !ok {
			return
		}
		for _, fn := range s.subs.snapshot() {
			fn(c)
		}
	}
}

// Load merges server records and replaces server connections in one patch.
// Used for initial fetches and refetches outside any mutation.
func (s *Store) Load(records []ir.Record, conns map[ir.ConnKey][]ir.Edge) error {
	var p Patch
	for _, r := range records {
		p = append(p, MergeRecord(r.ID, r.Fields)...)
	}
	for _, k := range sortedConnKeys(conns) {
		p = append(p, PutConnection(k, conns[k]))
	}
	_, err := s.Apply(SourceServer, p)
	return err
}

// MergeRecord expresses "merge fields into record id" as SetField edits in
// key order. An empty field map only materializes a missing record, holding
// its id field; an existing record is left as is.
func MergeRecord(id string, fields ir.IRObject) Patch {
	if len(fields) == 0 {
		return Patch{EnsureRecord(id)}
	}
	p := make(Patch, 0, len(fields))
	for _, k := range fields.SortedKeys() {
		p = append(p, SetField(id, k, fields[k]))
	}
	return p
}

// Verify checks the structural invariants: every edge target exists and no
// connection holds two edges to the same record.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range sortedConnKeys(s.connections) {
		seen := make(map[string]bool)
		for i, edge := range s.connections[k] {
			if _, ok := s.records[edge.Node]; !ok {
				return fmt.Errorf("%s: connection %s edge %d targets missing record %q", ErrCodeDanglingEdge, k, i, edge.Node)
			}
			if seen[edge.Node] {
				return fmt.Errorf("%s: connection %s holds %q twice", ErrCodeDuplicateEdge, k, edge.Node)
			}
			seen[edge.Node] = true
		}
	}
	return nil
}

func sortedConnKeys[V any](m map[ir.ConnKey]V) []ir.ConnKey {
	keys := make([]ir.ConnKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareConnKeys)
	return keys
}

func compareConnKeys(a, b ir.ConnKey) int {
	if a.Owner != b.Owner {
		if a.Owner < b.Owner {
			return -1
		}
		return 1
	}
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}
