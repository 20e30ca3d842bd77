package store

import (
	"fmt"
	"slices"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/graphcache/internal/ir"
)

// Snapshot is a detached deep copy of the store. Projections read from a
// snapshot so they can never mutate live state.
type Snapshot struct {
	Records     map[string]ir.IRObject
	Connections map[ir.ConnKey][]ir.Edge
}

// Snapshot copies the current state.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	if err := deepcopy.Copy(&snap.Records, s.records); err != nil {
		return nil, fmt.Errorf("snapshot records: %w", err)
	}
	if err := deepcopy.Copy(&snap.Connections, s.connections); err != nil {
		return nil, fmt.Errorf("snapshot connections: %w", err)
	}
	if snap.Records == nil {
		snap.Records = map[string]ir.IRObject{}
	}
	if snap.Connections == nil {
		snap.Connections = map[ir.ConnKey][]ir.Edge{}
	}
	return snap, nil
}

// Get returns the record with the given id.
func (sn *Snapshot) Get(id string) (ir.Record, bool) {
	fields, ok := sn.Records[id]
	if !ok {
		return ir.Record{}, false
	}
	return ir.Record{ID: id, Fields: fields}, true
}

// Field returns one field of a record.
func (sn *Snapshot) Field(id, field string) (ir.IRValue, bool) {
	v, ok := sn.Records[id][field]
	return v, ok
}

// GetConnection returns the ordered edges of a connection.
func (sn *Snapshot) GetConnection(owner, name string) ([]ir.Edge, bool) {
	edges, ok := sn.Connections[ir.Conn(owner, name)]
	return edges, ok
}

// HasEdge reports whether the connection holds an edge to node.
func (sn *Snapshot) HasEdge(conn ir.ConnKey, node string) bool {
	return indexOfNode(sn.Connections[conn], node) >= 0
}

// State renders the snapshot as a single IRObject:
//
//	{"records": {id: fields}, "connections": {"owner.name": [edge...]}}
//
// Edges render as objects with node/cursor/key; empty cursor and key are omitted.
func (sn *Snapshot) State() ir.IRObject {
	records := make(ir.IRObject, len(sn.Records))
	for id, fields := range sn.Records {
		records[id] = fields
	}
	conns := make(ir.IRObject, len(sn.Connections))
	for _, k := range sortedConnKeys(sn.Connections) {
		arr := make(ir.IRArray, 0, len(sn.Connections[k]))
		for _, e := range sn.Connections[k] {
			obj := ir.IRObject{"node": ir.IRString(e.Node)}
			if e.Cursor != "" {
				obj["cursor"] = ir.IRString(e.Cursor)
			}
			if e.Key != "" {
				obj["key"] = ir.IRString(e.Key)
			}
			arr = append(arr, obj)
		}
		conns[k.String()] = arr
	}
	return ir.IRObject{"records": records, "connections": conns}
}

// Digest hashes the canonical state. Equal digests mean observationally
// equal stores.
func (sn *Snapshot) Digest() (string, error) {
	return ir.SnapshotDigest(sn.State())
}

// Placeholders lists placeholder record ids present in the snapshot, sorted.
func (sn *Snapshot) Placeholders() []string {
	var ids []string
	for id := range sn.Records {
		if IsPlaceholder(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Digest is shorthand for Snapshot().Digest().
func (s *Store) Digest() (string, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return "", err
	}
	return snap.Digest()
}
