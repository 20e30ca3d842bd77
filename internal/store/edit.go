package store

import (
	"slices"

	"github.com/roach88/graphcache/internal/ir"
)

// applyEdit mutates the store for one edit and returns the patch that undoes
// it. The inverse is computed from pre-edit state, and validation happens
// before any mutation so a rejected edit leaves nothing behind.
//
// CRITICAL: caller holds s.mu for writing.
func (s *Store) applyEdit(e Edit, sc *scope) (Patch, error) {
	switch e.Kind {
	case EditSetField:
		return s.setField(e, sc)
	case EditUnsetField:
		return s.unsetField(e, sc)
	case EditPutRecord:
		return s.putRecord(e, sc)
	case EditEnsureRecord:
		return s.ensureRecord(e, sc)
	case EditDeleteRecord:
		return s.deleteRecord(e, sc)
	case EditInsertEdge:
		return s.insertEdge(e, sc)
	case EditRemoveEdge:
		return s.removeEdge(e, sc)
	case EditMoveEdge:
		return s.moveEdge(e, sc)
	case EditPutConnection:
		return s.putConnection(e, sc)
	case EditDropConnection:
		return s.dropConnection(e, sc)
	default:
		return nil, editErr(ErrCodeMalformedEdit, e, "unknown edit kind %q", e.Kind)
	}
}

func (s *Store) setField(e Edit, sc *scope) (Patch, error) {
	if e.Record == "" || e.Field == "" || e.Value == nil {
		return nil, editErr(ErrCodeMalformedEdit, e, "set_field needs record, field and value")
	}
	sc.record(e.Record)
	rec, ok := s.records[e.Record]
	if !ok {
		s.records[e.Record] = ir.IRObject{e.Field: ir.CloneValue(e.Value)}
		return Patch{DeleteRecord(e.Record)}, nil
	}
	old, had := rec[e.Field]
	rec[e.Field] = ir.CloneValue(e.Value)
	if had {
		return Patch{SetField(e.Record, e.Field, old)}, nil
	}
	return Patch{UnsetField(e.Record, e.Field)}, nil
}

func (s *Store) unsetField(e Edit, sc *scope) (Patch, error) {
	if e.Record == "" || e.Field == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "unset_field needs record and field")
	}
	old, ok := s.records[e.Record][e.Field]
	if !ok {
		return nil, nil
	}
	sc.record(e.Record)
	delete(s.records[e.Record], e.Field)
	return Patch{SetField(e.Record, e.Field, old)}, nil
}

func (s *Store) putRecord(e Edit, sc *scope) (Patch, error) {
	if e.Record == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "put_record needs record")
	}
	sc.record(e.Record)
	fields := e.Fields.Clone()
	if fields == nil {
		fields = ir.IRObject{}
	}
	old, ok := s.records[e.Record]
	s.records[e.Record] = fields
	if ok {
		return Patch{PutRecord(e.Record, old)}, nil
	}
	return Patch{DeleteRecord(e.Record)}, nil
}

func (s *Store) ensureRecord(e Edit, sc *scope) (Patch, error) {
	if e.Record == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "ensure_record needs record")
	}
	if _, ok := s.records[e.Record]; ok {
		return nil, nil
	}
	s.records[e.Record] = ir.IRObject{"id": ir.IRString(e.Record)}
	sc.record(e.Record)
	return Patch{DeleteRecord(e.Record)}, nil
}

// deleteRecord removes the record, the connections it owns, and every edge
// targeting it. The inverse restores the record first so the re-inserted
// edges never dangle.
func (s *Store) deleteRecord(e Edit, sc *scope) (Patch, error) {
	if e.Record == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "delete_record needs record")
	}
	old, ok := s.records[e.Record]
	if !ok {
		return nil, nil
	}
	sc.record(e.Record)
	inverse := Patch{PutRecord(e.Record, old)}

	for _, k := range sortedConnKeys(s.connections) {
		if k.Owner != e.Record {
			continue
		}
		inverse = append(inverse, PutConnection(k, s.connections[k]))
		delete(s.connections, k)
		sc.conn(k)
	}
	for _, k := range sortedConnKeys(s.connections) {
		edges := s.connections[k]
		idx := indexOfNode(edges, e.Record)
		if idx < 0 {
			continue
		}
		inverse = append(inverse, InsertEdge(k, edges[idx], idx))
		s.connections[k] = slices.Delete(slices.Clone(edges), idx, idx+1)
		sc.conn(k)
	}

	delete(s.records, e.Record)
	return inverse, nil
}

func (s *Store) insertEdge(e Edit, sc *scope) (Patch, error) {
	if !validConn(e.Conn) || e.Edge.Node == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "insert_edge needs connection owner, name and edge node")
	}
	if _, ok := s.records[e.Edge.Node]; !ok {
		return nil, editErr(ErrCodeDanglingEdge, e, "target record %q not in store", e.Edge.Node)
	}
	edges, exists := s.connections[e.Conn]
	if indexOfNode(edges, e.Edge.Node) >= 0 {
		return nil, editErr(ErrCodeDuplicateEdge, e, "connection already references %q", e.Edge.Node)
	}

	ownerCreated := s.ensureOwner(e.Conn.Owner, sc)
	pos := clampPosition(e.Position, len(edges))
	s.connections[e.Conn] = slices.Insert(slices.Clone(edges), pos, e.Edge)
	sc.conn(e.Conn)

	var inverse Patch
	if exists {
		inverse = Patch{RemoveEdge(e.Conn, e.Edge.Node)}
	} else {
		inverse = Patch{DropConnection(e.Conn)}
	}
	if ownerCreated {
		inverse = append(inverse, DeleteRecord(e.Conn.Owner))
	}
	return inverse, nil
}

func (s *Store) removeEdge(e Edit, sc *scope) (Patch, error) {
	if !validConn(e.Conn) || e.Record == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "remove_edge needs connection and node")
	}
	edges := s.connections[e.Conn]
	idx := indexOfNode(edges, e.Record)
	if idx < 0 {
		return nil, nil
	}
	removed := edges[idx]
	s.connections[e.Conn] = slices.Delete(slices.Clone(edges), idx, idx+1)
	sc.conn(e.Conn)
	return Patch{InsertEdge(e.Conn, removed, idx)}, nil
}

func (s *Store) moveEdge(e Edit, sc *scope) (Patch, error) {
	if !validConn(e.Conn) || e.Record == "" {
		return nil, editErr(ErrCodeMalformedEdit, e, "move_edge needs connection and node")
	}
	edges := s.connections[e.Conn]
	idx := indexOfNode(edges, e.Record)
	if idx < 0 {
		return nil, editErr(ErrCodeEdgeNotFound, e, "connection has no edge to %q", e.Record)
	}
	edge := edges[idx]
	rest := slices.Delete(slices.Clone(edges), idx, idx+1)
	pos := clampPosition(e.Position, len(rest))
	s.connections[e.Conn] = slices.Insert(rest, pos, edge)
	sc.conn(e.Conn)
	return Patch{MoveEdge(e.Conn, e.Record, idx)}, nil
}

func (s *Store) putConnection(e Edit, sc *scope) (Patch, error) {
	if !validConn(e.Conn) {
		return nil, editErr(ErrCodeMalformedEdit, e, "put_connection needs connection owner and name")
	}
	seen := make(map[string]bool, len(e.Edges))
	for _, edge := range e.Edges {
		if edge.Node == "" {
			return nil, editErr(ErrCodeMalformedEdit, e, "edge without node")
		}
		if _, ok := s.records[edge.Node]; !ok {
			return nil, editErr(ErrCodeDanglingEdge, e, "target record %q not in store", edge.Node)
		}
		if seen[edge.Node] {
			return nil, editErr(ErrCodeDuplicateEdge, e, "edge list holds %q twice", edge.Node)
		}
		seen[edge.Node] = true
	}

	old, exists := s.connections[e.Conn]
	ownerCreated := s.ensureOwner(e.Conn.Owner, sc)
	s.connections[e.Conn] = slices.Clone(e.Edges)
	if s.connections[e.Conn] == nil {
		s.connections[e.Conn] = []ir.Edge{}
	}
	sc.conn(e.Conn)

	var inverse Patch
	if exists {
		inverse = Patch{PutConnection(e.Conn, old)}
	} else {
		inverse = Patch{DropConnection(e.Conn)}
	}
	if ownerCreated {
		inverse = append(inverse, DeleteRecord(e.Conn.Owner))
	}
	return inverse, nil
}

func (s *Store) dropConnection(e Edit, sc *scope) (Patch, error) {
	if !validConn(e.Conn) {
		return nil, editErr(ErrCodeMalformedEdit, e, "drop_connection needs connection owner and name")
	}
	old, ok := s.connections[e.Conn]
	if !ok {
		return nil, nil
	}
	delete(s.connections, e.Conn)
	sc.conn(e.Conn)
	return Patch{PutConnection(e.Conn, old)}, nil
}

// ensureOwner upserts an empty owner record and reports whether it was created.
func (s *Store) ensureOwner(id string, sc *scope) bool {
	if _, ok := s.records[id]; ok {
		return false
	}
	s.records[id] = ir.IRObject{}
	sc.record(id)
	return true
}

func validConn(k ir.ConnKey) bool {
	return k.Owner != "" && k.Name != ""
}

func indexOfNode(edges []ir.Edge, node string) int {
	return slices.IndexFunc(edges, func(e ir.Edge) bool { return e.Node == node })
}

// clampPosition maps AtEnd, negative and out-of-range positions to n.
func clampPosition(pos, n int) int {
	if pos < 0 || pos > n {
		return n
	}
	return pos
}
