package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphcache/internal/ir"
)

// EditKind tags the variant carried by an Edit.
type EditKind string

const (
	EditSetField       EditKind = "set_field"
	EditUnsetField     EditKind = "unset_field"
	EditPutRecord      EditKind = "put_record"
	EditEnsureRecord   EditKind = "ensure_record"
	EditDeleteRecord   EditKind = "delete_record"
	EditInsertEdge     EditKind = "insert_edge"
	EditRemoveEdge     EditKind = "remove_edge"
	EditMoveEdge       EditKind = "move_edge"
	EditPutConnection  EditKind = "put_connection"
	EditDropConnection EditKind = "drop_connection"
)

// AtEnd is the InsertEdge/MoveEdge position meaning "append".
const AtEnd = -1

// PlaceholderPrefix marks client-synthesized record ids. Server ids never
// carry it, so reconciliation can tell optimistic records apart.
const PlaceholderPrefix = "tmp-"

// IsPlaceholder reports whether id was synthesized by an optimistic update.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Edit is one primitive store mutation. Which fields are meaningful depends
// on Kind; use the constructors below rather than building literals.
type Edit struct {
	Kind EditKind `json:"kind"`

	// Record is the record being written (field and record edits) or the
	// edge target (RemoveEdge, MoveEdge).
	Record string      `json:"record,omitempty"`
	Field  string      `json:"field,omitempty"`
	Value  ir.IRValue  `json:"value,omitempty"`
	Fields ir.IRObject `json:"fields,omitempty"`

	Conn     ir.ConnKey `json:"conn,omitzero"`
	Edge     ir.Edge    `json:"edge,omitzero"`
	Edges    []ir.Edge  `json:"edges,omitempty"`
	Position int        `json:"position,omitempty"`
}

// Patch is an ordered list of edits applied as one unit.
type Patch []Edit

// SetField writes one field, creating the record if it does not exist.
func SetField(id, field string, value ir.IRValue) Edit {
	return Edit{Kind: EditSetField, Record: id, Field: field, Value: value}
}

// UnsetField removes one field. Missing records and fields are a no-op.
func UnsetField(id, field string) Edit {
	return Edit{Kind: EditUnsetField, Record: id, Field: field}
}

// PutRecord replaces the whole field map of a record, creating it if needed.
func PutRecord(id string, fields ir.IRObject) Edit {
	return Edit{Kind: EditPutRecord, Record: id, Fields: fields}
}

// EnsureRecord creates the record holding only its id field when absent.
// An existing record is left untouched.
func EnsureRecord(id string) Edit {
	return Edit{Kind: EditEnsureRecord, Record: id}
}

// DeleteRecord removes a record, every edge targeting it, and every
// connection it owns. Deleting a missing record is a no-op.
func DeleteRecord(id string) Edit {
	return Edit{Kind: EditDeleteRecord, Record: id}
}

// InsertEdge inserts edge into conn at position (AtEnd appends).
func InsertEdge(conn ir.ConnKey, edge ir.Edge, position int) Edit {
	return Edit{Kind: EditInsertEdge, Conn: conn, Edge: edge, Position: position}
}

// AppendEdge is InsertEdge at the end.
func AppendEdge(conn ir.ConnKey, edge ir.Edge) Edit {
	return InsertEdge(conn, edge, AtEnd)
}

// PrependEdge is InsertEdge at the start.
func PrependEdge(conn ir.ConnKey, edge ir.Edge) Edit {
	return InsertEdge(conn, edge, 0)
}

// RemoveEdge drops the edge targeting node from conn. Idempotent.
func RemoveEdge(conn ir.ConnKey, node string) Edit {
	return Edit{Kind: EditRemoveEdge, Conn: conn, Record: node}
}

// MoveEdge moves the edge targeting node to position.
func MoveEdge(conn ir.ConnKey, node string, position int) Edit {
	return Edit{Kind: EditMoveEdge, Conn: conn, Record: node, Position: position}
}

// PutConnection replaces the whole edge list of conn.
func PutConnection(conn ir.ConnKey, edges []ir.Edge) Edit {
	return Edit{Kind: EditPutConnection, Conn: conn, Edges: edges}
}

// DropConnection removes conn entirely. Dropping a missing connection is a no-op.
func DropConnection(conn ir.ConnKey) Edit {
	return Edit{Kind: EditDropConnection, Conn: conn}
}

// String renders the edit for logs and error messages.
func (e Edit) String() string {
	switch e.Kind {
	case EditSetField, EditUnsetField:
		return fmt.Sprintf("%s(%s.%s)", e.Kind, e.Record, e.Field)
	case EditPutRecord, EditEnsureRecord, EditDeleteRecord:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Record)
	case EditInsertEdge:
		return fmt.Sprintf("%s(%s -> %s @%d)", e.Kind, e.Conn, e.Edge.Node, e.Position)
	case EditRemoveEdge:
		return fmt.Sprintf("%s(%s -> %s)", e.Kind, e.Conn, e.Record)
	case EditMoveEdge:
		return fmt.Sprintf("%s(%s -> %s @%d)", e.Kind, e.Conn, e.Record, e.Position)
	default:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Conn)
	}
}

// Touched lists the records and connections an edit names, before any
// cascading (a DeleteRecord may also touch connections that reference it).
func (e Edit) Touched() (records []string, conns []ir.ConnKey) {
	switch e.Kind {
	case EditSetField, EditUnsetField, EditPutRecord, EditEnsureRecord, EditDeleteRecord:
		return []string{e.Record}, nil
	case EditInsertEdge:
		return []string{e.Edge.Node}, []ir.ConnKey{e.Conn}
	case EditRemoveEdge, EditMoveEdge:
		return []string{e.Record}, []ir.ConnKey{e.Conn}
	default:
		return nil, []ir.ConnKey{e.Conn}
	}
}

// Placeholders returns the placeholder record ids the patch creates or
// references, in first-seen order.
func (p Patch) Placeholders() []string {
	var ids []string
	add := func(id string) {
		if IsPlaceholder(id) && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, e := range p {
		recs, _ := e.Touched()
		for _, id := range recs {
			add(id)
		}
		for _, edge := range e.Edges {
			add(edge.Node)
		}
	}
	return ids
}
