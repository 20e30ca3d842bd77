package mutation

import (
	"slices"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Projection computes the optimistic forward patch from a detached snapshot
// and the dispatching viewer. It must be pure: the same inputs give the same
// patch, because pending transactions are re-projected when the store is
// rebased underneath them.
type Projection func(snap *store.Snapshot, viewer ir.Viewer) (store.Patch, error)

// Descriptor is one client mutation. It is built at dispatch time and
// discarded when the transaction resolves.
type Descriptor struct {
	// Operation is the server operation name handed to the transport.
	Operation string

	// Variables are the operation inputs.
	Variables ir.IRObject

	// Footprint bounds what the optimistic patch may touch.
	Footprint Footprint

	// Project computes the optimistic patch. When nil the patch is derived
	// by running Configs against OptimisticResponse.
	Project Projection

	// OptimisticResponse is the payload the server is expected to return.
	OptimisticResponse ir.IRObject

	// Configs describe how the server payload changes the store.
	Configs []Config
}

// Validate checks the static shape of the descriptor.
func (d *Descriptor) Validate() error {
	if d == nil {
		return malformed("", "nil descriptor")
	}
	if d.Operation == "" {
		return malformed("", "operation is required")
	}
	if d.Project == nil && d.OptimisticResponse == nil && len(d.Configs) == 0 {
		return malformed(d.Operation, "descriptor has neither a projection, an optimistic response, nor configs")
	}
	for i, c := range d.Configs {
		if err := validateConfig(c, d.Footprint); err != nil {
			return malformed(d.Operation, "config %d: %v", i, err)
		}
	}
	return nil
}

// FieldRef names one field. An empty Record matches that field on any record.
type FieldRef struct {
	Record string `json:"record,omitempty" yaml:"record,omitempty"`
	Field  string `json:"field" yaml:"field"`
}

// Footprint declares the records, fields and connections a mutation may
// touch optimistically. Placeholder records are always inside the footprint.
type Footprint struct {
	// Records may be written, replaced or deleted wholesale.
	Records []string

	// Fields may be set or unset.
	Fields []FieldRef

	// Connections may have edges inserted, removed or moved.
	Connections []ir.ConnKey
}

// HasRecord reports whether id may be written wholesale.
func (f Footprint) HasRecord(id string) bool {
	return store.IsPlaceholder(id) || slices.Contains(f.Records, id)
}

// HasField reports whether field of record id may be written.
func (f Footprint) HasField(id, field string) bool {
	if f.HasRecord(id) {
		return true
	}
	return slices.ContainsFunc(f.Fields, func(r FieldRef) bool {
		return r.Field == field && (r.Record == "" || r.Record == id)
	})
}

// NamesField reports whether field may be written on at least one record.
// Records named wholesale admit any field.
func (f Footprint) NamesField(field string) bool {
	if len(f.Records) > 0 {
		return true
	}
	return slices.ContainsFunc(f.Fields, func(r FieldRef) bool { return r.Field == field })
}

// HasConnection reports whether conn may be edited.
func (f Footprint) HasConnection(conn ir.ConnKey) bool {
	return slices.Contains(f.Connections, conn)
}

// Allows reports whether a single edit stays inside the footprint.
func (f Footprint) Allows(e store.Edit) bool {
	switch e.Kind {
	case store.EditSetField, store.EditUnsetField:
		return f.HasField(e.Record, e.Field)
	case store.EditPutRecord, store.EditEnsureRecord, store.EditDeleteRecord:
		return f.HasRecord(e.Record)
	case store.EditInsertEdge, store.EditRemoveEdge, store.EditMoveEdge,
		store.EditPutConnection, store.EditDropConnection:
		return f.HasConnection(e.Conn)
	default:
		return false
	}
}
