package mutation

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/graphcache/internal/ir"
)

// ConfigKind names a reconciliation config variant.
type ConfigKind string

const (
	KindDeleteRecord  ConfigKind = "DELETE_RECORD"
	KindReplaceFields ConfigKind = "REPLACE_FIELDS"
	KindSetFields     ConfigKind = "SET_FIELDS"
	KindAppendEdge    ConfigKind = "APPEND_EDGE"
	KindPrependEdge   ConfigKind = "PREPEND_EDGE"
	KindRemoveEdge    ConfigKind = "REMOVE_EDGE"
)

// Config is one declarative description of how a payload changes the store.
// The set of implementations is closed; see Build for the semantics of each.
type Config interface {
	Kind() ConfigKind
	isConfig()
}

// DeleteRecord removes the records whose ids are found at IDField (a string
// or a list) from the store and from every connection.
type DeleteRecord struct {
	IDField string
}

// ReplaceFields merges the object (or list of objects) at PayloadField into
// the store. The record id is RecordID when set, otherwise each object's
// "id". Empty Fields means every payload field except "id".
type ReplaceFields struct {
	PayloadField string
	RecordID     string
	Fields       []string
}

// SetFields writes Values into every record whose id is found at IDField.
// It covers changes the payload only reports by id, such as a bulk move.
type SetFields struct {
	IDField string
	Values  ir.IRObject
}

// AppendEdge upserts the node object at NodeField and inserts an edge to it
// at the end of Connection. KeyField names the node field holding the
// correlation key; an existing edge with the same key is replaced.
type AppendEdge struct {
	Connection ir.ConnKey
	NodeField  string
	KeyField   string
}

// PrependEdge is AppendEdge inserting at the start of Connection.
type PrependEdge struct {
	Connection ir.ConnKey
	NodeField  string
	KeyField   string
}

// RemoveEdge drops the edges to the ids found at IDField from Connection.
// Removing an absent edge is a no-op.
type RemoveEdge struct {
	Connection ir.ConnKey
	IDField    string
}

func (DeleteRecord) Kind() ConfigKind  { return KindDeleteRecord }
func (ReplaceFields) Kind() ConfigKind { return KindReplaceFields }
func (SetFields) Kind() ConfigKind     { return KindSetFields }
func (AppendEdge) Kind() ConfigKind    { return KindAppendEdge }
func (PrependEdge) Kind() ConfigKind   { return KindPrependEdge }
func (RemoveEdge) Kind() ConfigKind    { return KindRemoveEdge }

func (DeleteRecord) isConfig()  {}
func (ReplaceFields) isConfig() {}
func (SetFields) isConfig()     {}
func (AppendEdge) isConfig()    {}
func (PrependEdge) isConfig()   {}
func (RemoveEdge) isConfig()    {}

// validateConfig checks the static shape of a config and that every
// connection it names is inside the footprint.
func validateConfig(c Config, fp Footprint) error {
	switch c := c.(type) {
	case DeleteRecord:
		if c.IDField == "" {
			return fmt.Errorf("%s: id_field is required", c.Kind())
		}
	case ReplaceFields:
		if c.PayloadField == "" {
			return fmt.Errorf("%s: payload_field is required", c.Kind())
		}
		// Without RecordID the target comes from the payload and is
		// checked when the patch is applied.
		if c.RecordID == "" {
			return nil
		}
		if len(c.Fields) == 0 && !fp.HasRecord(c.RecordID) {
			return fmt.Errorf("%s: record %s is outside the footprint", c.Kind(), c.RecordID)
		}
		for _, f := range c.Fields {
			if !fp.HasField(c.RecordID, f) {
				return fmt.Errorf("%s: field %s.%s is outside the footprint", c.Kind(), c.RecordID, f)
			}
		}
	case SetFields:
		if c.IDField == "" || len(c.Values) == 0 {
			return fmt.Errorf("%s: id_field and values are required", c.Kind())
		}
		for _, f := range slices.Sorted(maps.Keys(c.Values)) {
			if !fp.NamesField(f) {
				return fmt.Errorf("%s: field %s is outside the footprint", c.Kind(), f)
			}
		}
	case AppendEdge:
		return validateEdgeConfig(c.Kind(), c.Connection, c.NodeField, fp)
	case PrependEdge:
		return validateEdgeConfig(c.Kind(), c.Connection, c.NodeField, fp)
	case RemoveEdge:
		return validateEdgeConfig(c.Kind(), c.Connection, c.IDField, fp)
	case nil:
		return fmt.Errorf("nil config")
	default:
		return fmt.Errorf("unknown config %T", c)
	}
	return nil
}

func validateEdgeConfig(kind ConfigKind, conn ir.ConnKey, field string, fp Footprint) error {
	if conn.Owner == "" || conn.Name == "" || field == "" {
		return fmt.Errorf("%s: connection and payload field are required", kind)
	}
	if !fp.HasConnection(conn) {
		return fmt.Errorf("%s: connection %s is outside the footprint", kind, conn)
	}
	return nil
}

// ConfigSpec is the flat, decodable form of a Config used by YAML scenarios
// and CUE templates.
type ConfigSpec struct {
	Kind         ConfigKind  `json:"kind" yaml:"kind"`
	IDField      string      `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	PayloadField string      `json:"payload_field,omitempty" yaml:"payload_field,omitempty"`
	RecordID     string      `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	Fields       []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
	Values       ir.IRObject `json:"values,omitempty" yaml:"-"`
	Owner        string      `json:"owner,omitempty" yaml:"owner,omitempty"`
	Connection   string      `json:"connection,omitempty" yaml:"connection,omitempty"`
	NodeField    string      `json:"node_field,omitempty" yaml:"node_field,omitempty"`
	KeyField     string      `json:"key_field,omitempty" yaml:"key_field,omitempty"`
}

// Config converts s into its typed variant.
func (s ConfigSpec) Config() (Config, error) {
	conn := ir.Conn(s.Owner, s.Connection)
	switch s.Kind {
	case KindDeleteRecord:
		return DeleteRecord{IDField: s.IDField}, nil
	case KindReplaceFields:
		return ReplaceFields{PayloadField: s.PayloadField, RecordID: s.RecordID, Fields: s.Fields}, nil
	case KindSetFields:
		return SetFields{IDField: s.IDField, Values: s.Values}, nil
	case KindAppendEdge:
		return AppendEdge{Connection: conn, NodeField: s.NodeField, KeyField: s.KeyField}, nil
	case KindPrependEdge:
		return PrependEdge{Connection: conn, NodeField: s.NodeField, KeyField: s.KeyField}, nil
	case KindRemoveEdge:
		return RemoveEdge{Connection: conn, IDField: s.IDField}, nil
	default:
		return nil, fmt.Errorf("unknown config kind %q", s.Kind)
	}
}

// SpecOf flattens a typed config back into a ConfigSpec.
func SpecOf(c Config) ConfigSpec {
	switch c := c.(type) {
	case DeleteRecord:
		return ConfigSpec{Kind: c.Kind(), IDField: c.IDField}
	case ReplaceFields:
		return ConfigSpec{Kind: c.Kind(), PayloadField: c.PayloadField, RecordID: c.RecordID, Fields: c.Fields}
	case SetFields:
		return ConfigSpec{Kind: c.Kind(), IDField: c.IDField, Values: c.Values}
	case AppendEdge:
		return ConfigSpec{Kind: c.Kind(), Owner: c.Connection.Owner, Connection: c.Connection.Name, NodeField: c.NodeField, KeyField: c.KeyField}
	case PrependEdge:
		return ConfigSpec{Kind: c.Kind(), Owner: c.Connection.Owner, Connection: c.Connection.Name, NodeField: c.NodeField, KeyField: c.KeyField}
	case RemoveEdge:
		return ConfigSpec{Kind: c.Kind(), Owner: c.Connection.Owner, Connection: c.Connection.Name, IDField: c.IDField}
	}
	return ConfigSpec{}
}
