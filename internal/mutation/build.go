package mutation

import (
	"fmt"
	"strings"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Lookup resolves a dotted path ("a.b.c") inside payload. A null value is
// reported as missing.
func Lookup(payload ir.IRObject, path string) (ir.IRValue, bool) {
	if path == "" {
		return nil, false
	}
	var cur ir.IRValue = payload
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(ir.IRObject)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	if _, isNull := cur.(ir.IRNull); isNull || cur == nil {
		return nil, false
	}
	return cur, true
}

// idsAt collects record ids at path. Scalars, refs and objects carrying an
// "id" are accepted, alone or in a list.
func idsAt(payload ir.IRObject, path string) ([]string, error) {
	v, ok := Lookup(payload, path)
	if !ok {
		return nil, fmt.Errorf("path not in payload")
	}
	items, isList := v.(ir.IRArray)
	if !isList {
		items = ir.IRArray{v}
	}
	ids := make([]string, 0, len(items))
	for i, item := range items {
		id, ok := idOf(item)
		if !ok {
			return nil, fmt.Errorf("element %d has no usable id", i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func idOf(v ir.IRValue) (string, bool) {
	if obj, ok := v.(ir.IRObject); ok {
		v = obj["id"]
	}
	id, ok := ir.AsString(v)
	return id, ok && id != ""
}

// Build translates one config into a patch against the current snapshot.
// It returns a *SkipError when the payload does not carry what the config
// needs; callers treat that as partial success.
func Build(c Config, snap *store.Snapshot, payload ir.IRObject) (store.Patch, error) {
	switch c := c.(type) {
	case DeleteRecord:
		ids, err := idsAt(payload, c.IDField)
		if err != nil {
			return nil, skip(c.Kind(), c.IDField, err)
		}
		p := make(store.Patch, 0, len(ids))
		for _, id := range ids {
			p = append(p, store.DeleteRecord(id))
		}
		return p, nil

	case ReplaceFields:
		return buildReplaceFields(c, payload)

	case SetFields:
		ids, err := idsAt(payload, c.IDField)
		if err != nil {
			return nil, skip(c.Kind(), c.IDField, err)
		}
		var p store.Patch
		for _, id := range ids {
			p = append(p, store.MergeRecord(id, c.Values)...)
		}
		return p, nil

	case AppendEdge:
		return buildInsertEdge(c.Kind(), c.Connection, c.NodeField, c.KeyField, store.AtEnd, snap, payload)

	case PrependEdge:
		return buildInsertEdge(c.Kind(), c.Connection, c.NodeField, c.KeyField, 0, snap, payload)

	case RemoveEdge:
		ids, err := idsAt(payload, c.IDField)
		if err != nil {
			return nil, skip(c.Kind(), c.IDField, err)
		}
		p := make(store.Patch, 0, len(ids))
		for _, id := range ids {
			p = append(p, store.RemoveEdge(c.Connection, id))
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown config %T", c)
	}
}

func buildReplaceFields(c ReplaceFields, payload ir.IRObject) (store.Patch, error) {
	v, ok := Lookup(payload, c.PayloadField)
	if !ok {
		return nil, skip(c.Kind(), c.PayloadField, fmt.Errorf("path not in payload"))
	}
	objs, isList := v.(ir.IRArray)
	if !isList {
		objs = ir.IRArray{v}
	}

	var p store.Patch
	for i, item := range objs {
		obj, ok := item.(ir.IRObject)
		if !ok {
			return nil, skip(c.Kind(), c.PayloadField, fmt.Errorf("element %d is not an object", i))
		}
		id := c.RecordID
		if id == "" {
			if id, ok = idOf(obj); !ok {
				return nil, skip(c.Kind(), c.PayloadField, fmt.Errorf("element %d has no id", i))
			}
		}

		fields := ir.IRObject{}
		if len(c.Fields) == 0 {
			for k, fv := range obj {
				if k != "id" {
					fields[k] = fv
				}
			}
		} else {
			for _, f := range c.Fields {
				if fv, ok := obj[f]; ok {
					fields[f] = fv
				}
			}
		}
		if len(fields) == 0 {
			return nil, skip(c.Kind(), c.PayloadField, fmt.Errorf("element %d carries none of the requested fields", i))
		}
		p = append(p, store.MergeRecord(id, fields)...)
	}
	return p, nil
}

// buildInsertEdge upserts the node record, replaces the edge that carries the
// same correlation key (deleting it outright when it targets a placeholder),
// drops an existing edge to the node, and inserts the new edge at position.
func buildInsertEdge(kind ConfigKind, conn ir.ConnKey, nodeField, keyField string, position int, snap *store.Snapshot, payload ir.IRObject) (store.Patch, error) {
	v, ok := Lookup(payload, nodeField)
	if !ok {
		return nil, skip(kind, nodeField, fmt.Errorf("path not in payload"))
	}
	node, ok := v.(ir.IRObject)
	if !ok {
		return nil, skip(kind, nodeField, fmt.Errorf("node is not an object"))
	}
	id, ok := idOf(node)
	if !ok {
		return nil, skip(kind, nodeField, fmt.Errorf("node has no id"))
	}

	var key string
	if keyField != "" {
		key, _ = ir.AsString(node[keyField])
	}

	fields := node.Clone()
	delete(fields, "id")
	p := store.MergeRecord(id, fields)

	edges, _ := snap.GetConnection(conn.Owner, conn.Name)
	for _, e := range edges {
		if key == "" || e.Key != key || e.Node == id {
			continue
		}
		if store.IsPlaceholder(e.Node) {
			p = append(p, store.DeleteRecord(e.Node))
		} else {
			p = append(p, store.RemoveEdge(conn, e.Node))
		}
	}
	if snap.HasEdge(conn, id) {
		p = append(p, store.RemoveEdge(conn, id))
	}
	return append(p, store.InsertEdge(conn, ir.Edge{Node: id, Key: key}, position)), nil
}

func skip(kind ConfigKind, path string, err error) *SkipError {
	return &SkipError{Kind: kind, Path: path, Reason: err.Error()}
}
