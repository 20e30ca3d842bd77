package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Searches of the project fixture.
const (
	SourceSearch      = "search-1"
	DestinationSearch = "search-2"
)

// ProjectStore returns a store holding two projects: project 1 lists media
// 7, 8 and 9 under search-1, and project 2 lists nothing under search-2.
func ProjectStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	require.NoError(t, s.Load(
		[]ir.Record{
			{ID: SourceSearch, Fields: ir.IRObject{"number_of_results": ir.IRInt(3)}},
			{ID: DestinationSearch, Fields: ir.IRObject{"number_of_results": ir.IRInt(0)}},
			{ID: "7", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("seven")}},
			{ID: "8", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("eight")}},
			{ID: "9", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("nine")}},
		},
		map[ir.ConnKey][]ir.Edge{
			ir.Conn(SourceSearch, "medias"):      {{Node: "7"}, {Node: "8"}, {Node: "9"}},
			ir.Conn(DestinationSearch, "medias"): {},
		},
	))
	return s
}

// Nodes lists the node ids of a connection in order.
func Nodes(s *store.Store, owner, name string) []string {
	edges, _ := s.GetConnection(owner, name)
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Node
	}
	return out
}

// Field returns a record field or nil.
func Field(s *store.Store, id, name string) ir.IRValue {
	v, _ := s.Field(id, name)
	return v
}
