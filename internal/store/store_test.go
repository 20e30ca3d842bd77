package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphcache/internal/ir"
)

var medias = ir.Conn("search-1", "medias")

// seedProject loads a search record with a medias connection over records 7, 8, 9.
func seedProject(t *testing.T) *Store {
	t.Helper()
	s := New()
	err := s.Load(
		[]ir.Record{
			{ID: "search-1", Fields: ir.IRObject{"number_of_results": ir.IRInt(3)}},
			{ID: "7", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("seven")}},
			{ID: "8", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("eight")}},
			{ID: "9", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("nine")}},
		},
		map[ir.ConnKey][]ir.Edge{
			medias: {{Node: "7", Cursor: "c7"}, {Node: "8", Cursor: "c8"}, {Node: "9", Cursor: "c9"}},
		},
	)
	require.NoError(t, err)
	return s
}

func nodes(t *testing.T, s *Store, conn ir.ConnKey) []string {
	t.Helper()
	edges, ok := s.GetConnection(conn.Owner, conn.Name)
	require.True(t, ok, "connection %s missing", conn)
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Node
	}
	return out
}

func digest(t *testing.T, s *Store) string {
	t.Helper()
	d, err := s.Digest()
	require.NoError(t, err)
	return d
}

func TestLoad_MergesIntoExistingRecord(t *testing.T) {
	s := seedProject(t)

	require.NoError(t, s.Load([]ir.Record{{ID: "7", Fields: ir.IRObject{"status": ir.IRString("verified")}}}, nil))

	rec, ok := s.Get("7")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("seven"), rec.Fields["title"])
	assert.Equal(t, ir.IRString("verified"), rec.Fields["status"])
	assert.Equal(t, 4, s.Len())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := seedProject(t)

	rec, _ := s.Get("7")
	rec.Fields["title"] = ir.IRString("mutated")

	v, _ := s.Field("7", "title")
	assert.Equal(t, ir.IRString("seven"), v)
}

func TestApply_SetFieldInverse(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceOptimistic, Patch{
		SetField("7", "project_id", ir.IRInt(2)),
		SetField("7", "moved", ir.IRBool(true)),
	})
	require.NoError(t, err)

	v, _ := s.Field("7", "project_id")
	assert.Equal(t, ir.IRInt(2), v)
	assert.Equal(t, Patch{UnsetField("7", "moved"), SetField("7", "project_id", ir.IRInt(1))}, inv)

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.Equal(t, before, digest(t, s))
}

func TestApply_SetFieldCreatesRecord(t *testing.T) {
	s := New()

	inv, err := s.Apply(SourceOptimistic, Patch{SetField("tmp-1", "title", ir.IRString("draft"))})
	require.NoError(t, err)
	assert.True(t, s.Has("tmp-1"))
	assert.Equal(t, Patch{DeleteRecord("tmp-1")}, inv)

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.False(t, s.Has("tmp-1"))
}

func TestApply_DeleteRecordStripsEdges(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceReconcile, Patch{DeleteRecord("8")})
	require.NoError(t, err)

	assert.False(t, s.Has("8"))
	assert.Equal(t, []string{"7", "9"}, nodes(t, s, medias))
	require.NoError(t, s.Verify())

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9"}, nodes(t, s, medias))
	assert.Equal(t, before, digest(t, s))
}

func TestApply_DeleteOwnerDropsOwnedConnections(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceReconcile, Patch{DeleteRecord("search-1")})
	require.NoError(t, err)

	_, ok := s.GetConnection("search-1", "medias")
	assert.False(t, ok)

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.Equal(t, before, digest(t, s))
}

func TestApply_DeleteMissingRecordIsNoop(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceReconcile, Patch{DeleteRecord("404")})
	require.NoError(t, err)
	assert.Empty(t, inv)
	assert.Equal(t, before, digest(t, s))
}

func TestApply_InsertEdgePositions(t *testing.T) {
	tests := []struct {
		name     string
		position int
		want     []string
	}{
		{"append", AtEnd, []string{"7", "8", "9", "10"}},
		{"prepend", 0, []string{"10", "7", "8", "9"}},
		{"middle", 1, []string{"7", "10", "8", "9"}},
		{"past end", 99, []string{"7", "8", "9", "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seedProject(t)
			_, err := s.Apply(SourceOptimistic, Patch{
				SetField("10", "title", ir.IRString("ten")),
				InsertEdge(medias, ir.Edge{Node: "10"}, tt.position),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, nodes(t, s, medias))
		})
	}
}

func TestApply_InsertEdgeRejectsDangling(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	_, err := s.Apply(SourceOptimistic, Patch{
		SetField("7", "project_id", ir.IRInt(2)),
		AppendEdge(medias, ir.Edge{Node: "ghost"}),
	})

	require.Error(t, err)
	assert.True(t, IsDanglingEdge(err))
	var ee *EditError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Index)

	// The SetField before the rejected edit was unwound.
	assert.Equal(t, before, digest(t, s))
}

func TestApply_InsertEdgeRejectsDuplicate(t *testing.T) {
	s := seedProject(t)

	_, err := s.Apply(SourceOptimistic, Patch{AppendEdge(medias, ir.Edge{Node: "7"})})

	assert.True(t, IsDuplicateEdge(err))
	assert.Equal(t, []string{"7", "8", "9"}, nodes(t, s, medias))
}

func TestApply_InsertEdgeCreatesConnectionAndOwner(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)
	conn := ir.Conn("search-2", "medias")

	inv, err := s.Apply(SourceOptimistic, Patch{AppendEdge(conn, ir.Edge{Node: "7"})})
	require.NoError(t, err)
	assert.True(t, s.Has("search-2"))
	assert.Equal(t, []string{"7"}, nodes(t, s, conn))

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.False(t, s.Has("search-2"))
	assert.Equal(t, before, digest(t, s))
}

func TestApply_RemoveEdgeIsIdempotent(t *testing.T) {
	s := seedProject(t)

	_, err := s.Apply(SourceOptimistic, Patch{RemoveEdge(medias, "8")})
	require.NoError(t, err)

	inv, err := s.Apply(SourceReconcile, Patch{RemoveEdge(medias, "8"), RemoveEdge(medias, "nope")})
	require.NoError(t, err)
	assert.Empty(t, inv)
	assert.Equal(t, []string{"7", "9"}, nodes(t, s, medias))
	assert.True(t, s.Has("8"), "removing an edge keeps the record")
}

func TestApply_MoveEdge(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceOptimistic, Patch{MoveEdge(medias, "9", 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "7", "8"}, nodes(t, s, medias))

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.Equal(t, before, digest(t, s))

	_, err = s.Apply(SourceOptimistic, Patch{MoveEdge(medias, "404", 0)})
	var ee *EditError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeEdgeNotFound, ee.Code)
}

func TestApply_PutAndDropConnection(t *testing.T) {
	s := seedProject(t)
	before := digest(t, s)

	inv, err := s.Apply(SourceServer, Patch{
		PutConnection(medias, []ir.Edge{{Node: "9"}, {Node: "7"}}),
		DropConnection(ir.Conn("search-1", "unknown")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "7"}, nodes(t, s, medias))

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.Equal(t, before, digest(t, s))
}

func TestApply_PutConnectionValidates(t *testing.T) {
	s := seedProject(t)

	_, err := s.Apply(SourceServer, Patch{PutConnection(medias, []ir.Edge{{Node: "7"}, {Node: "7"}})})
	assert.True(t, IsDuplicateEdge(err))

	_, err = s.Apply(SourceServer, Patch{PutConnection(medias, []ir.Edge{{Node: "ghost"}})})
	assert.True(t, IsDanglingEdge(err))
}

func TestApply_MalformedEdits(t *testing.T) {
	s := New()
	bad := []Edit{
		{Kind: EditSetField, Record: "7"},
		{Kind: EditInsertEdge, Conn: ir.Conn("", "medias"), Edge: ir.Edge{Node: "7"}},
		{Kind: "teleport"},
	}
	for _, e := range bad {
		_, err := s.Apply(SourceOptimistic, Patch{e})
		assert.True(t, IsMalformedEdit(err), "edit %s", e)
	}
}

func TestSubscribe_ScopedChange(t *testing.T) {
	s := seedProject(t)

	var got []Change
	cancel := s.Subscribe(func(c Change) { got = append(got, c) })

	_, err := s.Apply(SourceOptimistic, Patch{
		SetField("7", "project_id", ir.IRInt(2)),
		RemoveEdge(medias, "7"),
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, SourceOptimistic, got[0].Source)
	assert.True(t, got[0].TouchesRecord("7"))
	assert.False(t, got[0].TouchesRecord("8"))
	assert.True(t, got[0].TouchesConnection(medias))

	cancel()
	_, err = s.Apply(SourceServer, Patch{SetField("8", "x", ir.IRInt(1))})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubscribe_NoEventOnFailure(t *testing.T) {
	s := seedProject(t)
	called := false
	s.Subscribe(func(Change) { called = true })

	_, err := s.Apply(SourceOptimistic, Patch{AppendEdge(medias, ir.Edge{Node: "ghost"})})
	require.Error(t, err)
	assert.False(t, called)
}

func TestHold_DefersDeliveryUntilLastRelease(t *testing.T) {
	s := seedProject(t)
	var got []Source
	s.Subscribe(func(c Change) { got = append(got, c.Source) })

	outer := s.Hold()
	inner := s.Hold()
	_, err := s.Apply(SourceOptimistic, Patch{SetField("7", "title", ir.IRString("a"))})
	require.NoError(t, err)
	_, err = s.Apply(SourceRollback, Patch{SetField("7", "title", ir.IRString("b"))})
	require.NoError(t, err)

	inner()
	inner()
	assert.Empty(t, got, "outer hold still active")

	outer()
	assert.Equal(t, []Source{SourceOptimistic, SourceRollback}, got)

	_, err = s.Apply(SourceServer, Patch{SetField("8", "title", ir.IRString("c"))})
	require.NoError(t, err)
	assert.Equal(t, []Source{SourceOptimistic, SourceRollback, SourceServer}, got, "no hold: immediate")
}

func TestHold_ListenerApplyingIsDeliveredAfterIt(t *testing.T) {
	s := seedProject(t)
	var order []string
	s.Subscribe(func(c Change) {
		order = append(order, c.Records[0])
		if c.Records[0] == "7" {
			release := s.Hold()
			_, err := s.Apply(SourceServer, Patch{SetField("9", "seen", ir.IRBool(true))})
			require.NoError(t, err)
			release()
			order = append(order, "listener done")
		}
	})

	_, err := s.Apply(SourceOptimistic, Patch{SetField("7", "title", ir.IRString("a"))})
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "listener done", "9"}, order)
}

func TestEnsureRecord(t *testing.T) {
	s := seedProject(t)
	var changes int
	s.Subscribe(func(Change) { changes++ })

	before := digest(t, s)
	inv, err := s.Apply(SourceReconcile, MergeRecord("7", nil))
	require.NoError(t, err)
	assert.Empty(t, inv)
	assert.Equal(t, before, digest(t, s), "existing record untouched")
	_, hasID := s.Field("7", "id")
	assert.False(t, hasID)
	assert.Zero(t, changes)

	inv, err = s.Apply(SourceReconcile, MergeRecord("42", ir.IRObject{}))
	require.NoError(t, err)
	rec, ok := s.Get("42")
	require.True(t, ok)
	assert.Equal(t, ir.IRObject{"id": ir.IRString("42")}, rec.Fields)
	assert.Equal(t, 1, changes)

	_, err = s.Apply(SourceRollback, inv)
	require.NoError(t, err)
	assert.False(t, s.Has("42"))
	assert.Equal(t, before, digest(t, s))

	_, err = s.Apply(SourceReconcile, Patch{EnsureRecord("")})
	assert.True(t, IsMalformedEdit(err))
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := seedProject(t)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	snap.Records["7"]["title"] = ir.IRString("changed")
	snap.Connections[medias][0].Node = "changed"

	v, _ := s.Field("7", "title")
	assert.Equal(t, ir.IRString("seven"), v)
	assert.Equal(t, []string{"7", "8", "9"}, nodes(t, s, medias))
}

func TestSnapshot_Placeholders(t *testing.T) {
	s := seedProject(t)
	_, err := s.Apply(SourceOptimistic, Patch{SetField("tmp-2", "x", ir.IRInt(1)), SetField("tmp-1", "x", ir.IRInt(1))})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp-1", "tmp-2"}, snap.Placeholders())
	assert.True(t, snap.HasEdge(medias, "7"))
}

func TestPatchPlaceholders(t *testing.T) {
	p := Patch{
		SetField("tmp-1", "title", ir.IRString("x")),
		AppendEdge(medias, ir.Edge{Node: "tmp-1", Key: "k1"}),
		SetField("7", "title", ir.IRString("y")),
		PutConnection(ir.Conn("a", "b"), []ir.Edge{{Node: "tmp-2"}}),
	}
	assert.Equal(t, []string{"tmp-1", "tmp-2"}, p.Placeholders())
}
