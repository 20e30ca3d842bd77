package mutation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

func bulkMove() *Descriptor {
	return &Descriptor{
		Operation: "updateProjectMedia",
		Variables: ir.IRObject{"ids": ir.IRArray{ir.IRString("7"), ir.IRString("8")}, "project_id": ir.IRInt(2)},
		Footprint: Footprint{
			Fields:      []FieldRef{{Field: "project_id"}, {Record: "search-1", Field: "number_of_results"}},
			Connections: []ir.ConnKey{medias},
		},
		OptimisticResponse: ir.IRObject{"affectedIds": ir.IRArray{ir.IRString("7"), ir.IRString("8")}},
		Configs: []Config{
			RemoveEdge{Connection: medias, IDField: "affectedIds"},
			ReplaceFields{PayloadField: "check_search_project_was", Fields: []string{"number_of_results"}},
			SetFields{IDField: "affectedIds", Values: ir.IRObject{"project_id": ir.IRInt(2)}},
		},
	}
}

func TestApply_DerivesPatchFromOptimisticResponse(t *testing.T) {
	s := seeded(t)

	applied, err := Apply(s, bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	edges, _ := s.GetConnection("search-1", "medias")
	assert.Equal(t, []ir.Edge{{Node: "9"}}, edges)
	for _, id := range []string{"7", "8"} {
		v, _ := s.Field(id, "project_id")
		assert.Equal(t, ir.IRInt(2), v)
	}

	require.Len(t, applied.Skipped, 1)
	assert.Equal(t, KindReplaceFields, applied.Skipped[0].Kind)
	assert.Empty(t, applied.Placeholders)
}

func TestApply_InverseRestores(t *testing.T) {
	s := seeded(t)
	before, err := s.Digest()
	require.NoError(t, err)

	applied, err := Apply(s, bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	_, err = s.Apply(store.SourceRollback, applied.Inverse)
	require.NoError(t, err)
	after, err := s.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApply_OutsideFootprintLeavesStoreUntouched(t *testing.T) {
	s := seeded(t)
	before, _ := s.Digest()

	d := &Descriptor{
		Operation: "renameMedia",
		Footprint: Footprint{Fields: []FieldRef{{Record: "7", Field: "title"}}},
		Project: func(*store.Snapshot, ir.Viewer) (store.Patch, error) {
			return store.Patch{
				store.SetField("7", "title", ir.IRString("ok")),
				store.SetField("8", "title", ir.IRString("not declared")),
			}, nil
		},
	}

	_, err := Apply(s, d, ir.Viewer{})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Index)

	after, _ := s.Digest()
	assert.Equal(t, before, after)
}

func TestApply_ProjectionErrors(t *testing.T) {
	s := seeded(t)
	boom := errors.New("boom")

	_, err := Apply(s, &Descriptor{
		Operation: "explode",
		Project:   func(*store.Snapshot, ir.Viewer) (store.Patch, error) { return nil, boom },
	}, ir.Viewer{})
	assert.True(t, IsProjectionFailed(err))
	assert.ErrorIs(t, err, boom)

	_, err = Apply(s, &Descriptor{
		Operation: "dangle",
		Footprint: Footprint{Connections: []ir.ConnKey{medias}},
		Project: func(*store.Snapshot, ir.Viewer) (store.Patch, error) {
			return store.Patch{store.AppendEdge(medias, ir.Edge{Node: "ghost"})}, nil
		},
	}, ir.Viewer{})
	assert.True(t, IsProjectionFailed(err))
	assert.True(t, store.IsDanglingEdge(err))
}

func TestApply_ProjectionSeesViewerAndSnapshot(t *testing.T) {
	s := seeded(t)
	viewer := ir.Viewer{CurrentUser: "u1", CurrentTeam: "team-a"}

	d := &Descriptor{
		Operation: "createProjectMedia",
		Footprint: Footprint{Connections: []ir.ConnKey{medias}},
		Project: func(snap *store.Snapshot, v ir.Viewer) (store.Patch, error) {
			edges, _ := snap.GetConnection("search-1", "medias")
			return store.Patch{
				store.SetField("tmp-1", "author", ir.IRString(v.CurrentUser)),
				store.SetField("tmp-1", "position", ir.IRInt(len(edges))),
				store.PrependEdge(medias, ir.Edge{Node: "tmp-1", Key: "k1"}),
			}, nil
		},
	}

	applied, err := Apply(s, d, viewer)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp-1"}, applied.Placeholders)

	author, _ := s.Field("tmp-1", "author")
	assert.Equal(t, ir.IRString("u1"), author)
	pos, _ := s.Field("tmp-1", "position")
	assert.Equal(t, ir.IRInt(3), pos)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		d    *Descriptor
	}{
		{"nil", nil},
		{"no operation", &Descriptor{Configs: []Config{DeleteRecord{IDField: "x"}}}},
		{"nothing to do", &Descriptor{Operation: "op"}},
		{"connection outside footprint", &Descriptor{Operation: "op", Configs: []Config{RemoveEdge{Connection: medias, IDField: "ids"}}}},
		{"missing id field", &Descriptor{Operation: "op", Configs: []Config{DeleteRecord{}}}},
		{"set fields without values", &Descriptor{Operation: "op", Configs: []Config{SetFields{IDField: "ids"}}}},
		{"nil config", &Descriptor{Operation: "op", Configs: []Config{nil}}},
		{"replace fields outside footprint", &Descriptor{
			Operation: "op",
			Footprint: Footprint{Fields: []FieldRef{{Record: "search-1", Field: "number_of_results"}}},
			Configs:   []Config{ReplaceFields{PayloadField: "p", RecordID: "search-1", Fields: []string{"number_of_results", "title"}}},
		}},
		{"replace fields on undeclared record", &Descriptor{
			Operation: "op",
			Footprint: Footprint{Fields: []FieldRef{{Record: "search-1", Field: "number_of_results"}}},
			Configs:   []Config{ReplaceFields{PayloadField: "p", RecordID: "search-1"}},
		}},
		{"set fields outside footprint", &Descriptor{
			Operation: "op",
			Footprint: Footprint{Fields: []FieldRef{{Field: "project_id"}}},
			Configs:   []Config{SetFields{IDField: "ids", Values: ir.IRObject{"project_id": ir.IRInt(2), "status": ir.IRString("done")}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsMalformed(tt.d.Validate()))
		})
	}

	assert.NoError(t, bulkMove().Validate())
}

func TestValidate_ConfigsInsideFootprint(t *testing.T) {
	tests := []struct {
		name string
		fp   Footprint
		c    Config
	}{
		{"declared field", Footprint{Fields: []FieldRef{{Record: "search-1", Field: "n"}}},
			ReplaceFields{PayloadField: "p", RecordID: "search-1", Fields: []string{"n"}}},
		{"field on any record", Footprint{Fields: []FieldRef{{Field: "n"}}},
			ReplaceFields{PayloadField: "p", RecordID: "search-1", Fields: []string{"n"}}},
		{"whole record", Footprint{Records: []string{"search-1"}},
			ReplaceFields{PayloadField: "p", RecordID: "search-1"}},
		{"placeholder record", Footprint{},
			ReplaceFields{PayloadField: "p", RecordID: store.PlaceholderPrefix + "1", Fields: []string{"n"}}},
		{"record from payload", Footprint{},
			ReplaceFields{PayloadField: "p", Fields: []string{"n"}}},
		{"set declared field", Footprint{Fields: []FieldRef{{Record: "7", Field: "project_id"}}},
			SetFields{IDField: "ids", Values: ir.IRObject{"project_id": ir.IRInt(2)}}},
		{"set on declared records", Footprint{Records: []string{"7"}},
			SetFields{IDField: "ids", Values: ir.IRObject{"anything": ir.IRInt(2)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Descriptor{Operation: "op", Footprint: tt.fp, Configs: []Config{tt.c}}
			assert.NoError(t, d.Validate())
		})
	}

	err := (&Descriptor{
		Operation: "op",
		Configs:   []Config{SetFields{IDField: "ids", Values: ir.IRObject{"status": ir.IRString("done")}}},
	}).Validate()
	assert.ErrorContains(t, err, "field status is outside the footprint")
}

func TestFootprint_Allows(t *testing.T) {
	fp := Footprint{
		Records:     []string{"9"},
		Fields:      []FieldRef{{Field: "project_id"}, {Record: "search-1", Field: "number_of_results"}},
		Connections: []ir.ConnKey{medias},
	}

	assert.True(t, fp.Allows(store.SetField("7", "project_id", ir.IRInt(2))))
	assert.True(t, fp.Allows(store.SetField("search-1", "number_of_results", ir.IRInt(2))))
	assert.False(t, fp.Allows(store.SetField("7", "number_of_results", ir.IRInt(2))))
	assert.True(t, fp.Allows(store.DeleteRecord("9")))
	assert.False(t, fp.Allows(store.DeleteRecord("7")))
	assert.True(t, fp.Allows(store.PutRecord("tmp-5", nil)))
	assert.True(t, fp.Allows(store.RemoveEdge(medias, "7")))
	assert.False(t, fp.Allows(store.RemoveEdge(ir.Conn("search-2", "medias"), "7")))
}
