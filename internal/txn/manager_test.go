package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/store"
)

var medias = ir.Conn("search-1", "medias")

func seeded(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	require.NoError(t, s.Load(
		[]ir.Record{
			{ID: "search-1", Fields: ir.IRObject{"number_of_results": ir.IRInt(3)}},
			{ID: "7", Fields: ir.IRObject{"project_id": ir.IRInt(1), "title": ir.IRString("seven")}},
			{ID: "8", Fields: ir.IRObject{"project_id": ir.IRInt(1)}},
			{ID: "9", Fields: ir.IRObject{"project_id": ir.IRInt(1)}},
		},
		map[ir.ConnKey][]ir.Edge{medias: {{Node: "7"}, {Node: "8"}, {Node: "9"}}},
	))
	return s
}

func digest(t *testing.T, s *store.Store) string {
	t.Helper()
	d, err := s.Digest()
	require.NoError(t, err)
	return d
}

func nodes(t *testing.T, s *store.Store) []string {
	t.Helper()
	edges, _ := s.GetConnection(medias.Owner, medias.Name)
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Node
	}
	return out
}

func field(s *store.Store, id, name string) ir.IRValue {
	v, _ := s.Field(id, name)
	return v
}

func bulkMove() *mutation.Descriptor {
	ids := ir.IRArray{ir.IRString("7"), ir.IRString("8")}
	return &mutation.Descriptor{
		Operation: "updateProjectMedia",
		Variables: ir.IRObject{"ids": ids, "project_id": ir.IRInt(2), "previous_project_id": ir.IRInt(1)},
		Footprint: mutation.Footprint{
			Fields:      []mutation.FieldRef{{Field: "project_id"}, {Record: "search-1", Field: "number_of_results"}},
			Connections: []ir.ConnKey{medias},
		},
		OptimisticResponse: ir.IRObject{"affectedIds": ids},
		Configs: []mutation.Config{
			mutation.RemoveEdge{Connection: medias, IDField: "affectedIds"},
			mutation.ReplaceFields{PayloadField: "check_search_project_was", Fields: []string{"number_of_results"}},
			mutation.SetFields{IDField: "affectedIds", Values: ir.IRObject{"project_id": ir.IRInt(2)}},
		},
	}
}

func bulkMoveResponse() ir.IRObject {
	return ir.IRObject{
		"affectedIds": ir.IRArray{ir.IRString("7"), ir.IRString("8")},
		"check_search_project_was": ir.IRObject{
			"id":                ir.IRString("search-1"),
			"number_of_results": ir.IRInt(1),
		},
	}
}

// retitle sets record 7's title optimistically and, on confirmation, merges
// the server's title back in.
func retitle(title string) *mutation.Descriptor {
	return &mutation.Descriptor{
		Operation: "updateTitle",
		Footprint: mutation.Footprint{Fields: []mutation.FieldRef{{Record: "7", Field: "title"}}},
		Project: func(*store.Snapshot, ir.Viewer) (store.Patch, error) {
			return store.Patch{store.SetField("7", "title", ir.IRString(title))}, nil
		},
		Configs: []mutation.Config{mutation.ReplaceFields{PayloadField: "project_media", Fields: []string{"title"}}},
	}
}

func TestManager_BulkMoveScenario(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"9"}, nodes(t, s))
	assert.Equal(t, ir.IRInt(2), field(s, "7", "project_id"))
	assert.Equal(t, ir.IRInt(2), field(s, "8", "project_id"))
	status, _ := m.Status("tx-1")
	assert.Equal(t, StatusApplied, status)

	out, err := m.Confirm(ctx, tok, bulkMoveResponse())
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, []string{"9"}, nodes(t, s))
	assert.Equal(t, ir.IRInt(2), field(s, "7", "project_id"))
	assert.Equal(t, ir.IRInt(2), field(s, "8", "project_id"))
	assert.Equal(t, ir.IRInt(1), field(s, "search-1", "number_of_results"))
	assert.Empty(t, m.Pending())
	require.NoError(t, s.Verify())
}

func TestManager_OptimismDoesNotChangeFinalState(t *testing.T) {
	ctx := context.Background()

	withOptimism := seeded(t)
	m := NewManager(withOptimism)
	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)
	_, err = m.Confirm(ctx, tok, bulkMoveResponse())
	require.NoError(t, err)

	// Same configs, no optimistic stage.
	direct := seeded(t)
	d := bulkMove()
	d.OptimisticResponse = ir.IRObject{}
	m2 := NewManager(direct)
	tok2, err := m2.Admit(ctx, "tx-1", d, ir.Viewer{})
	require.NoError(t, err)
	_, err = m2.Confirm(ctx, tok2, bulkMoveResponse())
	require.NoError(t, err)

	assert.Equal(t, digest(t, direct), digest(t, withOptimism))
}

func TestManager_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	before := digest(t, s)
	m := NewManager(s)

	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	cause := errors.New("permission denied")
	out, err := m.Rollback(ctx, tok, ReasonRejected, cause)
	require.NoError(t, err)

	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, ReasonRejected, out.Reason)
	assert.Equal(t, "permission denied", out.Error)
	assert.Equal(t, before, digest(t, s))
}

func TestManager_OverlappingRollbacksConverge(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	before := digest(t, s)
	m := NewManager(s)

	tokA, err := m.Admit(ctx, "tx-a", retitle("a"), ir.Viewer{})
	require.NoError(t, err)
	tokB, err := m.Admit(ctx, "tx-b", retitle("b"), ir.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("b"), field(s, "7", "title"))

	// Rolling back the older one keeps the newer optimistic write visible.
	_, err = m.Rollback(ctx, tokA, ReasonNetworkError, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("b"), field(s, "7", "title"))
	assert.Equal(t, []string{"tx-b"}, m.Pending())

	_, err = m.Rollback(ctx, tokB, ReasonTimeout, nil)
	require.NoError(t, err)
	assert.Equal(t, before, digest(t, s))
}

func TestManager_ConfirmUnderPendingPeer(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tokA, err := m.Admit(ctx, "tx-a", retitle("a"), ir.Viewer{})
	require.NoError(t, err)
	tokB, err := m.Admit(ctx, "tx-b", retitle("b"), ir.Viewer{})
	require.NoError(t, err)

	_, err = m.Confirm(ctx, tokA, ir.IRObject{"project_media": ir.IRObject{"id": ir.IRString("7"), "title": ir.IRString("server-a")}})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("b"), field(s, "7", "title"), "pending peer re-applied on top of server truth")

	_, err = m.Rollback(ctx, tokB, ReasonRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("server-a"), field(s, "7", "title"))
}

func TestManager_StaleTokensAreIgnored(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	before := digest(t, s)
	m := NewManager(s)

	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	out, err := m.Cancel(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Equal(t, before, digest(t, s))

	late, err := m.Confirm(ctx, tok, bulkMoveResponse())
	require.NoError(t, err)
	assert.True(t, late.Ignored)
	assert.Equal(t, StatusRolledBack, late.Status)
	assert.Equal(t, before, digest(t, s), "late response must not resurrect the patch")

	again, err := m.Cancel(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, again.Ignored)

	unknown, err := m.Rollback(ctx, Token{TxID: "nope", Generation: 1}, ReasonRejected, nil)
	require.NoError(t, err)
	assert.True(t, unknown.Ignored)
}

func TestManager_ConfirmTwiceIgnoresSecond(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)
	_, err = m.Confirm(ctx, tok, bulkMoveResponse())
	require.NoError(t, err)
	after := digest(t, s)

	out, err := m.Confirm(ctx, tok, bulkMoveResponse())
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, after, digest(t, s))

	final, ok := m.Outcome("tx-1")
	require.True(t, ok)
	assert.False(t, final.Ignored)
}

func TestManager_MalformedAdmission(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	before := digest(t, s)
	m := NewManager(s)

	d := retitle("x")
	d.Footprint = mutation.Footprint{}

	_, err := m.Admit(ctx, "tx-1", d, ir.Viewer{})
	require.Error(t, err)
	assert.True(t, mutation.IsMalformed(err))
	assert.Equal(t, before, digest(t, s))

	out, ok := m.Outcome("tx-1")
	require.True(t, ok)
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, ReasonMalformed, out.Reason)
	assert.Empty(t, m.Pending())

	_, err = m.Admit(ctx, "tx-1", retitle("y"), ir.Viewer{})
	assert.Error(t, err, "ids are single use")
}

func TestManager_CommitServerDataRebasesPending(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tok, err := m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{})
	require.NoError(t, err)

	require.NoError(t, m.CommitServerData(store.Patch{
		store.SetField("10", "project_id", ir.IRInt(1)),
		store.AppendEdge(medias, ir.Edge{Node: "10"}),
	}))
	assert.Equal(t, []string{"9", "10"}, nodes(t, s))

	_, err = m.Rollback(ctx, tok, ReasonRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9", "10"}, nodes(t, s))
	assert.Equal(t, ir.IRInt(1), field(s, "7", "project_id"))
}

func TestManager_ReprojectionFailureKeepsTransactionPending(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	// Pins record 9 to the top of the list; fails once 9 is gone.
	pin := &mutation.Descriptor{
		Operation: "pinMedia",
		Footprint: mutation.Footprint{Connections: []ir.ConnKey{medias}},
		Project: func(*store.Snapshot, ir.Viewer) (store.Patch, error) {
			return store.Patch{store.MoveEdge(medias, "9", 0)}, nil
		},
	}
	tok, err := m.Admit(ctx, "tx-1", pin, ir.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "7", "8"}, nodes(t, s))

	require.NoError(t, m.CommitServerData(store.Patch{store.DeleteRecord("9")}))
	assert.Equal(t, []string{"7", "8"}, nodes(t, s))
	assert.Equal(t, []string{"tx-1"}, m.Pending())
	serverOnly := digest(t, s)

	out, err := m.Rollback(ctx, tok, ReasonRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, serverOnly, digest(t, s))
}

func TestManager_PlaceholderReplacedOnConfirm(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	create := &mutation.Descriptor{
		Operation: "createProjectMedia",
		Footprint: mutation.Footprint{Connections: []ir.ConnKey{medias}},
		OptimisticResponse: ir.IRObject{"project_media": ir.IRObject{
			"id": ir.IRString("tmp-1"), "title": ir.IRString("draft"), "client_key": ir.IRString("k1"),
		}},
		Configs: []mutation.Config{mutation.AppendEdge{Connection: medias, NodeField: "project_media", KeyField: "client_key"}},
	}
	tok, err := m.Admit(ctx, "tx-1", create, ir.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9", "tmp-1"}, nodes(t, s))

	_, err = m.Confirm(ctx, tok, ir.IRObject{"project_media": ir.IRObject{
		"id": ir.IRString("42"), "title": ir.IRString("draft"), "client_key": ir.IRString("k1"),
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"7", "8", "9", "42"}, nodes(t, s))
	assert.False(t, s.Has("tmp-1"))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Placeholders())
}

func TestManager_Forget(t *testing.T) {
	ctx := context.Background()
	m := NewManager(seeded(t))

	tok, err := m.Admit(ctx, "tx-1", retitle("a"), ir.Viewer{})
	require.NoError(t, err)
	m.Forget("tx-1")
	_, ok := m.Status("tx-1")
	assert.True(t, ok, "pending transactions are kept")

	_, err = m.Rollback(ctx, tok, ReasonRejected, nil)
	require.NoError(t, err)
	m.Forget("tx-1")
	_, ok = m.Status("tx-1")
	assert.False(t, ok)
}

// corrupt replaces the recorded inverse of id with one that cannot apply.
func corrupt(m *Manager, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[id].inverse = store.Patch{store.MoveEdge(medias, "ghost", 0)}
}

func TestManager_UnwindFailureResolvesTransaction(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tokA, err := m.Admit(ctx, "tx-a", retitle("a"), ir.Viewer{})
	require.NoError(t, err)
	tokB, err := m.Admit(ctx, "tx-b", retitle("b"), ir.Viewer{})
	require.NoError(t, err)
	corrupt(m, "tx-b")

	out, err := m.Confirm(ctx, tokA, ir.IRObject{})
	var ee *store.EditError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, store.ErrCodeEdgeNotFound, ee.Code)
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, ReasonInternal, out.Reason)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, []string{"tx-b"}, m.Pending())
	assert.Equal(t, ir.IRString("b"), field(s, "7", "title"))

	resolved, ok := m.Outcome("tx-a")
	require.True(t, ok)
	assert.Equal(t, out, resolved)

	out, err = m.Rollback(ctx, tokB, ReasonRejected, nil)
	require.Error(t, err)
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, ReasonInternal, out.Reason)
	assert.Empty(t, m.Pending())

	// Both tokens are spent.
	out, err = m.Confirm(ctx, tokA, ir.IRObject{})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestManager_UnwindFailureReplaysUnwoundEntries(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	tokA, err := m.Admit(ctx, "tx-a", retitle("a"), ir.Viewer{})
	require.NoError(t, err)
	_, err = m.Admit(ctx, "tx-b", retitle("b"), ir.Viewer{})
	require.NoError(t, err)
	_, err = m.Admit(ctx, "tx-c", retitle("c"), ir.Viewer{})
	require.NoError(t, err)
	corrupt(m, "tx-b")

	out, err := m.Confirm(ctx, tokA, ir.IRObject{})
	require.Error(t, err)
	assert.Equal(t, ReasonInternal, out.Reason)

	// tx-c was unwound before the failure and is applied again on top.
	assert.Equal(t, []string{"tx-b", "tx-c"}, m.Pending())
	assert.Equal(t, ir.IRString("c"), field(s, "7", "title"))
	status, _ := m.Status("tx-c")
	assert.Equal(t, StatusApplied, status)
}

// within runs fn and fails the test if it does not return promptly.
func within(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return; a listener is blocked on the manager")
	}
}

func TestManager_ListenersMayReadManager(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewManager(s)

	type view struct {
		pending []string
		status  Status
	}
	var (
		mu   sync.Mutex
		last view
		runs int
	)
	cancel := s.Subscribe(func(store.Change) {
		status, _ := m.Status("tx-1")
		v := view{pending: m.Pending(), status: status}
		mu.Lock()
		defer mu.Unlock()
		last = v
		runs++
	})
	defer cancel()
	seen := func() (view, int) {
		mu.Lock()
		defer mu.Unlock()
		return last, runs
	}

	var (
		tok Token
		err error
	)
	within(t, func() { tok, err = m.Admit(ctx, "tx-1", bulkMove(), ir.Viewer{}) })
	require.NoError(t, err)
	v, n := seen()
	assert.Equal(t, 1, n)
	assert.Equal(t, view{pending: []string{"tx-1"}, status: StatusApplied}, v)

	within(t, func() { _, err = m.Confirm(ctx, tok, bulkMoveResponse()) })
	require.NoError(t, err)
	v, n = seen()
	assert.Greater(t, n, 1)
	assert.Equal(t, view{pending: []string{}, status: StatusConfirmed}, v)

	within(t, func() { tok, err = m.Admit(ctx, "tx-2", retitle("x"), ir.Viewer{}) })
	require.NoError(t, err)
	within(t, func() { _, err = m.Rollback(ctx, tok, ReasonRejected, nil) })
	require.NoError(t, err)
	v, _ = seen()
	assert.Empty(t, v.pending)
	assert.Equal(t, ir.IRString("seven"), field(s, "7", "title"))
}
