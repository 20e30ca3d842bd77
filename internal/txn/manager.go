// Package txn tracks optimistic transactions and owns the rollback log.
//
// Every admitted transaction applies its optimistic patch immediately and
// pushes the inverse onto a stack. Resolution never edits the store "in
// place" around other pending entries. Instead the stack above the resolving
// entry (or the whole stack, for confirmation and server pushes) is unwound
// LIFO, the change is made against the exposed state, and the surviving
// pending entries are re-projected FIFO. The store therefore always equals
// server truth plus the optimistic patches of the still-pending transactions,
// in admission order.
//
// The manager performs no I/O.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/looplab/fsm"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/reconcile"
	"github.com/roach88/graphcache/internal/store"
)

// Token identifies one live transaction. A response carrying a token whose
// generation no longer matches is stale and ignored.
type Token struct {
	TxID       string
	Generation uint64
}

// transaction is one admitted descriptor plus its rollback log state.
type transaction struct {
	id         string
	desc       *mutation.Descriptor
	viewer     ir.Viewer
	generation uint64
	lifecycle  *fsm.FSM

	// inverse undoes the optimistic patch currently in the store; nil when
	// the patch is not applied (re-projection failed during a rebase).
	inverse      store.Patch
	placeholders []string
	outcome      Outcome
}

func (t *transaction) status() Status {
	return Status(t.lifecycle.Current())
}

// Manager admits and resolves transactions against one store.
//
// Thread-safety: all methods are safe for concurrent use; calls are
// serialized internally so patches reach the store in call order. Store
// change events raised by a call are delivered after the manager lock is
// released, so listeners may call back into the manager.
type Manager struct {
	mu      sync.Mutex
	store   *store.Store
	txs     map[string]*transaction
	stack   []*transaction
	lastGen uint64
}

// NewManager creates a manager over s.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s, txs: make(map[string]*transaction)}
}

// Admit applies d optimistically under transaction id. Admission never waits
// for other transactions, even when footprints overlap.
//
// A descriptor that fails validation or projection is recorded as rolled
// back with ReasonMalformed and the error is returned; the store is untouched.
func (m *Manager) Admit(ctx context.Context, id string, d *mutation.Descriptor, viewer ir.Viewer) (Token, error) {
	release := m.store.Hold()
	defer release()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.txs[id]; dup {
		return Token{}, fmt.Errorf("transaction %s already admitted", id)
	}

	m.lastGen++
	tx := &transaction{id: id, desc: d, viewer: viewer, generation: m.lastGen, lifecycle: newLifecycle()}
	m.txs[id] = tx

	applied, err := mutation.Apply(m.store, d, viewer)
	if err != nil {
		m.finish(ctx, tx, eventRollback, ReasonMalformed, err, nil)
		return Token{}, err
	}
	tx.inverse = applied.Inverse
	tx.placeholders = applied.Placeholders
	if err := tx.lifecycle.Event(ctx, eventApply); err != nil {
		return Token{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	m.stack = append(m.stack, tx)

	slog.Debug("transaction admitted",
		"tx", id,
		"operation", operation(d),
		"pending", len(m.stack))
	return Token{TxID: id, Generation: tx.generation}, nil
}

// Confirm reconciles the server payload for the transaction behind tok.
//
// The whole stack is unwound, the transaction's configs run against server
// truth, and the remaining pending transactions are re-projected on top.
func (m *Manager) Confirm(ctx context.Context, tok Token, payload ir.IRObject) (Outcome, error) {
	release := m.store.Hold()
	defer release()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.live(tok)
	if !ok {
		return m.ignored(tok), nil
	}
	idx := slices.Index(m.stack, tx)

	if err := m.unwindFrom(0); err != nil {
		return m.abort(ctx, tx, err)
	}
	m.stack = slices.Delete(m.stack, idx, idx+1)

	res, err := reconcile.Execute(m.store, tx.desc.Configs, payload, tx.placeholders)
	m.replayFrom(0)
	if err != nil {
		m.finish(ctx, tx, eventConfirm, ReasonNone, err, nil)
		return tx.outcome, err
	}
	m.finish(ctx, tx, eventConfirm, ReasonNone, nil, res.Reasons())
	return tx.outcome, nil
}

// Rollback reverts the transaction behind tok.
//
// Entries above it are unwound LIFO, its own inverse is applied, and the
// entries above are re-projected in their original order.
func (m *Manager) Rollback(ctx context.Context, tok Token, reason Reason, cause error) (Outcome, error) {
	release := m.store.Hold()
	defer release()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.live(tok)
	if !ok {
		return m.ignored(tok), nil
	}
	if err := m.rollback(ctx, tx, reason, cause); err != nil {
		return tx.outcome, err
	}
	return tx.outcome, nil
}

// Cancel rolls back transaction id immediately and invalidates its token so
// a late response is ignored. Cancelling a resolved transaction reports
// Ignored.
func (m *Manager) Cancel(ctx context.Context, id string) (Outcome, error) {
	release := m.store.Hold()
	defer release()
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.status().Terminal() {
		return m.ignored(Token{TxID: id}), nil
	}
	if err := m.rollback(ctx, tx, ReasonCancelled, nil); err != nil {
		return tx.outcome, err
	}
	return tx.outcome, nil
}

// CommitServerData applies server truth that arrived outside any mutation
// (a background refetch) underneath the pending optimistic state.
func (m *Manager) CommitServerData(p store.Patch) error {
	release := m.store.Hold()
	defer release()
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.unwindFrom(0); err != nil {
		m.replayFrom(0)
		return fmt.Errorf("commit server data: %w", err)
	}
	_, err := m.store.Apply(store.SourceServer, p)
	m.replayFrom(0)
	if err != nil {
		return fmt.Errorf("commit server data: %w", err)
	}
	return nil
}

// Status returns the lifecycle state of transaction id.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return "", false
	}
	return tx.status(), true
}

// Outcome returns the final outcome of a resolved transaction.
func (m *Manager) Outcome(id string) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok || !tx.status().Terminal() {
		return Outcome{}, false
	}
	return tx.outcome, true
}

// Pending lists pending transaction ids in admission order.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.stack))
	for i, tx := range m.stack {
		ids[i] = tx.id
	}
	return ids
}

// Forget drops a resolved transaction's record. Pending transactions are kept.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[id]; ok && tx.status().Terminal() {
		delete(m.txs, id)
	}
}

// live returns the transaction behind tok if it is still pending and the
// generation matches.
//
// CRITICAL: caller holds m.mu.
func (m *Manager) live(tok Token) (*transaction, bool) {
	tx, ok := m.txs[tok.TxID]
	if !ok || tx.generation == 0 || tx.generation != tok.Generation || tx.status() != StatusApplied {
		return nil, false
	}
	return tx, true
}

func (m *Manager) ignored(tok Token) Outcome {
	slog.Debug("stale transaction response ignored", "tx", tok.TxID, "generation", tok.Generation)
	out := Outcome{TxID: tok.TxID, Ignored: true}
	if tx, ok := m.txs[tok.TxID]; ok {
		out.Operation = operation(tx.desc)
		out.Status = tx.status()
	}
	return out
}

// CRITICAL: caller holds m.mu.
func (m *Manager) rollback(ctx context.Context, tx *transaction, reason Reason, cause error) error {
	idx := slices.Index(m.stack, tx)
	if err := m.unwindFrom(idx); err != nil {
		_, err = m.abort(ctx, tx, err)
		return err
	}
	m.stack = slices.Delete(m.stack, idx, idx+1)
	m.replayFrom(idx)
	m.finish(ctx, tx, eventRollback, reason, cause, nil)
	return nil
}

// abort resolves tx as rolled back after an unwind failed part way. Entries
// already unwound are re-projected; entries still applied stay in place, and
// so may tx's own optimistic state.
//
// CRITICAL: caller holds m.mu.
func (m *Manager) abort(ctx context.Context, tx *transaction, cause error) (Outcome, error) {
	slog.Error("rollback log unwind failed",
		"tx", tx.id,
		"operation", operation(tx.desc),
		"error", cause)
	if idx := slices.Index(m.stack, tx); idx >= 0 {
		m.stack = slices.Delete(m.stack, idx, idx+1)
	}
	m.replayFrom(0)
	m.finish(ctx, tx, eventRollback, ReasonInternal, cause, nil)
	return tx.outcome, cause
}

// finish moves tx to its terminal state and invalidates its token.
//
// CRITICAL: caller holds m.mu.
func (m *Manager) finish(ctx context.Context, tx *transaction, event string, reason Reason, cause error, skipped []string) {
	if err := tx.lifecycle.Event(ctx, event); err != nil {
		slog.Error("transaction transition failed", "tx", tx.id, "event", event, "error", err)
	}
	tx.generation = 0
	tx.inverse = nil
	tx.outcome = Outcome{
		TxID:      tx.id,
		Operation: operation(tx.desc),
		Status:    tx.status(),
		Reason:    reason,
		Skipped:   skipped,
	}
	if cause != nil {
		tx.outcome.Error = cause.Error()
	}

	level := slog.LevelInfo
	if tx.outcome.Status == StatusRolledBack {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "transaction resolved",
		"tx", tx.id,
		"operation", tx.outcome.Operation,
		"status", tx.outcome.Status,
		"reason", reason,
		"skipped", len(skipped))
}

// unwindFrom applies the inverses of stack[from:] newest first.
//
// CRITICAL: caller holds m.mu.
func (m *Manager) unwindFrom(from int) error {
	for i := len(m.stack) - 1; i >= from; i-- {
		tx := m.stack[i]
		if tx.inverse == nil {
			continue
		}
		if _, err := m.store.Apply(store.SourceRollback, tx.inverse); err != nil {
			return fmt.Errorf("unwind transaction %s: %w", tx.id, err)
		}
		tx.inverse = nil
	}
	return nil
}

// replayFrom re-projects stack[from:] oldest first against the current
// state, recomputing each inverse. A transaction whose projection no longer
// applies stays pending without optimistic state. Entries that were never
// unwound keep their applied patch.
//
// CRITICAL: caller holds m.mu.
func (m *Manager) replayFrom(from int) {
	for _, tx := range m.stack[from:] {
		if tx.inverse != nil {
			continue
		}
		applied, err := mutation.Apply(m.store, tx.desc, tx.viewer)
		if err != nil {
			slog.Warn("optimistic patch no longer applies; transaction stays pending",
				"tx", tx.id,
				"operation", operation(tx.desc),
				"error", err)
			continue
		}
		tx.inverse = applied.Inverse
		for _, id := range applied.Placeholders {
			if !slices.Contains(tx.placeholders, id) {
				tx.placeholders = append(tx.placeholders, id)
			}
		}
	}
}

func operation(d *mutation.Descriptor) string {
	if d == nil {
		return ""
	}
	return d.Operation
}
