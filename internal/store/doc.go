// Package store is the normalized in-memory record graph.
//
// The store holds records (id -> field map) and connections (ordered edge
// lists keyed by owner record and connection name). All mutation goes through
// Apply, which takes a Patch: an ordered list of primitive edits.
//
// # Invariants
//
//   - Record ids are stable. Writing to an existing id merges into it.
//   - Every edge points at a record the store holds. Deleting a record strips
//     every edge targeting it; inserting an edge to an unknown record fails.
//   - A connection never holds two edges to the same record.
//   - Apply is all-or-nothing. Each edit's inverse is captured from the state
//     immediately before the edit runs, so Apply(P) followed by Apply(inverse)
//     restores every touched field and edge order.
//
// # Concurrency
//
// Reads take a read lock and never wait on anything but an in-progress
// Apply. Writes become visible to every reader when Apply returns. Change
// events are delivered synchronously, after the lock is released, in
// subscription order.
package store
