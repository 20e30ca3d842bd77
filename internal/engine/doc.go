// Package engine drives optimistic mutations end to end.
//
// An Environment owns the store, the transaction manager and the transport.
// Dispatch applies the optimistic patch before returning and sends the
// request on a goroutine of its own. Transport results come back through a
// FIFO queue and are resolved one at a time by Run.
//
// Ordering:
//
// Dispatch, Cancel, CommitServerData and every resolution run under one lock,
// so patches reach the store in exactly the order those calls are made. Two
// responses that arrive together are resolved in arrival order.
//
// Journal:
//
// Every lifecycle step is stamped with the next value of a logical Clock and
// handed to the optional Recorder. Journal failures are logged and never fail
// the mutation itself.
package engine
