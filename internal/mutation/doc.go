// Package mutation describes client mutations and applies their optimistic
// projection to a store.
//
// A Descriptor names the server operation, its variables, the footprint of
// records and connections it may touch, and the reconciliation configs that
// run once the server answers. Apply projects the descriptor against a
// snapshot, rejects any edit outside the footprint before the store is
// touched, and returns the inverse patch captured at apply time.
//
// Configs form a closed set (DeleteRecord, ReplaceFields, SetFields,
// AppendEdge, PrependEdge, RemoveEdge). Build translates one config plus a
// payload into a store patch; the same translation drives both the
// optimistic path (payload = Descriptor.OptimisticResponse) and server
// reconciliation.
package mutation
