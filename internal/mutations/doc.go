// Package mutations builds descriptors for the project media operations the
// client issues: bulk moves between projects, creation, deletion and field
// updates.
//
// Every builder returns a *mutation.Descriptor ready for
// engine.Environment.Dispatch. Builders check their input and return a
// *mutation.Error with code MALFORMED_DESCRIPTOR for anything they cannot
// express; they never touch the store.
package mutations
