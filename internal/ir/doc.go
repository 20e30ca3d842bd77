// Package ir holds the value model shared by every other package.
//
// ir imports nothing internal. The store, mutation, reconciliation and
// engine packages all speak in terms of IRValue, Record, Edge and ConnKey.
//
// Key constraints:
//   - no float values; integers are int64
//   - record references are IRRef values, never embedded objects
//   - canonical JSON (RFC 8785 ordering, NFC strings) is the only encoding
//     used for digests
package ir
