// Package harness runs scripted mutation scenarios against a real
// engine.Environment and checks the resulting store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: bulk-move
//	description: "Move two media out of project 1"
//	catalog: ../catalog          # optional CUE templates, relative to the file
//	seed:
//	  records:
//	    search-1: { number_of_results: 3 }
//	    "7": { project_id: 1 }
//	  connections:
//	    search-1.medias: ["7", { node: "8", key: "k" }]
//	steps:
//	  - dispatch: { tx: a, mutation: bulkUpdateProjectMedia, vars: { ... } }
//	  - respond: { tx: a, payload: { ... } }
//	  - fail: { tx: b, kind: rejected, message: "no" }
//	  - cancel: { tx: c }
//	  - server_data: { records: { ... } }
//	assertions:
//	  - type: outcome
//	    tx: a
//	    status: confirmed
//	  - type: connection
//	    connection: search-1.medias
//	    nodes: ["9"]
//
// A dispatch names either a template from the scenario's catalog or one of
// the built-in mutations. The tx alias doubles as the transaction id.
//
// Every step waits until the environment has fully processed it before the
// next one starts, so the journal trace and final state are deterministic and
// can be compared against golden files.
package harness
