package harness

import (
	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/txn"
)

// TraceEvent is one journal entry as seen by the scenario.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Tx     string `json:"tx,omitempty"`
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held and the store invariants
	// were intact at the end.
	Pass bool `json:"pass"`

	Errors []string `json:"errors,omitempty"`

	// Trace is every lifecycle entry in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds the final outcome of each resolved transaction.
	Outcomes map[string]txn.Outcome `json:"outcomes"`

	// Pending lists transactions still awaiting a response.
	Pending []string `json:"pending,omitempty"`

	// State is the final store rendered by store.Snapshot.State.
	State ir.IRObject `json:"state"`

	Digest string `json:"digest"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Trace:    []TraceEvent{},
		Outcomes: make(map[string]txn.Outcome),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
