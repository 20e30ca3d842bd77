package txn

import (
	"github.com/looplab/fsm"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusConfirmed  Status = "confirmed"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRolledBack
}

// Reason explains why a transaction was rolled back.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonRejected     Reason = "rejected"
	ReasonNetworkError Reason = "network_error"
	ReasonTimeout      Reason = "timeout"
	ReasonCancelled    Reason = "cancelled"
	ReasonMalformed    Reason = "malformed"

	// ReasonInternal: the rollback log could not be unwound. The store may
	// still hold the transaction's optimistic state.
	ReasonInternal Reason = "internal_error"
)

const (
	eventApply    = "apply"
	eventConfirm  = "confirm"
	eventRollback = "rollback"
)

// newLifecycle builds the per-transaction state machine:
//
//	pending -> applied -> confirmed
//	                   -> rolled_back
//	pending -> rolled_back (admission failed)
func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusPending),
		fsm.Events{
			{Name: eventApply, Src: []string{string(StatusPending)}, Dst: string(StatusApplied)},
			{Name: eventConfirm, Src: []string{string(StatusApplied)}, Dst: string(StatusConfirmed)},
			{Name: eventRollback, Src: []string{string(StatusPending), string(StatusApplied)}, Dst: string(StatusRolledBack)},
		},
		fsm.Callbacks{},
	)
}

// Outcome is the final result of a transaction as seen by the dispatcher.
type Outcome struct {
	TxID      string   `json:"tx"`
	Operation string   `json:"operation"`
	Status    Status   `json:"status"`
	Reason    Reason   `json:"reason,omitempty"`
	Error     string   `json:"error,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`

	// Ignored is set when a response arrived for a transaction that was
	// already cancelled or resolved. Nothing was applied.
	Ignored bool `json:"ignored,omitempty"`
}
