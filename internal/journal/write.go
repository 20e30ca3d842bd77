package journal

import (
	"context"
	"fmt"
)

// Event is the lifecycle step an entry records.
type Event string

const (
	EventDispatched Event = "dispatched"
	EventApplied    Event = "applied"
	EventConfirmed  Event = "confirmed"
	EventRolledBack Event = "rolled_back"
	EventIgnored    Event = "ignored"
	EventServerData Event = "server_data"
)

// Entry is one journal row.
type Entry struct {
	Seq           int64  `json:"seq"`
	TxID          string `json:"tx"`
	Operation     string `json:"operation"`
	Event         Event  `json:"event"`
	Reason        string `json:"reason,omitempty"`
	VariablesHash string `json:"variables_hash,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Append writes one entry. Writing the same seq twice is a no-op, so a
// retried append never duplicates history.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.Seq <= 0 {
		return fmt.Errorf("append journal entry: seq must be positive, got %d", e.Seq)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO entries (seq, tx_id, operation, event, reason, variables_hash, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, e.Seq, e.TxID, e.Operation, string(e.Event), e.Reason, e.VariablesHash, e.Detail)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}
