package journal

import (
	"context"
	"database/sql"
	"fmt"
)

const selectEntries = `SELECT seq, tx_id, operation, event, reason, variables_hash, detail FROM entries`

// Entries returns every entry in seq order.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, selectEntries+` ORDER BY seq ASC`)
}

// Transaction returns the entries of one transaction in seq order.
func (j *Journal) Transaction(ctx context.Context, txID string) ([]Entry, error) {
	return j.query(ctx, selectEntries+` WHERE tx_id = ? ORDER BY seq ASC`, txID)
}

// LastSeq returns the highest seq written, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// Summary is the folded state of one transaction.
type Summary struct {
	TxID      string `json:"tx"`
	Operation string `json:"operation"`
	Status    Event  `json:"status"`
	Reason    string `json:"reason,omitempty"`
	FirstSeq  int64  `json:"first_seq"`
	LastSeq   int64  `json:"last_seq"`
	Ignored   int    `json:"ignored,omitempty"`
}

// Summaries folds the journal into one summary per transaction, ordered by
// first appearance. Ignored responses are counted but never change status.
func (j *Journal) Summaries(ctx context.Context) ([]Summary, error) {
	entries, err := j.Entries(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	out := []Summary{}
	for _, e := range entries {
		if e.TxID == "" {
			continue
		}
		i, ok := index[e.TxID]
		if !ok {
			i = len(out)
			index[e.TxID] = i
			out = append(out, Summary{TxID: e.TxID, Operation: e.Operation, FirstSeq: e.Seq})
		}
		s := &out[i]
		s.LastSeq = e.Seq
		if e.Event == EventIgnored {
			s.Ignored++
			continue
		}
		s.Status = e.Event
		s.Reason = e.Reason
	}
	return out, nil
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			event string
		)
		if err := rows.Scan(&e.Seq, &e.TxID, &e.Operation, &event, &e.Reason, &e.VariablesHash, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Event = Event(event)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
