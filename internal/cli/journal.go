package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/graphcache/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	TxID     string // optional - entries of one transaction only
}

// JournalResult is the JSON payload of the journal command.
type JournalResult struct {
	TxID         string            `json:"tx,omitempty"`
	Transactions []journal.Summary `json:"transactions,omitempty"`
	Entries      []journal.Entry   `json:"entries,omitempty"`
	LastSeq      int64             `json:"last_seq"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect a transaction journal",
		Long: `Show the lifecycle journal written by an environment or by
"graphcache scenario --journal".

Without --tx, prints one line per transaction with its final status.
With --tx, prints every entry of that transaction in sequence order.

Examples:
  graphcache journal --db ./journal.db
  graphcache journal --db ./journal.db --tx 0190f6c2-...
  graphcache journal --db ./journal.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.TxID, "tx", "", "show entries of one transaction")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	// Open creates missing databases; a typo should not leave an empty file behind.
	if _, err := os.Stat(opts.Database); err != nil {
		return exitWrap(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return exitWrap(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	result := JournalResult{TxID: opts.TxID}
	if result.LastSeq, err = j.LastSeq(ctx); err != nil {
		return exitWrap(ExitCommandError, "failed to read journal", err)
	}
	if opts.TxID != "" {
		result.Entries, err = j.Transaction(ctx, opts.TxID)
	} else {
		result.Transactions, err = j.Summaries(ctx)
	}
	if err != nil {
		return exitWrap(ExitCommandError, "failed to read journal", err)
	}

	f := opts.printer(cmd)
	if err := f.OK(result); err != nil {
		return err
	}
	if opts.TxID == "" {
		f.Debugf("%d transactions, last seq %d", len(result.Transactions), result.LastSeq)
	}
	return nil
}

// WriteText prints one line per transaction, or one line per entry when the
// result was filtered to a single transaction.
func (r JournalResult) WriteText(w io.Writer) error {
	switch {
	case r.TxID != "" && len(r.Entries) == 0:
		fmt.Fprintf(w, "No entries found for transaction: %s\n", r.TxID)
	case r.TxID != "":
		for _, e := range r.Entries {
			fmt.Fprintf(w, "%6d  %-12s %s", e.Seq, e.Event, e.Operation)
			if e.Reason != "" {
				fmt.Fprintf(w, " (%s)", e.Reason)
			}
			if e.Detail != "" {
				fmt.Fprintf(w, ": %s", e.Detail)
			}
			fmt.Fprintln(w)
		}
	case len(r.Transactions) == 0:
		fmt.Fprintln(w, "Journal is empty.")
	default:
		for _, s := range r.Transactions {
			status := string(s.Status)
			if s.Reason != "" {
				status += " (" + s.Reason + ")"
			}
			fmt.Fprintf(w, "%-36s  %-24s %-24s seq %d-%d", s.TxID, s.Operation, status, s.FirstSeq, s.LastSeq)
			if s.Ignored > 0 {
				fmt.Fprintf(w, "  %d ignored", s.Ignored)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
