// Package reconcile applies a server payload to the store according to a
// mutation's reconciliation configs.
//
// Each config is translated and applied as its own patch, so one config that
// cannot resolve (missing payload path, missing id) or that the store
// rejects does not block the others. Placeholder records left behind by the
// transaction are deleted last.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/store"
)

// Failure is a config whose patch the store rejected.
type Failure struct {
	Kind mutation.ConfigKind
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Result summarizes one reconciliation.
type Result struct {
	// Applied counts configs whose patch reached the store.
	Applied int

	// Skipped lists configs that did not resolve against the payload.
	Skipped []*mutation.SkipError

	// Failed lists configs whose patch the store rejected.
	Failed []Failure

	// Cleaned lists placeholder records deleted after the configs ran.
	Cleaned []string
}

// Partial reports whether any config was skipped or failed.
func (r Result) Partial() bool {
	return len(r.Skipped) > 0 || len(r.Failed) > 0
}

// Reasons renders skipped and failed configs for logs and outcomes.
func (r Result) Reasons() []string {
	out := make([]string, 0, len(r.Skipped)+len(r.Failed))
	for _, s := range r.Skipped {
		out = append(out, s.Error())
	}
	for _, f := range r.Failed {
		out = append(out, f.String())
	}
	return out
}

// Execute runs configs against payload in order. placeholders are the ids
// the transaction synthesized optimistically; any that still exist after the
// configs ran are deleted.
//
// The returned error is reserved for failures that prevent reconciliation
// altogether; per-config problems are reported in Result.
func Execute(s *store.Store, configs []mutation.Config, payload ir.IRObject, placeholders []string) (Result, error) {
	var res Result
	for _, c := range configs {
		snap, err := s.Snapshot()
		if err != nil {
			return res, fmt.Errorf("reconcile %s: %w", c.Kind(), err)
		}

		p, err := mutation.Build(c, snap, payload)
		if err != nil {
			var se *mutation.SkipError
			if errors.As(err, &se) {
				slog.Debug("reconcile config skipped", "kind", c.Kind(), "path", se.Path, "reason", se.Reason)
				res.Skipped = append(res.Skipped, se)
				continue
			}
			res.Failed = append(res.Failed, Failure{Kind: c.Kind(), Err: err})
			continue
		}

		if _, err := s.Apply(store.SourceReconcile, p); err != nil {
			slog.Warn("reconcile config rejected by store", "kind", c.Kind(), "error", err)
			res.Failed = append(res.Failed, Failure{Kind: c.Kind(), Err: err})
			continue
		}
		res.Applied++
	}

	var cleanup store.Patch
	for _, id := range placeholders {
		if s.Has(id) {
			cleanup = append(cleanup, store.DeleteRecord(id))
			res.Cleaned = append(res.Cleaned, id)
		}
	}
	if _, err := s.Apply(store.SourceReconcile, cleanup); err != nil {
		return res, fmt.Errorf("reconcile placeholder cleanup: %w", err)
	}
	return res, nil
}
