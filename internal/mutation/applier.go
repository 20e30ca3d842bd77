package mutation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Applied is the result of a successful optimistic apply.
type Applied struct {
	// Forward is the patch that was applied.
	Forward store.Patch

	// Inverse undoes Forward. It was captured from pre-edit state.
	Inverse store.Patch

	// Placeholders are the placeholder records Forward created.
	Placeholders []string

	// Skipped lists configs that did not resolve against the optimistic
	// response. Only set when the patch was derived from configs.
	Skipped []*SkipError
}

// Project computes and validates the forward patch for d without touching
// the store. Every edit must stay inside the footprint.
func Project(snap *store.Snapshot, d *Descriptor, viewer ir.Viewer) (store.Patch, []*SkipError, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		forward store.Patch
		skipped []*SkipError
	)
	if d.Project != nil {
		p, err := d.Project(snap, viewer)
		if err != nil {
			return nil, nil, &Error{Code: ErrCodeProjectionFailed, Operation: d.Operation, Index: -1, Message: "projection returned an error", Err: err}
		}
		forward = p
	} else {
		for _, c := range d.Configs {
			p, err := Build(c, snap, d.OptimisticResponse)
			if err != nil {
				var se *SkipError
				if errors.As(err, &se) {
					skipped = append(skipped, se)
					continue
				}
				return nil, nil, &Error{Code: ErrCodeMalformedDescriptor, Operation: d.Operation, Index: -1, Message: "config failed on optimistic response", Err: err}
			}
			forward = append(forward, p...)
		}
	}

	for i, e := range forward {
		if !d.Footprint.Allows(e) {
			return nil, nil, &Error{
				Code:      ErrCodeMalformedDescriptor,
				Operation: d.Operation,
				Index:     i,
				Message:   fmt.Sprintf("edit %s is outside the footprint", e),
			}
		}
	}
	return forward, skipped, nil
}

// Apply projects d against a snapshot of s and applies the result as one
// optimistic patch. On any error the store is left untouched.
func Apply(s *store.Store, d *Descriptor, viewer ir.Viewer) (Applied, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return Applied{}, err
	}
	forward, skipped, err := Project(snap, d, viewer)
	if err != nil {
		return Applied{}, err
	}

	inverse, err := s.Apply(store.SourceOptimistic, forward)
	if err != nil {
		return Applied{}, &Error{Code: ErrCodeProjectionFailed, Operation: d.Operation, Index: -1, Message: "store rejected optimistic patch", Err: err}
	}

	var created []string
	for _, id := range forward.Placeholders() {
		if _, existed := snap.Records[id]; !existed {
			created = append(created, id)
		}
	}

	slog.Debug("optimistic patch applied",
		"operation", d.Operation,
		"edits", len(forward),
		"placeholders", len(created),
		"skipped", len(skipped))

	return Applied{Forward: forward, Inverse: inverse, Placeholders: created, Skipped: skipped}, nil
}
