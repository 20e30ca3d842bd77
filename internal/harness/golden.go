package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/graphcache/internal/ir"
)

// Canonical renders the deterministic part of a result for golden
// comparison: outcomes, the lifecycle trace and the final store state.
// Hashes and error details are left out so the output only changes when
// observable behaviour does.
func (r *Result) Canonical(scenario string) ([]byte, error) {
	outcomes := make(ir.IRObject, len(r.Outcomes))
	for alias, out := range r.Outcomes {
		o := ir.IRObject{"status": ir.IRString(out.Status)}
		if out.Reason != "" {
			o["reason"] = ir.IRString(out.Reason)
		}
		outcomes[alias] = o
	}

	trace := make(ir.IRArray, len(r.Trace))
	for i, ev := range r.Trace {
		e := ir.IRObject{
			"seq":   ir.IRInt(ev.Seq),
			"event": ir.IRString(ev.Event),
		}
		if ev.Tx != "" {
			e["tx"] = ir.IRString(ev.Tx)
		}
		if ev.Reason != "" {
			e["reason"] = ir.IRString(ev.Reason)
		}
		trace[i] = e
	}

	state := r.State
	if state == nil {
		state = ir.IRObject{}
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario": ir.IRString(scenario),
		"outcomes": outcomes,
		"trace":    trace,
		"state":    state,
	})
}

// RunWithGolden executes a scenario and compares its canonical result with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := result.Canonical(scenarioName)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
