package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Assertion type constants.
const (
	AssertOutcome       = "outcome"
	AssertRecord        = "record"
	AssertAbsent        = "absent"
	AssertConnection    = "connection"
	AssertPending       = "pending"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// Assertion checks one property of the final state or the trace.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Tx is the transaction alias (outcome, trace_*).
	Tx string `yaml:"tx,omitempty"`

	// Status and Reason are the expected outcome (outcome).
	Status string `yaml:"status,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Record and Fields are the expected record contents, subset match
	// (record, absent).
	Record string         `yaml:"record,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// Connection is "owner.name" and Nodes its exact node order (connection).
	Connection string   `yaml:"connection,omitempty"`
	Nodes      []string `yaml:"nodes,omitempty"`

	// Pending is the exact list of pending aliases (pending).
	Pending []string `yaml:"pending,omitempty"`

	// Event, Events and Count describe trace entries (trace_*).
	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

func (a Assertion) validate() error {
	switch a.Type {
	case AssertOutcome:
		if a.Tx == "" || a.Status == "" {
			return fmt.Errorf("outcome needs tx and status")
		}
	case AssertRecord, AssertAbsent:
		if a.Record == "" {
			return fmt.Errorf("%s needs record", a.Type)
		}
	case AssertConnection:
		if _, err := ir.ParseConn(a.Connection); err != nil {
			return err
		}
	case AssertPending:
	case AssertTraceContains, AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s needs event", a.Type)
		}
	case AssertTraceOrder:
		if a.Tx == "" || len(a.Events) == 0 {
			return fmt.Errorf("trace_order needs tx and events")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, snap *store.Snapshot, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, snap, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, snap *store.Snapshot, a Assertion) error {
	switch a.Type {
	case AssertOutcome:
		return assertOutcome(result, a)
	case AssertRecord:
		return assertRecord(snap, a)
	case AssertAbsent:
		if _, ok := snap.Get(a.Record); ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %s absent", a.Record), Actual: "present"}
		}
		return nil
	case AssertConnection:
		return assertConnection(snap, a)
	case AssertPending:
		if !slices.Equal(result.Pending, a.Pending) && (len(result.Pending) > 0 || len(a.Pending) > 0) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%v", a.Pending), Actual: fmt.Sprintf("%v", result.Pending)}
		}
		return nil
	case AssertTraceContains:
		if countEvents(result.Trace, a.Tx, a.Event, a.Reason) == 0 {
			return &AssertionError{Type: a.Type, Expected: describeEvent(a), Actual: "not found in trace"}
		}
		return nil
	case AssertTraceCount:
		if n := countEvents(result.Trace, a.Tx, a.Event, a.Reason); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d x %s", a.Count, describeEvent(a)), Actual: fmt.Sprintf("%d", n)}
		}
		return nil
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertOutcome(result *Result, a Assertion) error {
	out, ok := result.Outcomes[a.Tx]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %s", a.Tx, a.Status), Actual: "transaction not resolved"}
	}
	if string(out.Status) != a.Status || (a.Reason != "" && string(out.Reason) != a.Reason) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s %s", a.Tx, a.Status, a.Reason),
			Actual:   fmt.Sprintf("%s %s %s", a.Tx, out.Status, out.Reason),
		}
	}
	return nil
}

func assertRecord(snap *store.Snapshot, a Assertion) error {
	rec, ok := snap.Get(a.Record)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record %s", a.Record), Actual: "absent"}
	}
	want, err := ir.ObjectFromMap(a.Fields)
	if err != nil {
		return err
	}
	for _, k := range want.SortedKeys() {
		got, ok := rec.Fields[k]
		if !ok || !ir.Equal(got, want[k]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", a.Record, k, render(want[k])),
				Actual:   fmt.Sprintf("%s.%s = %s", a.Record, k, render(got)),
			}
		}
	}
	return nil
}

func assertConnection(snap *store.Snapshot, a Assertion) error {
	conn, err := ir.ParseConn(a.Connection)
	if err != nil {
		return err
	}
	edges, _ := snap.GetConnection(conn.Owner, conn.Name)
	got := make([]string, len(edges))
	for i, e := range edges {
		got[i] = e.Node
	}
	if !slices.Equal(got, a.Nodes) && (len(got) > 0 || len(a.Nodes) > 0) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %v", a.Connection, a.Nodes), Actual: fmt.Sprintf("%v", got)}
	}
	return nil
}

// assertTraceOrder checks that the tx's events appear in the given order.
// Other events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Tx == a.Tx && ev.Event == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		var got []string
		for _, ev := range trace {
			if ev.Tx == a.Tx {
				got = append(got, ev.Event)
			}
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s events in order %v", a.Tx, a.Events),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func countEvents(trace []TraceEvent, tx, event, reason string) int {
	n := 0
	for _, ev := range trace {
		if ev.Event != event || (tx != "" && ev.Tx != tx) || (reason != "" && ev.Reason != reason) {
			continue
		}
		n++
	}
	return n
}

func describeEvent(a Assertion) string {
	s := a.Event
	if a.Tx != "" {
		s = a.Tx + " " + s
	}
	if a.Reason != "" {
		s += " (" + a.Reason + ")"
	}
	return s
}

func render(v ir.IRValue) string {
	if v == nil {
		return "<missing>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
