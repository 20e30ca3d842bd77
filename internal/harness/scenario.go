package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/store"
)

// Scenario is one scripted run: seed state, steps, then assertions on the
// final state and the lifecycle trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is a directory of CUE mutation templates. Relative paths are
	// resolved against the scenario file.
	Catalog string `yaml:"catalog,omitempty"`

	// Viewer is handed to every projection.
	Viewer ViewerSpec `yaml:"viewer,omitempty"`

	Seed       Seed        `yaml:"seed"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// ViewerSpec is the YAML form of ir.Viewer.
type ViewerSpec struct {
	User string `yaml:"user,omitempty"`
	Team string `yaml:"team,omitempty"`
}

// Seed is server truth: records merged field by field and connections
// replaced wholesale. It is used for the initial state and for server_data
// steps.
type Seed struct {
	Records     map[string]map[string]any `yaml:"records,omitempty"`
	Connections map[string][]EdgeSpec     `yaml:"connections,omitempty"`
}

// EdgeSpec is one connection edge. A plain string is shorthand for the node.
type EdgeSpec struct {
	Node   string `yaml:"node"`
	Cursor string `yaml:"cursor,omitempty"`
	Key    string `yaml:"key,omitempty"`
}

// UnmarshalYAML accepts either a node id or a mapping.
func (e *EdgeSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		return n.Decode(&e.Node)
	}
	type plain EdgeSpec
	return n.Decode((*plain)(e))
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Dispatch   *DispatchStep `yaml:"dispatch,omitempty"`
	Respond    *RespondStep  `yaml:"respond,omitempty"`
	Fail       *FailStep     `yaml:"fail,omitempty"`
	Cancel     *TxStep       `yaml:"cancel,omitempty"`
	ServerData *Seed         `yaml:"server_data,omitempty"`
}

// DispatchStep dispatches a mutation under the alias Tx.
type DispatchStep struct {
	Tx       string         `yaml:"tx"`
	Mutation string         `yaml:"mutation"`
	Vars     map[string]any `yaml:"vars,omitempty"`

	// ExpectError, when set, must appear in the dispatch error. The
	// dispatch is then expected to fail.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// RespondStep answers a transaction with a server payload.
type RespondStep struct {
	Tx      string         `yaml:"tx"`
	Payload map[string]any `yaml:"payload"`
}

// FailStep fails a transaction. Kind is rejected, network_error or timeout.
type FailStep struct {
	Tx      string `yaml:"tx"`
	Kind    string `yaml:"kind"`
	Message string `yaml:"message,omitempty"`
}

// TxStep names a transaction.
type TxStep struct {
	Tx string `yaml:"tx"`
}

// Failure kinds accepted by FailStep.
const (
	FailRejected = "rejected"
	FailNetwork  = "network_error"
	FailTimeout  = "timeout"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface immediately.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if sc.Catalog != "" && !filepath.IsAbs(sc.Catalog) {
		sc.Catalog = filepath.Join(filepath.Dir(path), sc.Catalog)
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if n := step.count(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		switch {
		case step.Dispatch != nil:
			d := step.Dispatch
			if d.Tx == "" || d.Mutation == "" {
				return fmt.Errorf("steps[%d]: dispatch needs tx and mutation", i)
			}
			if aliases[d.Tx] {
				return fmt.Errorf("steps[%d]: tx %q dispatched twice", i, d.Tx)
			}
			aliases[d.Tx] = true
		case step.Respond != nil:
			if !aliases[step.Respond.Tx] {
				return fmt.Errorf("steps[%d]: respond to undispatched tx %q", i, step.Respond.Tx)
			}
		case step.Fail != nil:
			if !aliases[step.Fail.Tx] {
				return fmt.Errorf("steps[%d]: fail of undispatched tx %q", i, step.Fail.Tx)
			}
			switch step.Fail.Kind {
			case FailRejected, FailNetwork, FailTimeout:
			default:
				return fmt.Errorf("steps[%d]: unknown failure kind %q", i, step.Fail.Kind)
			}
		case step.Cancel != nil:
			if !aliases[step.Cancel.Tx] {
				return fmt.Errorf("steps[%d]: cancel of undispatched tx %q", i, step.Cancel.Tx)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func (s Step) count() int {
	n := 0
	for _, set := range []bool{s.Dispatch != nil, s.Respond != nil, s.Fail != nil, s.Cancel != nil, s.ServerData != nil} {
		if set {
			n++
		}
	}
	return n
}

// Patch converts the seed into server edits: records first, in id order,
// then connections in key order.
func (sd Seed) Patch() (store.Patch, error) {
	var p store.Patch
	for _, id := range sortedKeys(sd.Records) {
		fields, err := ir.ObjectFromMap(sd.Records[id])
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		p = append(p, store.MergeRecord(id, fields)...)
	}
	for _, name := range sortedKeys(sd.Connections) {
		conn, err := ir.ParseConn(name)
		if err != nil {
			return nil, err
		}
		edges := make([]ir.Edge, len(sd.Connections[name]))
		for i, e := range sd.Connections[name] {
			edges[i] = ir.Edge{Node: e.Node, Cursor: e.Cursor, Key: e.Key}
		}
		p = append(p, store.PutConnection(conn, edges))
	}
	return p, nil
}
