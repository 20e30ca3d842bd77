// Package catalog loads mutation templates declared in CUE and turns them
// into descriptors.
//
// A template lives under the top-level "mutation" field:
//
//	mutation: destroy: {
//		operation: "destroyProjectMedia"
//		params: ["id"]
//		footprint: records: ["$id"]
//		optimistic: deletedId: "$id"
//		configs: [{kind: "DELETE_RECORD", id_field: "deletedId"}]
//	}
//
// Templates are unified with an embedded schema when loaded, so structural
// mistakes are reported with their CUE position before anything is
// dispatched. Variable references are resolved at instantiation; see expand.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
)

//go:embed schema.cue
var schemaSource string

// Template is one compiled mutation template.
type Template struct {
	Name        string
	Operation   string
	Description string

	// Params lists the variables the template accepts. Empty means any.
	Params []string

	body ir.IRObject
}

// Catalog holds templates by name.
type Catalog struct {
	templates map[string]*Template
}

// Load compiles every CUE file of the package in dir.
func Load(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &Error{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	return build(ctx, ctx.BuildInstance(inst))
}

// Compile compiles templates from CUE source.
func Compile(src string) (*Catalog, error) {
	ctx := cuecontext.New()
	return build(ctx, ctx.CompileString(src, cue.Filename("catalog.cue")))
}

func build(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "", err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeInvalidTemplate, "", err)
	}

	c := &Catalog{templates: make(map[string]*Template)}
	mutations := v.LookupPath(cue.ParsePath("mutation"))
	if !mutations.Exists() {
		return c, nil
	}
	iter, err := mutations.Fields()
	if err != nil {
		return nil, cueError(ErrCodeInvalidTemplate, "", err)
	}
	for iter.Next() {
		t, err := compileTemplate(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		c.templates[t.Name] = t
	}
	return c, nil
}

func compileTemplate(name string, v cue.Value) (*Template, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, cueError(ErrCodeInvalidTemplate, name, err)
	}
	raw, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidTemplate, Template: name, Message: err.Error(), Pos: v.Pos()}
	}
	body, _ := raw.(ir.IRObject)

	t := &Template{Name: name, body: body}
	t.Operation, _ = ir.AsString(body["operation"])
	t.Description, _ = ir.AsString(body["description"])
	if params, ok := body["params"].(ir.IRArray); ok {
		for _, p := range params {
			s, _ := ir.AsString(p)
			t.Params = append(t.Params, s)
		}
	}
	return t, nil
}

// Names returns the template names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for n := range c.templates {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Get returns the named template.
func (c *Catalog) Get(name string) (*Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// Instantiate builds a descriptor from the named template.
func (c *Catalog) Instantiate(name string, vars ir.IRObject) (*mutation.Descriptor, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, &Error{Code: ErrCodeUnknownTemplate, Template: name, Message: "no such template"}
	}
	return t.Instantiate(vars)
}

// document is a template body after expansion.
type document struct {
	Operation  string                `json:"operation"`
	Variables  ir.IRObject           `json:"variables"`
	Footprint  footprintDoc          `json:"footprint"`
	Optimistic ir.IRObject           `json:"optimistic"`
	Configs    []mutation.ConfigSpec `json:"configs"`
}

type footprintDoc struct {
	Records     []string             `json:"records"`
	Fields      []mutation.FieldRef  `json:"fields"`
	Connections []struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	} `json:"connections"`
}

// Instantiate resolves the template's variable references against vars and
// returns a validated descriptor. When the template declares no variables
// block, vars themselves become the request variables.
func (t *Template) Instantiate(vars ir.IRObject) (*mutation.Descriptor, error) {
	if len(t.Params) > 0 {
		for _, k := range vars.SortedKeys() {
			if !slices.Contains(t.Params, k) {
				return nil, &Error{Code: ErrCodeUnknownParameter, Template: t.Name, Message: fmt.Sprintf("parameter %q is not declared", k)}
			}
		}
	}

	body := t.body.Clone()
	delete(body, "params")
	delete(body, "description")
	expanded, err := expand(body, vars)
	if err != nil {
		return nil, &Error{Code: ErrCodeUnboundVariable, Template: t.Name, Message: err.Error()}
	}

	data, err := ir.MarshalIRValue(expanded)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidTemplate, Template: t.Name, Message: err.Error()}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Code: ErrCodeInvalidTemplate, Template: t.Name, Message: fmt.Sprintf("decode expanded template: %v", err)}
	}

	d := &mutation.Descriptor{
		Operation:          doc.Operation,
		Variables:          doc.Variables,
		OptimisticResponse: doc.Optimistic,
		Footprint: mutation.Footprint{
			Records: doc.Footprint.Records,
			Fields:  doc.Footprint.Fields,
		},
	}
	if _, declared := t.body["variables"]; !declared {
		d.Variables = vars.Clone()
	}
	for _, c := range doc.Footprint.Connections {
		d.Footprint.Connections = append(d.Footprint.Connections, ir.Conn(c.Owner, c.Name))
	}
	for i, cs := range doc.Configs {
		cfg, err := cs.Config()
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalidTemplate, Template: t.Name, Message: fmt.Sprintf("config %d: %v", i, err)}
		}
		d.Configs = append(d.Configs, cfg)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// cueError converts the first CUE error into an *Error with its position.
func cueError(code, template string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Template: template, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Code: code, Template: template, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		e.Pos = pos[0]
	}
	return e
}
