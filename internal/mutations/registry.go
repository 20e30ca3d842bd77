package mutations

import (
	"fmt"
	"slices"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
)

// Builder turns loosely typed variables into a descriptor. Scenarios and the
// CLI reach the typed builders through it.
type Builder func(vars ir.IRObject, gen mutation.PlaceholderGenerator) (*mutation.Descriptor, error)

var builtins = map[string]Builder{
	"bulkUpdateProjectMedia": func(vars ir.IRObject, _ mutation.PlaceholderGenerator) (*mutation.Descriptor, error) {
		in := BulkUpdate{ID: str(vars, "id")}
		ids, ok := vars["ids"].(ir.IRArray)
		if !ok {
			return nil, invalid(OpUpdateProjectMedia, "ids must be a list")
		}
		for _, v := range ids {
			s, _ := ir.AsString(v)
			in.IDs = append(in.IDs, s)
		}
		in.Destination = Project{DBID: num(vars, "project_id"), SearchID: str(vars, "search_id")}
		if src := str(vars, "source_search"); src != "" {
			in.Source = &Project{DBID: num(vars, "previous_project_id"), SearchID: src}
		}
		return BulkUpdateProjectMedia(in)
	},
	"createProjectMedia": func(vars ir.IRObject, gen mutation.PlaceholderGenerator) (*mutation.Descriptor, error) {
		return CreateProjectMedia(gen, Create{
			Project:   Project{DBID: num(vars, "project_id"), SearchID: str(vars, "search_id")},
			URL:       str(vars, "url"),
			Quote:     str(vars, "quote"),
			ClientKey: str(vars, "client_key"),
		})
	},
	"destroyProjectMedia": func(vars ir.IRObject, _ mutation.PlaceholderGenerator) (*mutation.Descriptor, error) {
		return DestroyProjectMedia(str(vars, "id"))
	},
	"updateProjectMedia": func(vars ir.IRObject, _ mutation.PlaceholderGenerator) (*mutation.Descriptor, error) {
		fields := vars.Clone()
		delete(fields, "id")
		return UpdateProjectMedia(str(vars, "id"), fields)
	},
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, bool) {
	b, ok := builtins[name]
	return b, ok
}

// Names lists the registered builders, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Build runs the named builder.
func Build(name string, vars ir.IRObject, gen mutation.PlaceholderGenerator) (*mutation.Descriptor, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown mutation %q", name)
	}
	return b(vars, gen)
}

func str(vars ir.IRObject, key string) string {
	s, _ := ir.AsString(vars[key])
	return s
}

func num(vars ir.IRObject, key string) int64 {
	n, _ := vars[key].(ir.IRInt)
	return int64(n)
}
