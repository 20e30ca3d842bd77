package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphcache/internal/catalog"
	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/mutations"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
	Instantiate string // template to instantiate
	Vars        string // JSON object of template variables
}

// TemplateInfo describes one template or built-in mutation.
type TemplateInfo struct {
	Name        string   `json:"name"`
	Operation   string   `json:"operation,omitempty"`
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params,omitempty"`
}

// CatalogListing is the JSON payload of the catalog command.
type CatalogListing struct {
	Templates []TemplateInfo `json:"templates"`
	Builtins  []string       `json:"builtins"`
}

// DescriptorView is the printable form of an instantiated descriptor.
type DescriptorView struct {
	Operation  string                `json:"operation"`
	Variables  ir.IRObject           `json:"variables"`
	Footprint  FootprintView         `json:"footprint"`
	Optimistic ir.IRObject           `json:"optimistic,omitempty"`
	Configs    []mutation.ConfigSpec `json:"configs"`
}

// FootprintView is the printable form of a footprint.
type FootprintView struct {
	Records     []string            `json:"records,omitempty"`
	Fields      []mutation.FieldRef `json:"fields,omitempty"`
	Connections []ir.ConnKey        `json:"connections,omitempty"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog <dir>",
		Short: "List or instantiate CUE mutation templates",
		Long: `Compile the CUE mutation templates in a directory.

Without --instantiate, lists every template with its operation and
parameters, followed by the built-in mutations. With --instantiate,
resolves the template against --vars and prints the validated descriptor.

Exit codes:
  0 - Catalog compiled (and template instantiated)
  1 - Instantiation failed
  2 - Command error (directory missing, CUE errors)

Examples:
  graphcache catalog ./mutations
  graphcache catalog ./mutations --instantiate destroy --vars '{"id":"9"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Instantiate, "instantiate", "", "template to instantiate")
	cmd.Flags().StringVar(&opts.Vars, "vars", "{}", "template variables as a JSON object")

	return cmd
}

func runCatalog(opts *CatalogOptions, dir string, cmd *cobra.Command) error {
	f := opts.printer(cmd)

	cat, err := catalog.Load(dir)
	if err != nil {
		if opts.Format == "json" {
			_ = f.Fail(catalog.Code(err), err.Error(), nil)
		}
		return exitWrap(ExitCommandError, "failed to load catalog", err)
	}
	f.Debugf("loaded %d templates from %s", len(cat.Names()), dir)

	if opts.Instantiate == "" {
		return listCatalog(opts, cat, cmd)
	}

	var vars ir.IRObject
	if err := json.Unmarshal([]byte(opts.Vars), &vars); err != nil {
		return exitWrap(ExitCommandError, "invalid --vars", err)
	}
	if vars == nil {
		vars = ir.IRObject{}
	}
	if t, ok := cat.Get(opts.Instantiate); ok && slices.Contains(t.Params, "placeholder") {
		if _, set := vars["placeholder"]; !set {
			vars["placeholder"] = ir.IRString(mutation.UUIDPlaceholders{}.Generate())
		}
	}

	d, err := cat.Instantiate(opts.Instantiate, vars)
	if err != nil {
		if opts.Format == "json" {
			_ = f.Fail(cmp.Or(catalog.Code(err), "INSTANTIATE_FAILED"), err.Error(), nil)
		}
		return exitWrap(ExitFailure, fmt.Sprintf("failed to instantiate %s", opts.Instantiate), err)
	}

	view := describe(d)
	if opts.Format == "json" {
		return f.OK(view)
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	return f.OK(string(data))
}

func listCatalog(opts *CatalogOptions, cat *catalog.Catalog, cmd *cobra.Command) error {
	listing := CatalogListing{Templates: []TemplateInfo{}, Builtins: mutations.Names()}
	for _, name := range cat.Names() {
		t, _ := cat.Get(name)
		listing.Templates = append(listing.Templates, TemplateInfo{
			Name:        t.Name,
			Operation:   t.Operation,
			Description: t.Description,
			Params:      t.Params,
		})
	}

	if opts.Format == "json" {
		return opts.printer(cmd).OK(listing)
	}

	w := cmd.OutOrStdout()
	if len(listing.Templates) == 0 {
		fmt.Fprintln(w, "No templates found.")
	}
	for _, t := range listing.Templates {
		fmt.Fprintf(w, "%-24s %-24s (%s)\n", t.Name, t.Operation, strings.Join(t.Params, ", "))
		if t.Description != "" {
			fmt.Fprintf(w, "  %s\n", t.Description)
		}
	}
	fmt.Fprintf(w, "\nBuilt-in mutations: %s\n", strings.Join(listing.Builtins, ", "))
	return nil
}

func describe(d *mutation.Descriptor) DescriptorView {
	v := DescriptorView{
		Operation:  d.Operation,
		Variables:  d.Variables,
		Optimistic: d.OptimisticResponse,
		Footprint: FootprintView{
			Records:     d.Footprint.Records,
			Fields:      d.Footprint.Fields,
			Connections: d.Footprint.Connections,
		},
		Configs: make([]mutation.ConfigSpec, 0, len(d.Configs)),
	}
	for _, c := range d.Configs {
		v.Configs = append(v.Configs, mutation.SpecOf(c))
	}
	return v
}
