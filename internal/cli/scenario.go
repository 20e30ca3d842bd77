package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/graphcache/internal/engine"
	"github.com/roach88/graphcache/internal/harness"
	"github.com/roach88/graphcache/internal/journal"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
	Journal string // optional SQLite journal every run is written to
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Digest  string   `json:"digest,omitempty"`
	Pending []string `json:"pending,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run mutation scenarios",
		Long: `Run YAML mutation scenarios against a fresh store.

Each scenario seeds server truth, dispatches mutations, answers them in a
scripted order, and checks assertions on the final store and lifecycle
trace. When golden/<name>.golden exists next to a scenario file, the
canonical result must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

With --verbose, the lifecycle counters of the whole run are written to
stderr in the Prometheus text format.

Examples:
  graphcache scenario ./scenarios
  graphcache scenario ./scenarios/bulk_move.yaml --journal ./journal.db
  graphcache scenario ./scenarios --filter "create*" --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "also record lifecycle entries in this SQLite journal")

	return cmd
}

func runScenarios(opts *ScenarioOptions, paths []string, cmd *cobra.Command) error {
	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return exitWrap(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	reg := prometheus.NewRegistry()
	runOpts := []harness.Option{harness.WithMetrics(engine.NewMetrics(reg))}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return exitWrap(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		runOpts = append(runOpts, harness.WithRecorder(j))
	}
	if opts.tracer != nil {
		runOpts = append(runOpts, harness.WithTracerProvider(opts.tracer))
	}

	summary := ScenarioSummary{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		r := runScenarioFile(opts, file, runOpts, cmd)
		summary.Scenarios = append(summary.Scenarios, r)
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	p := opts.printer(cmd)
	if err := p.Metrics(reg); err != nil {
		return exitWrap(ExitFailure, "failed to write metrics", err)
	}
	if opts.Format == "json" {
		return outputScenarioJSON(p, summary)
	}
	return outputScenarioText(cmd, summary)
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file beneath it.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func runScenarioFile(opts *ScenarioOptions, file string, runOpts []harness.Option, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	fail := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "\u2717 %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Errors: errs}
	}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}
	opts.printer(cmd).Debugf("running %s (%d steps)", sc.Name, len(sc.Steps))

	result, err := harness.Run(cmd.Context(), sc, runOpts...)
	if err != nil {
		return fail(sc.Name, fmt.Sprintf("execution error: %v", err))
	}

	errs := result.Errors
	canonical, err := result.Canonical(sc.Name)
	if err != nil {
		return fail(sc.Name, fmt.Sprintf("canonical result: %v", err))
	}
	golden := goldenFilePath(file, sc.Name)
	switch {
	case opts.Update:
		if err := writeGolden(golden, canonical); err != nil {
			return fail(sc.Name, err.Error())
		}
		opts.printer(cmd).Debugf("golden updated: %s", golden)
	default:
		want, err := os.ReadFile(golden)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			errs = append(errs, fmt.Sprintf("failed to read golden file: %v", err))
		case string(want) != string(canonical):
			errs = append(errs, "result does not match golden file (run with --update to regenerate)")
		}
	}

	if len(errs) > 0 {
		r := fail(sc.Name, errs...)
		r.Digest = result.Digest
		r.Pending = result.Pending
		return r
	}
	if text {
		fmt.Fprintf(w, "\u2713 %s\n", sc.Name)
	}
	return ScenarioResult{Name: sc.Name, Pass: true, Digest: result.Digest, Pending: result.Pending}
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func outputScenarioJSON(p *Printer, summary ScenarioSummary) error {
	response := Envelope{Status: "ok", Data: summary}
	if summary.Failed > 0 {
		response.Status = "error"
		response.Error = &Problem{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed),
		}
	}

	if err := p.envelope(response, true); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return exitf(ExitFailure, "%d scenario(s) failed", summary.Failed)
	}
	return nil
}

func outputScenarioText(cmd *cobra.Command, summary ScenarioSummary) error {
	w := cmd.OutOrStdout()
	if summary.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if summary.Failed > 0 {
		return exitf(ExitFailure, "%d scenario(s) failed", summary.Failed)
	}
	return nil
}
