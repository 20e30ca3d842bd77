package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // every scenario passed, command succeeded
	ExitFailure      = 1 // a scenario or instantiation failed
	ExitCommandError = 2 // unusable input: missing path, bad flag, unreadable journal
)

// ExitError carries the exit code a failed command should terminate with.
type ExitError struct {
	Code int
	Op   string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitf builds an ExitError with a formatted message and no cause.
func exitf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Op: fmt.Sprintf(format, args...)}
}

// exitWrap attaches an exit code to err.
func exitWrap(code int, op string, err error) *ExitError {
	return &ExitError{Code: code, Op: op, Err: err}
}

// ExitCode maps a command error to a process exit code. Errors that carry no
// ExitError count as failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Envelope is the document every command prints with --format json.
type Envelope struct {
	Status string   `json:"status"` // "ok" or "error"
	Data   any      `json:"data,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// Problem describes why a command failed.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textWriter is implemented by results with a dedicated text rendering.
type textWriter interface {
	WriteText(w io.Writer) error
}

// Printer renders command results. Out carries results, Diag carries
// progress and debug lines so JSON on Out stays parseable.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

func (o *RootOptions) printer(cmd *cobra.Command) *Printer {
	return &Printer{
		Format:  o.Format,
		Out:     cmd.OutOrStdout(),
		Diag:    cmd.ErrOrStderr(),
		Verbose: o.Verbose,
	}
}

// OK prints a successful result.
func (p *Printer) OK(data any) error {
	if p.Format == "json" {
		return p.envelope(Envelope{Status: "ok", Data: data}, true)
	}
	if tw, ok := data.(textWriter); ok {
		return tw.WriteText(p.Out)
	}
	_, err := fmt.Fprintln(p.Out, data)
	return err
}

// Fail prints a failure. Details only appear in text mode with --verbose.
func (p *Printer) Fail(code, message string, details any) error {
	if p.Format == "json" {
		return p.envelope(Envelope{
			Status: "error",
			Error:  &Problem{Code: code, Message: message, Details: details},
		}, false)
	}
	if _, err := fmt.Fprintf(p.Out, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if p.Verbose && details != nil {
		_, err := fmt.Fprintf(p.Out, "Details: %v\n", details)
		return err
	}
	return nil
}

// Debugf writes a diagnostic line when --verbose is set.
func (p *Printer) Debugf(format string, args ...any) {
	if p.Verbose {
		fmt.Fprintf(p.diag(), format+"\n", args...)
	}
}

// Metrics writes every family g gathers in the Prometheus text format to
// Diag when --verbose is set.
func (p *Printer) Metrics(g prometheus.Gatherer) error {
	if !p.Verbose {
		return nil
	}
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(p.diag(), mf); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) envelope(env Envelope, indent bool) error {
	enc := json.NewEncoder(p.Out)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(env)
}

func (p *Printer) diag() io.Writer {
	if p.Diag != nil {
		return p.Diag
	}
	return p.Out
}
