package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphcache/internal/journal"
)

func TestPrinter_JSONOK(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	require.NoError(t, p.OK(map[string]string{"tx": "a"}))

	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "ok", env.Status)
	assert.Nil(t, env.Error)
	assert.Equal(t, map[string]any{"tx": "a"}, env.Data)
}

func TestPrinter_JSONFail(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	require.NoError(t, p.Fail("UNKNOWN_TEMPLATE", "no such template", map[string]string{"template": "destroy"}))

	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNKNOWN_TEMPLATE", env.Error.Code)
	assert.Equal(t, "no such template", env.Error.Message)
	assert.NotNil(t, env.Error.Details)
}

func TestPrinter_TextFail(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			p := &Printer{Format: "text", Out: buf, Verbose: tt.verbose}

			require.NoError(t, p.Fail("LOAD_FAILED", "catalog did not compile", []string{"schema.cue:3"}))
			assert.Contains(t, buf.String(), "Error [LOAD_FAILED]: catalog did not compile")
			assert.Equal(t, tt.wantDetails, bytes.Contains(buf.Bytes(), []byte("Details:")))
		})
	}
}

func TestPrinter_TextUsesWriteText(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "text", Out: buf}

	require.NoError(t, p.OK(JournalResult{TxID: "a", Entries: []journal.Entry{
		{Seq: 3, TxID: "a", Operation: "createProjectMedia", Event: journal.EventRolledBack, Reason: "rejected", Detail: "url taken"},
	}}))
	assert.Contains(t, buf.String(), "rolled_back")
	assert.Contains(t, buf.String(), "createProjectMedia (rejected): url taken")

	buf.Reset()
	require.NoError(t, p.OK("plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestPrinter_DebugfUsesDiag(t *testing.T) {
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: out, Diag: diag, Verbose: true}

	p.Debugf("running %s", "bulk_move")
	assert.Empty(t, out.String())
	assert.Equal(t, "running bulk_move\n", diag.String())

	p.Verbose = false
	p.Debugf("dropped")
	assert.Equal(t, "running bulk_move\n", diag.String())
}

func TestPrinter_MetricsOnlyWhenVerbose(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "runs_total", Help: "Runs"})
	reg.MustRegister(c)
	c.Inc()

	diag := &bytes.Buffer{}
	p := &Printer{Format: "text", Out: &bytes.Buffer{}, Diag: diag}
	require.NoError(t, p.Metrics(reg))
	assert.Empty(t, diag.String())

	p.Verbose = true
	require.NoError(t, p.Metrics(reg))
	assert.Contains(t, diag.String(), "# TYPE runs_total counter")
	assert.Contains(t, diag.String(), "runs_total 1")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitCommandError, ExitCode(exitf(ExitCommandError, "bad path %q", "x")))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", exitWrap(ExitCommandError, "open journal", errors.New("denied")))
	assert.Equal(t, ExitCommandError, ExitCode(wrapped))
	assert.Equal(t, "outer: open journal: denied", wrapped.Error())
	assert.Equal(t, `bad path "x"`, exitf(ExitFailure, "bad path %q", "x").Error())
}
