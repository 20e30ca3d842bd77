package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/graphcache/internal/catalog"
	"github.com/roach88/graphcache/internal/engine"
	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/journal"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/mutations"
	"github.com/roach88/graphcache/internal/store"
	"github.com/roach88/graphcache/internal/testutil"
)

// DefaultStepTimeout bounds how long a step waits for the environment to
// process a transport result.
const DefaultStepTimeout = 5 * time.Second

// placeholderParam is filled with a fresh placeholder id when a catalog
// template declares it and the step leaves it unset.
const placeholderParam = "placeholder"

type config struct {
	recorder    engine.Recorder
	tracer      trace.TracerProvider
	metrics     *engine.Metrics
	stepTimeout time.Duration
}

// Option configures Run.
type Option func(*config)

// WithRecorder also writes every lifecycle entry to r, typically a
// *journal.Journal.
func WithRecorder(r engine.Recorder) Option {
	return func(c *config) {
		c.recorder = r
	}
}

// WithTracerProvider traces the environment with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracer = tp
	}
}

// WithMetrics counts the run's lifecycle events on m. One Metrics may be
// shared by several runs; its counters then add up across them.
func WithMetrics(m *engine.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(c *config) {
		c.stepTimeout = d
	}
}

// Run executes a scenario against a fresh store and environment.
//
// Every step is settled before the next one starts: a respond, fail or
// cancel step returns only after the environment has processed the
// transport result. The trace and final state are therefore deterministic.
//
// Setup failures are returned as errors. Step and assertion failures are
// recorded on the result.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	cfg := config{stepTimeout: DefaultStepTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := store.New()
	seed, err := sc.Seed.Patch()
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if _, err := s.Apply(store.SourceServer, seed); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	var cat *catalog.Catalog
	if sc.Catalog != "" {
		if cat, err = catalog.Load(sc.Catalog); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	tr := &traceRecorder{next: cfg.recorder}
	ids := &aliasIDs{}
	transport := engine.NewScriptedTransport()
	envOpts := []engine.Option{
		engine.WithIDGenerator(ids),
		engine.WithPlaceholderGenerator(testutil.NewSequencePlaceholders()),
		engine.WithJournal(tr),
		engine.WithViewer(ir.Viewer{CurrentUser: sc.Viewer.User, CurrentTeam: sc.Viewer.Team}),
	}
	if cfg.tracer != nil {
		envOpts = append(envOpts, engine.WithTracerProvider(cfg.tracer))
	}
	if cfg.metrics != nil {
		envOpts = append(envOpts, engine.WithMetrics(cfg.metrics))
	}
	env := engine.New(s, transport, envOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = env.Run(runCtx)
	}()

	x := &executor{env: env, transport: transport, catalog: cat, ids: ids, timeout: cfg.stepTimeout}
	result := NewResult()
	for i, step := range sc.Steps {
		if err := x.step(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
			break
		}
	}

	x.collect(ctx, result)
	snap, err := s.Snapshot()
	if err != nil {
		env.Stop()
		wg.Wait()
		return nil, err
	}
	result.State = snap.State()
	if result.Digest, err = snap.Digest(); err != nil {
		env.Stop()
		wg.Wait()
		return nil, err
	}

	env.Stop()
	wg.Wait()

	result.Trace = tr.events()
	if err := s.Verify(); err != nil {
		result.AddError(fmt.Sprintf("store invariants: %v", err))
	}
	for _, msg := range EvaluateAssertions(result, snap, sc.Assertions) {
		result.AddError(msg)
	}

	slog.Debug("scenario complete", "scenario", sc.Name, "pass", result.Pass, "entries", len(result.Trace))
	return result, nil
}

// executor runs steps against one environment.
type executor struct {
	env       *engine.Environment
	transport *engine.ScriptedTransport
	catalog   *catalog.Catalog
	ids       *aliasIDs
	timeout   time.Duration

	// dispatched holds the aliases the environment admitted or rejected.
	dispatched []string
}

func (x *executor) step(ctx context.Context, st Step) error {
	switch {
	case st.Dispatch != nil:
		return x.dispatch(ctx, st.Dispatch)
	case st.Respond != nil:
		payload, err := ir.ObjectFromMap(st.Respond.Payload)
		if err != nil {
			return fmt.Errorf("respond %s: %w", st.Respond.Tx, err)
		}
		if err := x.transport.Respond(st.Respond.Tx, payload); err != nil {
			return err
		}
		return x.settle(ctx, st.Respond.Tx)
	case st.Fail != nil:
		if err := x.transport.Fail(st.Fail.Tx, failure(st.Fail)); err != nil {
			return err
		}
		return x.settle(ctx, st.Fail.Tx)
	case st.Cancel != nil:
		if _, err := x.env.Cancel(ctx, st.Cancel.Tx); err != nil {
			return err
		}
		// The aborted request still comes back through the Run loop.
		return x.settle(ctx, st.Cancel.Tx)
	case st.ServerData != nil:
		p, err := st.ServerData.Patch()
		if err != nil {
			return fmt.Errorf("server_data: %w", err)
		}
		return x.env.CommitServerData(ctx, p)
	default:
		return fmt.Errorf("empty step")
	}
}

func (x *executor) dispatch(ctx context.Context, d *DispatchStep) error {
	vars, err := ir.ObjectFromMap(d.Vars)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", d.Tx, err)
	}

	desc, err := x.descriptor(d.Mutation, vars)
	if err == nil {
		x.ids.set(d.Tx)
		x.dispatched = append(x.dispatched, d.Tx)
		_, err = x.env.Dispatch(ctx, desc)
	}

	switch {
	case d.ExpectError == "" && err != nil:
		return fmt.Errorf("dispatch %s: %w", d.Tx, err)
	case d.ExpectError != "" && err == nil:
		return fmt.Errorf("dispatch %s: expected error containing %q", d.Tx, d.ExpectError)
	case d.ExpectError != "" && !strings.Contains(err.Error(), d.ExpectError):
		return fmt.Errorf("dispatch %s: error %q does not contain %q", d.Tx, err, d.ExpectError)
	}
	return nil
}

// descriptor builds the named mutation. Catalog templates shadow the built-in
// builders.
func (x *executor) descriptor(name string, vars ir.IRObject) (*mutation.Descriptor, error) {
	if x.catalog != nil {
		if t, ok := x.catalog.Get(name); ok {
			if slices.Contains(t.Params, placeholderParam) {
				if _, set := vars[placeholderParam]; !set {
					vars[placeholderParam] = ir.IRString(x.env.NewPlaceholder())
				}
			}
			return t.Instantiate(vars)
		}
	}
	return mutations.Build(name, vars, placeholderSource{x.env})
}

func (x *executor) settle(ctx context.Context, tx string) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if err := x.env.Settle(ctx, tx); err != nil {
		return fmt.Errorf("settle %s: %w", tx, err)
	}
	return nil
}

// collect records final outcomes and the pending set.
func (x *executor) collect(ctx context.Context, result *Result) {
	for _, alias := range x.dispatched {
		st, ok := x.env.Status(alias)
		if !ok || !st.Terminal() {
			continue
		}
		out, err := x.env.Await(ctx, alias)
		if err != nil {
			result.AddError(fmt.Sprintf("outcome %s: %v", alias, err))
			continue
		}
		result.Outcomes[alias] = out
	}
	result.Pending = x.env.Pending()
}

func failure(f *FailStep) error {
	msg := cmp.Or(f.Message, f.Kind)
	switch f.Kind {
	case FailRejected:
		return engine.Rejected("%s", msg)
	case FailTimeout:
		return fmt.Errorf("%s: %w", msg, context.DeadlineExceeded)
	default:
		return engine.NetworkError(errors.New(msg))
	}
}

// aliasIDs hands the environment the alias of the step being dispatched,
// so trace entries and outcomes are keyed by scenario aliases.
type aliasIDs struct {
	mu   sync.Mutex
	next string
}

func (g *aliasIDs) set(alias string) {
	g.mu.Lock()
	g.next = alias
	g.mu.Unlock()
}

func (g *aliasIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// placeholderSource routes builder placeholders through the environment.
type placeholderSource struct {
	env *engine.Environment
}

func (p placeholderSource) Generate() string {
	return p.env.NewPlaceholder()
}

// traceRecorder keeps lifecycle entries in memory and forwards them.
type traceRecorder struct {
	mu      sync.Mutex
	entries []TraceEvent
	next    engine.Recorder
}

func (r *traceRecorder) Append(ctx context.Context, e journal.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, TraceEvent{
		Seq:    e.Seq,
		Tx:     e.TxID,
		Event:  string(e.Event),
		Reason: e.Reason,
		Detail: e.Detail,
	})
	r.mu.Unlock()
	if r.next == nil {
		return nil
	}
	return r.next.Append(ctx, e)
}

func (r *traceRecorder) events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.entries)
	slices.SortFunc(out, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
