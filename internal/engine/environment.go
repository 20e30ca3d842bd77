package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/journal"
	"github.com/roach88/graphcache/internal/mutation"
	"github.com/roach88/graphcache/internal/store"
	"github.com/roach88/graphcache/internal/txn"
)

// DefaultTimeout bounds each transport request.
const DefaultTimeout = 30 * time.Second

const tracerName = "graphcache/engine"

// Recorder receives lifecycle entries. *journal.Journal implements it.
type Recorder interface {
	Append(ctx context.Context, e journal.Entry) error
}

// Environment is the dispatch entry point and the single logical writer of
// the store.
//
// Dispatch applies the optimistic patch synchronously and hands the request
// to the transport on its own goroutine. Transport results are enqueued in
// arrival order and resolved by the Run loop, one at a time, under the same
// lock as Dispatch, Cancel and CommitServerData. Patches therefore reach the
// store strictly in the order those calls happen.
//
// Thread-safety model:
//   - Dispatch, Cancel, Await, CommitServerData, PushServerData: any goroutine
//   - Run: exactly one goroutine
type Environment struct {
	store        *store.Store
	txns         *txn.Manager
	transport    Transport
	queue        *eventQueue
	clock        *Clock
	ids          IDGenerator
	placeholders mutation.PlaceholderGenerator
	viewer       ir.Viewer
	timeout      time.Duration
	journal      Recorder
	metrics      *Metrics
	tracer       trace.Tracer

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks one dispatched request.
type flight struct {
	operation string
	cancel    context.CancelFunc

	// done is closed once outcome is final.
	done    chan struct{}
	outcome txn.Outcome

	// settled is closed once the Run loop has processed the transport
	// result, including a result that arrived after cancellation.
	settled chan struct{}
}

// Option configures an Environment.
type Option func(*Environment)

// WithTimeout sets the per-request transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Environment) {
		e.timeout = d
	}
}

// WithJournal records every lifecycle step.
func WithJournal(r Recorder) Option {
	return func(e *Environment) {
		e.journal = r
	}
}

// WithMetrics records lifecycle counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Environment) {
		e.metrics = m
	}
}

// WithIDGenerator replaces the UUIDv7 transaction id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Environment) {
		e.ids = g
	}
}

// WithPlaceholderGenerator replaces the placeholder id generator handed to
// descriptor builders.
func WithPlaceholderGenerator(g mutation.PlaceholderGenerator) Option {
	return func(e *Environment) {
		e.placeholders = g
	}
}

// WithViewer sets the viewer Dispatch passes to projections.
func WithViewer(v ir.Viewer) Option {
	return func(e *Environment) {
		e.viewer = v
	}
}

// WithClock resumes journal sequence numbers from an existing clock.
func WithClock(c *Clock) Option {
	return func(e *Environment) {
		e.clock = c
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Environment) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// New creates an environment over s that sends requests through t.
func New(s *store.Store, t Transport, opts ...Option) *Environment {
	e := &Environment{
		store:        s,
		txns:         txn.NewManager(s),
		transport:    t,
		queue:        newEventQueue(),
		clock:        NewClock(),
		ids:          UUIDv7Generator{},
		placeholders: mutation.UUIDPlaceholders{},
		timeout:      DefaultTimeout,
		tracer:       otel.Tracer(tracerName),
		flights:      make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the store the environment writes.
func (e *Environment) Store() *store.Store {
	return e.store
}

// NewPlaceholder returns a fresh placeholder record id for descriptor builders.
func (e *Environment) NewPlaceholder() string {
	return e.placeholders.Generate()
}

// Viewer returns the default viewer.
func (e *Environment) Viewer() ir.Viewer {
	return e.viewer
}

// Dispatch is DispatchAs with the environment's default viewer.
func (e *Environment) Dispatch(ctx context.Context, d *mutation.Descriptor) (string, error) {
	return e.DispatchAs(ctx, d, e.viewer)
}

// DispatchAs admits d, applies its optimistic patch, starts the request and
// returns the transaction id. It never waits for the network.
//
// A malformed descriptor is rejected before the store is touched and the
// *mutation.Error is returned.
func (e *Environment) DispatchAs(ctx context.Context, d *mutation.Descriptor, viewer ir.Viewer) (string, error) {
	id := e.ids.Generate()
	op := ""
	if d != nil {
		op = d.Operation
	}

	ctx, span := e.tracer.Start(ctx, "Environment.Dispatch", trace.WithAttributes(
		attribute.String("tx", id),
		attribute.String("operation", op),
	))
	defer span.End()

	release := e.store.Hold()
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	varsHash := ""
	if d != nil {
		if h, err := ir.VariablesHash(d.Variables); err == nil {
			varsHash = h
		}
	}
	e.record(ctx, journal.Entry{TxID: id, Operation: op, Event: journal.EventDispatched, VariablesHash: varsHash})

	tok, err := e.txns.Admit(ctx, id, d, viewer)
	if err != nil {
		out, _ := e.txns.Outcome(id)
		e.metrics.observe(out)
		e.record(ctx, journal.Entry{TxID: id, Operation: op, Event: journal.EventRolledBack, Reason: string(txn.ReasonMalformed), Detail: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed descriptor")
		slog.Warn("mutation rejected at dispatch", "tx", id, "operation", op, "error", err)
		return "", err
	}
	e.record(ctx, journal.Entry{TxID: id, Operation: op, Event: journal.EventApplied})
	e.metrics.admitted(op)
	e.metrics.setPending(len(e.txns.Pending()))

	reqCtx, cancel := context.WithTimeout(withTxID(context.WithoutCancel(ctx), id), e.timeout)
	e.flights[id] = &flight{
		operation: op,
		cancel:    cancel,
		done:      make(chan struct{}),
		settled:   make(chan struct{}),
	}
	go e.send(reqCtx, tok, d.Operation, d.Variables)

	slog.Info("mutation dispatched", "tx", id, "operation", op)
	return id, nil
}

// send runs the transport call and enqueues its result for the Run loop.
func (e *Environment) send(ctx context.Context, tok txn.Token, operation string, vars ir.IRObject) {
	payload, err := e.transport.Send(ctx, operation, vars)
	ev := Event{Type: EventTypeResponse, Response: &Response{Token: tok, Payload: payload, Err: err}}
	if !e.queue.Enqueue(ev) {
		slog.Debug("response dropped: environment stopped", "tx", tok.TxID)
	}
}

// Await blocks until the transaction resolves or ctx ends.
func (e *Environment) Await(ctx context.Context, txID string) (txn.Outcome, error) {
	e.mu.Lock()
	f, ok := e.flights[txID]
	e.mu.Unlock()
	if !ok {
		if out, ok := e.txns.Outcome(txID); ok {
			return out, nil
		}
		return txn.Outcome{}, fmt.Errorf("await %s: %w", txID, ErrUnknownTransaction)
	}

	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return txn.Outcome{}, ctx.Err()
	}
}

// Settle blocks until the transport result of txID has been processed by
// the Run loop, even if the transaction was already cancelled.
func (e *Environment) Settle(ctx context.Context, txID string) error {
	e.mu.Lock()
	f, ok := e.flights[txID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("settle %s: %w", txID, ErrUnknownTransaction)
	}
	select {
	case <-f.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel rolls the transaction back immediately and aborts its request.
// The late response, if any, is ignored. Cancelling a resolved transaction
// returns an Ignored outcome and changes nothing.
func (e *Environment) Cancel(ctx context.Context, txID string) (txn.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "Environment.Cancel", trace.WithAttributes(attribute.String("tx", txID)))
	defer span.End()

	release := e.store.Hold()
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.flights[txID]
	if !ok {
		return txn.Outcome{}, fmt.Errorf("cancel %s: %w", txID, ErrUnknownTransaction)
	}
	out, err := e.txns.Cancel(ctx, txID)
	if err != nil {
		span.RecordError(err)
		if !out.Status.Terminal() {
			return txn.Outcome{}, err
		}
	}
	if out.Ignored {
		return out, nil
	}
	e.conclude(ctx, f, out)
	return out, err
}

// CommitServerData applies server truth fetched outside any mutation
// underneath pending optimistic state.
func (e *Environment) CommitServerData(ctx context.Context, p store.Patch) error {
	ctx, span := e.tracer.Start(ctx, "Environment.CommitServerData", trace.WithAttributes(attribute.Int("edits", len(p))))
	defer span.End()

	release := e.store.Hold()
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.txns.CommitServerData(p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "server data rejected")
		return err
	}
	e.record(ctx, journal.Entry{Event: journal.EventServerData, Detail: fmt.Sprintf("%d edits", len(p))})
	return nil
}

// PushServerData enqueues server truth for the Run loop. Returns false once
// the environment is stopped.
func (e *Environment) PushServerData(p store.Patch) bool {
	return e.queue.Enqueue(Event{Type: EventTypeServerData, ServerData: p})
}

// Pending lists pending transaction ids in admission order.
func (e *Environment) Pending() []string {
	return e.txns.Pending()
}

// Status returns the lifecycle state of a transaction.
func (e *Environment) Status(txID string) (txn.Status, bool) {
	return e.txns.Status(txID)
}

// Forget releases the bookkeeping of a resolved transaction.
func (e *Environment) Forget(txID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.flights[txID]; ok {
		select {
		case <-f.done:
			delete(e.flights, txID)
		default:
			return
		}
	}
	e.txns.Forget(txID)
}

// Run processes transport results and server pushes until ctx is cancelled
// or Stop is called.
//
// Processing errors are logged and the loop continues; one bad response
// must not stall every other transaction.
func (e *Environment) Run(ctx context.Context) error {
	slog.Info("environment starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			if err := e.process(ctx, ev); err != nil {
				logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("environment stopping: context cancelled")
			e.Stop()
			return ctx.Err()
		case <-e.queue.Wait():
			// A closed queue keeps signalling; stop once it is drained.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("environment stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue and aborts every in-flight request.
func (e *Environment) Stop() {
	e.queue.Close()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.flights {
		f.cancel()
	}
}

// process routes one event.
// CRITICAL: called only from the Run goroutine.
func (e *Environment) process(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeResponse:
		if ev.Response == nil {
			return fmt.Errorf("response event missing response data")
		}
		return e.resolve(ctx, ev.Response)
	case EventTypeServerData:
		return e.CommitServerData(ctx, ev.ServerData)
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// resolve confirms or rolls back the transaction behind a transport result.
func (e *Environment) resolve(ctx context.Context, r *Response) error {
	ctx, span := e.tracer.Start(ctx, "Environment.Resolve", trace.WithAttributes(attribute.String("tx", r.Token.TxID)))
	defer span.End()

	release := e.store.Hold()
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.flights[r.Token.TxID]
	if f != nil {
		defer close(f.settled)
	}

	var (
		out txn.Outcome
		err error
	)
	if r.Err == nil {
		out, err = e.txns.Confirm(ctx, r.Token, r.Payload)
	} else {
		out, err = e.txns.Rollback(ctx, r.Token, classify(r.Err), r.Err)
	}
	// An unwind failure still resolves the transaction, so dispatchers
	// waiting in Await are told how it ended.
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		if !out.Status.Terminal() {
			return err
		}
	}

	span.SetAttributes(attribute.String("status", string(out.Status)), attribute.Bool("ignored", out.Ignored))
	if out.Ignored {
		e.metrics.observe(out)
		e.record(ctx, journal.Entry{TxID: r.Token.TxID, Operation: out.Operation, Event: journal.EventIgnored})
		slog.Debug("late response ignored", "tx", r.Token.TxID)
		return err
	}
	if f != nil {
		e.conclude(ctx, f, out)
	}
	return err
}

// conclude publishes a final outcome.
//
// CRITICAL: caller holds e.mu.
func (e *Environment) conclude(ctx context.Context, f *flight, out txn.Outcome) {
	e.metrics.observe(out)
	e.metrics.setPending(len(e.txns.Pending()))

	entry := journal.Entry{TxID: out.TxID, Operation: out.Operation, Reason: string(out.Reason), Detail: out.Error}
	if out.Status == txn.StatusConfirmed {
		entry.Event = journal.EventConfirmed
		if len(out.Skipped) > 0 {
			entry.Detail = fmt.Sprintf("skipped: %v", out.Skipped)
		}
	} else {
		entry.Event = journal.EventRolledBack
	}
	e.record(ctx, entry)

	f.outcome = out
	close(f.done)
	f.cancel()
}

// record stamps and appends a journal entry. Journal failures are logged and
// never fail the mutation.
func (e *Environment) record(ctx context.Context, entry journal.Entry) {
	entry.Seq = e.clock.Next()
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		slog.Warn("journal append failed", "tx", entry.TxID, "event", entry.Event, "error", err)
	}
}

// logEventError logs a processing failure with the event context needed to
// investigate it.
func logEventError(ev Event, err error) {
	switch ev.Type {
	case EventTypeResponse:
		if ev.Response != nil {
			slog.Error("response processing failed",
				"error", err,
				"tx", ev.Response.Token.TxID,
				"generation", ev.Response.Token.Generation,
				"transport_error", ev.Response.Err)
			return
		}
		slog.Error("response processing failed", "error", err, "note", "response data was nil")
	case EventTypeServerData:
		slog.Error("server data processing failed", "error", err, "edits", len(ev.ServerData))
	default:
		slog.Error("event processing failed", "error", err, "event_type", ev.Type)
	}
}
