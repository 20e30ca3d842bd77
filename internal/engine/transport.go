package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/graphcache/internal/ir"
)

// Transport sends one mutation to the server. It is called from its own
// goroutine with a context that carries the request timeout and is cancelled
// when the transaction is cancelled.
//
// Implementations return the response payload, a *TransportError, or the
// context error.
type Transport interface {
	Send(ctx context.Context, operation string, variables ir.IRObject) (ir.IRObject, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, operation string, variables ir.IRObject) (ir.IRObject, error)

func (f TransportFunc) Send(ctx context.Context, operation string, variables ir.IRObject) (ir.IRObject, error) {
	return f(ctx, operation, variables)
}

type txIDKey struct{}

// TxIDFromContext returns the transaction id the request belongs to.
func TxIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(txIDKey{}).(string)
	return id, ok
}

func withTxID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, txIDKey{}, id)
}

// ScriptedTransport holds every request until the caller answers it by
// transaction id. Scenarios and tests use it to control exactly when and how
// each response arrives.
//
// Thread-safety: safe for concurrent use.
type ScriptedTransport struct {
	mu       sync.Mutex
	calls    map[string]*scriptedCall
	requests []Request
}

// Request is one call observed by ScriptedTransport.
type Request struct {
	TxID      string
	Operation string
	Variables ir.IRObject
}

type scriptedCall struct {
	reply chan scriptedReply
}

type scriptedReply struct {
	payload ir.IRObject
	err     error
}

// NewScriptedTransport creates an empty scripted transport.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{calls: make(map[string]*scriptedCall)}
}

// Send blocks until Respond or Fail is called for the transaction, or the
// context ends.
func (t *ScriptedTransport) Send(ctx context.Context, operation string, variables ir.IRObject) (ir.IRObject, error) {
	id, _ := TxIDFromContext(ctx)
	call := t.call(id)

	t.mu.Lock()
	t.requests = append(t.requests, Request{TxID: id, Operation: operation, Variables: variables})
	t.mu.Unlock()

	select {
	case r := <-call.reply:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond answers the transaction with a payload. Answers sent before the
// request arrives are held until it does.
func (t *ScriptedTransport) Respond(txID string, payload ir.IRObject) error {
	return t.deliver(txID, scriptedReply{payload: payload})
}

// Fail answers the transaction with an error.
func (t *ScriptedTransport) Fail(txID string, err error) error {
	return t.deliver(txID, scriptedReply{err: err})
}

// Requests returns the calls observed so far, in arrival order.
func (t *ScriptedTransport) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.requests...)
}

func (t *ScriptedTransport) deliver(txID string, r scriptedReply) error {
	call := t.call(txID)
	select {
	case call.reply <- r:
		return nil
	default:
		return fmt.Errorf("transaction %s already answered", txID)
	}
}

func (t *ScriptedTransport) call(id string) *scriptedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		c = &scriptedCall{reply: make(chan scriptedReply, 1)}
		t.calls[id] = c
	}
	return c
}
