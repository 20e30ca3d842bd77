package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/graphcache/internal/txn"
)

// FailureKind categorizes transport failures.
type FailureKind string

const (
	// FailureRejected: the server answered and refused the mutation.
	FailureRejected FailureKind = "rejected"

	// FailureNetwork: the request did not produce an answer.
	FailureNetwork FailureKind = "network_error"
)

// TransportError is returned by a Transport when a request fails.
type TransportError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Rejected builds a server rejection.
func Rejected(format string, args ...any) *TransportError {
	return &TransportError{Kind: FailureRejected, Message: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a connection-level failure.
func NetworkError(err error) *TransportError {
	return &TransportError{Kind: FailureNetwork, Message: "request failed", Err: err}
}

// IsRejected reports whether err is a server rejection.
func IsRejected(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == FailureRejected
}

// ErrUnknownTransaction is returned for ids the environment never dispatched.
var ErrUnknownTransaction = errors.New("unknown transaction")

// classify maps a transport error onto a rollback reason. Deadline expiry is
// a timeout; anything unrecognized is treated as a network failure.
func classify(err error) txn.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return txn.ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return txn.ReasonCancelled
	}
	if IsRejected(err) {
		return txn.ReasonRejected
	}
	return txn.ReasonNetworkError
}
