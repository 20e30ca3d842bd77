package mutation

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes mutation errors.
type ErrorCode string

const (
	// ErrCodeMalformedDescriptor: the descriptor is incomplete, a config is
	// invalid, or the projection touched something outside the footprint.
	ErrCodeMalformedDescriptor ErrorCode = "MALFORMED_DESCRIPTOR"

	// ErrCodeProjectionFailed: the projection returned an error or produced
	// a patch the store rejected.
	ErrCodeProjectionFailed ErrorCode = "PROJECTION_FAILED"
)

// Error is returned when a descriptor cannot be applied. The store is never
// modified when Apply returns an *Error.
type Error struct {
	Code      ErrorCode
	Operation string
	Message   string

	// Index is the position of the offending edit in the forward patch,
	// or -1 when the error is not tied to one edit.
	Index int

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a malformed descriptor error.
func IsMalformed(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Code == ErrCodeMalformedDescriptor
}

// IsProjectionFailed reports whether err is a projection failure.
func IsProjectionFailed(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Code == ErrCodeProjectionFailed
}

func malformed(op string, format string, args ...any) *Error {
	return &Error{Code: ErrCodeMalformedDescriptor, Operation: op, Index: -1, Message: fmt.Sprintf(format, args...)}
}

// SkipError reports a config that could not resolve against a payload,
// usually because the payload path or the record id is missing. Skips are
// partial success, not failures.
type SkipError struct {
	Kind   ConfigKind
	Path   string
	Reason string
}

func (e *SkipError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s skipped: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s skipped at %q: %s", e.Kind, e.Path, e.Reason)
}

// IsSkip reports whether err is a *SkipError.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}
