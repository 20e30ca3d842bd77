package store

import (
	"errors"
	"fmt"
)

// EditErrorCode categorizes rejected edits.
type EditErrorCode string

const (
	// ErrCodeDanglingEdge: an edge would point at a record the store does not hold.
	ErrCodeDanglingEdge EditErrorCode = "DANGLING_EDGE"

	// ErrCodeDuplicateEdge: the connection already has an edge to that record.
	ErrCodeDuplicateEdge EditErrorCode = "DUPLICATE_EDGE"

	// ErrCodeEdgeNotFound: a move named an edge that is not in the connection.
	ErrCodeEdgeNotFound EditErrorCode = "EDGE_NOT_FOUND"

	// ErrCodeMalformedEdit: the edit is missing data its kind requires.
	ErrCodeMalformedEdit EditErrorCode = "MALFORMED_EDIT"
)

// EditError reports which edit of a patch was rejected and why.
// The store is left exactly as it was before Apply was called.
type EditError struct {
	Code    EditErrorCode
	Index   int
	Edit    Edit
	Message string
}

// Error implements the error interface.
func (e *EditError) Error() string {
	return fmt.Sprintf("%s: edit %d %s: %s", e.Code, e.Index, e.Edit, e.Message)
}

// IsDanglingEdge reports whether err is a dangling-edge rejection.
func IsDanglingEdge(err error) bool {
	return hasCode(err, ErrCodeDanglingEdge)
}

// IsDuplicateEdge reports whether err is a duplicate-edge rejection.
func IsDuplicateEdge(err error) bool {
	return hasCode(err, ErrCodeDuplicateEdge)
}

// IsMalformedEdit reports whether err is a malformed-edit rejection.
func IsMalformedEdit(err error) bool {
	return hasCode(err, ErrCodeMalformedEdit)
}

func hasCode(err error, code EditErrorCode) bool {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

func editErr(code EditErrorCode, e Edit, format string, args ...any) *EditError {
	return &EditError{Code: code, Index: -1, Edit: e, Message: fmt.Sprintf(format, args...)}
}
