package catalog

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNoFiles          = "NO_FILES"
	ErrCodeLoadFailed       = "LOAD_FAILED"
	ErrCodeBuildFailed      = "BUILD_FAILED"
	ErrCodeInvalidTemplate  = "INVALID_TEMPLATE"
	ErrCodeUnknownTemplate  = "UNKNOWN_TEMPLATE"
	ErrCodeUnboundVariable  = "UNBOUND_VARIABLE"
	ErrCodeUnknownParameter = "UNKNOWN_PARAMETER"
)

// Error is returned for catalog load and instantiation failures.
type Error struct {
	Code     string
	Template string
	Message  string
	Pos      token.Pos
}

func (e *Error) Error() string {
	prefix := e.Code
	if e.Template != "" {
		prefix = fmt.Sprintf("%s: %s", e.Code, e.Template)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Code returns the catalog error code of err, or "" when err is not one.
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
