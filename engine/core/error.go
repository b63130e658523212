package core

import (
	"errors"
	"fmt"
)

// Canonical error codes shared across the pipeline packages.
const (
	CodeInvalidArgument  = "InvalidArgument"
	CodeFileNotFound     = "FileNotFound"
	CodePermissionDenied = "PermissionDenied"
	CodeFilterNotFound   = "FilterNotFound"
	CodeProfileNotFound  = "ProfileNotFound"
	CodeSourceConflict   = "SourceConflict"
	CodeSourceMissing    = "SourceMissing"
	CodeFetchFailed      = "FetchFailed"
	CodeInternal         = "Internal"
)

// Error is a coded error carrying structured details for logging.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func NewError(err error, code string, details map[string]any) *Error {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: details,
		cause:   err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code && other.cause == nil
}

// KeyVals flattens the error into logger key/value pairs.
func (e *Error) KeyVals() []any {
	kv := make([]any, 0, 4+2*len(e.Details))
	kv = append(kv, "code", e.Code, "error", e.Message)
	for k, v := range e.Details {
		kv = append(kv, k, v)
	}
	return kv
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
