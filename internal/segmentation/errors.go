package segmentation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for filter checking.
var (
	ErrDisallowedField    = errors.New("disallowed field")
	ErrDisallowedOperator = errors.New("disallowed operator")
	ErrInvalidFilter      = errors.New("invalid filter")
)

// Sentinel errors for prompt translation.
var (
	ErrEmptyPrompt             = errors.New("prompt is required")
	ErrEmptyModelResponse      = errors.New("empty response from model")
	ErrMalformedModelResponse  = errors.New("model response is not a JSON object")
	ErrDisallowedFilterContent = errors.New("model produced a disallowed filter")
	ErrUpstream                = errors.New("text generation service failed")
)

// ViolationError names the offending key and where it sits in the filter.
type ViolationError struct {
	Path string
	Key  string
	Err  error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%v %s at %s", e.Err, e.Key, e.Path)
}

func (e *ViolationError) Unwrap() error { return e.Err }

// ModelResponseError carries the raw model output for server-side
// diagnostics. Raw must never be returned to API callers.
type ModelResponseError struct {
	Raw string
	Err error
}

func (e *ModelResponseError) Error() string { return e.Err.Error() }

func (e *ModelResponseError) Unwrap() error { return e.Err }

func violation(path []string, key string, err error) *ViolationError {
	return &ViolationError{Path: joinPath(path, key), Key: key, Err: err}
}

func joinPath(path []string, key string) string {
	full := make([]string, 0, len(path)+1)
	full = append(full, path...)
	return strings.Join(append(full, key), ".")
}
