// Package parser extracts VM records from control panel responses.
//
// All functions are pure: they never perform I/O and can be tested against fixed payloads.
package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrLoginRequired means the panel answered with a login page instead of data.
	ErrLoginRequired = errors.New("login required")
	// ErrRejected means the panel answered with a well-formed refusal.
	ErrRejected   = errors.New("rejected by panel")
	ErrMissing    = errors.New("field missing")
	ErrNoVMTable  = errors.New("vm table not found")
	ErrBadPayload = errors.New("malformed payload")
)

const maxValueInError = 64

// ParseError describes a field that could not be extracted.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
	}
	v := e.Value
	if len(v) > maxValueInError {
		v = v[:maxValueInError] + "..."
	}
	return fmt.Sprintf("parse %s=%q: %v", e.Field, v, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func fieldErr(field, value string, err error) error {
	return &ParseError{Field: field, Value: value, Err: err}
}
