// Package errors provides the error taxonomy of the hyperparameter search engine.
//
// Every failure raised by the engine is an *Error carrying a Kind. Callers
// branch on the kind with the standard library:
//
//	if errors.Is(err, apperrors.ErrConfiguration) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind int

const (
	// KindInternal is an unexpected failure inside the engine.
	KindInternal Kind = iota
	// KindConfiguration marks an invalid Dimension, Search Space or session
	// configuration, detected before any evaluation runs.
	KindConfiguration
	// KindUnsupportedDimension marks a Dimension the selected backend
	// cannot represent.
	KindUnsupportedDimension
	// KindResultShape marks an objective result that is not a scalar.
	KindResultShape
	// KindBackendExecution marks a failure raised inside a backend run loop.
	KindBackendExecution
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindUnsupportedDimension:
		return "unsupported dimension"
	case KindResultShape:
		return "result shape error"
	case KindBackendExecution:
		return "backend execution error"
	default:
		return "internal error"
	}
}

// Sentinels matched by kind through errors.Is.
var (
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrUnsupportedDimension = &Error{Kind: KindUnsupportedDimension}
	ErrResultShape          = &Error{Kind: KindResultShape}
	ErrBackendExecution     = &Error{Kind: KindBackendExecution}
)

// Error represents an error with context.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// Param names the search-space parameter involved, if any.
	Param string
	// The component or backend where the error occurred
	Component string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	builder.WriteString(e.Kind.String())

	if e.Component != "" {
		builder.WriteString(" [")
		builder.WriteString(e.Component)
		builder.WriteString("]")
	}

	if e.Param != "" {
		builder.WriteString(": parameter ")
		builder.WriteString(fmt.Sprintf("%q", e.Param))
	}

	if e.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Message)
	}

	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with
// additional context (message, param) never matches by kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" || t.Param != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, err error, msg string) *Error {
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
	}
}

// Configuration reports an invalid configuration.
func Configuration(format string, args ...interface{}) *Error {
	return newError(KindConfiguration, nil, fmt.Sprintf(format, args...))
}

// ConfigurationParam reports an invalid configuration of one parameter.
func ConfigurationParam(param, format string, args ...interface{}) *Error {
	e := newError(KindConfiguration, nil, fmt.Sprintf(format, args...))
	e.Param = param
	return e
}

// UnsupportedDimension reports a dimension the backend cannot represent.
func UnsupportedDimension(backend, param, format string, args ...interface{}) *Error {
	e := newError(KindUnsupportedDimension, nil, fmt.Sprintf(format, args...))
	e.Component = backend
	e.Param = param
	return e
}

// ResultShape reports a malformed objective result.
func ResultShape(format string, args ...interface{}) *Error {
	return newError(KindResultShape, nil, fmt.Sprintf(format, args...))
}

// BackendExecution wraps a failure raised by a backend run loop. If err is
// nil, BackendExecution returns nil.
func BackendExecution(backend string, err error) error {
	if err == nil {
		return nil
	}
	e := newError(KindBackendExecution, err, "")
	e.Component = backend
	return e
}

// Wrap wraps an error with additional context. An *Error keeps its kind.
// If err is nil, Wrap returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		return &Error{
			Kind:      e.Kind,
			Err:       err,
			Message:   msg,
			Component: e.Component,
		}
	}

	return newError(KindInternal, err, msg)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return KindInternal, false
}
