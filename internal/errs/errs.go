// Package errs defines the typed domain errors shared by the pipeline packages.
//
// Every domain error carries a Kind. The CLI maps any domain kind to exit code 2
// and everything else (I/O failures, bugs) to exit code 1.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind categorizes a domain error.
type Kind string

const (
	// KindValidation marks malformed checkpoint, delta, profile or step data.
	KindValidation Kind = "validation"

	// KindPrecondition marks a missing artifact, a version mismatch or an
	// exhausted fix budget.
	KindPrecondition Kind = "precondition"

	// KindPolicy marks a hard issue reported by a policy gate or report producer.
	KindPolicy Kind = "policy"

	// KindConcurrency marks a project lock held by another session.
	KindConcurrency Kind = "concurrency"
)

// ExitCodeDomain is the exit code hint carried by every domain error.
const ExitCodeDomain = 2

// Error is a domain error with structured details for operators and agents.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Details holds diagnostic context such as expected/actual values.
	Details map[string]string

	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code hint for this error.
func (e *Error) ExitCode() int {
	return ExitCodeDomain
}

// With returns a copy of e with an additional detail entry.
func (e *Error) With(key, value string) *Error {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, Err: e.Err}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Precondition creates a precondition error.
func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// Policy creates a policy violation error.
func Policy(format string, args ...any) *Error {
	return &Error{Kind: KindPolicy, Message: fmt.Sprintf(format, args...)}
}

// Concurrency creates a concurrency error.
func Concurrency(format string, args ...any) *Error {
	return &Error{Kind: KindConcurrency, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error of the given kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts the domain error from err, if any.
// Uses errors.As to handle wrapped errors.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	de, ok := As(err)
	return ok && de.Kind == kind
}

// IsDomain reports whether err is any domain error.
func IsDomain(err error) bool {
	_, ok := As(err)
	return ok
}
