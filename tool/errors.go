package tool

import (
	"errors"
	"fmt"

	"github.com/taskforge-ai/taskforge/workflow"
)

// Error classifies a tool invocation failure. Transient kinds may succeed
// on retry; permanent kinds never will, so the client fails fast on them.
type Error struct {
	// Kind is one of the workflow.ErrKind* execution error kinds.
	Kind string

	// Transient reports whether a retry could succeed.
	Transient bool

	err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError wraps err with a kind, deriving retryability from the kind.
func NewError(kind string, err error) *Error {
	return &Error{Kind: kind, Transient: kindTransient(kind), err: err}
}

// kindTransient is the fixed classification: timeouts, rate limiting, and
// tool unavailability are retryable; auth, unknown-tool, and validation
// failures are not.
func kindTransient(kind string) bool {
	switch kind {
	case workflow.ErrKindTimeout, workflow.ErrKindRateLimited, workflow.ErrKindToolUnavailable:
		return true
	default:
		return false
	}
}

// Classify extracts the Error from err, wrapping unclassified errors as
// internal (permanent).
func Classify(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return NewError(workflow.ErrKindInternal, err)
}
