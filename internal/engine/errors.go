package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies action failures for the calling agent. Every failed
// dispatch carries exactly one kind so the agent can decide whether to
// retry, re-snapshot, or re-initialize the session.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "validation_error"
	ErrRefNotFound       ErrorKind = "ref_not_found"
	ErrRefStale          ErrorKind = "ref_stale"
	ErrNotInteractable   ErrorKind = "element_not_interactable"
	ErrNavigation        ErrorKind = "navigation_error"
	ErrTimeout           ErrorKind = "timeout"
	ErrSessionLost       ErrorKind = "session_lost"
	ErrScriptExecution   ErrorKind = "script_execution_error"
	ErrUnsupportedAction ErrorKind = "unsupported_action"
)

// Error wraps a failure with the action context it occurred in. It is
// returned inside the ActionResult rather than raised across the engine
// boundary.
type Error struct {
	Kind   ErrorKind
	Action Kind
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	base := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Action != "" {
		base = fmt.Sprintf("%s (action %s)", base, e.Action)
	}
	if e.Err != nil {
		base = fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an Error with a formatted message.
func newError(kind ErrorKind, action Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Action: action, Msg: fmt.Sprintf(format, args...)}
}

// wrapError attaches action context to an underlying failure.
func wrapError(kind ErrorKind, action Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Action: action, Msg: msg, Err: err}
}

// KindOf extracts the error kind from any error in the chain. Errors that
// did not pass through the dispatcher have no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
