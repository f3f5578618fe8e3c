// Package orcherr defines the closed error taxonomy shared by the registry,
// plan executor, sandbox, and dispatcher. Every failure surfaced across a
// package boundary is, or wraps, an *Error with one of the Kind values below,
// so callers can branch on Kind instead of string-matching messages.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed set of orchestrator failure categories. New
// kinds require a deliberate addition here; callers should not invent their
// own out-of-band error categories.
type Kind string

const (
	// ValidationError marks a malformed plan, step, or tool argument.
	ValidationError Kind = "validation_error"
	// NotFound marks a reference to an unknown tool, step, or sub-agent.
	NotFound Kind = "not_found"
	// DuplicateName marks a registration for a tool name already present in
	// the active catalog.
	DuplicateName Kind = "duplicate_name"
	// SecurityViolation marks a sandbox containment breach or forbidden
	// construct rejected before execution.
	SecurityViolation Kind = "security_violation"
	// Transient marks a failure expected to succeed on retry (network
	// blips, provider 5xx, timeouts).
	Transient Kind = "transient"
	// BudgetExceeded marks a cost, call-count, or wall-clock ceiling breach.
	BudgetExceeded Kind = "budget_exceeded"
	// RateLimited marks a guardrail-imposed or upstream rate limit.
	RateLimited Kind = "rate_limited"
	// RecursionLimit marks a sub-agent dispatch exceeding max recursion depth.
	RecursionLimit Kind = "recursion_limit"
	// Cancelled marks cooperative cancellation via context.
	Cancelled Kind = "cancelled"
	// InternalError marks a defect in the orchestrator itself.
	InternalError Kind = "internal_error"
)

// Error is a structured orchestrator failure. It preserves a causal chain via
// Cause so errors.Is/As keep working across retries and sub-agent hops, while
// remaining trivially serializable (no embedded stdlib error values) for
// inclusion in execution-context results and plan outcomes.
type Error struct {
	// Kind classifies the failure for programmatic branching.
	Kind Kind
	// Message is the human-readable summary.
	Message string
	// Cause links to the underlying orchestrator error, if any.
	Cause *Error
	// Step identifies the plan step that produced the error, if applicable.
	Step string
	// Tool identifies the tool whose invocation failed, if applicable.
	Tool string
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf formats according to a format specifier and returns an *Error.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap converts an arbitrary error into an *Error chain of the given kind.
// If err is already an *Error, its kind is preserved and it is returned
// unchanged so repeated wrapping at package boundaries doesn't reclassify it.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return New(kind, message)
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Kind: kind, Message: message, Cause: fromError(err)}
}

func fromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: InternalError, Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether the failure is expected to succeed if the caller
// retries the same operation. Only Transient and RateLimited errors are
// retryable; everything else (including Cancelled) is permanent.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, orcherr.New(orcherr.NotFound, "")) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}
