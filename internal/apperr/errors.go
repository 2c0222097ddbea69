// Package apperr defines the error taxonomy shared across the execution
// backbone: every component returns errors carrying a Kind so callers at
// the process boundary can map them to transport-level responses without
// string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling and observability purposes.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTransientInfra  Kind = "transient_infra"
	KindDependencyFail  Kind = "dependency_failure"
	KindTimeout         Kind = "timeout"
	KindInsufficientBal Kind = "insufficient_balance"
	KindInternal        Kind = "internal"
)

// Error is the structured error type returned by every backbone component.
type Error struct {
	Kind    Kind
	Code    string // machine-readable code, e.g. "task_not_found"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error without a wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Is supports errors.Is comparisons by Kind and Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// KindOf extracts the Kind from an error, defaulting to KindInternal when
// the error does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err (or a wrapped cause) is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err (or a wrapped cause) is a conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// Sentinel errors for common not-found conditions, matched against storage
// layer results the way the teacher maps badgerhold.ErrNotFound.
var (
	ErrTaskNotFound       = New(KindNotFound, "task_not_found", "scheduled task not found")
	ErrExecutionNotFound  = New(KindNotFound, "execution_not_found", "task execution not found")
	ErrJobNotFound        = New(KindNotFound, "job_not_found", "job not found")
	ErrCacheEntryNotFound = New(KindNotFound, "cache_entry_not_found", "cache entry not found")
	ErrOwnerNotFound      = New(KindNotFound, "owner_not_found", "owner not found")
	ErrAlreadyRunning     = New(KindConflict, "execution_already_running", "an execution is already running for this task")
	ErrInsufficientCredit = New(KindInsufficientBal, "insufficient_credit_balance", "owner does not have enough credit balance")
	ErrLockNotHeld        = New(KindConflict, "lock_not_held", "distributed lock is not held by this caller")
	ErrAlreadyFinalized   = New(KindConflict, "crawl_already_finalized", "crawl progress has already been finalized")
)
