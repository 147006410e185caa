// Package fault defines the relay's error taxonomy.
//
// Failures fall into three classes. Transport failures mean the stream to the
// CLI was destroyed mid-operation and are retried exactly once after the
// affected resource is reset. Fatal failures (CLI missing, authentication
// absent) and validation failures (bad input, unavailable workspace) are
// surfaced immediately and never retried.
package fault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/threadrelay/relaycontract"
)

// Class groups errors by how the runtime reacts to them.
type Class string

const (
	ClassTransport  Class = "transport"
	ClassFatal      Class = "fatal"
	ClassValidation Class = "validation"
)

// Sentinel errors.
var (
	// ErrStreamDestroyed indicates the CLI's stream was destroyed mid-operation.
	ErrStreamDestroyed = errors.New("stream was destroyed")

	// ErrReadTimeout indicates the CLI produced no output within the per-line wait.
	ErrReadTimeout = errors.New("timed out waiting for output")

	// ErrCLINotFound indicates the CLI binary could not be located.
	ErrCLINotFound = errors.New("CLI binary not found")

	// ErrAuthRequired indicates no usable credentials are available.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotRunning indicates an operation needed a running process.
	ErrNotRunning = errors.New("process not running")

	// ErrWorkspaceUnavailable indicates the thread's workspace path is missing.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")

	// ErrThreadNotFound indicates the thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrWorkspaceNotFound indicates the workspace does not exist.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrInvalidAttachment indicates an attachment path is unusable.
	ErrInvalidAttachment = errors.New("invalid attachment")

	// ErrEmptyPrompt indicates a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrAborted indicates the turn was cancelled by the caller.
	ErrAborted = errors.New("turn aborted")

	// ErrClosed indicates the component was already shut down.
	ErrClosed = errors.New("closed")
)

// Error wraps a failure with the operation and its class.
type Error struct {
	Op    string // Operation that failed ("send", "list models", ...)
	Class Class  // How the runtime treats the failure
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(op string, class Class, err error) *Error {
	return &Error{Op: op, Class: class, Err: err}
}

// Transport wraps err as a transport failure.
func Transport(op string, err error) *Error {
	return New(op, ClassTransport, err)
}

// Fatal wraps err as a fatal setup failure.
func Fatal(op string, err error) *Error {
	return New(op, ClassFatal, err)
}

// Validation wraps err as a caller error.
func Validation(op string, err error) *Error {
	return New(op, ClassValidation, err)
}

// ClassOf returns the class of err. Unclassified errors fall back to the
// sentinel they wrap; anything else returns "".
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Class != "" {
		return fe.Class
	}
	switch {
	case IsTransport(err):
		return ClassTransport
	case errors.Is(err, ErrCLINotFound), errors.Is(err, ErrAuthRequired):
		return ClassFatal
	case errors.Is(err, ErrWorkspaceUnavailable), errors.Is(err, ErrThreadNotFound),
		errors.Is(err, ErrWorkspaceNotFound), errors.Is(err, ErrInvalidAttachment),
		errors.Is(err, ErrEmptyPrompt):
		return ClassValidation
	}
	return ""
}

// IsTransport reports whether err means the stream to the CLI was destroyed.
// The check is by sentinel and by error text, because failures surfacing
// from pipes and child processes do not always wrap ErrStreamDestroyed.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamDestroyed) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, fragment := range relaycontract.StreamDestroyedTexts() {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err is a fatal setup failure.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatal
}

// IsValidation reports whether err is a caller error.
func IsValidation(err error) bool {
	return ClassOf(err) == ClassValidation
}
