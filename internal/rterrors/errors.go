// Package rterrors defines the error-kind taxonomy used throughout the
// daemon (spec §7), in the style of the teacher's
// pkg/common/error_registry.go standardized-error pattern, but trimmed to
// the closed set of kinds this domain actually needs.
package rterrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the transport-independent error kinds from spec §7.
type Kind string

const (
	// Invalid marks argument-level policy or batch violations.
	Invalid Kind = "INVALID"
	// NotImplemented marks reserved surfaces not yet built.
	NotImplemented Kind = "NOT_IMPLEMENTED"
	// MsrOpen marks a failure to open an MSR (or batch) file handle.
	MsrOpen Kind = "MSR_OPEN"
	// MsrRead marks a short or failed MSR read.
	MsrRead Kind = "MSR_READ"
	// MsrWrite marks a short or failed MSR write.
	MsrWrite Kind = "MSR_WRITE"
	// Runtime marks an internal invariant failure.
	Runtime Kind = "RUNTIME"
	// AgentUnsupported marks a platform missing a control an agent needs.
	AgentUnsupported Kind = "AGENT_UNSUPPORTED"
)

// GovError is the concrete error type carried across all package boundaries.
type GovError struct {
	Code  Kind
	Msg   string
	Cause error
}

func (e *GovError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
}

func (e *GovError) Unwrap() error { return e.Cause }

// New creates a GovError with no wrapped cause.
func New(code Kind, msg string) *GovError {
	return &GovError{Code: code, Msg: msg}
}

// Wrap creates a GovError wrapping an existing error (e.g. a syscall errno).
func Wrap(code Kind, msg string, cause error) *GovError {
	return &GovError{Code: code, Msg: msg, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, code Kind) bool {
	var ge *GovError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}
