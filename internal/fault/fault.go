// Package fault defines the stable error taxonomy surfaced to callers.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error code.
type Kind string

const (
	// KindValidation covers malformed or missing required input.
	KindValidation Kind = "validation_error"
	// KindPolicyDenied is a policy enforcement rejection.
	KindPolicyDenied Kind = "policy_denied"
	// KindRateLimited is admission throttling before job creation.
	KindRateLimited Kind = "rate_limited"
	// KindNotFound is an unknown job id.
	KindNotFound Kind = "not_found"
	// KindLogsUnavailable means no attempt has produced output yet.
	KindLogsUnavailable Kind = "logs_unavailable"
	// KindArtifactNotFound is an unknown artifact name.
	KindArtifactNotFound Kind = "artifact_not_found"
	// KindNoRunner means runner selection exhausted every fallback.
	KindNoRunner Kind = "no_runner_available"
	// KindInternal is an unexpected failure.
	KindInternal Kind = "internal"
)

// Fault is an error carrying a taxonomy kind and a human message.
type Fault struct {
	Kind    Kind
	Message string
	Details map[string]string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// New creates a fault with the given kind and message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault whose cause is preserved for errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, cause: cause}
}

// WithDetail returns f with a detail field attached.
func (f *Fault) WithDetail(key, value string) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]string, 1)
	}
	f.Details[key] = value
	return f
}

// KindOf extracts the taxonomy kind from an error chain.
// Unrecognized errors map to KindInternal; nil maps to the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
