// Package merr defines the core error taxonomy shared by every component.
//
// One error type, a fixed set of kinds, a severity that drives the log level
// a caller should use, and a separate Retryable bit that says whether the
// agent loop / circuit breaker may retry. Errors are built with fmt.Errorf("...: %w", err) and unwrapped
// with errors.Is/errors.As like the rest of the runtime; merr.Error never
// replaces the standard error interface, it augments it.
package merr

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies the origin of a failure.
type Kind string

const (
	KindIO              Kind = "io"
	KindSessionPersist  Kind = "session_persistence"
	KindInvalidInput    Kind = "invalid_input"
	KindConfig          Kind = "config"
	KindPathValidation  Kind = "path_validation"
	KindSecurityDenial  Kind = "security_denial"
	KindExternalService Kind = "external_service"
	KindSerialization   Kind = "serialization"
	KindTimeout         Kind = "timeout"
	KindChannelDelivery Kind = "channel_delivery"
)

// Severity drives the log level (see Error.Level); whether a failure is
// recoverable is the separate Retryable field.
type Severity string

const (
	SeverityFatal  Severity = "fatal"
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Error is the one core error type used across the runtime.
type Error struct {
	Kind      Kind
	Severity  Severity
	Retryable bool
	Message   string
	Cause     error
}

// New builds an Error wrapping cause (cause may be nil).
func New(kind Kind, severity Severity, message string, cause error) *Error {
	return &Error{Kind: kind, Severity: severity, Message: message, Cause: cause}
}

// WithRetryable marks the error as retryable and returns it for chaining.
func (e *Error) WithRetryable(v bool) *Error {
	e.Retryable = v
	return e
}

func (e *Error) Error() string {
	msg := sanitizePaths(e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, sanitizePaths(e.Cause.Error()))
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the agent loop or circuit breaker may retry
// the operation that produced this error.
func (e *Error) Recoverable() bool {
	return e.Retryable
}

// Level maps severity onto a slog level for callers that log the error.
func (e *Error) Level() slog.Level {
	switch e.Severity {
	case SeverityFatal, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// sanitizePaths rewrites any absolute path embedded in a message to its base
// name, or a "~"-relative form when it falls under the user's home
// directory, so logs and user-facing strings never leak a full filesystem
// layout.
func sanitizePaths(s string) string {
	if !strings.Contains(s, "/") {
		return s
	}
	home, _ := os.UserHomeDir()
	fields := strings.Fields(s)
	changed := false
	for i, f := range fields {
		if !strings.HasPrefix(f, "/") {
			continue
		}
		trimmed := strings.TrimRight(f, ":,;)")
		suffix := f[len(trimmed):]
		switch {
		case home != "" && strings.HasPrefix(trimmed, home):
			fields[i] = "~" + strings.TrimPrefix(trimmed, home) + suffix
		default:
			fields[i] = filepath.Base(trimmed) + suffix
		}
		changed = true
	}
	if !changed {
		return s
	}
	return strings.Join(fields, " ")
}

// Is allows errors.Is(err, merr.KindTimeout)-style matching against a bare
// Kind value by wrapping it in a sentinel comparison helper.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
