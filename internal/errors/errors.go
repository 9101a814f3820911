// Package errors provides the structured error taxonomy used across the storage and
// hybrid-retrieval engine: ConfigError, ValidationError, NotFound, Conflict,
// TransientBackendError, DriftWarning, and Unsupported.
package errors

import "fmt"

// Kind enumerates the typed error kinds.
type Kind string

const (
	// KindConfig is fatal at startup; unrecoverable.
	KindConfig Kind = "CONFIG"
	// KindValidation is caller-supplied bad input (malformed duration, dimension
	// mismatch, unknown relation). Surfaced unchanged.
	KindValidation Kind = "VALIDATION"
	// KindNotFound means an id is not present. Callers should prefer returning
	// (nil, nil) over constructing this where the contract says "null, never thrown";
	// it exists for the cases where a caller needs to distinguish "not found" from
	// "empty" programmatically.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict is a unique violation (duplicate link, duplicate
	// file_path+chunk_index); translated to idempotent upsert behavior where the
	// contract allows.
	KindConflict Kind = "CONFLICT"
	// KindTransientBackend is a network blip or lock timeout. Retried once with a
	// 1s pause inside the same call by the dispatcher; then surfaced.
	KindTransientBackend Kind = "TRANSIENT_BACKEND"
	// KindDriftWarning is a cross-store inconsistency. Logged, returned as a
	// success with a warning flag rather than propagated.
	KindDriftWarning Kind = "DRIFT_WARNING"
	// KindUnsupported is a feature not available on the current backend; triggers
	// a fallback strategy.
	KindUnsupported Kind = "UNSUPPORTED"
)

// StoreError is the structured error type for the storage and retrieval engine.
type StoreError struct {
	// Kind is one of the seven taxonomy values above.
	Kind Kind

	// Code is a short machine-stable identifier, e.g. "dimension_mismatch".
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind and code, enabling
// errors.Is() to classify a wrapped StoreError without a type assertion.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// WithDetail adds a key-value detail to the error. Returns the error for chaining.
func (e *StoreError) WithDetail(key, value string) *StoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion. Returns the error for chaining.
func (e *StoreError) WithSuggestion(suggestion string) *StoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a StoreError of the given kind.
func New(kind Kind, code, message string) *StoreError {
	return &StoreError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a StoreError of the given kind from an existing error.
func Wrap(kind Kind, code string, err error) *StoreError {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: kind, Code: code, Message: err.Error(), Cause: err}
}

// Config creates a ConfigError: fatal at startup.
func Config(code, message string) *StoreError {
	return New(KindConfig, code, message)
}

// Validation creates a ValidationError.
func Validation(code, message string) *StoreError {
	return New(KindValidation, code, message)
}

// NotFound creates a NotFound error. Most call sites should prefer (nil, nil);
// this exists for cases where the distinction must travel through an error return.
func NotFound(code, message string) *StoreError {
	return New(KindNotFound, code, message)
}

// Conflict creates a Conflict error.
func Conflict(code, message string) *StoreError {
	return New(KindConflict, code, message)
}

// TransientBackend creates a TransientBackendError, wrapping the underlying cause.
func TransientBackend(code string, cause error) *StoreError {
	e := Wrap(KindTransientBackend, code, cause)
	if e == nil {
		e = New(KindTransientBackend, code, "transient backend error")
	}
	return e
}

// DriftWarningErr creates a DriftWarning: logged, not fatal, success with a warning.
func DriftWarningErr(code, message string, cause error) *StoreError {
	e := New(KindDriftWarning, code, message)
	e.Cause = cause
	return e
}

// Unsupported creates an Unsupported error, triggering a fallback strategy.
func Unsupported(code, message string) *StoreError {
	return New(KindUnsupported, code, message)
}

// IsKind reports whether err is a *StoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	se, ok := err.(*StoreError)
	return ok && se.Kind == kind
}

// IsRetryable reports whether the dispatcher should retry the call once.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransientBackend)
}

// IsFatal reports whether the error should abort startup.
func IsFatal(err error) bool {
	return IsKind(err, KindConfig)
}

// GetKind extracts the Kind from err, or "" if err is not a *StoreError.
func GetKind(err error) Kind {
	if se, ok := err.(*StoreError); ok {
		return se.Kind
	}
	return ""
}
