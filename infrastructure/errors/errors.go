// Package errors provides the structured error taxonomy used across the
// metadata cache: a small set of error kinds, each carrying an HTTP
// status (for the MCP JSON error surface) and a retryability flag.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error taxonomy entries from spec.md §7.
type Kind string

const (
	KindAuth             Kind = "AuthError"
	KindTransport        Kind = "TransportError"
	KindParse            Kind = "ParseError"
	KindVersionDetection Kind = "VersionDetectionError"
	KindSyncConflict     Kind = "SyncConflict"
	KindNotFound         Kind = "NotFound"
	KindSchema           Kind = "SchemaError"
	KindCancelled        Kind = "Cancelled"
	KindNotCancellable   Kind = "NotCancellable"
)

// CoreError is the structured error returned by every public API call,
// per spec.md §7: {kind, message, session_id?, http_status?, retryable}.
type CoreError struct {
	Kind       Kind
	Message    string
	SessionID  string
	HTTPStatus int
	Retryable  bool
	Err        error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// WithSession attaches the originating sync session id.
func (e *CoreError) WithSession(sessionID string) *CoreError {
	e.SessionID = sessionID
	return e
}

func newError(kind Kind, message string, status int, retryable bool, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, HTTPStatus: status, Retryable: retryable, Err: err}
}

// Auth wraps a token-acquisition or credential-refusal failure. Never
// retried.
func Auth(message string, err error) *CoreError {
	return newError(KindAuth, message, http.StatusUnauthorized, false, err)
}

// Transport wraps a network/TLS/timeout failure on an idempotent
// request. Retried per the resilience policy.
func Transport(message string, err error) *CoreError {
	return newError(KindTransport, message, http.StatusBadGateway, true, err)
}

// Parse wraps a malformed remote payload. Recovered locally by the
// caller (count incremented, item skipped); only surfaced when no item
// of a required kind could be parsed at all.
func Parse(message string, err error) *CoreError {
	return newError(KindParse, message, http.StatusBadGateway, false, err)
}

// VersionDetection reports that GetInstalledModules was missing or
// every entry was unparseable.
func VersionDetection(message string, err error) *CoreError {
	return newError(KindVersionDetection, message, http.StatusBadGateway, false, err)
}

// SyncConflict reports that a session is already running for this
// environment.
func SyncConflict(environmentID int64, runningSessionID string) *CoreError {
	return newError(KindSyncConflict, fmt.Sprintf("sync already running for environment %d", environmentID), http.StatusConflict, false, nil).
		WithSession(runningSessionID)
}

// NotFound reports that name was not present for the active version.
func NotFound(resource, name string) *CoreError {
	return newError(KindNotFound, fmt.Sprintf("%s %q not found", resource, name), http.StatusNotFound, false, nil)
}

// Schema reports a failed DB migration; the database is opened
// read-only and writes are refused.
func Schema(message string, err error) *CoreError {
	return newError(KindSchema, message, http.StatusInternalServerError, false, err)
}

// Cancelled reports that an operation observed the cancellation flag.
func Cancelled(sessionID string) *CoreError {
	return newError(KindCancelled, "operation cancelled", http.StatusOK, false, nil).WithSession(sessionID)
}

// NotCancellable reports an attempt to cancel a terminal session.
func NotCancellable(sessionID string) *CoreError {
	return newError(KindNotCancellable, "session is not cancellable", http.StatusConflict, false, nil).WithSession(sessionID)
}

// As extracts a *CoreError from an error chain.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	ok := errors.As(err, &ce)
	return ce, ok
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := As(err)
	return ok && ce.Kind == kind
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if ce, ok := As(err); ok {
		return ce.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether err should be retried by the resilience
// policy. Non-CoreError errors (e.g. raw network errors bubbling up
// before being wrapped) are treated as retryable.
func IsRetryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable
	}
	return true
}
