package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies toolkit failures
type Kind string

const (
	KindInvalidBaseURL     Kind = "invalid_base_url"
	KindAuthFailed         Kind = "auth_failed"
	KindMissingPeriod      Kind = "missing_period"
	KindFetchExhausted     Kind = "fetch_exhausted"
	KindExportFailed       Kind = "export_failed"
	KindPortBusy           Kind = "port_busy"
	KindProcessStartFailed Kind = "process_start_failed"
)

// sentinel lets callers match a kind with errors.Is
type sentinel Kind

func (s sentinel) Error() string { return string(s) }

// Sentinels usable with errors.Is
var (
	ErrInvalidBaseURL     error = sentinel(KindInvalidBaseURL)
	ErrAuthFailed         error = sentinel(KindAuthFailed)
	ErrMissingPeriod      error = sentinel(KindMissingPeriod)
	ErrFetchExhausted     error = sentinel(KindFetchExhausted)
	ErrExportFailed       error = sentinel(KindExportFailed)
	ErrPortBusy           error = sentinel(KindPortBusy)
	ErrProcessStartFailed error = sentinel(KindProcessStartFailed)
)

// OpsError is the general toolkit error carrying a kind and diagnostic context
type OpsError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"cause,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *OpsError) Error() string {
	if e == nil {
		return "unknown error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *OpsError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the kind sentinels
func (e *OpsError) Is(target error) bool {
	s, ok := target.(sentinel)
	return ok && e != nil && Kind(s) == e.Kind
}

// InvalidBaseURL reports a malformed API endpoint
func InvalidBaseURL(raw string, cause error) *OpsError {
	return &OpsError{
		Kind:    KindInvalidBaseURL,
		Message: fmt.Sprintf("invalid API base URL %q", raw),
		Cause:   cause,
		Context: map[string]interface{}{"base_url": raw},
	}
}

// AuthFailed reports a login that never produced a token
func AuthFailed(url string, attempts int, cause error) *OpsError {
	return &OpsError{
		Kind:    KindAuthFailed,
		Message: fmt.Sprintf("login at %s failed after %d attempts", url, attempts),
		Cause:   cause,
		Context: map[string]interface{}{"url": url, "attempts": attempts},
	}
}

// MissingPeriod reports that no date range could be resolved
func MissingPeriod(detail string) *OpsError {
	return &OpsError{
		Kind:    KindMissingPeriod,
		Message: "no date range: " + detail,
	}
}

// PortBusy reports a port that is already bound
func PortBusy(port int, cause error) *OpsError {
	return &OpsError{
		Kind:    KindPortBusy,
		Message: fmt.Sprintf("port %d is already in use", port),
		Cause:   cause,
		Context: map[string]interface{}{"port": port},
	}
}

// ProcessStartFailed reports a collaborator process that could not start
func ProcessStartFailed(command []string, cause error) *OpsError {
	return &OpsError{
		Kind:    KindProcessStartFailed,
		Message: fmt.Sprintf("failed to start %q", strings.Join(command, " ")),
		Cause:   cause,
		Context: map[string]interface{}{"command": command},
	}
}

// FetchExhaustedError is returned when every fetch attempt failed
type FetchExhaustedError struct {
	Attempts int
	URL      string
	LastErr  error
}

// Error implements the error interface
func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("[%s] GET %s failed after %d attempts: %v", KindFetchExhausted, e.URL, e.Attempts, e.LastErr)
}

// Unwrap returns the last attempt's error
func (e *FetchExhaustedError) Unwrap() error { return e.LastErr }

// Is matches ErrFetchExhausted
func (e *FetchExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }

// ExportFailedError is returned when every export strategy failed
type ExportFailedError struct {
	Path     string
	Attempts []string
	Err      error
}

// Error implements the error interface
func (e *ExportFailedError) Error() string {
	return fmt.Sprintf("[%s] could not write %s (tried %s): %v",
		KindExportFailed, e.Path, strings.Join(e.Attempts, ", "), e.Err)
}

// Unwrap returns the joined strategy errors
func (e *ExportFailedError) Unwrap() error { return e.Err }

// Is matches ErrExportFailed
func (e *ExportFailedError) Is(target error) bool { return target == ErrExportFailed }

// KindOf returns the kind of the first toolkit error in err's chain, or ""
// for foreign errors
func KindOf(err error) Kind {
	var opsErr *OpsError
	var fetchErr *FetchExhaustedError
	var exportErr *ExportFailedError
	switch {
	case stderrors.As(err, &opsErr):
		return opsErr.Kind
	case stderrors.As(err, &fetchErr):
		return KindFetchExhausted
	case stderrors.As(err, &exportErr):
		return KindExportFailed
	}
	return ""
}
