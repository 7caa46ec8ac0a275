package backup

import (
	"fmt"
	"strings"
)

// BackupError represents errors that occur during backup orchestration
type BackupError struct {
	Type    BackupErrorType `json:"type"`
	Message string          `json:"message"`
	Cause   error           `json:"-"`
	// Stderr carries the captured (truncated) error output of the failed
	// utility. Connection secrets never appear on stderr because they are
	// passed through the environment.
	Stderr string `json:"stderr,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s\nstderr: %s", msg, e.Stderr)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	// BackupErrorTypeProcessFailed means the export utility exited non-zero
	// or could not be started.
	BackupErrorTypeProcessFailed BackupErrorType = "PROCESS_FAILED"
	// BackupErrorTypeTimedOut means the hard timeout elapsed and the process
	// was forcibly terminated.
	BackupErrorTypeTimedOut BackupErrorType = "TIMED_OUT"
	// BackupErrorTypeResourceExhausted covers I/O failures writing the
	// artifact, disk-full conditions included.
	BackupErrorTypeResourceExhausted BackupErrorType = "RESOURCE_EXHAUSTED"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// WithStderr attaches captured error output, truncated to a sane size.
func (e *BackupError) WithStderr(stderr string) *BackupError {
	const maxStderr = 4096
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxStderr {
		stderr = stderr[:maxStderr] + "... (truncated)"
	}
	e.Stderr = stderr
	return e
}

// Common error constructors
func NewProcessFailedError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeProcessFailed, message, cause)
}

func NewTimedOutError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTimedOut, message, cause)
}

func NewResourceExhaustedError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeResourceExhausted, message, cause)
}

// IsTimedOut reports whether err is a backup timeout.
func IsTimedOut(err error) bool {
	be, ok := err.(*BackupError)
	return ok && be.Type == BackupErrorTypeTimedOut
}
