package restore

import (
	"fmt"
	"strings"
)

// RestoreError represents errors that occur during restore orchestration
type RestoreError struct {
	Type    RestoreErrorType `json:"type"`
	Message string           `json:"message"`
	Cause   error            `json:"-"`
	Stderr  string           `json:"stderr,omitempty"`
	// Guidance carries operator-facing instructions, set on partial-state
	// failures.
	Guidance string `json:"guidance,omitempty"`
}

// Error implements the error interface
func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s\nstderr: %s", msg, e.Stderr)
	}
	if e.Guidance != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.Guidance)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// RestoreErrorType represents different types of restore errors
type RestoreErrorType string

const (
	// RestoreErrorTypeFilterFailed means the filter/rewrite stage failed
	// before any data was streamed into the target.
	RestoreErrorTypeFilterFailed RestoreErrorType = "FILTER_FAILED"
	// RestoreErrorTypeImportFailed means the import utility failed under an
	// engine with transactional restore: the target rolled back entirely.
	RestoreErrorTypeImportFailed RestoreErrorType = "IMPORT_FAILED"
	// RestoreErrorTypePartialState means the import failed mid-stream on an
	// engine without transactional restore: the target is in an unknown
	// state. This is the only accepted partial-failure exposure and it is
	// always reported, never swallowed.
	RestoreErrorTypePartialState RestoreErrorType = "PARTIAL_STATE"
)

// partialStateGuidance is shown to the operator with every PartialState
// failure.
const partialStateGuidance = "The target database was left partially restored. " +
	"Verify its contents before use; if a pre-restore safety backup exists, " +
	"re-run the restore from it or drop and recreate the target."

// NewFilterFailedError creates a filter-stage error.
func NewFilterFailedError(message string, cause error) *RestoreError {
	return &RestoreError{
		Type:    RestoreErrorTypeFilterFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewImportFailedError creates an import error for a rolled-back restore.
func NewImportFailedError(message string, cause error) *RestoreError {
	return &RestoreError{
		Type:    RestoreErrorTypeImportFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewPartialStateError creates a partial-state error with operator guidance
// attached.
func NewPartialStateError(message string, cause error) *RestoreError {
	return &RestoreError{
		Type:     RestoreErrorTypePartialState,
		Message:  message,
		Cause:    cause,
		Guidance: partialStateGuidance,
	}
}

// WithStderr attaches captured error output, truncated to a sane size.
func (e *RestoreError) WithStderr(stderr string) *RestoreError {
	const maxStderr = 4096
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxStderr {
		stderr = stderr[:maxStderr] + "... (truncated)"
	}
	e.Stderr = stderr
	return e
}

// IsPartialState reports whether err is a partial-state restore failure.
func IsPartialState(err error) bool {
	re, ok := err.(*RestoreError)
	return ok && re.Type == RestoreErrorTypePartialState
}
