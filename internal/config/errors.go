package config

import (
	"fmt"
)

// ConfigError represents a malformed or inconsistent instance definition.
// It always names the offending instance so a batch run fails fast with a
// usable message and no subprocess is ever spawned.
type ConfigError struct {
	Instance string `json:"instance"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Cause    error  `json:"-"`
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	where := e.Instance
	if e.Field != "" {
		where = fmt.Sprintf("%s.%s", e.Instance, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("CONFIG_ERROR [%s]: %s (caused by: %v)", where, e.Message, e.Cause)
	}
	return fmt.Sprintf("CONFIG_ERROR [%s]: %s", where, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a ConfigError for a named instance.
func NewConfigError(instance, field, message string, cause error) *ConfigError {
	return &ConfigError{
		Instance: instance,
		Field:    field,
		Message:  message,
		Cause:    cause,
	}
}
