package vault

import (
	"fmt"
)

// VaultError represents errors that occur during vault operations
type VaultError struct {
	Type    VaultErrorType `json:"type"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
}

// Error implements the error interface
func (e *VaultError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// VaultErrorType represents different types of vault errors
type VaultErrorType string

const (
	// VaultErrorTypeDecryption means the stored blob could not be
	// authenticated: wrong key or corruption. Fatal, never downgraded to an
	// empty store.
	VaultErrorTypeDecryption VaultErrorType = "VAULT_DECRYPTION_ERROR"
	VaultErrorTypeNotFound   VaultErrorType = "VAULT_NOT_FOUND"
	VaultErrorTypeStorage    VaultErrorType = "VAULT_STORAGE_ERROR"
	VaultErrorTypeKeySource  VaultErrorType = "VAULT_KEY_SOURCE_ERROR"
	VaultErrorTypeValidation VaultErrorType = "VAULT_VALIDATION_ERROR"
)

// NewVaultError creates a new VaultError
func NewVaultError(errorType VaultErrorType, message string, cause error) *VaultError {
	return &VaultError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors
func NewDecryptionError(message string, cause error) *VaultError {
	return NewVaultError(VaultErrorTypeDecryption, message, cause)
}

func NewNotFoundError(message string) *VaultError {
	return NewVaultError(VaultErrorTypeNotFound, message, nil)
}

func NewStorageError(message string, cause error) *VaultError {
	return NewVaultError(VaultErrorTypeStorage, message, cause)
}

func NewKeySourceError(message string, cause error) *VaultError {
	return NewVaultError(VaultErrorTypeKeySource, message, cause)
}

func NewValidationError(message string, cause error) *VaultError {
	return NewVaultError(VaultErrorTypeValidation, message, cause)
}

// IsNotFound reports whether err is a vault not-found error.
func IsNotFound(err error) bool {
	ve, ok := err.(*VaultError)
	return ok && ve.Type == VaultErrorTypeNotFound
}

// IsDecryptionError reports whether err is a vault decryption failure.
func IsDecryptionError(err error) bool {
	ve, ok := err.(*VaultError)
	return ok && ve.Type == VaultErrorTypeDecryption
}
