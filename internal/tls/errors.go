package tls

import (
	"errors"
	"fmt"
)

// Common sentinel errors for TLS operations.
var (
	// ErrCertificateNotFound indicates that no certificate is loaded.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrProviderClosed indicates that the certificate provider has been closed.
	ErrProviderClosed = errors.New("certificate provider closed")

	// ErrTLSVersionInvalid indicates that a TLS version is invalid.
	ErrTLSVersionInvalid = errors.New("invalid TLS version")
)

// CertificateError represents a certificate loading error.
type CertificateError struct {
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("certificate error at %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("certificate error at %s: %s", e.Path, e.Message)
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// NewCertificateError creates a new CertificateError.
func NewCertificateError(path, message string, cause error) *CertificateError {
	return &CertificateError{Path: path, Message: message, Cause: cause}
}
