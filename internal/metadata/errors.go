package metadata

import (
	"fmt"

	"dvetransfer/internal/services"
)

// Validation codes written into reason sidecars.
const (
	CodeMissingDocument = "missing_document"
	CodeInvalidDocument = "invalid_document"
	CodeMissingProperty = "missing_property"
	CodeAmbiguousValue  = "ambiguous_property_value"
	CodeInvalidManifest = "invalid_manifest"
)

// ValidationError is returned for any DVE whose metadata cannot be trusted.
type ValidationError struct {
	Code     string
	Property string
	Message  string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Property != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Property)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// ErrorCode returns the machine-readable code.
func (e *ValidationError) ErrorCode() string { return e.Code }

// Unwrap marks the error as a validation failure and exposes the cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrValidation}
	}
	return []error{services.ErrValidation, e.Err}
}

func invalid(code, property, message string, err error) *ValidationError {
	return &ValidationError{Code: code, Property: property, Message: message, Err: err}
}
