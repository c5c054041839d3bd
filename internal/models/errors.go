package models

import (
	"errors"
	"fmt"
)

// Error codes surfaced in ExecutionResult.Error. Handlers may raise
// their own domain-specific codes (e.g. target not found) with their
// own recoverability and suggestion text.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeNoHandler              = "NO_HANDLER"
	CodePreviewNotFound        = "PREVIEW_NOT_FOUND"
	CodePreviewExpired         = "PREVIEW_EXPIRED"
	CodePreviewNotApproved     = "PREVIEW_NOT_APPROVED"
	CodePreviewAlreadyExecuted = "PREVIEW_ALREADY_EXECUTED"
	CodePreviewRejected        = "PREVIEW_REJECTED"
	CodePreviewCapacity        = "PREVIEW_CAPACITY_EXCEEDED"
	CodeRollbackNotAvailable   = "ROLLBACK_NOT_AVAILABLE"
	CodeExecutionError         = "EXECUTION_ERROR"
	CodeExecutionTimeout       = "EXECUTION_TIMEOUT"
	CodeTargetNotFound         = "TARGET_NOT_FOUND"
)

// ActionError is the structured error carried in every failed
// ExecutionResult. Recoverable errors signal the caller may retry or
// adjust parameters; non-recoverable ones signal no automatic
// remediation exists.
type ActionError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Suggestion  string `json:"suggestion,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewActionError builds a recoverable structured error.
func NewActionError(code, message string) *ActionError {
	return &ActionError{Code: code, Message: message, Recoverable: true}
}

// WithSuggestion attaches remediation advice and returns the error.
func (e *ActionError) WithSuggestion(s string) *ActionError {
	e.Suggestion = s
	return e
}

// Fatal marks the error non-recoverable and returns it.
func (e *ActionError) Fatal() *ActionError {
	e.Recoverable = false
	return e
}

// AsActionError normalizes any error into a structured ActionError.
// Typed errors pass through with their own code and recoverability;
// anything else becomes a generic recoverable execution error.
func AsActionError(err error) *ActionError {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr
	}
	return NewActionError(CodeExecutionError, err.Error())
}
