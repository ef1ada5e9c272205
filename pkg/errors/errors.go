package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInternal     ErrorCode = "INTERNAL"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrPermission   ErrorCode = "PERMISSION"

	// Configuration errors
	ErrConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Module errors
	ErrModuleInvalid    ErrorCode = "MODULE_INVALID"
	ErrModuleNotFound   ErrorCode = "MODULE_NOT_FOUND"
	ErrRequirementUnmet ErrorCode = "REQUIREMENT_UNMET"

	// Action errors
	ErrActionInvalid ErrorCode = "ACTION_INVALID"
	ErrActionExecute ErrorCode = "ACTION_EXECUTE"
	ErrTriggerCycle  ErrorCode = "TRIGGER_CYCLE"

	// Template errors
	ErrTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrTemplateRender   ErrorCode = "TEMPLATE_RENDER"

	// Event listener errors
	ErrListenerInvalid ErrorCode = "LISTENER_INVALID"

	// FileSystem errors
	ErrFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
	ErrFileCreate    ErrorCode = "FILE_CREATE"
	ErrFileWrite     ErrorCode = "FILE_WRITE"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"
	ErrDirCreate     ErrorCode = "DIR_CREATE"

	// Persisted state errors
	ErrStateRead  ErrorCode = "STATE_READ"
	ErrStateWrite ErrorCode = "STATE_WRITE"
)

// HeliodError represents a structured error with code and details
type HeliodError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *HeliodError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *HeliodError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *HeliodError) Is(target error) bool {
	var targetErr *HeliodError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new HeliodError with the given code and message
func New(code ErrorCode, message string) *HeliodError {
	return &HeliodError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new HeliodError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *HeliodError {
	return &HeliodError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a HeliodError
func Wrap(err error, code ErrorCode, message string) *HeliodError {
	if err == nil {
		return nil
	}
	return &HeliodError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *HeliodError {
	if err == nil {
		return nil
	}
	return &HeliodError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *HeliodError) WithDetail(key string, value interface{}) *HeliodError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *HeliodError) WithDetails(details map[string]interface{}) *HeliodError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var heliodErr *HeliodError
	if errors.As(err, &heliodErr) {
		return heliodErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a HeliodError
func GetErrorCode(err error) ErrorCode {
	var heliodErr *HeliodError
	if errors.As(err, &heliodErr) {
		return heliodErr.Code
	}
	return ErrUnknown
}
