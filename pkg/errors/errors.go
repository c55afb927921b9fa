// Package errors defines the error taxonomy shared by the registry components.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the registry.
const (
	CodeUnknown             = "UNKNOWN_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeCircularResolution  = "CIRCULAR_RESOLUTION"
	CodeDuplicateDefinition = "DUPLICATE_DEFINITION"
	CodeConstraintViolation = "CONSTRAINT_VIOLATION"
	CodeArchiveInvalid      = "ARCHIVE_INVALID"
	CodeAccessError         = "ACCESS_ERROR"
	CodeLinkageError        = "LINKAGE_ERROR"
	CodeParseError          = "PARSE_ERROR"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeConfigError         = "CONFIG_ERROR"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeUploadError         = "UPLOAD_ERROR"
	CodeDownloadError       = "DOWNLOAD_ERROR"
)

// AppError represents a registry error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances, used as errors.Is targets.
var (
	ErrNotFound            = New(CodeNotFound, "type not found")
	ErrCircularResolution  = New(CodeCircularResolution, "circular resolution")
	ErrDuplicateDefinition = New(CodeDuplicateDefinition, "duplicate definition")
	ErrConstraintViolation = New(CodeConstraintViolation, "loader constraint violation")
	ErrArchiveInvalid      = New(CodeArchiveInvalid, "archive invalid")
	ErrAccessError         = New(CodeAccessError, "access denied")
	ErrLinkageError        = New(CodeLinkageError, "linkage error")
	ErrParseError          = New(CodeParseError, "parse error")
	ErrInvalidInput        = New(CodeInvalidInput, "invalid input")
	ErrConfigError         = New(CodeConfigError, "configuration error")
	ErrDatabaseError       = New(CodeDatabaseError, "database error")
	ErrUploadError         = New(CodeUploadError, "upload error")
	ErrDownloadError       = New(CodeDownloadError, "download error")
)

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCircularResolution checks if the error is a circular-resolution error.
func IsCircularResolution(err error) bool {
	return errors.Is(err, ErrCircularResolution)
}

// IsDuplicateDefinition checks if the error is a duplicate-definition error.
func IsDuplicateDefinition(err error) bool {
	return errors.Is(err, ErrDuplicateDefinition)
}

// IsConstraintViolation checks if the error is a loader constraint violation.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsArchiveInvalid checks if the error is an archive validation failure.
func IsArchiveInvalid(err error) bool {
	return errors.Is(err, ErrArchiveInvalid)
}

// IsAccessError checks if the error is a module access failure.
func IsAccessError(err error) bool {
	return errors.Is(err, ErrAccessError)
}

// IsLinkageError checks if the error is a failure to link a found type,
// such as a missing super type.
func IsLinkageError(err error) bool {
	return errors.Is(err, ErrLinkageError)
}

// IsRecoverable reports whether the caller may fall back to another strategy.
// NotFound and ArchiveInvalid are handled locally; everything else surfaces.
func IsRecoverable(err error) bool {
	return IsNotFound(err) || IsArchiveInvalid(err)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
