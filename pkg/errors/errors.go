// Package errors provides structured error handling for the accounts service
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pnocera/accounts/pkg/types"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenRevoked        ErrorCode = "TOKEN_REVOKED"
	ErrCodeInvalidOTP          ErrorCode = "INVALID_OTP"
	ErrCodeOTPRequired         ErrorCode = "OTP_REQUIRED"
	ErrCodeVerifiedOTPRequired ErrorCode = "VERIFIED_OTP_REQUIRED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"

	// Resource errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// System errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeNotRegistered      ErrorCode = "OPERATION_NOT_REGISTERED"

	// Database errors
	ErrCodeDatabaseError    ErrorCode = "DATABASE_ERROR"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Configuration errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// AppError represents a structured error raised by the service
type AppError struct {
	Type    types.ErrorType        `json:"type"`
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error type to an HTTP status code
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case types.ErrorTypeValidation:
		return http.StatusBadRequest
	case types.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case types.ErrorTypeForbidden:
		return http.StatusForbidden
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeConflict:
		return http.StatusConflict
	case types.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case types.ErrorTypeExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new error
func NewAppError(errType types.ErrorType, code ErrorCode, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewAppErrorWithCause creates a new error with a cause
func NewAppErrorWithCause(errType types.ErrorType, code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeValidation, message)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeInvalidInput, message)
}

// NewFieldValidationError builds a validation error listing the failing fields
func NewFieldValidationError(fields map[string]string) *AppError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, fields[name]))
	}

	err := NewValidationError("validation failed: " + strings.Join(parts, "; "))
	for name, rule := range fields {
		err.WithDetail(name, rule)
	}
	return err
}

// Authentication/Authorization error constructors
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeUnauthorized, message)
}

func NewInvalidCredentialsError() *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
}

func NewInvalidTokenError(message string) *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeInvalidToken, message)
}

func NewInvalidOTPError() *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeInvalidOTP, "invalid verification code")
}

func NewForbiddenError(code ErrorCode, message string) *AppError {
	return NewAppError(types.ErrorTypeForbidden, code, message)
}

// Resource error constructors
func NewNotFoundError(resource string) *AppError {
	return NewAppError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource)).WithDetail("resource", resource)
}

func NewAlreadyExistsError(resource string) *AppError {
	return NewAppError(types.ErrorTypeConflict, ErrCodeAlreadyExists,
		fmt.Sprintf("%s already exists", resource)).WithDetail("resource", resource)
}

func NewConflictError(message string) *AppError {
	return NewAppError(types.ErrorTypeConflict, ErrCodeConflict, message)
}

// System error constructors
func NewInternalError(message string) *AppError {
	return NewAppError(types.ErrorTypeInternal, ErrCodeInternal, message)
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, message, cause)
}

// NewServiceUnavailableError reports a failing backing service such as NATS or Redis
func NewServiceUnavailableError(service string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeExternal, ErrCodeServiceUnavailable,
		fmt.Sprintf("%s service is unavailable", service), cause).WithDetail("service", service)
}

func NewRateLimitedError(message string) *AppError {
	return NewAppError(types.ErrorTypeRateLimited, ErrCodeRateLimited, message)
}

func NewNotRegisteredError(name string) *AppError {
	return NewAppError(types.ErrorTypeInternal, ErrCodeNotRegistered,
		"operation not registered").WithDetail("operation", name)
}

// Database error constructors
func NewDatabaseErrorWithCause(message string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeDatabaseError, message, cause)
}

func NewConnectionFailedError(target string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s", target), cause).WithDetail("target", target)
}

// Configuration error constructors
func NewConfigInvalidError(message string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeValidation, ErrCodeConfigInvalid, message, cause)
}

// IsAppError checks if an error chain contains an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts the first AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, errType types.ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// HasCode reports whether err carries an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// HTTPStatus returns the status for any error, 500 for unknown errors
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
