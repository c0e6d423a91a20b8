package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorCode represents a specific error type
type ErrorCode string

const (
	// Kiosk domain errors
	ErrorCodeIdentityUnavailable  ErrorCode = "IDENTITY_UNAVAILABLE"
	ErrorCodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrorCodeComputerUnavailable  ErrorCode = "COMPUTER_UNAVAILABLE"
	ErrorCodeNoActiveSession      ErrorCode = "NO_ACTIVE_SESSION"
	ErrorCodeSessionAlreadyActive ErrorCode = "SESSION_ALREADY_ACTIVE"
	ErrorCodeBackendRequest       ErrorCode = "BACKEND_REQUEST_FAILED"
	ErrorCodeTransport            ErrorCode = "TRANSPORT_ERROR"
	ErrorCodeCommandExecution     ErrorCode = "COMMAND_EXECUTION_FAILED"

	// Business logic errors
	ErrorCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrorCodeConflict     ErrorCode = "CONFLICT"

	// Technical errors
	ErrorCodeInternal  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTimeout   ErrorCode = "TIMEOUT_ERROR"
	ErrorCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// Request errors
	ErrorCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrorCodeInvalidJSON      ErrorCode = "INVALID_JSON"
	ErrorCodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Timestamp  time.Time              `json:"timestamp"`
	RequestID  string                 `json:"request_id,omitempty"`
	StackTrace string                 `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ToJSON converts the error to JSON for API responses
func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"error":      e.Message,
		"code":       e.Code,
		"details":    e.Details,
		"timestamp":  e.Timestamp,
		"request_id": e.RequestID,
	})
	return data
}

// GetHTTPStatus returns the appropriate HTTP status code for the error
func (e *AppError) GetHTTPStatus() int {
	switch e.Code {
	case ErrorCodeValidation, ErrorCodeBadRequest, ErrorCodeInvalidJSON, ErrorCodeInvalidParameter:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case ErrorCodeConflict, ErrorCodeComputerUnavailable, ErrorCodeNoActiveSession, ErrorCodeSessionAlreadyActive:
		return http.StatusConflict
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeTimeout:
		return http.StatusRequestTimeout
	case ErrorCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrorCodeBackendRequest:
		return http.StatusBadGateway
	case ErrorCodeIdentityUnavailable, ErrorCodeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Details:    make(map[string]interface{}),
		Timestamp:  time.Now(),
		StackTrace: getStackTrace(),
	}
}

// NewAppErrorWithCause creates a new application error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	err := NewAppError(code, message)
	err.Cause = cause
	return err
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func getStackTrace() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Predefined error constructors for the kiosk error taxonomy

// IdentityUnavailableError reports that the host cannot supply a machine identity
func IdentityUnavailableError(cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeIdentityUnavailable, "machine identity is unavailable", cause)
}

// InsufficientBalanceError reports a balance below the amount required to start a session
func InsufficientBalanceError(balance, required fmt.Stringer) *AppError {
	return NewAppError(ErrorCodeInsufficientBalance,
		fmt.Sprintf("insufficient balance: %s available, %s required", balance, required)).
		WithDetail("balance", balance.String()).
		WithDetail("required", required.String())
}

// ComputerUnavailableError reports that the target computer cannot host a session
func ComputerUnavailableError(reason string) *AppError {
	return NewAppError(ErrorCodeComputerUnavailable, fmt.Sprintf("computer is unavailable: %s", reason))
}

// NoActiveSessionError reports an operation that needs an active session
func NoActiveSessionError() *AppError {
	return NewAppError(ErrorCodeNoActiveSession, "no active session")
}

// SessionAlreadyActiveError reports a second active session for the same customer or computer
func SessionAlreadyActiveError(owner string) *AppError {
	return NewAppError(ErrorCodeSessionAlreadyActive, fmt.Sprintf("%s already has an active session", owner))
}

// BackendRequestError wraps a failed backend call
func BackendRequestError(operation string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeBackendRequest, fmt.Sprintf("backend request failed: %s", operation), cause)
}

// TransportError wraps a control-channel transport failure
func TransportError(cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeTransport, "control channel transport error", cause)
}

// CommandExecutionError reports an OS command that failed after every fallback
func CommandExecutionError(action string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeCommandExecution, fmt.Sprintf("%s failed", action), cause)
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return NewAppError(ErrorCodeValidation, message)
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *AppError {
	return NewAppError(ErrorCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// UnauthorizedError creates an unauthorized error
func UnauthorizedError(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeUnauthorized, message, cause)
}

// InternalError creates an internal server error
func InternalError(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeInternal, message, cause)
}

// TimeoutError creates a timeout error
func TimeoutError(operation string) *AppError {
	return NewAppError(ErrorCodeTimeout, fmt.Sprintf("timeout during %s", operation))
}

// BadRequestError creates a bad request error
func BadRequestError(message string) *AppError {
	return NewAppError(ErrorCodeBadRequest, message)
}

// InvalidJSONError creates an invalid JSON error
func InvalidJSONError(cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeInvalidJSON, "Invalid JSON format", cause)
}

// Error handling utilities

// IsAppError checks if an error chain contains an AppError
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError extracts the first AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether the error chain carries an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// WrapError wraps a generic error as an internal error
func WrapError(err error, message string) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return NewAppErrorWithCause(ErrorCodeInternal, message, err)
}
