package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "kiosk-agent/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorHandler provides centralized error handling functionality for handlers
type ErrorHandler struct {
	Logger *zap.Logger
}

// NewErrorHandler creates a new ErrorHandler instance
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		Logger: logger,
	}
}

// SendErrorResponse sends a structured error response
func (e *ErrorHandler) SendErrorResponse(w http.ResponseWriter, statusCode int, message, code string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		e.Logger.Error("failed to encode error response", zap.Error(err))
	}
}

// SendSuccessResponse sends a structured success response
func (e *ErrorHandler) SendSuccessResponse(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := SuccessResponse{
		Message: message,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		e.Logger.Error("failed to encode success response", zap.Error(err))
	}
}

// SendJSONResponse sends a generic JSON response
func (e *ErrorHandler) SendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		e.Logger.Error("failed to encode JSON response", zap.Error(err))
		e.SendErrorResponse(w, http.StatusInternalServerError, "Failed to encode response", "ENCODING_ERROR", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// HandleServiceError maps service errors to HTTP responses. AppErrors keep
// their code and details; anything else is reported as an internal error.
func (e *ErrorHandler) HandleServiceError(w http.ResponseWriter, err error, operation string) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		status := appErr.GetHTTPStatus()
		if status >= http.StatusInternalServerError {
			e.Logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		} else {
			e.Logger.Debug("request rejected", zap.String("operation", operation), zap.Error(err))
		}

		var details map[string]interface{}
		if len(appErr.Details) > 0 {
			details = appErr.Details
		}
		e.SendErrorResponse(w, status, appErr.Message, string(appErr.Code), details)
		return
	}

	e.Logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.SendErrorResponse(w, http.StatusRequestTimeout, "Operation timed out", "TIMEOUT", nil)
	default:
		e.SendErrorResponse(w, http.StatusInternalServerError, "Failed to "+operation, "INTERNAL_ERROR", nil)
	}
}

// HandleValidationErrors handles validation errors and sends appropriate response
func (e *ErrorHandler) HandleValidationErrors(w http.ResponseWriter, validationErrors map[string]string) {
	if len(validationErrors) == 0 {
		return
	}
	details := make(map[string]interface{}, len(validationErrors))
	for field, msg := range validationErrors {
		details[field] = msg
	}
	e.SendErrorResponse(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", details)
}

// HandleJSONDecodeError handles JSON decoding errors
func (e *ErrorHandler) HandleJSONDecodeError(w http.ResponseWriter, err error) {
	e.Logger.Debug("JSON decode error", zap.Error(err))
	e.SendErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_JSON", nil)
}

// ParseAndValidateUUID parses and validates UUID from string
func (e *ErrorHandler) ParseAndValidateUUID(w http.ResponseWriter, idStr string) (uuid.UUID, bool) {
	if idStr == "" {
		e.SendErrorResponse(w, http.StatusBadRequest, "ID is required", "INVALID_UUID", nil)
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		e.Logger.Debug("UUID parse error", zap.Error(err))
		e.SendErrorResponse(w, http.StatusBadRequest, "Invalid UUID format", "INVALID_UUID", nil)
		return uuid.Nil, false
	}

	return id, true
}
