package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an error for a failed Graph API call. 5xx, 408 and 429
// are marked retryable; nothing in this service retries them automatically.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeWhatsAppAPI, "whatsapp API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("WhatsApp rejected the message")

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}
	return appErr
}

func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

func NewUnknownTenantError(phoneNumberID string) *AppError {
	return New(ErrCodeUnknownTenant, "no tenant owns this business account").
		WithContext("phone_number_id", phoneNumberID)
}

func NewDuplicateEventError(messageID string) *AppError {
	return New(ErrCodeDuplicateEvent, "event already processed").
		WithContext("message_id", messageID)
}

// HTTPStatusCode maps error codes to HTTP status codes for the inbox API.
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound, ErrCodeUnknownTenant:
		return http.StatusNotFound
	case ErrCodeDuplicateEvent:
		return http.StatusConflict
	case ErrCodeWhatsAppAPI:
		return http.StatusBadGateway
	case ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body returned for failed API calls.
type HTTPErrorResponse struct {
	Error struct {
		Code      ErrorCode `json:"code"`
		Message   string    `json:"message"`
		Retryable bool      `json:"retryable"`
	} `json:"error"`
}

func ToHTTPResponse(err error) HTTPErrorResponse {
	var response HTTPErrorResponse
	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)
	response.Error.Retryable = IsRetryable(err)
	return response
}
