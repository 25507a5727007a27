package http

import (
	"fmt"
	"net/http"
)

// AppError is an error the API reports to clients. Status is the HTTP status;
// Err is kept for logs and never serialized.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

// WithParam attaches a detail clients can act on, such as the failing
// worker role or upstream symbol.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func statusError(code string, status int, message string) *AppError {
	return NewAppError(code, "", message, status)
}

func BadRequestError(message string) *AppError {
	return statusError("ERR_BAD_REQUEST", http.StatusBadRequest, message)
}

func UnauthorizedError(message string) *AppError {
	return statusError("ERR_UNAUTHORIZED", http.StatusUnauthorized, message)
}

func NotFoundError(message string) *AppError {
	return statusError("ERR_NOT_FOUND", http.StatusNotFound, message)
}

// ConflictError reports a request that races the model lifecycle, such as
// training a model that is already training.
func ConflictError(message string) *AppError {
	return statusError("ERR_CONFLICT", http.StatusConflict, message)
}

func TooManyRequestsError(message string) *AppError {
	return statusError("ERR_TOO_MANY_REQUESTS", http.StatusTooManyRequests, message)
}

// BadGatewayError reports a failed worker process or upstream fetch.
func BadGatewayError(message string) *AppError {
	return statusError("ERR_BAD_GATEWAY", http.StatusBadGateway, message)
}

func ServiceUnavailableError(message string) *AppError {
	return statusError("ERR_UNAVAILABLE", http.StatusServiceUnavailable, message)
}
