package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInternal       = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrValidation     = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrNotFound       = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrTimeout        = NewError("TIMEOUT", "operation timed out", http.StatusGatewayTimeout)
	ErrBusUnavailable = NewError("BUS_UNAVAILABLE", "message bus connection is not healthy", http.StatusServiceUnavailable)
	ErrCodec          = NewError("CODEC_ERROR", "envelope could not be encoded or decoded", http.StatusInternalServerError)
	ErrRateLimited    = NewError("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
)

// Error is a coded application error. Two Errors match under errors.Is when
// their codes are equal, so derived copies still match the package sentinels.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	err := *e
	err.Message = message
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err as the JSON body used by middleware responses.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"errorMessage": appErr.Message,
		"errorCode":    appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
