package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"expirybot/internal/dispatch"
	"expirybot/internal/phone"
	"expirybot/internal/storage"
)

type ErrorCode string

const (
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrBadRequest      ErrorCode = "BAD_REQUEST"
	ErrInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrBadGateway      ErrorCode = "BAD_GATEWAY"
	ErrUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details any) APIError {
	return APIError{Code: code, Message: message, Details: details}
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrBadRequest, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrBadGateway:
		return http.StatusBadGateway
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fromError maps domain errors onto API errors.
func fromError(err error) APIError {
	var apiErr APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, dispatch.ErrRunInFlight):
		return NewAPIError(ErrConflict, "a run for this channel is already in progress", nil)
	case errors.Is(err, phone.ErrInvalid), errors.Is(err, dispatch.ErrEmptyMessage):
		return NewAPIError(ErrInvalidInput, err.Error(), nil)
	case errors.Is(err, storage.ErrDisabled):
		return NewAPIError(ErrUnavailable, "delivery ledger is disabled", nil)
	case errors.Is(err, storage.ErrNotFound):
		return NewAPIError(ErrNotFound, err.Error(), nil)
	default:
		return NewAPIError(ErrInternalServer, "internal error", err.Error())
	}
}
