package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Domain errors wrap exactly one of these so callers can
// classify failures with errors.Is.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrConflict              = errors.New("conflict")
	ErrLimitExceeded         = errors.New("limit exceeded")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
	ErrCompensated           = errors.New("operation compensated")
	ErrCompensationFailed    = errors.New("compensation failed")
	ErrUnauthorized          = errors.New("unauthorized")
)

// Error is a classified domain error.
type Error struct {
	kind error
	msg  string
}

// New returns an error of the given kind carrying msg.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind returns the classification of e.
func (e *Error) Kind() error { return e.kind }

// HTTPError is the transport view of a classified error.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

// MapErrorToHTTP converts err into an HTTPError based on its kind.
// Unclassified errors map to 500.
func MapErrorToHTTP(err error) *HTTPError {
	if err == nil {
		return nil
	}
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && code == "INTERNAL_ERROR" {
		msg = "internal server error"
	}
	return &HTTPError{StatusCode: status, Code: code, Message: msg}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrDownstreamUnavailable):
		return http.StatusGatewayTimeout, "DOWNSTREAM_UNAVAILABLE"
	case errors.Is(err, ErrCompensated):
		return http.StatusBadGateway, "OPERATION_COMPENSATED"
	case errors.Is(err, ErrCompensationFailed):
		return http.StatusInternalServerError, "COMPENSATION_FAILED"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
