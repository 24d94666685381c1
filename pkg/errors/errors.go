// Package errors defines the sentinel errors shared by the retrieval engine
// and an AppError type that carries an HTTP status for the query service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIndexNotBuilt         = errors.New("index not built")
	ErrInvalidTerm           = errors.New("invalid term")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrCorruptPersistedState = errors.New("corrupt persisted state")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInternal              = errors.New("internal error")
	ErrTimeout               = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsRebuildRequired reports whether err means the persisted snapshot cannot
// be served and a full rebuild is needed.
func IsRebuildRequired(err error) bool {
	return errors.Is(err, ErrIndexNotBuilt) || errors.Is(err, ErrCorruptPersistedState)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTerm):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexNotBuilt), errors.Is(err, ErrCorruptPersistedState):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrEmbeddingUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
