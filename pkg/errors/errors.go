package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound     = errors.New("document not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidChunkConfig   = errors.New("invalid chunk config")
	ErrTokenization         = errors.New("tokenization failed")
	ErrInvalidModelOutput   = errors.New("invalid model output")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidChunkConfig),
		errors.Is(err, ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenization), errors.Is(err, ErrInvalidModelOutput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
