package submissions

import (
	"errors"
	"net/http"
)

// Domain errors for submission operations.
var (
	ErrNotFound      = errors.New("submission not found")
	ErrDuplicate     = errors.New("submission already exists")
	ErrValidation    = errors.New("submission validation failed")
	ErrInvalidFile   = errors.New("invalid submission file")
	ErrFileTooLarge  = errors.New("submission exceeds maximum upload size")
	ErrInvalidStatus = errors.New("submission status does not permit this operation")
)

// MapHTTPStatus maps submission domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidStatus):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidFile):
		return http.StatusBadRequest
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
