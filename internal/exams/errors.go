package exams

import (
	"errors"
	"net/http"
)

// Domain errors for exam operations.
var (
	ErrNotFound   = errors.New("exam not found")
	ErrDuplicate  = errors.New("exam already exists")
	ErrInvalidKey = errors.New("invalid answer key")
)

// MapHTTPStatus maps exam domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
