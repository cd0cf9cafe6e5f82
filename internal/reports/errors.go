package reports

import (
	"errors"
	"net/http"
)

// Domain errors for report operations.
var (
	ErrNotFound    = errors.New("report source submission not found")
	ErrNotApproved = errors.New("submission has not been approved")
)

// MapHTTPStatus maps report domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotApproved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
