package approvals

import (
	"errors"
	"net/http"
)

// Domain errors for approval operations.
var (
	ErrNotFound         = errors.New("approval record not found")
	ErrDuplicate        = errors.New("approval record already exists")
	ErrApprovalConflict = errors.New("submission status does not permit this decision")
	ErrInvalidOverride  = errors.New("invalid score override")
	ErrReasonRequired   = errors.New("a reason is required to flag a submission")
)

// MapHTTPStatus maps approval domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrApprovalConflict), errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidOverride), errors.Is(err, ErrReasonRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
