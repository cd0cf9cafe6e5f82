package submissions

import "strings"

// Status is a submission's lifecycle state. Values are stable strings
// persisted to the database and exposed over the API.
type Status string

// Lifecycle statuses.
const (
	StatusUploaded        Status = "UPLOADED"
	StatusPreprocessing   Status = "PREPROCESSING"
	StatusSegmenting      Status = "SEGMENTING"
	StatusGrading         Status = "GRADING"
	StatusEnriching       Status = "ENRICHING"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusFlagged         Status = "FLAGGED"
	StatusCancelled       Status = "CANCELLED"

	StatusFailedPreprocessing Status = "FAILED_AT_PREPROCESSING"
	StatusFailedSegmenting    Status = "FAILED_AT_SEGMENTING"
	StatusFailedGrading       Status = "FAILED_AT_GRADING"
)

// Valid reports whether s is a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusPreprocessing, StatusSegmenting,
		StatusGrading, StatusEnriching, StatusPendingApproval,
		StatusApproved, StatusFlagged, StatusCancelled,
		StatusFailedPreprocessing, StatusFailedSegmenting,
		StatusFailedGrading:
		return true
	}
	return false
}

// Failed reports whether s is a stage failure status.
func (s Status) Failed() bool {
	return strings.HasPrefix(string(s), "FAILED_AT_")
}

// Active reports whether the submission may still be processed or
// cancelled: it has been uploaded but has not reached a decision,
// failure, or cancellation.
func (s Status) Active() bool {
	switch s {
	case StatusUploaded, StatusPreprocessing, StatusSegmenting,
		StatusGrading, StatusEnriching:
		return true
	}
	return false
}
