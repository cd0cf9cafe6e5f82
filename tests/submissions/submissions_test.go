package submissions_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/submissions"
)

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", submissions.ErrNotFound, http.StatusNotFound},
		{"duplicate", submissions.ErrDuplicate, http.StatusConflict},
		{"invalid status", submissions.ErrInvalidStatus, http.StatusConflict},
		{"validation", submissions.ErrValidation, http.StatusBadRequest},
		{"invalid file", submissions.ErrInvalidFile, http.StatusBadRequest},
		{"file too large", submissions.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"unknown error", errors.New("something else"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("find failed: %w", submissions.ErrNotFound), http.StatusNotFound},
		{"wrapped invalid status", fmt.Errorf("%w: status is APPROVED", submissions.ErrInvalidStatus), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := submissions.MapHTTPStatus(tt.err)
			if got != tt.want {
				t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	valid := []submissions.Status{
		submissions.StatusUploaded,
		submissions.StatusPreprocessing,
		submissions.StatusSegmenting,
		submissions.StatusGrading,
		submissions.StatusEnriching,
		submissions.StatusPendingApproval,
		submissions.StatusApproved,
		submissions.StatusFlagged,
		submissions.StatusCancelled,
		submissions.StatusFailedPreprocessing,
		submissions.StatusFailedSegmenting,
		submissions.StatusFailedGrading,
	}

	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}

	invalid := []submissions.Status{"", "uploaded", "DONE", "FAILED"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestStatusFailed(t *testing.T) {
	tests := []struct {
		status submissions.Status
		want   bool
	}{
		{submissions.StatusFailedPreprocessing, true},
		{submissions.StatusFailedSegmenting, true},
		{submissions.StatusFailedGrading, true},
		{submissions.StatusUploaded, false},
		{submissions.StatusPendingApproval, false},
		{submissions.StatusCancelled, false},
		{submissions.StatusApproved, false},
	}

	for _, tt := range tests {
		if got := tt.status.Failed(); got != tt.want {
			t.Errorf("%s.Failed() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusActive(t *testing.T) {
	tests := []struct {
		status submissions.Status
		want   bool
	}{
		{submissions.StatusUploaded, true},
		{submissions.StatusPreprocessing, true},
		{submissions.StatusSegmenting, true},
		{submissions.StatusGrading, true},
		{submissions.StatusEnriching, true},
		{submissions.StatusPendingApproval, false},
		{submissions.StatusApproved, false},
		{submissions.StatusFlagged, false},
		{submissions.StatusCancelled, false},
		{submissions.StatusFailedGrading, false},
	}

	for _, tt := range tests {
		if got := tt.status.Active(); got != tt.want {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestFiltersFromQuery(t *testing.T) {
	examID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	t.Run("all params present", func(t *testing.T) {
		values := url.Values{
			"exam_id":    {examID.String()},
			"student_id": {"stu-042"},
			"teacher_id": {"t-100"},
			"status":     {"PENDING_APPROVAL"},
		}

		f := submissions.FiltersFromQuery(values)

		if f.ExamID == nil || *f.ExamID != examID {
			t.Errorf("ExamID = %v, want %v", f.ExamID, examID)
		}
		if f.StudentID == nil || *f.StudentID != "stu-042" {
			t.Errorf("StudentID = %v, want stu-042", f.StudentID)
		}
		if f.TeacherID == nil || *f.TeacherID != "t-100" {
			t.Errorf("TeacherID = %v, want t-100", f.TeacherID)
		}
		if f.Status == nil || *f.Status != submissions.StatusPendingApproval {
			t.Errorf("Status = %v, want PENDING_APPROVAL", f.Status)
		}
	})

	t.Run("empty params yield nil fields", func(t *testing.T) {
		f := submissions.FiltersFromQuery(url.Values{})

		if f.ExamID != nil {
			t.Errorf("ExamID = %v, want nil", f.ExamID)
		}
		if f.StudentID != nil {
			t.Errorf("StudentID = %v, want nil", f.StudentID)
		}
		if f.TeacherID != nil {
			t.Errorf("TeacherID = %v, want nil", f.TeacherID)
		}
		if f.Status != nil {
			t.Errorf("Status = %v, want nil", f.Status)
		}
	})

	t.Run("invalid exam_id ignored", func(t *testing.T) {
		f := submissions.FiltersFromQuery(url.Values{"exam_id": {"not-a-uuid"}})
		if f.ExamID != nil {
			t.Errorf("ExamID = %v, want nil for invalid input", f.ExamID)
		}
	})

	t.Run("unrecognized status ignored", func(t *testing.T) {
		f := submissions.FiltersFromQuery(url.Values{"status": {"DONE"}})
		if f.Status != nil {
			t.Errorf("Status = %v, want nil for unrecognized value", f.Status)
		}
	})
}
