package submissions

import (
	"encoding/json"
	"net/url"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/pkg/query"
	"github.com/edugrade/edugrade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "submissions", "s").
	Project("id", "ID").
	Project("exam_id", "ExamID").
	Project("student_id", "StudentID").
	Project("teacher_id", "TeacherID").
	Project("page_keys", "PageKeys").
	Project("page_count", "PageCount").
	Project("status", "Status").
	Project("retry_counts", "RetryCounts").
	Project("failed_stage", "FailedStage").
	Project("failure_reason", "FailureReason").
	Project("approved_at", "ApprovedAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for submission queries.
// Nil fields are ignored.
type Filters struct {
	ExamID    *uuid.UUID `json:"exam_id,omitempty"`
	StudentID *string    `json:"student_id,omitempty"`
	TeacherID *string    `json:"teacher_id,omitempty"`
	Status    *Status    `json:"status,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("ExamID", f.ExamID).
		WhereEquals("StudentID", f.StudentID).
		WhereEquals("TeacherID", f.TeacherID).
		WhereEquals("Status", f.Status)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if e := values.Get("exam_id"); e != "" {
		if id, err := uuid.Parse(e); err == nil {
			f.ExamID = &id
		}
	}
	if s := values.Get("student_id"); s != "" {
		f.StudentID = &s
	}
	if t := values.Get("teacher_id"); t != "" {
		f.TeacherID = &t
	}
	if s := values.Get("status"); s != "" {
		status := Status(s)
		if status.Valid() {
			f.Status = &status
		}
	}

	return f
}

func scanSubmission(s repository.Scanner) (Submission, error) {
	var (
		sub        Submission
		rawKeys    []byte
		rawRetries []byte
	)

	if err := s.Scan(
		&sub.ID,
		&sub.ExamID,
		&sub.StudentID,
		&sub.TeacherID,
		&rawKeys,
		&sub.PageCount,
		&sub.Status,
		&rawRetries,
		&sub.FailedStage,
		&sub.FailureReason,
		&sub.ApprovedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return sub, err
	}

	if err := json.Unmarshal(rawKeys, &sub.PageKeys); err != nil {
		return sub, err
	}

	sub.RetryCounts = map[string]int{}
	if len(rawRetries) > 0 {
		if err := json.Unmarshal(rawRetries, &sub.RetryCounts); err != nil {
			return sub, err
		}
	}

	return sub, nil
}

func scanRegion(s repository.Scanner) (Region, error) {
	var r Region
	err := s.Scan(
		&r.ID,
		&r.SubmissionID,
		&r.PageIndex,
		&r.QuestionNumber,
		&r.Box.X,
		&r.Box.Y,
		&r.Box.Width,
		&r.Box.Height,
		&r.CropKey,
		&r.Source,
		&r.Confidence,
		&r.LowConfidence,
	)
	return r, err
}

func scanGradedAnswer(s repository.Scanner) (GradedAnswer, error) {
	var g GradedAnswer
	err := s.Scan(
		&g.ID,
		&g.SubmissionID,
		&g.RegionID,
		&g.QuestionNumber,
		&g.Transcript,
		&g.Score,
		&g.MaxScore,
		&g.MatchKind,
		&g.Feedback,
		&g.Confidence,
		&g.NeedsReview,
		&g.CreatedAt,
	)
	return g, err
}

func scanEnrichmentNote(s repository.Scanner) (EnrichmentNote, error) {
	var n EnrichmentNote
	err := s.Scan(
		&n.ID,
		&n.SubmissionID,
		&n.RegionID,
		&n.QuestionNumber,
		&n.Insight,
		&n.Confidence,
		&n.Unavailable,
	)
	return n, err
}
