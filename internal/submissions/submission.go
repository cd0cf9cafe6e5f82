// Package submissions implements the submission domain for EduGrade:
// uploaded answer sheets, their pipeline artifacts (regions, graded
// answers, enrichment notes), and the status lifecycle from upload
// through grading to approval.
package submissions

import (
	"time"

	"github.com/google/uuid"
)

// Submission represents one student's uploaded answer sheet and its
// position in the grading lifecycle. PageKeys are storage keys for the
// raw page images in page order. RetryCounts tracks consumed retries
// per pipeline stage and survives requeues of other stages.
type Submission struct {
	ID            uuid.UUID      `json:"id"`
	ExamID        uuid.UUID      `json:"exam_id"`
	StudentID     string         `json:"student_id"`
	TeacherID     string         `json:"teacher_id"`
	PageKeys      []string       `json:"page_keys"`
	PageCount     int            `json:"page_count"`
	Status        Status         `json:"status"`
	RetryCounts   map[string]int `json:"retry_counts"`
	FailedStage   *string        `json:"failed_stage,omitempty"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// BoundingBox locates a region on a normalized page image in pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Region sources.
const (
	RegionSourceDetector = "detector"
	RegionSourceGrid     = "grid"
)

// Region is one answer area on a page, bound to a single question.
// Segmentation produces exactly one region per expected question.
type Region struct {
	ID             uuid.UUID   `json:"id"`
	SubmissionID   uuid.UUID   `json:"submission_id"`
	PageIndex      int         `json:"page_index"`
	QuestionNumber int         `json:"question_number"`
	Box            BoundingBox `json:"box"`
	CropKey        string      `json:"crop_key"`
	Source         string      `json:"source"`
	Confidence     float64     `json:"confidence"`
	LowConfidence  bool        `json:"low_confidence"`
}

// Match kinds recorded on graded answers, from strictest to weakest.
const (
	MatchKindExact    = "exact"
	MatchKindSemantic = "semantic"
	MatchKindPartial  = "partial"
	MatchKindNoMatch  = "no-match"
)

// GradedAnswer is the grading result for one region. Rows are immutable
// once written; teacher score changes are recorded as approval overrides.
type GradedAnswer struct {
	ID             uuid.UUID `json:"id"`
	SubmissionID   uuid.UUID `json:"submission_id"`
	RegionID       uuid.UUID `json:"region_id"`
	QuestionNumber int       `json:"question_number"`
	Transcript     string    `json:"transcript"`
	Score          float64   `json:"score"`
	MaxScore       float64   `json:"max_score"`
	MatchKind      string    `json:"match_kind"`
	Feedback       string    `json:"feedback"`
	Confidence     float64   `json:"confidence"`
	NeedsReview    bool      `json:"needs_review"`
	CreatedAt      time.Time `json:"created_at"`
}

// EnrichmentNote is a supplementary insight for one graded answer.
// Unavailable marks notes the enricher could not produce.
type EnrichmentNote struct {
	ID             uuid.UUID `json:"id"`
	SubmissionID   uuid.UUID `json:"submission_id"`
	RegionID       uuid.UUID `json:"region_id"`
	QuestionNumber int       `json:"question_number"`
	Insight        string    `json:"insight"`
	Confidence     float64   `json:"confidence"`
	Unavailable    bool      `json:"unavailable"`
}

// PageUpload is one raw page image received at upload time.
type PageUpload struct {
	Data        []byte
	ContentType string
}

// CreateCommand carries the data needed to register a new submission.
type CreateCommand struct {
	ExamID    uuid.UUID
	StudentID string
	TeacherID string
	Pages     []PageUpload
}
