// Package exams implements the exam domain for EduGrade.
// It provides types, data access, and business logic for answer-key
// management and versioning. Submissions bind to a specific exam version;
// key corrections never mutate an existing version, they create a new one.
package exams

import (
	"time"

	"github.com/google/uuid"
)

// MatchPolicy names the most lenient match tier grading may apply to a
// question. The grading stage always tries stricter tiers first.
type MatchPolicy string

// Match policies, from strictest to most lenient.
const (
	MatchExact    MatchPolicy = "exact"
	MatchSemantic MatchPolicy = "semantic"
	MatchPartial  MatchPolicy = "partial"
)

// Question is one entry in an exam's answer key.
type Question struct {
	Number         int         `json:"number"`
	Prompt         string      `json:"prompt"`
	ExpectedAnswer string      `json:"expected_answer"`
	MaxScore       float64     `json:"max_score"`
	MatchPolicy    MatchPolicy `json:"match_policy"`
}

// Exam represents one version of an exam's answer key. FamilyID groups the
// versions of the same logical exam; Version is monotonic within a family.
type Exam struct {
	ID         uuid.UUID  `json:"id"`
	FamilyID   uuid.UUID  `json:"family_id"`
	Version    int        `json:"version"`
	Title      string     `json:"title"`
	Subject    string     `json:"subject"`
	GradeLevel string     `json:"grade_level"`
	TeacherID  string     `json:"teacher_id"`
	Questions  []Question `json:"questions"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MaxScoreTotal returns the sum of all question max scores.
func (e *Exam) MaxScoreTotal() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.MaxScore
	}
	return total
}

// Question returns the answer-key entry for the given question number,
// or nil if the exam has no such question.
func (e *Exam) Question(number int) *Question {
	for i := range e.Questions {
		if e.Questions[i].Number == number {
			return &e.Questions[i]
		}
	}
	return nil
}

// CreateCommand carries the data needed to register a new exam.
type CreateCommand struct {
	Title      string     `json:"title"`
	Subject    string     `json:"subject"`
	GradeLevel string     `json:"grade_level"`
	TeacherID  string     `json:"teacher_id"`
	Questions  []Question `json:"questions"`
}

// CorrectCommand carries a corrected answer key. Applying it creates a new
// exam version in the same family; the prior version is left untouched so
// submissions already bound to it keep their grading basis.
type CorrectCommand struct {
	Questions   []Question `json:"questions"`
	CorrectedBy string     `json:"corrected_by"`
}
