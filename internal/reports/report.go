// Package reports assembles parent-facing grade reports from approved
// submissions. Assembly is a pure projection over persisted data, so a
// report for a given submission and approval timestamp is always
// bit-identical and safely cacheable.
package reports

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/approvals"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/submissions"
)

// QuestionReport is one question's line in the report. Score reflects
// any teacher override; the original grader score is kept alongside.
type QuestionReport struct {
	Number         int     `json:"number"`
	Prompt         string  `json:"prompt"`
	ExpectedAnswer string  `json:"expected_answer"`
	Transcript     string  `json:"transcript"`
	Score          float64 `json:"score"`
	OriginalScore  float64 `json:"original_score"`
	MaxScore       float64 `json:"max_score"`
	MatchKind      string  `json:"match_kind"`
	Feedback       string  `json:"feedback"`
	Overridden     bool    `json:"overridden"`
	NeedsReview    bool    `json:"needs_review"`
	Insight        string  `json:"insight,omitempty"`
	InsightMissing bool    `json:"insight_missing,omitempty"`
}

// Report is the assembled result for one approved submission.
type Report struct {
	SubmissionID uuid.UUID        `json:"submission_id"`
	ExamID       uuid.UUID        `json:"exam_id"`
	ExamTitle    string           `json:"exam_title"`
	Subject      string           `json:"subject"`
	GradeLevel   string           `json:"grade_level"`
	StudentID    string           `json:"student_id"`
	TeacherID    string           `json:"teacher_id"`
	ApprovedAt   time.Time        `json:"approved_at"`
	Total        float64          `json:"total"`
	MaxTotal     float64          `json:"max_total"`
	Percentage   float64          `json:"percentage"`
	Questions    []QuestionReport `json:"questions"`
}

// Assemble builds the report for an approved submission. It is
// deterministic: output depends only on its arguments, and questions
// are sorted by number.
func Assemble(
	sub *submissions.Submission,
	exam *exams.Exam,
	graded []submissions.GradedAnswer,
	overrides []approvals.Override,
	notes []submissions.EnrichmentNote,
) (*Report, error) {
	if sub.Status != submissions.StatusApproved || sub.ApprovedAt == nil {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApproved, sub.Status)
	}

	overrideByQuestion := make(map[int]approvals.Override, len(overrides))
	for _, o := range overrides {
		overrideByQuestion[o.QuestionNumber] = o
	}

	noteByQuestion := make(map[int]submissions.EnrichmentNote, len(notes))
	for _, n := range notes {
		noteByQuestion[n.QuestionNumber] = n
	}

	questions := make([]QuestionReport, 0, len(graded))
	var total float64

	for _, answer := range graded {
		q := QuestionReport{
			Number:        answer.QuestionNumber,
			Transcript:    answer.Transcript,
			Score:         answer.Score,
			OriginalScore: answer.Score,
			MaxScore:      answer.MaxScore,
			MatchKind:     answer.MatchKind,
			Feedback:      answer.Feedback,
			NeedsReview:   answer.NeedsReview,
		}

		if key := exam.Question(answer.QuestionNumber); key != nil {
			q.Prompt = key.Prompt
			q.ExpectedAnswer = key.ExpectedAnswer
		}

		if o, ok := overrideByQuestion[answer.QuestionNumber]; ok {
			q.Score = o.NewScore
			q.Overridden = true
			if o.NewFeedback != "" {
				q.Feedback = o.NewFeedback
			}
		}

		if n, ok := noteByQuestion[answer.QuestionNumber]; ok {
			q.Insight = n.Insight
			q.InsightMissing = n.Unavailable
		}

		total += q.Score
		questions = append(questions, q)
	}

	sort.Slice(questions, func(i, j int) bool {
		return questions[i].Number < questions[j].Number
	})

	maxTotal := exam.MaxScoreTotal()
	percentage := 0.0
	if maxTotal > 0 {
		percentage = total / maxTotal * 100
	}

	return &Report{
		SubmissionID: sub.ID,
		ExamID:       exam.ID,
		ExamTitle:    exam.Title,
		Subject:      exam.Subject,
		GradeLevel:   exam.GradeLevel,
		StudentID:    sub.StudentID,
		TeacherID:    sub.TeacherID,
		ApprovedAt:   *sub.ApprovedAt,
		Total:        total,
		MaxTotal:     maxTotal,
		Percentage:   percentage,
		Questions:    questions,
	}, nil
}
