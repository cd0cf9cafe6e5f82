// Package approvals implements the teacher approval state machine:
// approving or flagging a fully graded submission, score overrides
// recorded alongside the decision, and audited reopening. Original
// graded answers are never mutated.
package approvals

import (
	"time"

	"github.com/google/uuid"
)

// Decisions recorded against a submission.
const (
	DecisionApproved = "approved"
	DecisionFlagged  = "flagged"
	DecisionReopened = "reopened"
)

// Record is one audited approval decision.
type Record struct {
	ID           uuid.UUID  `json:"id"`
	SubmissionID uuid.UUID  `json:"submission_id"`
	TeacherID    string     `json:"teacher_id"`
	Decision     string     `json:"decision"`
	Reason       string     `json:"reason,omitempty"`
	Overrides    []Override `json:"overrides,omitempty"`
	DecidedAt    time.Time  `json:"decided_at"`
}

// Override is a per-question score change attached to an approval. The
// original score is copied in for audit; the graded answer row itself
// is left untouched.
type Override struct {
	ID             uuid.UUID `json:"id"`
	RecordID       uuid.UUID `json:"record_id"`
	QuestionNumber int       `json:"question_number"`
	OriginalScore  float64   `json:"original_score"`
	NewScore       float64   `json:"new_score"`
	NewFeedback    string    `json:"new_feedback,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// OverrideCommand is one requested score change.
type OverrideCommand struct {
	QuestionNumber int     `json:"question_number"`
	NewScore       float64 `json:"new_score"`
	NewFeedback    string  `json:"new_feedback,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// ApproveCommand carries an approval decision with optional overrides.
type ApproveCommand struct {
	TeacherID string            `json:"teacher_id"`
	Overrides []OverrideCommand `json:"overrides,omitempty"`
}

// FlagCommand carries a flag decision and its reason.
type FlagCommand struct {
	TeacherID string `json:"teacher_id"`
	Reason    string `json:"reason"`
}

// ReopenCommand returns a decided submission to the approval queue.
type ReopenCommand struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}
