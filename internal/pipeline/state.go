package pipeline

import (
	"slices"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/submissions"
)

// State is the checkpointed pipeline payload for one submission. It is
// serialized to JSON after every completed stage so a requeued or
// restarted submission resumes instead of recomputing.
type State struct {
	SubmissionID   uuid.UUID                     `json:"submission_id"`
	ExamID         uuid.UUID                     `json:"exam_id"`
	PageKeys       []string                      `json:"page_keys"`
	NormalizedKeys []string                      `json:"normalized_keys,omitempty"`
	Regions        []submissions.Region          `json:"regions,omitempty"`
	Graded         []submissions.GradedAnswer    `json:"graded,omitempty"`
	Notes          []submissions.EnrichmentNote  `json:"notes,omitempty"`
	Completed      []string                      `json:"completed,omitempty"`
}

// CompletedStage reports whether the named stage already ran to success.
func (s *State) CompletedStage(name string) bool {
	return slices.Contains(s.Completed, name)
}

// MarkCompleted records the named stage as successfully finished.
func (s *State) MarkCompleted(name string) {
	if !s.CompletedStage(name) {
		s.Completed = append(s.Completed, name)
	}
}
