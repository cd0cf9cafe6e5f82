package pipeline

import (
	"context"
	"log/slog"

	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/inference"
	"github.com/edugrade/edugrade/internal/submissions"
)

const unavailableInsight = "Insight unavailable for this answer."

type enrichStage struct {
	enricher inference.Enricher
	exams    exams.System
	logger   *slog.Logger
}

// NewEnrichStage creates the enrichment stage. It is non-critical: any
// backend failure degrades to an explicit unavailable note, and the
// stage itself always succeeds.
func NewEnrichStage(
	enricher inference.Enricher,
	examSys exams.System,
	logger *slog.Logger,
) Stage {
	return &enrichStage{
		enricher: enricher,
		exams:    examSys,
		logger:   logger.With("stage", StageEnrich),
	}
}

func (s *enrichStage) Name() string                { return StageEnrich }
func (s *enrichStage) Running() submissions.Status { return submissions.StatusEnriching }
func (s *enrichStage) Failed() submissions.Status  { return submissions.StatusEnriching }
func (s *enrichStage) Critical() bool              { return false }

func (s *enrichStage) Run(ctx context.Context, st State) Result {
	exam, err := s.exams.Find(ctx, st.ExamID)
	if err != nil {
		s.logger.Warn("exam lookup failed, marking all notes unavailable", "error", err)
		st.Notes = unavailableNotes(st.Graded)
		return Success(st)
	}

	notes := make([]submissions.EnrichmentNote, 0, len(st.Graded))
	degraded := 0

	for _, answer := range st.Graded {
		var prompt, expected string
		if q := exam.Question(answer.QuestionNumber); q != nil {
			prompt = q.Prompt
			expected = q.ExpectedAnswer
		}

		insight, err := s.enricher.Enrich(ctx, inference.EnrichRequest{
			QuestionNumber: answer.QuestionNumber,
			Prompt:         prompt,
			StudentAnswer:  answer.Transcript,
			ExpectedAnswer: expected,
		})
		if err != nil {
			degraded++
			s.logger.Warn(
				"enrichment degraded",
				"submission_id", st.SubmissionID,
				"question", answer.QuestionNumber,
				"error", err,
			)
			notes = append(notes, submissions.EnrichmentNote{
				RegionID:       answer.RegionID,
				QuestionNumber: answer.QuestionNumber,
				Insight:        unavailableInsight,
				Unavailable:    true,
			})
			continue
		}

		notes = append(notes, submissions.EnrichmentNote{
			RegionID:       answer.RegionID,
			QuestionNumber: answer.QuestionNumber,
			Insight:        insight.Text,
			Confidence:     insight.Confidence,
		})
	}

	st.Notes = notes
	s.logger.Info(
		"submission enriched",
		"submission_id", st.SubmissionID,
		"notes", len(notes),
		"degraded", degraded,
	)
	return Success(st)
}

func unavailableNotes(graded []submissions.GradedAnswer) []submissions.EnrichmentNote {
	notes := make([]submissions.EnrichmentNote, len(graded))
	for i, answer := range graded {
		notes[i] = submissions.EnrichmentNote{
			RegionID:       answer.RegionID,
			QuestionNumber: answer.QuestionNumber,
			Insight:        unavailableInsight,
			Unavailable:    true,
		}
	}
	return notes
}
