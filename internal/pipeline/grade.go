package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/inference"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/storage"
)

type gradeStage struct {
	storage storage.System
	grader  inference.Grader
	exams   exams.System
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// NewGradeStage creates the grading stage: it evaluates every answer
// region against the exam key with bounded parallel fan-out.
func NewGradeStage(
	store storage.System,
	grader inference.Grader,
	examSys exams.System,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) Stage {
	return &gradeStage{
		storage: store,
		grader:  grader,
		exams:   examSys,
		cfg:     cfg,
		logger:  logger.With("stage", StageGrade),
	}
}

func (s *gradeStage) Name() string                { return StageGrade }
func (s *gradeStage) Running() submissions.Status { return submissions.StatusGrading }
func (s *gradeStage) Failed() submissions.Status  { return submissions.StatusFailedGrading }
func (s *gradeStage) Critical() bool              { return true }

func (s *gradeStage) Run(ctx context.Context, st State) Result {
	exam, err := s.exams.Find(ctx, st.ExamID)
	if err != nil {
		if errors.Is(err, exams.ErrNotFound) {
			return Fatal(fmt.Errorf("%w: exam %s does not exist", ErrValidation, st.ExamID))
		}
		return Retryable(fmt.Errorf("load exam: %w", err))
	}

	graded := make([]submissions.GradedAnswer, len(st.Regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, region := range st.Regions {
		g.Go(func() error {
			question := exam.Question(region.QuestionNumber)
			if question == nil {
				return fmt.Errorf(
					"%w: region references unknown question %d",
					ErrValidation, region.QuestionNumber,
				)
			}

			answer, err := s.gradeRegion(gctx, region, *question)
			if err != nil {
				return err
			}

			graded[i] = answer
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrValidation) {
			return Fatal(err)
		}
		return Retryable(err)
	}

	sort.Slice(graded, func(i, j int) bool {
		return graded[i].QuestionNumber < graded[j].QuestionNumber
	})

	st.Graded = graded
	s.logger.Info("submission graded", "submission_id", st.SubmissionID, "answers", len(graded))
	return Success(st)
}

func (s *gradeStage) gradeRegion(
	ctx context.Context,
	region submissions.Region,
	question exams.Question,
) (submissions.GradedAnswer, error) {
	crop, err := s.download(ctx, region.CropKey)
	if err != nil {
		return submissions.GradedAnswer{}, fmt.Errorf("download crop for question %d: %w", question.Number, err)
	}

	result, err := s.grader.Grade(ctx, inference.GradeRequest{
		QuestionNumber: question.Number,
		Prompt:         question.Prompt,
		ExpectedAnswer: question.ExpectedAnswer,
		MaxScore:       question.MaxScore,
		Image:          crop,
		ContentType:    "image/png",
	})
	if err != nil {
		return submissions.GradedAnswer{}, fmt.Errorf("grade question %d: %w", question.Number, err)
	}

	score, kind, feedback := matchAnswer(question, result, s.cfg.SemanticFloor)

	return submissions.GradedAnswer{
		RegionID:       region.ID,
		QuestionNumber: question.Number,
		Transcript:     result.StudentAnswer,
		Score:          score,
		MaxScore:       question.MaxScore,
		MatchKind:      kind,
		Feedback:       feedback,
		Confidence:     result.Confidence,
		NeedsReview:    result.Confidence < s.cfg.ConfidenceFloor || region.LowConfidence,
	}, nil
}

// matchAnswer resolves the final score by trying match tiers from
// strictest to most lenient, stopping at the first tier the question's
// match policy permits and the answer satisfies.
func matchAnswer(
	question exams.Question,
	result *inference.GradeResult,
	semanticFloor float64,
) (float64, string, string) {
	if normalizeText(result.StudentAnswer) == normalizeText(question.ExpectedAnswer) &&
		normalizeText(question.ExpectedAnswer) != "" {
		return question.MaxScore, submissions.MatchKindExact, result.Feedback
	}

	allowSemantic := question.MatchPolicy == exams.MatchSemantic || question.MatchPolicy == exams.MatchPartial
	if allowSemantic && question.MaxScore > 0 && result.Score/question.MaxScore >= semanticFloor {
		return result.Score, submissions.MatchKindSemantic, result.Feedback
	}

	if question.MatchPolicy == exams.MatchPartial && result.PartialCredit > 0 {
		return result.PartialCredit * question.MaxScore, submissions.MatchKindPartial, result.Feedback
	}

	feedback := fmt.Sprintf(
		"Not quite! The answer we were looking for is %q. Great effort, keep practicing!",
		question.ExpectedAnswer,
	)
	return 0, submissions.MatchKindNoMatch, feedback
}

// normalizeText lowercases, strips punctuation, and collapses
// whitespace so handwriting transcripts compare forgivingly.
func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true

	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) && !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

func (s *gradeStage) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
