package reports

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/approvals"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/submissions"
)

type repo struct {
	subs      submissions.System
	exams     exams.System
	approvals approvals.System
	logger    *slog.Logger
}

// New creates a report system over the submission, exam, and approval
// domains.
func New(
	subs submissions.System,
	examSys exams.System,
	approvalSys approvals.System,
	logger *slog.Logger,
) System {
	return &repo{
		subs:      subs,
		exams:     examSys,
		approvals: approvalSys,
		logger:    logger.With("system", "reports"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *repo) Report(ctx context.Context, submissionID uuid.UUID) (*Report, error) {
	sub, err := r.subs.Find(ctx, submissionID)
	if err != nil {
		if errors.Is(err, submissions.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if sub.Status != submissions.StatusApproved {
		return nil, ErrNotApproved
	}

	exam, err := r.exams.Find(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}

	graded, err := r.subs.GradedAnswers(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	notes, err := r.subs.EnrichmentNotes(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	overrides, err := r.currentOverrides(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	return Assemble(sub, exam, graded, overrides, notes)
}

// currentOverrides returns the overrides of the newest approval
// decision. Records are newest first; anything before the latest
// approval belongs to a superseded decision.
func (r *repo) currentOverrides(
	ctx context.Context,
	submissionID uuid.UUID,
) ([]approvals.Override, error) {
	records, err := r.approvals.Records(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Decision == approvals.DecisionApproved {
			return rec.Overrides, nil
		}
		if rec.Decision == approvals.DecisionReopened {
			break
		}
	}
	return nil, nil
}
