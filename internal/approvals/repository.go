package approvals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/pagination"
	"github.com/edugrade/edugrade/pkg/repository"
)

type repo struct {
	db         *sql.DB
	subs       submissions.System
	exams      exams.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an approval repository implementing the System interface.
func New(
	db *sql.DB,
	subs submissions.System,
	examSys exams.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		subs:       subs,
		exams:      examSys,
		logger:     logger.With("system", "approvals"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

const insertRecord = `
	INSERT INTO approval_records(id, submission_id, teacher_id, decision, reason)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, submission_id, teacher_id, decision, reason, decided_at`

const insertOverride = `
	INSERT INTO approval_overrides(id, record_id, question_number, original_score, new_score, new_feedback, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *repo) Approve(
	ctx context.Context,
	submissionID uuid.UUID,
	cmd ApproveCommand,
) (*Record, error) {
	sub, err := r.findSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	overrides, err := r.resolveOverrides(ctx, sub, cmd.Overrides)
	if err != nil {
		return nil, err
	}

	record, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			`UPDATE submissions
			 SET status = $2, approved_at = now(), updated_at = now()
			 WHERE id = $1 AND status = $3`,
			submissionID, submissions.StatusApproved, submissions.StatusPendingApproval,
		); err != nil {
			return Record{}, ErrApprovalConflict
		}

		rec, err := repository.QueryOne(
			ctx, tx, insertRecord,
			[]any{uuid.New(), submissionID, cmd.TeacherID, DecisionApproved, ""},
			scanRecord,
		)
		if err != nil {
			return Record{}, err
		}

		for i := range overrides {
			overrides[i].ID = uuid.New()
			overrides[i].RecordID = rec.ID
			if _, err := tx.ExecContext(
				ctx, insertOverride,
				overrides[i].ID, rec.ID, overrides[i].QuestionNumber,
				overrides[i].OriginalScore, overrides[i].NewScore,
				overrides[i].NewFeedback, overrides[i].Reason,
			); err != nil {
				return Record{}, err
			}
		}

		rec.Overrides = overrides
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, ErrApprovalConflict) {
			return nil, ErrApprovalConflict
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info(
		"submission approved",
		"submission_id", submissionID,
		"teacher_id", cmd.TeacherID,
		"overrides", len(record.Overrides),
	)
	return &record, nil
}

func (r *repo) Flag(
	ctx context.Context,
	submissionID uuid.UUID,
	cmd FlagCommand,
) (*Record, error) {
	if cmd.Reason == "" {
		return nil, ErrReasonRequired
	}

	if _, err := r.findSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	record, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			`UPDATE submissions
			 SET status = $2, updated_at = now()
			 WHERE id = $1 AND status = $3`,
			submissionID, submissions.StatusFlagged, submissions.StatusPendingApproval,
		); err != nil {
			return Record{}, ErrApprovalConflict
		}

		return repository.QueryOne(
			ctx, tx, insertRecord,
			[]any{uuid.New(), submissionID, cmd.TeacherID, DecisionFlagged, cmd.Reason},
			scanRecord,
		)
	})
	if err != nil {
		if errors.Is(err, ErrApprovalConflict) {
			return nil, ErrApprovalConflict
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("submission flagged", "submission_id", submissionID, "teacher_id", cmd.TeacherID)
	return &record, nil
}

// Reopen returns a decided submission to the approval queue. Clearing
// approved_at invalidates any report assembled from the prior decision.
func (r *repo) Reopen(
	ctx context.Context,
	submissionID uuid.UUID,
	cmd ReopenCommand,
) (*Record, error) {
	if _, err := r.findSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	record, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			`UPDATE submissions
			 SET status = $2, approved_at = NULL, updated_at = now()
			 WHERE id = $1 AND status IN ($3, $4)`,
			submissionID, submissions.StatusPendingApproval,
			submissions.StatusApproved, submissions.StatusFlagged,
		); err != nil {
			return Record{}, ErrApprovalConflict
		}

		return repository.QueryOne(
			ctx, tx, insertRecord,
			[]any{uuid.New(), submissionID, cmd.ActorID, DecisionReopened, cmd.Reason},
			scanRecord,
		)
	})
	if err != nil {
		if errors.Is(err, ErrApprovalConflict) {
			return nil, ErrApprovalConflict
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("submission reopened", "submission_id", submissionID, "actor_id", cmd.ActorID)
	return &record, nil
}

const selectRecords = `
	SELECT id, submission_id, teacher_id, decision, reason, decided_at
	FROM approval_records
	WHERE submission_id = $1
	ORDER BY decided_at DESC`

const selectOverrides = `
	SELECT o.id, o.record_id, o.question_number, o.original_score, o.new_score, o.new_feedback, o.reason
	FROM approval_overrides o
	JOIN approval_records r ON r.id = o.record_id
	WHERE r.submission_id = $1
	ORDER BY o.question_number`

func (r *repo) Records(ctx context.Context, submissionID uuid.UUID) ([]Record, error) {
	records, err := repository.QueryMany(ctx, r.db, selectRecords, []any{submissionID}, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("query approval records: %w", err)
	}

	overrides, err := repository.QueryMany(ctx, r.db, selectOverrides, []any{submissionID}, scanOverride)
	if err != nil {
		return nil, fmt.Errorf("query approval overrides: %w", err)
	}

	byRecord := make(map[uuid.UUID][]Override)
	for _, o := range overrides {
		byRecord[o.RecordID] = append(byRecord[o.RecordID], o)
	}
	for i := range records {
		records[i].Overrides = byRecord[records[i].ID]
	}

	return records, nil
}

func (r *repo) Pending(
	ctx context.Context,
	page pagination.PageRequest,
	teacherID string,
) (*pagination.PageResult[submissions.Submission], error) {
	pending := submissions.StatusPendingApproval
	filters := submissions.Filters{Status: &pending}
	if teacherID != "" {
		filters.TeacherID = &teacherID
	}

	return r.subs.List(ctx, page, filters)
}

func (r *repo) findSubmission(ctx context.Context, id uuid.UUID) (*submissions.Submission, error) {
	sub, err := r.subs.Find(ctx, id)
	if err != nil {
		if errors.Is(err, submissions.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// resolveOverrides validates requested overrides against the graded
// answers and the exam key, copying original scores for audit and
// clamping new scores into [0, question max].
func (r *repo) resolveOverrides(
	ctx context.Context,
	sub *submissions.Submission,
	cmds []OverrideCommand,
) ([]Override, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	graded, err := r.subs.GradedAnswers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	exam, err := r.exams.Find(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[int]submissions.GradedAnswer, len(graded))
	for _, g := range graded {
		byQuestion[g.QuestionNumber] = g
	}

	seen := make(map[int]bool, len(cmds))
	overrides := make([]Override, 0, len(cmds))

	for _, cmd := range cmds {
		answer, ok := byQuestion[cmd.QuestionNumber]
		if !ok {
			return nil, fmt.Errorf("%w: question %d was not graded", ErrInvalidOverride, cmd.QuestionNumber)
		}
		if seen[cmd.QuestionNumber] {
			return nil, fmt.Errorf("%w: duplicate override for question %d", ErrInvalidOverride, cmd.QuestionNumber)
		}
		seen[cmd.QuestionNumber] = true

		maxScore := answer.MaxScore
		if q := exam.Question(cmd.QuestionNumber); q != nil {
			maxScore = q.MaxScore
		}

		newScore := cmd.NewScore
		if newScore < 0 {
			newScore = 0
		}
		if newScore > maxScore {
			newScore = maxScore
		}

		overrides = append(overrides, Override{
			QuestionNumber: cmd.QuestionNumber,
			OriginalScore:  answer.Score,
			NewScore:       newScore,
			NewFeedback:    cmd.NewFeedback,
			Reason:         cmd.Reason,
		})
	}

	return overrides, nil
}
