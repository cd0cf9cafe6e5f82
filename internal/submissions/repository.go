package submissions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/pkg/pagination"
	"github.com/edugrade/edugrade/pkg/query"
	"github.com/edugrade/edugrade/pkg/repository"
	"github.com/edugrade/edugrade/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a submission repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "submissions"),
		pagination: pagination,
	}
}

func (r *repo) Handler(queue Queue, maxUploadSize int64) *Handler {
	return NewHandler(r, queue, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Submission], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "StudentID", "TeacherID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Submission, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	sub, err := repository.QueryOne(ctx, r.db, q, args, scanSubmission)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &sub, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Submission, error) {
	if len(cmd.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrValidation)
	}
	if cmd.StudentID == "" || cmd.TeacherID == "" {
		return nil, fmt.Errorf("%w: student and teacher are required", ErrValidation)
	}

	id := uuid.New()

	keys := make([]string, 0, len(cmd.Pages))
	for i, page := range cmd.Pages {
		key := pageKey(id, i, page.ContentType)
		if err := r.storage.Upload(ctx, key, bytes.NewReader(page.Data), page.ContentType); err != nil {
			r.deleteBlobs(ctx, keys)
			return nil, fmt.Errorf("upload page %d: %w", i, err)
		}
		keys = append(keys, key)
	}

	rawKeys, err := json.Marshal(keys)
	if err != nil {
		r.deleteBlobs(ctx, keys)
		return nil, fmt.Errorf("marshal page keys: %w", err)
	}

	q := `
		INSERT INTO submissions(id, exam_id, student_id, teacher_id, page_keys, page_count, status, retry_counts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}'::jsonb)
		RETURNING id, exam_id, student_id, teacher_id, page_keys, page_count, status, retry_counts,
			failed_stage, failure_reason, approved_at, created_at, updated_at`

	insertArgs := []any{
		id,
		cmd.ExamID,
		cmd.StudentID,
		cmd.TeacherID,
		rawKeys,
		len(keys),
		StatusUploaded,
	}

	sub, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Submission, error) {
		return repository.QueryOne(ctx, tx, q, insertArgs, scanSubmission)
	})
	if err != nil {
		r.deleteBlobs(ctx, keys)
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info(
		"submission created",
		"id", sub.ID,
		"exam_id", sub.ExamID,
		"pages", sub.PageCount,
	)
	return &sub, nil
}

func (r *repo) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	to Status,
	from ...Status,
) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status given", ErrInvalidStatus)
	}

	placeholders := make([]string, len(from))
	args := []any{id, to}
	for i, s := range from {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, s)
	}

	q := fmt.Sprintf(
		"UPDATE submissions SET status = $2, updated_at = now() WHERE id = $1 AND status IN (%s)",
		strings.Join(placeholders, ", "),
	)

	if err := repository.ExecExpectOne(ctx, r.db, q, args...); err != nil {
		exists, findErr := r.exists(ctx, id)
		if findErr == nil && !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: cannot move to %s", ErrInvalidStatus, to)
	}
	return nil
}

func (r *repo) RecordFailure(
	ctx context.Context,
	id uuid.UUID,
	to Status,
	stage, reason string,
) error {
	q := `
		UPDATE submissions
		SET status = $2, failed_stage = $3, failure_reason = $4, updated_at = now()
		WHERE id = $1`

	if err := repository.ExecExpectOne(ctx, r.db, q, id, to, stage, reason); err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Warn("submission failed", "id", id, "stage", stage, "reason", reason)
	return nil
}

func (r *repo) Cancel(ctx context.Context, id uuid.UUID) error {
	err := r.CompareAndSetStatus(
		ctx, id, StatusCancelled,
		StatusUploaded, StatusPreprocessing, StatusSegmenting,
		StatusGrading, StatusEnriching,
	)
	if err != nil {
		return err
	}

	r.logger.Info("submission cancelled", "id", id)
	return nil
}

func (r *repo) IncrementRetry(ctx context.Context, id uuid.UUID, stage string) (int, error) {
	q := `
		UPDATE submissions
		SET retry_counts = jsonb_set(
			COALESCE(retry_counts, '{}'::jsonb),
			ARRAY[$2],
			to_jsonb(COALESCE((retry_counts ->> $2)::int, 0) + 1)
		),
		updated_at = now()
		WHERE id = $1
		RETURNING (retry_counts ->> $2)::int`

	var count int
	if err := r.db.QueryRowContext(ctx, q, id, stage).Scan(&count); err != nil {
		return 0, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return count, nil
}

func (r *repo) ResetRetry(ctx context.Context, id uuid.UUID, stage string) error {
	q := `
		UPDATE submissions
		SET retry_counts = jsonb_set(
			COALESCE(retry_counts, '{}'::jsonb),
			ARRAY[$2],
			'0'::jsonb
		),
		updated_at = now()
		WHERE id = $1`

	if err := repository.ExecExpectOne(ctx, r.db, q, id, stage); err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) SaveCheckpoint(ctx context.Context, id uuid.UUID, state []byte) error {
	q := `
		INSERT INTO checkpoints(submission_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (submission_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

	if _, err := r.db.ExecContext(ctx, q, id, state); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *repo) Checkpoint(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var state []byte
	err := r.db.QueryRowContext(
		ctx,
		"SELECT state FROM checkpoints WHERE submission_id = $1",
		id,
	).Scan(&state)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return state, nil
}

const selectRegions = `
	SELECT id, submission_id, page_index, question_number,
		box_x, box_y, box_width, box_height,
		crop_key, source, confidence, low_confidence
	FROM regions
	WHERE submission_id = $1
	ORDER BY question_number`

func (r *repo) SaveRegions(
	ctx context.Context,
	id uuid.UUID,
	regions []Region,
) ([]Region, error) {
	insert := `
		INSERT INTO regions(id, submission_id, page_index, question_number,
			box_x, box_y, box_width, box_height,
			crop_key, source, confidence, low_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	saved, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) ([]Region, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM regions WHERE submission_id = $1", id); err != nil {
			return nil, err
		}

		out := make([]Region, len(regions))
		for i, region := range regions {
			region.ID = uuid.New()
			region.SubmissionID = id
			if _, err := tx.ExecContext(
				ctx, insert,
				region.ID, region.SubmissionID, region.PageIndex, region.QuestionNumber,
				region.Box.X, region.Box.Y, region.Box.Width, region.Box.Height,
				region.CropKey, region.Source, region.Confidence, region.LowConfidence,
			); err != nil {
				return nil, err
			}
			out[i] = region
		}
		return out, nil
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return saved, nil
}

func (r *repo) Regions(ctx context.Context, id uuid.UUID) ([]Region, error) {
	regions, err := repository.QueryMany(ctx, r.db, selectRegions, []any{id}, scanRegion)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	return regions, nil
}

const selectGradedAnswers = `
	SELECT id, submission_id, region_id, question_number, transcript,
		score, max_score, match_kind, feedback, confidence, needs_review, created_at
	FROM graded_answers
	WHERE submission_id = $1
	ORDER BY question_number`

func (r *repo) SaveGradedAnswers(
	ctx context.Context,
	id uuid.UUID,
	answers []GradedAnswer,
) ([]GradedAnswer, error) {
	insert := `
		INSERT INTO graded_answers(id, submission_id, region_id, question_number,
			transcript, score, max_score, match_kind, feedback, confidence, needs_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM graded_answers WHERE submission_id = $1", id); err != nil {
			return struct{}{}, err
		}

		for _, a := range answers {
			if _, err := tx.ExecContext(
				ctx, insert,
				uuid.New(), id, a.RegionID, a.QuestionNumber,
				a.Transcript, a.Score, a.MaxScore, a.MatchKind,
				a.Feedback, a.Confidence, a.NeedsReview,
			); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	return r.GradedAnswers(ctx, id)
}

func (r *repo) GradedAnswers(ctx context.Context, id uuid.UUID) ([]GradedAnswer, error) {
	answers, err := repository.QueryMany(ctx, r.db, selectGradedAnswers, []any{id}, scanGradedAnswer)
	if err != nil {
		return nil, fmt.Errorf("query graded answers: %w", err)
	}
	return answers, nil
}

const selectEnrichmentNotes = `
	SELECT id, submission_id, region_id, question_number, insight, confidence, unavailable
	FROM enrichment_notes
	WHERE submission_id = $1
	ORDER BY question_number`

func (r *repo) SaveEnrichmentNotes(
	ctx context.Context,
	id uuid.UUID,
	notes []EnrichmentNote,
) ([]EnrichmentNote, error) {
	insert := `
		INSERT INTO enrichment_notes(id, submission_id, region_id, question_number,
			insight, confidence, unavailable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM enrichment_notes WHERE submission_id = $1", id); err != nil {
			return struct{}{}, err
		}

		for _, n := range notes {
			if _, err := tx.ExecContext(
				ctx, insert,
				uuid.New(), id, n.RegionID, n.QuestionNumber,
				n.Insight, n.Confidence, n.Unavailable,
			); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	return r.EnrichmentNotes(ctx, id)
}

func (r *repo) EnrichmentNotes(ctx context.Context, id uuid.UUID) ([]EnrichmentNote, error) {
	notes, err := repository.QueryMany(ctx, r.db, selectEnrichmentNotes, []any{id}, scanEnrichmentNote)
	if err != nil {
		return nil, fmt.Errorf("query enrichment notes: %w", err)
	}
	return notes, nil
}

func (r *repo) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool
	err := r.db.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)",
		id,
	).Scan(&found)
	return found, err
}

func (r *repo) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.storage.Delete(ctx, key); err != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", err)
		}
	}
}

func pageKey(id uuid.UUID, index int, contentType string) string {
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("submissions/%s/pages/%03d.%s", id, index, ext)
}
