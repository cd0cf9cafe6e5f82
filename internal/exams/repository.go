package exams

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/pkg/pagination"
	"github.com/edugrade/edugrade/pkg/query"
	"github.com/edugrade/edugrade/pkg/repository"
)

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an exam repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "exams"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Exam], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Title", "Subject")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count exams: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanExam)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Exam, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, r.db, q, args, scanExam)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

const insertExam = `
	INSERT INTO exams(id, family_id, version, title, subject, grade_level, teacher_id, questions)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, family_id, version, title, subject, grade_level, teacher_id, questions, created_at`

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Exam, error) {
	if err := validateQuestions(cmd.Questions); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(cmd.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}

	id := uuid.New()
	args := []any{id, id, 1, cmd.Title, cmd.Subject, cmd.GradeLevel, cmd.TeacherID, raw}

	e, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Exam, error) {
		return repository.QueryOne(ctx, tx, insertExam, args, scanExam)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("exam created", "id", e.ID, "title", e.Title, "questions", len(e.Questions))
	return &e, nil
}

// Correct creates a new version of the exam identified by id within the same
// family. The prior version row is never modified.
func (r *repo) Correct(ctx context.Context, id uuid.UUID, cmd CorrectCommand) (*Exam, error) {
	if err := validateQuestions(cmd.Questions); err != nil {
		return nil, err
	}

	prior, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(cmd.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}

	e, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Exam, error) {
		var next int
		if err := tx.QueryRowContext(
			ctx,
			"SELECT COALESCE(MAX(version), 0) + 1 FROM exams WHERE family_id = $1",
			prior.FamilyID,
		).Scan(&next); err != nil {
			return Exam{}, err
		}

		args := []any{
			uuid.New(),
			prior.FamilyID,
			next,
			prior.Title,
			prior.Subject,
			prior.GradeLevel,
			prior.TeacherID,
			raw,
		}
		return repository.QueryOne(ctx, tx, insertExam, args, scanExam)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info(
		"answer key corrected",
		"family_id", e.FamilyID,
		"version", e.Version,
		"corrected_by", cmd.CorrectedBy,
	)
	return &e, nil
}

func validateQuestions(questions []Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidKey)
	}

	seen := make(map[int]bool, len(questions))
	for _, q := range questions {
		if q.Number < 1 {
			return fmt.Errorf("%w: question number %d", ErrInvalidKey, q.Number)
		}
		if seen[q.Number] {
			return fmt.Errorf("%w: duplicate question %d", ErrInvalidKey, q.Number)
		}
		seen[q.Number] = true

		if q.MaxScore <= 0 {
			return fmt.Errorf("%w: question %d max score must be positive", ErrInvalidKey, q.Number)
		}

		switch q.MatchPolicy {
		case MatchExact, MatchSemantic, MatchPartial:
		default:
			return fmt.Errorf("%w: question %d match policy %q", ErrInvalidKey, q.Number, q.MatchPolicy)
		}
	}

	return nil
}
