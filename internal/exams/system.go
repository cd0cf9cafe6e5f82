package exams

import (
	"context"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/pkg/pagination"
)

// System defines the public contract for exam domain operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Exam], error)

	Find(ctx context.Context, id uuid.UUID) (*Exam, error)
	Create(ctx context.Context, cmd CreateCommand) (*Exam, error)
	Correct(ctx context.Context, id uuid.UUID, cmd CorrectCommand) (*Exam, error)
}
