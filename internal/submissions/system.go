package submissions

import (
	"context"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/pkg/pagination"
)

// Queue accepts submissions for background processing. The pipeline
// worker pool implements it; handlers depend only on this contract.
type Queue interface {
	Enqueue(id uuid.UUID) error
	Requeue(id uuid.UUID) error
	Cancel(id uuid.UUID) error
}

// System defines the public contract for submission domain operations.
// The persistence operations below the query group are consumed by the
// processing pipeline, which owns status progression and artifacts.
type System interface {
	Handler(queue Queue, maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Submission], error)

	Find(ctx context.Context, id uuid.UUID) (*Submission, error)
	Create(ctx context.Context, cmd CreateCommand) (*Submission, error)

	// CompareAndSetStatus transitions id to the given status only when its
	// current status is one of from. A lost race returns ErrInvalidStatus.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) error

	// RecordFailure sets a failure status together with the failing stage
	// name and the last error reason.
	RecordFailure(ctx context.Context, id uuid.UUID, to Status, stage, reason string) error

	// Cancel marks an active submission CANCELLED. Submissions past
	// enrichment, already failed, or already cancelled are rejected with
	// ErrInvalidStatus.
	Cancel(ctx context.Context, id uuid.UUID) error

	// IncrementRetry bumps the consumed retry count for a stage and
	// returns the new count. ResetRetry zeroes a single stage's count,
	// leaving the other stages' counts intact.
	IncrementRetry(ctx context.Context, id uuid.UUID, stage string) (int, error)
	ResetRetry(ctx context.Context, id uuid.UUID, stage string) error

	// SaveCheckpoint upserts the serialized pipeline state reached after a
	// completed stage. Checkpoint returns nil when none has been recorded.
	SaveCheckpoint(ctx context.Context, id uuid.UUID, state []byte) error
	Checkpoint(ctx context.Context, id uuid.UUID) ([]byte, error)

	// Artifact persistence. Save operations replace any rows from a prior
	// attempt so a resumed stage writes an internally consistent set.
	SaveRegions(ctx context.Context, id uuid.UUID, regions []Region) ([]Region, error)
	Regions(ctx context.Context, id uuid.UUID) ([]Region, error)
	SaveGradedAnswers(ctx context.Context, id uuid.UUID, answers []GradedAnswer) ([]GradedAnswer, error)
	GradedAnswers(ctx context.Context, id uuid.UUID) ([]GradedAnswer, error)
	SaveEnrichmentNotes(ctx context.Context, id uuid.UUID, notes []EnrichmentNote) ([]EnrichmentNote, error)
	EnrichmentNotes(ctx context.Context, id uuid.UUID) ([]EnrichmentNote, error)
}
