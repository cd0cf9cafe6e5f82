package approvals

import (
	"context"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/pagination"
)

// System defines the public contract for approval domain operations.
type System interface {
	Handler() *Handler

	// Approve and Flag decide a PENDING_APPROVAL submission. A lost
	// concurrent race returns ErrApprovalConflict.
	Approve(ctx context.Context, submissionID uuid.UUID, cmd ApproveCommand) (*Record, error)
	Flag(ctx context.Context, submissionID uuid.UUID, cmd FlagCommand) (*Record, error)

	// Reopen returns an APPROVED or FLAGGED submission to
	// PENDING_APPROVAL and invalidates any assembled report.
	Reopen(ctx context.Context, submissionID uuid.UUID, cmd ReopenCommand) (*Record, error)

	// Records returns the audited decision history for a submission,
	// newest first.
	Records(ctx context.Context, submissionID uuid.UUID) ([]Record, error)

	// Pending lists submissions awaiting a decision, optionally filtered
	// to one teacher.
	Pending(
		ctx context.Context,
		page pagination.PageRequest,
		teacherID string,
	) (*pagination.PageResult[submissions.Submission], error)
}
