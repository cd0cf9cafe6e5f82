package reports

import (
	"context"

	"github.com/google/uuid"
)

// System defines the public contract for report assembly.
type System interface {
	Handler() *Handler

	// Report assembles the report for an approved submission. It returns
	// ErrNotApproved while the submission awaits (or lost) its approval.
	Report(ctx context.Context, submissionID uuid.UUID) (*Report, error)
}
