// Package pipeline implements the four-stage grading pipeline:
// preprocessing, segmentation, grading, and enrichment. Stages are pure
// with respect to shared state; the orchestrator owns status
// progression, retries, checkpoints, and artifact persistence, and a
// worker pool drives submissions through it.
package pipeline

import (
	"context"

	"github.com/edugrade/edugrade/internal/submissions"
)

// Stage names, in execution order.
const (
	StagePreprocess = "preprocess"
	StageSegment    = "segment"
	StageGrade      = "grade"
	StageEnrich     = "enrich"
)

// Stage is one step of the grading pipeline. Run receives the current
// checkpoint state and returns a Result; it must not persist anything
// beyond blob uploads for the artifacts it produces.
type Stage interface {
	Name() string

	// Running is the submission status while this stage executes.
	Running() submissions.Status

	// Failed is the terminal status recorded when this stage fails.
	// Only meaningful for critical stages.
	Failed() submissions.Status

	// Critical stages fail the submission when exhausted; non-critical
	// stages degrade and always succeed.
	Critical() bool

	Run(ctx context.Context, st State) Result
}

type resultKind int

const (
	resultSuccess resultKind = iota
	resultRetryable
	resultFatal
)

// Result is the closed outcome of one stage attempt: Success with the
// advanced state, Retryable with a transient error, or Fatal with a
// permanent one.
type Result struct {
	kind  resultKind
	state State
	err   error
}

// Success returns a Result carrying the advanced state.
func Success(st State) Result {
	return Result{kind: resultSuccess, state: st}
}

// Retryable returns a Result for a transient failure worth retrying.
func Retryable(err error) Result {
	return Result{kind: resultRetryable, err: err}
}

// Fatal returns a Result for a permanent failure. No retry budget is
// consumed.
func Fatal(err error) Result {
	return Result{kind: resultFatal, err: err}
}

// Succeeded reports whether the attempt completed.
func (r Result) Succeeded() bool { return r.kind == resultSuccess }

// IsRetryable reports whether the attempt failed transiently.
func (r Result) IsRetryable() bool { return r.kind == resultRetryable }

// State returns the advanced state of a successful attempt.
func (r Result) State() State { return r.state }

// Err returns the failure, nil on success.
func (r Result) Err() error { return r.err }
