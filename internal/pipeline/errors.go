package pipeline

import "errors"

// Pipeline errors.
var (
	// ErrValidation marks unprocessable input. It is fatal and consumes
	// no retry budget.
	ErrValidation = errors.New("submission input validation failed")

	// ErrStageTimeout marks a stage that ran past its deadline. The first
	// expiry is retried; a second is fatal.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrQueueClosed is returned by Enqueue once the pool has begun
	// draining.
	ErrQueueClosed = errors.New("processing queue is closed")
)
