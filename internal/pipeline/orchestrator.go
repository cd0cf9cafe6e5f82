package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/submissions"
)

// Orchestrator drives one submission through the ordered stage list.
// It owns every shared-state mutation: status transitions, retry
// accounting, checkpoints, and artifact persistence.
type Orchestrator struct {
	subs   submissions.System
	stages []Stage
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given stage sequence.
func NewOrchestrator(
	subs submissions.System,
	stages []Stage,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		subs:   subs,
		stages: stages,
		cfg:    cfg,
		logger: logger.With("system", "pipeline"),
	}
}

// Process runs the submission through every stage it has not yet
// completed, resuming from the persisted checkpoint when one exists.
// Cancellation surfaces as the context error; stage failures are
// persisted to the submission and return nil.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	sub, err := o.subs.Find(ctx, id)
	if err != nil {
		return err
	}

	if !sub.Status.Active() && !sub.Status.Failed() {
		o.logger.Info("submission not processable", "id", id, "status", sub.Status)
		return nil
	}

	st, err := o.loadState(ctx, sub)
	if err != nil {
		return err
	}

	for i, stage := range o.stages {
		if st.CompletedStage(stage.Name()) {
			continue
		}

		if err := o.enterStage(ctx, id, i, stage); err != nil {
			if errors.Is(err, submissions.ErrInvalidStatus) {
				o.logger.Info("stage entry refused, stopping", "id", id, "stage", stage.Name())
				return nil
			}
			return err
		}

		advanced, done, err := o.runStage(ctx, id, stage, st)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}

		st = advanced
		if err := o.persistStageOutput(ctx, id, stage, &st); err != nil {
			return err
		}
	}

	last := o.stages[len(o.stages)-1]
	if err := o.subs.CompareAndSetStatus(
		ctx, id,
		submissions.StatusPendingApproval,
		last.Running(),
	); err != nil {
		if errors.Is(err, submissions.ErrInvalidStatus) {
			return nil
		}
		return err
	}

	o.logger.Info("submission ready for approval", "id", id)
	return nil
}

func (o *Orchestrator) loadState(ctx context.Context, sub *submissions.Submission) (State, error) {
	raw, err := o.subs.Checkpoint(ctx, sub.ID)
	if err != nil {
		return State{}, err
	}

	if raw == nil {
		return State{
			SubmissionID: sub.ID,
			ExamID:       sub.ExamID,
			PageKeys:     sub.PageKeys,
		}, nil
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return st, nil
}

// enterStage moves the submission into the stage's running status. The
// accepted source statuses cover a fresh start, normal progression from
// the previous stage, a crash mid-stage, and a requeue after failure.
func (o *Orchestrator) enterStage(ctx context.Context, id uuid.UUID, index int, stage Stage) error {
	from := []submissions.Status{submissions.StatusUploaded, stage.Running()}
	if index > 0 {
		from = append(from, o.stages[index-1].Running())
	}
	if stage.Critical() {
		from = append(from, stage.Failed())
	}

	return o.subs.CompareAndSetStatus(ctx, id, stage.Running(), from...)
}

// runStage executes one stage with its retry budget, backoff, and
// timeout policy. done is false when the stage failed terminally and
// the failure has been recorded.
func (o *Orchestrator) runStage(
	ctx context.Context,
	id uuid.UUID,
	stage Stage,
	st State,
) (State, bool, error) {
	timeouts := 0

	for {
		if err := ctx.Err(); err != nil {
			return st, false, err
		}

		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeoutDuration())
		result := stage.Run(stageCtx, st)
		timedOut := errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if result.Succeeded() {
			return result.State(), true, nil
		}

		if err := ctx.Err(); err != nil {
			return st, false, err
		}

		reason := result.Err()

		if timedOut {
			timeouts++
			reason = fmt.Errorf("%w: %s", ErrStageTimeout, stage.Name())
			if timeouts >= 2 {
				return st, false, o.fail(ctx, id, stage, reason)
			}
		} else if !result.IsRetryable() {
			return st, false, o.fail(ctx, id, stage, reason)
		}

		count, err := o.subs.IncrementRetry(ctx, id, stage.Name())
		if err != nil {
			return st, false, err
		}

		if count > o.cfg.RetryBudget {
			return st, false, o.fail(ctx, id, stage, fmt.Errorf("retry budget exhausted: %w", reason))
		}

		o.logger.Warn(
			"stage attempt failed, retrying",
			"id", id,
			"stage", stage.Name(),
			"attempt", count,
			"error", reason,
		)

		if err := o.backoff(ctx, count); err != nil {
			return st, false, err
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, stage Stage, reason error) error {
	if !stage.Critical() {
		// Non-critical stages degrade inside Run and never reach here,
		// but losing a submission over an insight would be wrong anyway.
		o.logger.Error("non-critical stage reported failure", "id", id, "stage", stage.Name(), "error", reason)
		return nil
	}

	return o.subs.RecordFailure(ctx, id, stage.Failed(), stage.Name(), reason.Error())
}

func (o *Orchestrator) persistStageOutput(
	ctx context.Context,
	id uuid.UUID,
	stage Stage,
	st *State,
) error {
	switch stage.Name() {
	case StageSegment:
		saved, err := o.subs.SaveRegions(ctx, id, st.Regions)
		if err != nil {
			return err
		}
		st.Regions = saved
	case StageGrade:
		saved, err := o.subs.SaveGradedAnswers(ctx, id, st.Graded)
		if err != nil {
			return err
		}
		st.Graded = saved
	case StageEnrich:
		saved, err := o.subs.SaveEnrichmentNotes(ctx, id, st.Notes)
		if err != nil {
			return err
		}
		st.Notes = saved
	}

	st.MarkCompleted(stage.Name())

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return o.subs.SaveCheckpoint(ctx, id, raw)
}

func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := o.cfg.BackoffBaseDuration() * time.Duration(1<<(attempt-1))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
