package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/pipeline"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/lifecycle"
)

func newTestPool(subs *mockSubmissions, workers int) *pipeline.Pool {
	stage := succeedingStub(pipeline.StagePreprocess, submissions.StatusPreprocessing, submissions.StatusFailedPreprocessing)
	o := pipeline.NewOrchestrator(subs, []pipeline.Stage{stage}, testPipelineConfig(), testLogger())
	return pipeline.NewPool(o, subs, workers, testLogger())
}

func TestPoolEnqueueDedupe(t *testing.T) {
	sub := uploadedSubmission()
	p := newTestPool(newMockSubmissions(sub), 1)

	if err := p.Enqueue(sub.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := p.Enqueue(sub.ID); err != nil {
		t.Fatalf("duplicate Enqueue failed: %v", err)
	}
	if got := p.Depth(); got != 1 {
		t.Errorf("depth = %d, duplicate enqueue must be a no-op", got)
	}

	if err := p.Enqueue(uuid.New()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if got := p.Depth(); got != 2 {
		t.Errorf("depth = %d, want 2", got)
	}
}

func TestPoolRequeue(t *testing.T) {
	t.Run("resets only the failed stage budget", func(t *testing.T) {
		sub := uploadedSubmission()
		sub.Status = submissions.StatusFailedGrading
		stage := pipeline.StageGrade
		sub.FailedStage = &stage

		subs := newMockSubmissions(sub)
		subs.retryCounts[pipeline.StageGrade] = 3
		subs.retryCounts[pipeline.StageSegment] = 1

		p := newTestPool(subs, 1)

		if err := p.Requeue(sub.ID); err != nil {
			t.Fatalf("Requeue failed: %v", err)
		}
		if got := subs.retries(pipeline.StageGrade); got != 0 {
			t.Errorf("grade retries = %d, want reset to 0", got)
		}
		if got := subs.retries(pipeline.StageSegment); got != 1 {
			t.Errorf("segment retries = %d, other stages must keep their count", got)
		}
		if got := p.Depth(); got != 1 {
			t.Errorf("depth = %d, want 1", got)
		}
	})

	t.Run("rejects submissions that have not failed", func(t *testing.T) {
		sub := uploadedSubmission()
		sub.Status = submissions.StatusPendingApproval

		p := newTestPool(newMockSubmissions(sub), 1)

		err := p.Requeue(sub.ID)
		if !errors.Is(err, submissions.ErrInvalidStatus) {
			t.Errorf("Requeue err = %v, want ErrInvalidStatus", err)
		}
		if got := p.Depth(); got != 0 {
			t.Errorf("depth = %d, want 0", got)
		}
	})

	t.Run("unknown submission", func(t *testing.T) {
		p := newTestPool(newMockSubmissions(uploadedSubmission()), 1)

		err := p.Requeue(uuid.New())
		if !errors.Is(err, submissions.ErrNotFound) {
			t.Errorf("Requeue err = %v, want ErrNotFound", err)
		}
	})
}

func TestPoolCancelQueued(t *testing.T) {
	sub := uploadedSubmission()
	subs := newMockSubmissions(sub)
	p := newTestPool(subs, 1)

	if err := p.Enqueue(sub.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := p.Cancel(sub.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if got := p.Depth(); got != 0 {
		t.Errorf("depth = %d, cancelled submission should leave the queue", got)
	}
	if got := subs.status(); got != submissions.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got)
	}
}

func TestPoolLifecycle(t *testing.T) {
	sub := uploadedSubmission()
	subs := newMockSubmissions(sub)
	p := newTestPool(subs, 2)

	lc := lifecycle.New()
	p.Start(lc)
	lc.WaitForStartup()

	if err := p.Enqueue(sub.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for subs.status() != submissions.StatusPendingApproval {
		if time.Now().After(deadline) {
			t.Fatalf("submission never finished, status = %s", subs.status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := lc.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if err := p.Enqueue(uuid.New()); !errors.Is(err, pipeline.ErrQueueClosed) {
		t.Errorf("Enqueue after shutdown = %v, want ErrQueueClosed", err)
	}
}
