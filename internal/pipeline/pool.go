package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/lifecycle"
)

// Pool runs submissions through the orchestrator on a fixed set of
// workers. Queued submissions are served in FIFO order; a submission
// holds its worker slot for its whole stage sequence. Pool implements
// submissions.Queue.
type Pool struct {
	orchestrator *Orchestrator
	subs         submissions.System
	workers      int
	logger       *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []uuid.UUID
	queued   map[uuid.UUID]bool
	inflight map[uuid.UUID]context.CancelFunc
	closed   bool

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewPool creates a worker pool over the orchestrator.
func NewPool(
	orchestrator *Orchestrator,
	subs submissions.System,
	workers int,
	logger *slog.Logger,
) *Pool {
	p := &Pool{
		orchestrator: orchestrator,
		subs:         subs,
		workers:      workers,
		logger:       logger.With("system", "pipeline.pool"),
		queued:       map[uuid.UUID]bool{},
		inflight:     map[uuid.UUID]context.CancelFunc{},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start registers the pool's workers with the lifecycle coordinator.
// Shutdown stops intake, cancels in-flight work, and waits for the
// workers to drain.
func (p *Pool) Start(lc *lifecycle.Coordinator) {
	p.baseCtx = lc.Context()

	lc.OnStartup(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("worker pool started", "workers", p.workers)
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()

		p.wg.Wait()
		p.logger.Info("worker pool drained")
	})
}

// Enqueue adds a submission to the back of the queue and returns
// immediately. Enqueueing a submission that is already queued or
// in flight is a no-op.
func (p *Pool) Enqueue(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrQueueClosed
	}
	if p.queued[id] {
		return nil
	}
	if _, running := p.inflight[id]; running {
		return nil
	}

	p.queue = append(p.queue, id)
	p.queued[id] = true
	p.cond.Signal()

	p.logger.Info("submission queued", "id", id, "depth", len(p.queue))
	return nil
}

// Requeue resets the retry budget of the stage a submission failed at
// and puts it back on the queue. Processing resumes from the last
// checkpoint.
func (p *Pool) Requeue(id uuid.UUID) error {
	ctx := context.Background()

	sub, err := p.subs.Find(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Status.Failed() || sub.FailedStage == nil {
		return fmt.Errorf("%w: status is %s", submissions.ErrInvalidStatus, sub.Status)
	}

	if err := p.subs.ResetRetry(ctx, id, *sub.FailedStage); err != nil {
		return err
	}

	return p.Enqueue(id)
}

// Cancel removes a queued submission or cancels an in-flight one, then
// records CANCELLED. In-flight cancellation is best effort: the running
// stage stops at its next context check.
func (p *Pool) Cancel(id uuid.UUID) error {
	p.mu.Lock()
	if p.queued[id] {
		delete(p.queued, id)
		for i, queued := range p.queue {
			if queued == id {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				break
			}
		}
	}
	if cancel, running := p.inflight[id]; running {
		cancel()
	}
	p.mu.Unlock()

	if err := p.subs.Cancel(context.Background(), id); err != nil {
		return err
	}

	p.logger.Info("submission cancelled", "id", id)
	return nil
}

// Depth returns the number of queued submissions.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		id, ok := p.next()
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(p.baseCtx)

		p.mu.Lock()
		p.inflight[id] = cancel
		p.mu.Unlock()

		err := p.orchestrator.Process(ctx, id)

		p.mu.Lock()
		delete(p.inflight, id)
		p.mu.Unlock()
		cancel()

		switch {
		case errors.Is(err, context.Canceled):
			p.logger.Info("processing cancelled", "worker", n, "id", id)
		case err != nil:
			p.logger.Error("processing failed", "worker", n, "id", id, "error", err)
		}
	}
}

// next blocks until a submission is available or the pool is draining.
func (p *Pool) next() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}

	if len(p.queue) == 0 {
		return uuid.Nil, false
	}

	id := p.queue[0]
	p.queue = p.queue[1:]
	delete(p.queued, id)
	return id, true
}
