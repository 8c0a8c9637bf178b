package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"healthalert/internal/domain"
)

// Job is one deferred delivery unit awaiting its run time.
// Params: idempotency id, unit references, and run time.
// Returns: queue payload.
type Job struct {
	ID          string         `json:"id"`
	AlertID     string         `json:"alert_id"`
	RecipientID string         `json:"recipient_id"`
	Channel     domain.Channel `json:"channel"`
	RunAt       time.Time      `json:"run_at"`
}

// Handler processes one due job.
// Params: context and job.
// Returns: error to request redelivery.
type Handler func(ctx context.Context, job Job) error

// Queue holds deferred delivery units until they come due.
// Params: Enqueue accepts a job, Close stops processing.
// Returns: at-least-once delivery of due jobs to the configured handler.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// MemoryQueue runs deferred jobs on in-process timers. State does not
// survive a restart, so it fits single mode only.
type MemoryQueue struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMemoryQueue builds the in-process deferred queue.
// Params: handler invoked when jobs come due and logger.
// Returns: running queue.
func NewMemoryQueue(handler Handler, logger *slog.Logger) *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		handler: handler,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Enqueue schedules a job for its run time. Re-enqueueing the same job
// id resets its timer instead of duplicating it.
// Params: context and job.
// Returns: error when the queue is closed.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return context.Canceled
	}
	if existing, ok := q.timers[job.ID]; ok {
		existing.Stop()
	}
	delay := time.Until(job.RunAt)
	if delay < 0 {
		delay = 0
	}
	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.fire(job)
	})
	q.logger.Debug("deferred job scheduled",
		"job", job.ID, "run_at", job.RunAt.Format(time.RFC3339))
	return nil
}

func (q *MemoryQueue) fire(job Job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.timers, job.ID)
	q.wg.Add(1)
	q.mu.Unlock()

	defer q.wg.Done()
	if err := q.handler(q.baseCtx, job); err != nil {
		q.logger.Error("deferred job failed", "job", job.ID, "error", err.Error())
	}
}

// Close stops all pending timers and waits for in-flight handlers.
// Params: none.
// Returns: nil.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
