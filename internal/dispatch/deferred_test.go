package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"healthalert/internal/domain"
)

type jobCollector struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
}

func newJobCollector() *jobCollector {
	return &jobCollector{done: make(chan struct{})}
}

func (c *jobCollector) handle(expect int) Handler {
	return func(_ context.Context, job Job) error {
		c.mu.Lock()
		c.jobs = append(c.jobs, job)
		if len(c.jobs) == expect {
			close(c.done)
		}
		c.mu.Unlock()
		return nil
	}
}

func (c *jobCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func testJob(id string, runAt time.Time) Job {
	return Job{
		ID:          id,
		AlertID:     "HA-000001",
		RecipientID: "u-1",
		Channel:     domain.ChannelSMS,
		RunAt:       runAt,
	}
}

func TestMemoryQueueFiresDueJob(t *testing.T) {
	t.Parallel()

	collector := newJobCollector()
	queue := NewMemoryQueue(collector.handle(1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer queue.Close()

	if err := queue.Enqueue(context.Background(), testJob("j-1", time.Now().Add(10*time.Millisecond))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-collector.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}
	if collector.jobs[0].ID != "j-1" {
		t.Fatalf("job: %+v", collector.jobs[0])
	}
}

func TestMemoryQueueReenqueueResetsTimer(t *testing.T) {
	t.Parallel()

	collector := newJobCollector()
	queue := NewMemoryQueue(collector.handle(1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer queue.Close()

	ctx := context.Background()
	if err := queue.Enqueue(ctx, testJob("j-1", time.Now().Add(50*time.Millisecond))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.Enqueue(ctx, testJob("j-1", time.Now().Add(20*time.Millisecond))); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	select {
	case <-collector.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}
	time.Sleep(100 * time.Millisecond)
	if collector.count() != 1 {
		t.Fatalf("fired %d times", collector.count())
	}
}

func TestMemoryQueuePastRunAtFiresImmediately(t *testing.T) {
	t.Parallel()

	collector := newJobCollector()
	queue := NewMemoryQueue(collector.handle(1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer queue.Close()

	if err := queue.Enqueue(context.Background(), testJob("j-1", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-collector.done:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue job never fired")
	}
}

func TestMemoryQueueCloseStopsPendingJobs(t *testing.T) {
	t.Parallel()

	collector := newJobCollector()
	queue := NewMemoryQueue(collector.handle(1), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := queue.Enqueue(context.Background(), testJob("j-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if collector.count() != 0 {
		t.Fatal("closed queue fired a job")
	}
	if err := queue.Enqueue(context.Background(), testJob("j-2", time.Now())); err == nil {
		t.Fatal("enqueue after close should fail")
	}
}
