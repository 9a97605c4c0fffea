// Package memory provides the in-process scrape job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fandomtools/ficbot/internal/fic"
)

// Queue is a bounded in-memory job queue. Shutdown is signaled on a
// separate channel instead of closing the job channel, so producers
// blocked in Enqueue are released with fic.ErrQueueClosed rather than
// panicking, and jobs accepted before Close stay drainable.
type Queue struct {
	ch        chan fic.ScrapeJob
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch:   make(chan fic.ScrapeJob, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job, blocking while the queue is full. It returns
// fic.ErrQueueClosed once the queue has shut down.
func (q *Queue) Enqueue(ctx context.Context, job fic.ScrapeJob) error {
	select {
	case <-q.done:
		return fic.ErrQueueClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return fic.ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue pops the next job. After Close it keeps handing out jobs
// accepted before shutdown until the buffer is drained.
func (q *Queue) Dequeue(ctx context.Context) (fic.ScrapeJob, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		// Close raced a buffered job; prefer the job.
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return fic.ScrapeJob{}, fic.ErrQueueClosed
		}
	case <-ctx.Done():
		return fic.ScrapeJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Close shuts the queue down. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
