package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fandomtools/ficbot/internal/fic"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := New(1)
	result := make(chan fic.ScrapeJob, 1)
	errCh := make(chan error, 1)

	go func() {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- job
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	job := fic.ScrapeJob{ID: "job-1", URL: "https://archiveofourown.org/works/1"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.ID != "job-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := New(1)
	if err := qEnqueue.Enqueue(context.Background(), fic.ScrapeJob{ID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, fic.ScrapeJob{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, fic.ErrQueueClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), fic.ScrapeJob{ID: "late"}); !errors.Is(err, fic.ErrQueueClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseUnblocksEnqueue(t *testing.T) {
	t.Parallel()

	q := New(1)
	if err := q.Enqueue(context.Background(), fic.ScrapeJob{ID: "filler"}); err != nil {
		t.Fatalf("failed to fill queue: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), fic.ScrapeJob{ID: "blocked"})
	}()

	time.Sleep(10 * time.Millisecond) // allow the producer to block
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, fic.ErrQueueClosed) {
			t.Fatalf("expected queue closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}

func TestQueueDrainsBufferedJobsAfterClose(t *testing.T) {
	t.Parallel()

	q := New(2)
	for _, id := range []string{"job-1", "job-2"} {
		if err := q.Enqueue(context.Background(), fic.ScrapeJob{ID: id}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	q.Close()

	for _, want := range []string{"job-1", "job-2"} {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job.ID != want {
			t.Fatalf("expected %s, got %+v", want, job)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, fic.ErrQueueClosed) {
		t.Fatalf("expected queue closed after drain, got %v", err)
	}
}
