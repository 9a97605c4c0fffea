// Package worker implements the scrape job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/fic"
)

// Registry maps a lowercase hostname to the scraper responsible for it.
type Registry struct {
	scrapers map[string]fic.Scraper
	fallback fic.Scraper
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]fic.Scraper)}
}

// Register binds hosts to a scraper.
func (r *Registry) Register(scraper fic.Scraper, hosts ...string) {
	for _, h := range hosts {
		r.scrapers[strings.ToLower(h)] = scraper
	}
}

// SetFallback sets the scraper used for unrecognized hosts.
func (r *Registry) SetFallback(scraper fic.Scraper) {
	r.fallback = scraper
}

// For resolves the scraper for a work URL.
func (r *Registry) For(rawURL string) (fic.Scraper, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse work url: %w", err)
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if s, ok := r.scrapers[host]; ok {
		return s, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no scraper registered for host %q", host)
}

// Config controls Worker behavior.
type Config struct {
	// KeepRawHTML forwards the raw-markup flag to every fetch.
	KeepRawHTML bool
	// RetryBrowserErrors allows one whole-fetch retry on browser-level
	// failures, matching the contract scrapers expose to callers.
	RetryBrowserErrors bool
}

// Worker consumes queued scrape jobs, runs the matching scraper and
// catalogs the result.
type Worker struct {
	queue    fic.Queue
	registry *Registry
	store    fic.WorkStore
	clock    fic.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue fic.Queue, registry *Registry, store fic.WorkStore, clock fic.Clock, cfg Config, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		registry: registry,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue
// shuts down.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fic.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job fic.ScrapeJob) {
	start := w.clock.Now()
	rec, err := w.fetch(ctx, job)
	if err != nil {
		w.logger.Error("scrape job failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.String("kind", string(fic.KindOf(err))),
			zap.Error(err),
		)
		return
	}

	stored, err := w.store.Upsert(ctx, fic.Recommendation{
		Work:       rec,
		RecordedBy: job.RequestedBy,
	})
	if err != nil {
		w.logger.Error("store recommendation failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		return
	}

	w.logger.Info("scrape job completed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int64("recommendation_id", stored.ID),
		zap.String("title", stored.Work.Title),
		zap.String("status", string(stored.Work.Status)),
		zap.Duration("elapsed", w.clock.Now().Sub(start)),
	)
}

func (w *Worker) fetch(ctx context.Context, job fic.ScrapeJob) (fic.WorkMetadata, error) {
	scraper, err := w.registry.For(job.URL)
	if err != nil {
		return fic.WorkMetadata{}, err
	}
	opts := fic.FetchOptions{KeepRawHTML: w.cfg.KeepRawHTML}

	rec, err := scraper.FetchMetadata(ctx, job.URL, opts)
	if err == nil {
		return rec, nil
	}
	// Browser-level failures leave the shared session usable; the
	// contract allows one whole-fetch retry at this layer, nothing
	// more.
	if w.cfg.RetryBrowserErrors && fic.Retryable(err) {
		w.logger.Warn("retrying fetch after browser error",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		return scraper.FetchMetadata(ctx, job.URL, opts)
	}
	return fic.WorkMetadata{}, err
}

// SystemClock implements fic.Clock on the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
