package ao3

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/browser"
	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
	"github.com/fandomtools/ficbot/internal/ratelimit"
)

// pageLoader produces the rendered HTML of a target URL from an
// authenticated session. Factored out so the orchestrator's retry
// contract is testable without a browser.
type pageLoader interface {
	Load(ctx context.Context, targetURL string) (string, error)
	// Refresh purges credentials and the shared session ahead of the
	// single session-required retry.
	Refresh()
}

// Config tunes the AO3 fetch orchestrator.
type Config struct {
	FetchTimeout   time.Duration
	RateLimitPause time.Duration
}

// Scraper is the public entry point of the metadata pipeline: rate
// gate, session acquisition, authentication, navigation, parse.
type Scraper struct {
	gate   *ratelimit.Gate
	loader pageLoader
	logger *zap.Logger
	cfg    Config
}

// New assembles the full AO3 scraper on the shared gate, browser
// session manager and credential store.
func New(cfg Config, authCfg AuthConfig, gate *ratelimit.Gate, sessions *browser.Manager, creds fic.CredentialStore, logger *zap.Logger) *Scraper {
	auth := NewAuthenticator(authCfg, sessions, creds, logger)
	return newScraper(cfg, gate, &browserLoader{auth: auth, navTimeout: auth.cfg.NavTimeout}, logger)
}

func newScraper(cfg Config, gate *ratelimit.Gate, loader pageLoader, logger *zap.Logger) *Scraper {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.RateLimitPause <= 0 {
		cfg.RateLimitPause = 60 * time.Second
	}
	return &Scraper{gate: gate, loader: loader, logger: logger, cfg: cfg}
}

// FetchMetadata runs the whole pipeline for one work URL. The overall
// timeout is a race, not a cancellation: a fetch that loses the race is
// abandoned (its tab closes itself on completion) and its result
// discarded, so a slow site cannot wedge the caller.
func (s *Scraper) FetchMetadata(ctx context.Context, url string, opts fic.FetchOptions) (fic.WorkMetadata, error) {
	start := time.Now()

	// The gate is awaited synchronously so concurrent callers keep
	// their FIFO arrival order.
	if err := s.gate.Wait(ctx); err != nil {
		return fic.WorkMetadata{}, err
	}

	type outcome struct {
		rec fic.WorkMetadata
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := s.runPipeline(url, opts)
		done <- outcome{rec: rec, err: err}
	}()

	timer := time.NewTimer(s.cfg.FetchTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		s.observe(url, out.err, start)
		if fic.IsKind(out.err, fic.ErrRateLimited) {
			// Reference behavior: hold the caller back before
			// surfacing the block so the queue drains slowly.
			s.pause(ctx)
		}
		return out.rec, out.err
	case <-timer.C:
		s.logger.Warn("fetch abandoned after overall timeout",
			zap.String("url", url),
			zap.Duration("budget", s.cfg.FetchTimeout),
		)
		metrics.ObserveFetch(url, "timeout", time.Since(start))
		return fic.WorkMetadata{}, fic.NewError(fic.ErrTimeout, url,
			"metadata pipeline did not answer within the overall budget")
	case <-ctx.Done():
		return fic.WorkMetadata{}, ctx.Err()
	}
}

// runPipeline authenticates, navigates and parses, with exactly one
// re-authentication cycle when the parser reports a session-required
// page. A second session-required in a row escalates to a login
// failure instead of looping.
func (s *Scraper) runPipeline(url string, opts fic.FetchOptions) (fic.WorkMetadata, error) {
	// Deliberately detached from the caller's context: when the
	// orchestrator's timeout wins the race, the in-flight browser work
	// finishes on its own and cleans up its tab.
	ctx := context.Background()

	for attempt := 0; ; attempt++ {
		html, err := s.loader.Load(ctx, url)
		if err != nil {
			return fic.WorkMetadata{}, err
		}

		rec, perr := Parse(html, url, opts)
		if perr == nil {
			rec.FetchedAt = time.Now().UTC()
			return rec, nil
		}
		if !fic.IsKind(perr, fic.ErrSessionRequired) {
			return fic.WorkMetadata{}, perr
		}
		if attempt > 0 {
			return fic.WorkMetadata{}, fic.NewError(fic.ErrBadCredentials, url,
				"session still rejected after re-authentication")
		}
		s.logger.Info("session required mid-fetch, re-authenticating once", zap.String("url", url))
		s.loader.Refresh()
	}
}

func (s *Scraper) observe(url string, err error, start time.Time) {
	outcome := "success"
	if err != nil {
		outcome = string(fic.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.ObserveFetch(url, outcome, time.Since(start))
}

func (s *Scraper) pause(ctx context.Context) {
	timer := time.NewTimer(s.cfg.RateLimitPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// browserLoader is the production pageLoader: authenticated session,
// target navigation with interstitial bypass, DOM snapshot.
type browserLoader struct {
	auth       *Authenticator
	navTimeout time.Duration
}

func (l *browserLoader) Load(ctx context.Context, targetURL string) (string, error) {
	page, err := l.auth.ensureLoggedIn(ctx)
	if err != nil {
		return "", err
	}
	defer page.release()

	if err := gotoAndSettle(page.ctx, targetURL, l.navTimeout); err != nil {
		return "", fic.WrapError(fic.ErrBrowser, targetURL, err)
	}
	_, html, err := renderedPage(page.ctx, l.navTimeout)
	if err != nil {
		return "", fic.WrapError(fic.ErrBrowser, targetURL, err)
	}
	return html, nil
}

func (l *browserLoader) Refresh() {
	l.auth.Invalidate()
}
