// Package browser owns the single shared headless-Chrome process used
// for all archive navigation.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
)

// Config controls the shared browser session.
type Config struct {
	Headless       bool
	UserAgent      string
	MaxUses        int
	MaxOpenTabs    int
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
}

// Launcher starts a browser and returns its context plus a cancel that
// tears the whole process down. Injectable so session accounting can be
// tested without Chrome.
type Launcher func(parent context.Context, cfg Config) (context.Context, context.CancelFunc, error)

// Prober checks that the given browser context still answers trivial
// commands. Injectable for the same reason.
type Prober func(ctx context.Context) error

// Manager hands out tabs on one shared browser process and recycles the
// process after MaxUses acquisitions, on disconnect, or on a failed
// health probe. All teardown-and-relaunch paths run under one mutex so
// two concurrent resets can never race to null out the shared handle.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	launch Launcher
	probe  Prober
	parent context.Context

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	uses          int
	createdAt     time.Time
	generation    int
	tabs          []tab
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds a Manager. The browser is launched lazily on first
// demand, not here.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxUses <= 0 {
		cfg.MaxUses = 25
	}
	if cfg.MaxOpenTabs <= 0 {
		cfg.MaxOpenTabs = 4
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		launch: chromedpLauncher,
		probe:  chromedpProbe,
		parent: context.Background(),
	}
}

// SetLauncher overrides the browser launcher. Intended for tests.
func (m *Manager) SetLauncher(l Launcher) { m.launch = l }

// SetProber overrides the health probe. Intended for tests.
func (m *Manager) SetProber(p Prober) { m.probe = p }

// Acquire returns a live, connected browser context, counting one use.
// A stale or exhausted session is closed (close errors swallowed and
// logged) and a fresh process launched in its place.
func (m *Manager) Acquire(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browserCtx != nil && m.browserCtx.Err() == nil && m.uses < m.cfg.MaxUses {
		m.uses++
		return m.browserCtx, nil
	}

	reason := "initial"
	if m.browserCtx != nil {
		if m.browserCtx.Err() != nil {
			reason = "disconnected"
		} else {
			reason = "use_limit"
		}
		m.teardownLocked(reason)
	}

	browserCtx, cancel, err := m.launch(m.parent, m.cfg)
	if err != nil {
		return nil, fic.WrapError(fic.ErrBrowser, "", fmt.Errorf("launch browser: %w", err))
	}

	m.browserCtx = browserCtx
	m.browserCancel = cancel
	m.uses = 1
	m.createdAt = time.Now().UTC()
	m.generation++
	metrics.ObserveRelaunch(reason)
	m.logger.Info("browser session launched",
		zap.String("reason", reason),
		zap.Int("generation", m.generation),
		zap.Time("created_at", m.createdAt),
	)

	go m.watchDisconnect(browserCtx, m.generation)
	return m.browserCtx, nil
}

// NewTab acquires the session and opens a tab on it, enforcing the
// open-tab cap: when more than the cap are open, all but the first are
// closed (best effort) before the new one is created.
func (m *Manager) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	browserCtx, err := m.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneTabsLocked()
	if len(m.tabs) > m.cfg.MaxOpenTabs {
		m.logger.Warn("open tab cap exceeded, closing extras",
			zap.Int("open", len(m.tabs)),
			zap.Int("cap", m.cfg.MaxOpenTabs),
		)
		for _, t := range m.tabs[1:] {
			t.cancel()
		}
		m.tabs = m.tabs[:1]
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	m.tabs = append(m.tabs, tab{ctx: tabCtx, cancel: tabCancel})
	metrics.SetOpenTabs(len(m.tabs))

	release := func() {
		tabCancel()
		m.mu.Lock()
		m.pruneTabsLocked()
		metrics.SetOpenTabs(len(m.tabs))
		m.mu.Unlock()
	}
	return tabCtx, release, nil
}

// Invalidate force-closes the shared session so the next caller gets a
// clean process. Safe to call when no session is live.
func (m *Manager) Invalidate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx == nil {
		return
	}
	m.teardownLocked(reason)
}

// UseCount reports how many acquisitions the live session has served.
func (m *Manager) UseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx == nil {
		return 0
	}
	return m.uses
}

// Live reports whether a connected session currently exists.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browserCtx != nil && m.browserCtx.Err() == nil
}

// Close tears down the session. Used at process shutdown.
func (m *Manager) Close() {
	m.Invalidate("shutdown")
}

// Run drives the periodic health check until ctx ends. Each cycle logs
// the open tab count and performs a throwaway probe; a probe failure
// tears the session down ahead of the next acquisition.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.healthCheck(ctx)
		}
	}
}

func (m *Manager) healthCheck(ctx context.Context) {
	m.mu.Lock()
	m.pruneTabsLocked()
	open := len(m.tabs)
	browserCtx := m.browserCtx
	uses := m.uses
	m.mu.Unlock()

	metrics.SetOpenTabs(open)
	m.logger.Info("browser health check",
		zap.Int("open_tabs", open),
		zap.Int("uses", uses),
		zap.Bool("live", browserCtx != nil && browserCtx.Err() == nil),
	)

	if browserCtx == nil || browserCtx.Err() != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(browserCtx, m.cfg.ProbeTimeout)
	err := m.probe(probeCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("browser health probe failed, recycling session", zap.Error(err))
		m.Invalidate("health_probe")
	}
}

// watchDisconnect treats browser death as an asynchronous event: when
// the browser context ends while still current, the shared state is
// reset so the next Acquire transparently relaunches.
func (m *Manager) watchDisconnect(browserCtx context.Context, generation int) {
	<-browserCtx.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation || m.browserCtx == nil {
		return
	}
	m.logger.Warn("browser session disconnected",
		zap.Int("generation", generation),
		zap.Int("uses_served", m.uses),
	)
	m.teardownLocked("disconnect_event")
}

func (m *Manager) teardownLocked(reason string) {
	for _, t := range m.tabs {
		t.cancel()
	}
	m.tabs = nil
	if m.browserCancel != nil {
		m.browserCancel()
	}
	m.logger.Info("browser session closed",
		zap.String("reason", reason),
		zap.Int("uses_served", m.uses),
	)
	m.browserCtx = nil
	m.browserCancel = nil
	m.uses = 0
	m.generation++
	metrics.SetOpenTabs(0)
}

func (m *Manager) pruneTabsLocked() {
	keep := m.tabs[:0]
	for _, t := range m.tabs {
		if t.ctx.Err() == nil {
			keep = append(keep, t)
		}
	}
	m.tabs = keep
}

func chromedpLauncher(parent context.Context, cfg Config) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	return browserCtx, cancel, nil
}

func chromedpProbe(ctx context.Context) error {
	probeCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("probe tab: %w", err)
	}
	return nil
}
