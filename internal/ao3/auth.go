package ao3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/browser"
	"github.com/fandomtools/ficbot/internal/cookies"
	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
)

// Login form selectors: the primary full-page form, the compact header
// form, and the generic submit control used as a last resort.
const (
	primaryFormSelector   = "form#new_user"
	primaryUserSelector   = "input#user_login"
	primaryPassSelector   = "input#user_password"
	primarySubmitSelector = "form#new_user input[name=\"commit\"]"

	compactFormSelector   = "form.simple.login"
	compactUserSelector   = "input#user_session_login"
	compactPassSelector   = "input#user_session_password"
	compactSubmitSelector = "form.simple.login input[type=\"submit\"]"

	genericSubmitSelector = "input[type=\"submit\"]"
)

const formProbeTimeout = 10 * time.Second
const formProbeAttempts = 3

var credentialErrorPhrases = []string{
	"the password or user name you entered doesn't match our records",
	"incorrect username or password",
	"couldn't log you in",
}

// AuthConfig carries the account and tuning knobs for login.
type AuthConfig struct {
	Username    string
	Password    string
	UserAgent   string
	NavTimeout  time.Duration
	LoginPolicy fic.RetryPolicy
	TabPolicy   fic.RetryPolicy
}

// Authenticator establishes and maintains the logged-in browser state
// against the archive: cookie restore, freshness validation, fresh
// login with retry, and cookie persistence.
type Authenticator struct {
	cfg      AuthConfig
	sessions *browser.Manager
	creds    fic.CredentialStore
	flow     loginFlow
	logger   *zap.Logger
}

// loginFlow covers the browser-backed page work behind ensureLoggedIn,
// so the restore-or-login decision is testable without Chrome.
type loginFlow interface {
	openTab(ctx context.Context) (*authedPage, error)
	restoreSession(page *authedPage, jar []fic.Cookie) (bool, error)
	login(ctx context.Context, page *authedPage) (*authedPage, error)
}

// NewAuthenticator builds an Authenticator on the shared session
// manager and credential store.
func NewAuthenticator(cfg AuthConfig, sessions *browser.Manager, creds fic.CredentialStore, logger *zap.Logger) *Authenticator {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 90 * time.Second
	}
	if cfg.LoginPolicy.MaxAttempts == 0 {
		cfg.LoginPolicy = fic.LoginNavigationPolicy()
	}
	if cfg.TabPolicy.MaxAttempts == 0 {
		cfg.TabPolicy = fic.SessionRecreationPolicy()
	}
	a := &Authenticator{cfg: cfg, sessions: sessions, creds: creds, logger: logger}
	a.flow = a
	return a
}

// authedPage is a tab known to carry a logged-in archive session.
type authedPage struct {
	ctx     context.Context
	release context.CancelFunc
}

// ensureLoggedIn returns a tab with a verified logged-in session.
// Persisted cookies are tried first and purged if stale; otherwise a
// fresh login runs under the configured retry policies. The caller owns
// the returned page and must release it.
func (a *Authenticator) ensureLoggedIn(ctx context.Context) (*authedPage, error) {
	page, err := a.flow.openTab(ctx)
	if err != nil {
		return nil, err
	}

	jar, jarErr := a.creds.Load()
	if jarErr == nil {
		restored, rerr := a.flow.restoreSession(page, jar)
		if rerr != nil {
			page.release()
			return nil, rerr
		}
		if restored {
			a.logger.Info("cookie session restored, skipping login")
			return page, nil
		}
		// Cookies failed the logged-in check: purge both copies and
		// fall through to a fresh login.
		a.logger.Info("persisted cookies are stale, forcing fresh login")
		if cerr := a.creds.Clear(); cerr != nil {
			a.logger.Warn("clear stale cookies", zap.Error(cerr))
		}
	} else if !errors.Is(jarErr, cookies.ErrNoCookies) {
		// An unreadable jar would be re-read and re-warned on every
		// fetch; drop it and let the fresh login rewrite it.
		a.logger.Warn("cookie jar unreadable, clearing it before fresh login", zap.Error(jarErr))
		if cerr := a.creds.Clear(); cerr != nil {
			a.logger.Warn("clear unreadable cookie jar", zap.Error(cerr))
		}
	}

	page, err = a.flow.login(ctx, page)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (a *Authenticator) openTab(ctx context.Context) (*authedPage, error) {
	tabCtx, release, err := a.sessions.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.applyIdentity(tabCtx); err != nil {
		release()
		return nil, fic.WrapError(fic.ErrBrowser, "", err)
	}
	return &authedPage{ctx: tabCtx, release: release}, nil
}

// applyIdentity sets the fixed user agent plus a header that names the
// bot and its no-content-scraping policy, so archive admins can see who
// is knocking.
func (a *Authenticator) applyIdentity(tabCtx context.Context) error {
	headers := network.Headers{
		"X-Bot-Info": "ficbot metadata lookup; fetches work metadata only, never chapter content",
	}
	setupCtx, cancel := context.WithTimeout(tabCtx, a.cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(setupCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(a.cfg.UserAgent),
		network.SetExtraHTTPHeaders(headers),
	)
	if err != nil {
		return fmt.Errorf("apply identity headers: %w", err)
	}
	return nil
}

// restoreSession applies the persisted jar and reports whether the
// archive recognizes it. A blocked interstitial is fatal here and does
// NOT invalidate the cookies: the block is traffic-based, the cookies
// may still be perfectly good.
func (a *Authenticator) restoreSession(page *authedPage, jar []fic.Cookie) (bool, error) {
	if err := gotoAndSettle(page.ctx, BaseURL, a.cfg.NavTimeout); err != nil {
		return false, fic.WrapError(fic.ErrBrowser, BaseURL, err)
	}
	if err := a.applyCookies(page.ctx, jar); err != nil {
		return false, fic.WrapError(fic.ErrBrowser, BaseURL, err)
	}

	reloadCtx, cancel := context.WithTimeout(page.ctx, a.cfg.NavTimeout)
	err := chromedp.Run(reloadCtx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery))
	cancel()
	if err != nil {
		return false, fic.WrapError(fic.ErrBrowser, BaseURL, fmt.Errorf("reload after cookie restore: %w", err))
	}

	title, html, err := renderedPage(page.ctx, a.cfg.NavTimeout)
	if err != nil {
		return false, fic.WrapError(fic.ErrBrowser, BaseURL, err)
	}
	if BlockedPage(title, html) {
		a.logger.Warn("anti-bot interstitial after cookie restore, backing off without purging cookies")
		return false, fic.NewError(fic.ErrRateLimited, BaseURL,
			"archive is rate limiting or challenging this client")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fic.WrapError(fic.ErrParse, BaseURL, err)
	}
	return LoggedIn(doc), nil
}

// login performs a fresh credentialed login on the given page. On any
// login failure the cookie jar is purged, the shared browser session is
// force-closed so the next caller gets a clean process, and a
// descriptive fatal error is raised.
func (a *Authenticator) login(ctx context.Context, page *authedPage) (*authedPage, error) {
	page, err := a.navigateToLogin(ctx, page)
	if err != nil {
		a.failLogin(page, "navigation")
		return nil, err
	}

	if err := a.submitCredentials(page); err != nil {
		a.failLogin(page, "submit")
		return nil, err
	}

	title, html, err := renderedPage(page.ctx, a.cfg.NavTimeout)
	if err != nil {
		a.failLogin(page, "post_submit_snapshot")
		return nil, fic.WrapError(fic.ErrBrowser, LoginURL, err)
	}
	if BlockedPage(title, html) {
		metrics.ObserveLogin("blocked")
		page.release()
		return nil, fic.NewError(fic.ErrRateLimited, LoginURL,
			"archive challenged the login attempt; back off before retrying")
	}
	if matchesAny(html, credentialErrorPhrases) {
		metrics.ObserveLogin("bad_credentials")
		a.failLogin(page, "bad_credentials")
		return nil, fic.NewError(fic.ErrBadCredentials, LoginURL,
			"archive rejected the configured username or password")
	}

	jar, err := a.captureCookies(page.ctx)
	if err != nil {
		a.failLogin(page, "cookie_capture")
		return nil, fic.WrapError(fic.ErrBrowser, LoginURL, fmt.Errorf("capture cookies after login: %w", err))
	}
	if err := a.creds.Save(jar); err != nil {
		// MemoryFallback downgrades durable failures itself; an error
		// here means even the in-memory copy could not be kept.
		a.logger.Warn("cookie save failed", zap.Error(err))
	}
	metrics.ObserveLogin("success")
	a.logger.Info("archive login succeeded", zap.Int("cookies_persisted", len(jar)))

	// Hand back a fresh page with the authoritative cookies applied,
	// parked on the site root for the navigation handler.
	page.release()
	fresh, err := a.openTab(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.applyCookies(fresh.ctx, jar); err != nil {
		fresh.release()
		return nil, fic.WrapError(fic.ErrBrowser, BaseURL, err)
	}
	if err := gotoAndSettle(fresh.ctx, BaseURL, a.cfg.NavTimeout); err != nil {
		fresh.release()
		return nil, fic.WrapError(fic.ErrBrowser, BaseURL, err)
	}
	return fresh, nil
}

// navigateToLogin loads the login page under the login retry policy.
// Timeouts consume attempts with exponential backoff; a detached frame
// discards and recreates the tab without consuming one.
func (a *Authenticator) navigateToLogin(ctx context.Context, page *authedPage) (*authedPage, error) {
	recreations := 0
	navErr := fic.WithRetry(ctx, a.cfg.LoginPolicy, a.retryLoginNav, func() error {
		for {
			err := gotoAndSettle(page.ctx, LoginURL, a.cfg.NavTimeout)
			if err == nil {
				return nil
			}
			if !isDetachedFrame(err) {
				return err
			}
			recreations++
			if a.cfg.TabPolicy.Exhausted(recreations) {
				return fic.WrapError(fic.ErrBrowser, LoginURL,
					fmt.Errorf("tab kept detaching during login navigation: %w", err))
			}
			a.logger.Warn("login tab detached, recreating", zap.Int("recreations", recreations))
			page.release()
			fresh, terr := a.openTab(ctx)
			if terr != nil {
				return terr
			}
			page = fresh
		}
	})
	if navErr != nil {
		var serr *fic.ScrapeError
		if errors.As(navErr, &serr) {
			return page, navErr
		}
		if errors.Is(navErr, context.Canceled) {
			return page, fmt.Errorf("login navigation canceled: %w", navErr)
		}
		if isTimeout(navErr) {
			return page, fic.WrapError(fic.ErrLoginNavigation, LoginURL,
				fmt.Errorf("login page navigation kept timing out: %w", navErr))
		}
		return page, fic.WrapError(fic.ErrBrowser, LoginURL, navErr)
	}

	// A "new session" interstitial sometimes replaces the login page
	// right after a cookie purge; one direct re-navigation clears it.
	var title string
	titleCtx, cancel := context.WithTimeout(page.ctx, a.cfg.NavTimeout)
	err := chromedp.Run(titleCtx, chromedp.Title(&title))
	cancel()
	if err == nil && containsLower(title, "new session") {
		a.logger.Info("new session interstitial on login page, re-navigating")
		if err := gotoAndSettle(page.ctx, LoginURL, a.cfg.NavTimeout); err != nil {
			return page, fic.WrapError(fic.ErrBrowser, LoginURL, err)
		}
	}
	return page, nil
}

// retryLoginNav consumes a login attempt only for plain navigation
// timeouts; typed failures stop the retry loop immediately.
func (a *Authenticator) retryLoginNav(err error) bool {
	var serr *fic.ScrapeError
	if errors.As(err, &serr) {
		return false
	}
	if isTimeout(err) {
		a.logger.Warn("login navigation timed out, backing off", zap.Error(err))
		return true
	}
	return false
}

// submitCredentials finds a usable login form and submits the account.
// Preference order: primary full form, compact header form, then a bare
// submit control.
func (a *Authenticator) submitCredentials(page *authedPage) error {
	switch {
	case a.probeForm(page.ctx, primaryFormSelector):
		return a.fillAndSubmit(page.ctx, primaryUserSelector, primaryPassSelector, primarySubmitSelector)
	case a.probeForm(page.ctx, compactFormSelector):
		return a.fillAndSubmit(page.ctx, compactUserSelector, compactPassSelector, compactSubmitSelector)
	default:
		a.logger.Warn("no recognizable login form, clicking generic submit control")
		return a.submitAndAwaitLoad(page.ctx, genericSubmitSelector)
	}
}

func (a *Authenticator) probeForm(tabCtx context.Context, selector string) bool {
	for attempt := 0; attempt < formProbeAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(tabCtx, formProbeTimeout)
		err := chromedp.Run(probeCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
		cancel()
		if err == nil {
			return true
		}
		if !isTimeout(err) {
			return false
		}
	}
	return false
}

func (a *Authenticator) fillAndSubmit(tabCtx context.Context, userSel, passSel, submitSel string) error {
	fillCtx, cancel := context.WithTimeout(tabCtx, a.cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(fillCtx,
		chromedp.Clear(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, a.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, a.cfg.Password, chromedp.ByQuery),
	)
	if err != nil {
		return fic.WrapError(fic.ErrBrowser, LoginURL, fmt.Errorf("fill login form: %w", err))
	}
	return a.submitAndAwaitLoad(tabCtx, submitSel)
}

// submitAndAwaitLoad clicks the submit control and blocks until the
// document produced by the form POST fires its load event. A readiness
// check against the current document is not enough here: the pre-submit
// login page still satisfies it while the POST is in flight, and the
// post-submit verification would read the old page.
func (a *Authenticator) submitAndAwaitLoad(tabCtx context.Context, submitSel string) error {
	loaded := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(tabCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*cdppage.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	clickCtx, cancel := context.WithTimeout(tabCtx, a.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(clickCtx, chromedp.Click(submitSel, chromedp.ByQuery)); err != nil {
		return fic.WrapError(fic.ErrBrowser, LoginURL, fmt.Errorf("click login submit: %w", err))
	}
	if err := awaitLoadSignal(clickCtx, loaded); err != nil {
		return fic.WrapError(fic.ErrBrowser, LoginURL, err)
	}
	return nil
}

// awaitLoadSignal blocks until the relayed load event arrives or the
// context expires.
func awaitLoadSignal(ctx context.Context, loaded <-chan struct{}) error {
	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await post-submit page load: %w", ctx.Err())
	}
}

// failLogin leaves the shared state in the clean "no session, cookies
// cleared" shape so the next caller relaunches from scratch.
func (a *Authenticator) failLogin(page *authedPage, stage string) {
	a.logger.Error("archive login failed", zap.String("stage", stage))
	if page != nil {
		page.release()
	}
	if err := a.creds.Clear(); err != nil {
		a.logger.Warn("clear cookies after failed login", zap.Error(err))
	}
	a.sessions.Invalidate("login_failure")
}

// Invalidate purges credentials and the browser session together, used
// by the orchestrator's session-required retry.
func (a *Authenticator) Invalidate() {
	if err := a.creds.Clear(); err != nil {
		a.logger.Warn("clear cookies on invalidate", zap.Error(err))
	}
	a.sessions.Invalidate("session_required")
}

func (a *Authenticator) applyCookies(tabCtx context.Context, jar []fic.Cookie) error {
	params := make([]*network.CookieParam, 0, len(jar))
	for _, c := range jar {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &expires
		}
		if c.SameSite != "" {
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		params = append(params, param)
	}

	applyCtx, cancel := context.WithTimeout(tabCtx, a.cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(applyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("apply cookies: %w", err)
	}
	return nil
}

func (a *Authenticator) captureCookies(tabCtx context.Context) ([]fic.Cookie, error) {
	var jar []fic.Cookie
	captureCtx, cancel := context.WithTimeout(tabCtx, a.cfg.NavTimeout)
	defer cancel()
	err := chromedp.Run(captureCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		exported, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		jar = make([]fic.Cookie, 0, len(exported))
		for _, c := range exported {
			jar = append(jar, fic.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: c.SameSite.String(),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return jar, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return containsLower(err.Error(), "timeout") || containsLower(err.Error(), "deadline exceeded")
}

// isDetachedFrame recognizes the navigation-frame death modes chromedp
// reports when a tab dies under the navigation.
func isDetachedFrame(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"detached", "target closed", "target crashed", "no such frame", "session with given id not found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
