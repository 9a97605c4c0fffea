package ao3

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fandomtools/ficbot/internal/cookies"
	"github.com/fandomtools/ficbot/internal/fic"
)

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	require.True(t, isTimeout(context.DeadlineExceeded))
	require.True(t, isTimeout(errors.New("navigation timeout exceeded")))
	require.True(t, isTimeout(errors.New("context deadline exceeded while waiting")))
	require.False(t, isTimeout(errors.New("connection refused")))
	require.False(t, isTimeout(nil))
}

func TestIsDetachedFrame(t *testing.T) {
	t.Parallel()

	require.True(t, isDetachedFrame(errors.New("navigating frame was detached")))
	require.True(t, isDetachedFrame(errors.New("Target closed")))
	require.True(t, isDetachedFrame(errors.New("session with given id not found")))
	require.False(t, isDetachedFrame(errors.New("net::ERR_NAME_NOT_RESOLVED")))
	require.False(t, isDetachedFrame(nil))
}

func TestLoggedInDetection(t *testing.T) {
	t.Parallel()

	loggedIn := `<html><body><nav><a href="/users/logout">Log Out</a></nav></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(loggedIn))
	require.NoError(t, err)
	require.True(t, LoggedIn(doc))

	byText := `<html><body><a href="/session/destroy">log out</a></body></html>`
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(byText))
	require.NoError(t, err)
	require.True(t, LoggedIn(doc))

	loggedOut := `<html><body><a href="/users/login">Log In</a></body></html>`
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(loggedOut))
	require.NoError(t, err)
	require.False(t, LoggedIn(doc))
}

// recordingCreds is a CredentialStore that counts invalidations.
type recordingCreds struct {
	jar     []fic.Cookie
	loadErr error
	clears  int
}

func (c *recordingCreds) Load() ([]fic.Cookie, error) {
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.jar, nil
}

func (c *recordingCreds) Save(jar []fic.Cookie) error {
	c.jar = jar
	return nil
}

func (c *recordingCreds) Clear() error {
	c.clears++
	c.jar = nil
	return nil
}

// fakeFlow stands in for the chromedp-backed page work so the restore
// decision in ensureLoggedIn runs without a browser.
type fakeFlow struct {
	restored   bool
	restoreErr error
	restores   int
	logins     int
	releases   int
}

func (f *fakeFlow) openTab(ctx context.Context) (*authedPage, error) {
	return &authedPage{ctx: context.Background(), release: func() { f.releases++ }}, nil
}

func (f *fakeFlow) restoreSession(page *authedPage, jar []fic.Cookie) (bool, error) {
	f.restores++
	return f.restored, f.restoreErr
}

func (f *fakeFlow) login(ctx context.Context, page *authedPage) (*authedPage, error) {
	f.logins++
	return page, nil
}

func newFlowAuthenticator(t *testing.T, creds fic.CredentialStore, flow loginFlow) *Authenticator {
	t.Helper()
	a := NewAuthenticator(AuthConfig{Username: "reader", Password: "hunter2"}, nil, creds, zaptest.NewLogger(t))
	a.flow = flow
	return a
}

func TestEnsureLoggedInReusesFreshCookies(t *testing.T) {
	t.Parallel()

	creds := &recordingCreds{jar: []fic.Cookie{{Name: "_session", Value: "v"}}}
	flow := &fakeFlow{restored: true}
	a := newFlowAuthenticator(t, creds, flow)

	page, err := a.ensureLoggedIn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Equal(t, 1, flow.restores)
	require.Zero(t, flow.logins)
	require.Zero(t, creds.clears)
}

func TestEnsureLoggedInPurgesStaleCookies(t *testing.T) {
	t.Parallel()

	creds := &recordingCreds{jar: []fic.Cookie{{Name: "_session", Value: "expired"}}}
	flow := &fakeFlow{restored: false}
	a := newFlowAuthenticator(t, creds, flow)

	page, err := a.ensureLoggedIn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Equal(t, 1, creds.clears, "stale cookies must be invalidated before the fresh login")
	require.Equal(t, 1, flow.logins, "fresh login path must be taken")
}

func TestEnsureLoggedInClearsUnreadableJar(t *testing.T) {
	t.Parallel()

	creds := &recordingCreds{loadErr: errors.New("unmarshal cookie jar: unexpected end of JSON input")}
	flow := &fakeFlow{}
	a := newFlowAuthenticator(t, creds, flow)

	_, err := a.ensureLoggedIn(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, creds.clears, "corrupt jar must not be re-read on every fetch")
	require.Equal(t, 1, flow.logins)
	require.Zero(t, flow.restores)
}

func TestEnsureLoggedInEmptyJarSkipsClear(t *testing.T) {
	t.Parallel()

	creds := &recordingCreds{loadErr: cookies.ErrNoCookies}
	flow := &fakeFlow{}
	a := newFlowAuthenticator(t, creds, flow)

	_, err := a.ensureLoggedIn(context.Background())
	require.NoError(t, err)
	require.Zero(t, creds.clears)
	require.Equal(t, 1, flow.logins)
}

func TestEnsureLoggedInRestoreErrorKeepsCookies(t *testing.T) {
	t.Parallel()

	creds := &recordingCreds{jar: []fic.Cookie{{Name: "_session", Value: "v"}}}
	flow := &fakeFlow{restoreErr: fic.NewError(fic.ErrRateLimited, BaseURL, "challenged")}
	a := newFlowAuthenticator(t, creds, flow)

	_, err := a.ensureLoggedIn(context.Background())
	require.True(t, fic.IsKind(err, fic.ErrRateLimited))
	require.Zero(t, creds.clears, "a traffic block must not invalidate cookies")
	require.Zero(t, flow.logins)
	require.Equal(t, 1, flow.releases)
}

func TestAwaitLoadSignal(t *testing.T) {
	t.Parallel()

	loaded := make(chan struct{}, 1)
	loaded <- struct{}{}
	require.NoError(t, awaitLoadSignal(context.Background(), loaded))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := awaitLoadSignal(ctx, make(chan struct{}))
	require.Error(t, err, "the post-submit snapshot must not run until the new document loads")
	require.Contains(t, err.Error(), "await post-submit page load")
}

func TestRetryLoginNav(t *testing.T) {
	t.Parallel()

	a := newFlowAuthenticator(t, &recordingCreds{}, &fakeFlow{})

	require.True(t, a.retryLoginNav(context.DeadlineExceeded))
	require.True(t, a.retryLoginNav(errors.New("navigation timeout exceeded")))
	require.False(t, a.retryLoginNav(errors.New("net::ERR_NAME_NOT_RESOLVED")))
	// Typed failures already carry a verdict and must not be retried.
	require.False(t, a.retryLoginNav(fic.WrapError(fic.ErrBrowser, LoginURL, context.DeadlineExceeded)))
}
