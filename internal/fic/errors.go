package fic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the scraping pipeline can surface.
// Callers branch on the kind, never on error text.
type ErrorKind string

// Failure kinds in the scrape error taxonomy.
const (
	// ErrRateLimited means the site is actively blocking traffic
	// (rate-limit page or captcha challenge). Not retried; callers
	// should back off substantially.
	ErrRateLimited ErrorKind = "rate_limited"
	// ErrBadCredentials is a configuration problem: the site rejected
	// the stored account credentials.
	ErrBadCredentials ErrorKind = "bad_credentials"
	// ErrLoginNavigation means login-page navigation kept timing out
	// after exhausting the internal retry budget.
	ErrLoginNavigation ErrorKind = "login_navigation"
	// ErrSessionRequired is a parser-detected signal that the target
	// page demanded a fresh authenticated session.
	ErrSessionRequired ErrorKind = "session_required"
	// ErrBrowser covers launch failures, disconnects and detached
	// frames that survived local recovery.
	ErrBrowser ErrorKind = "browser"
	// ErrSearchRedirect means the URL resolved to a site search page
	// instead of the requested work.
	ErrSearchRedirect ErrorKind = "search_redirect"
	// ErrSiteProtection means an anti-bot interstitial was served in
	// place of the work.
	ErrSiteProtection ErrorKind = "site_protection"
	// ErrSchemaInvalid means extraction finished but the assembled
	// record failed validation.
	ErrSchemaInvalid ErrorKind = "schema_invalid"
	// ErrParse wraps an unexpected internal extraction failure.
	ErrParse ErrorKind = "parse"
	// ErrTimeout means the pipeline as a whole did not answer in time.
	// Deliberately distinct from every site-reported failure.
	ErrTimeout ErrorKind = "timeout"
)

// ScrapeError is the typed error returned across the scraping pipeline.
type ScrapeError struct {
	Kind ErrorKind
	URL  string
	Msg  string
	Err  error
	// Details carries structured context (raw field lists, validator
	// errors) so human-facing messages can explain the failure without
	// inspecting internals.
	Details []string
}

func (e *ScrapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Kind)
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// NewError builds a ScrapeError for the given kind and URL.
func NewError(kind ErrorKind, url, msg string) *ScrapeError {
	return &ScrapeError{Kind: kind, URL: url, Msg: msg}
}

// WrapError builds a ScrapeError wrapping an underlying cause.
func WrapError(kind ErrorKind, url string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a
// ScrapeError.
func KindOf(err error) ErrorKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may re-invoke the whole fetch
// once for this error. Only browser-level failures qualify; everything
// else is either fatal or already retried internally.
func Retryable(err error) bool {
	return IsKind(err, ErrBrowser)
}
