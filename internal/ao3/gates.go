// Package ao3 implements the authenticated scraper for the primary
// fiction archive: login and cookie management, navigation, and the
// metadata extraction pipeline.
package ao3

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fandomtools/ficbot/internal/fic"
)

// BaseURL is the archive root used for login and cookie restoration.
const BaseURL = "https://archiveofourown.org"

// LoginURL is the archive's login page.
const LoginURL = BaseURL + "/users/login"

const siteTitleSuffix = " | Archive of Our Own"

const searchPageTitle = "Search Works | Archive of Our Own"

// Phrases that mark an anti-bot or rate-limit interstitial. The archive
// fronts Cloudflare, so both its own throttle page and the challenge
// page must be recognized.
var protectionPhrases = []string{
	"rate limit",
	"too many requests",
	"retry later",
	"prove you are human",
	"verify you are human",
	"captcha",
	"cloudflare",
	"attention required",
	"just a moment",
	"ddos protection",
	"checking your browser",
}

var sessionPhrases = []string{
	"your session has expired",
	"you need to log in",
	"please log in",
	"log in to view this work",
	"this work is only available to registered users",
	"auth error",
}

// The interstitial the archive serves after a session restore; it is a
// redirect artifact, not a page worth parsing.
var interstitialPhrases = []string{
	"stay logged in",
	"keep me logged in",
}

func containsLower(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// BlockedPage reports whether a rendered page looks like an anti-bot or
// rate-limit interstitial. This is the broad post-navigation check used
// by the authenticator; the parser applies a narrower gate of its own.
func BlockedPage(title, body string) bool {
	return matchesAny(title, protectionPhrases) || matchesAny(body, protectionPhrases)
}

// LoggedIn reports whether the page carries the archive's logged-in
// marker: a link to the log-out endpoint.
func LoggedIn(doc *goquery.Document) bool {
	found := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.Contains(href, "/users/logout") {
			found = true
			return false
		}
		if strings.EqualFold(strings.TrimSpace(s.Text()), "log out") {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsInterstitial reports whether the body text is the "stay logged in"
// continue page.
func IsInterstitial(body string) bool {
	return matchesAny(body, interstitialPhrases)
}

// detectGate runs the parser's ordered short-circuit checks. A nil
// return means extraction may proceed.
func detectGate(doc *goquery.Document, pageURL string) *fic.ScrapeError {
	title := strings.TrimSpace(doc.Find("title").First().Text())

	if title == searchPageTitle || strings.HasPrefix(title, "Search Works") {
		return fic.NewError(fic.ErrSearchRedirect, pageURL,
			"target resolved to a site search page instead of a work")
	}

	if sessionRequired(doc, title) {
		return fic.NewError(fic.ErrSessionRequired, pageURL,
			"page demands a fresh authenticated session")
	}

	if protectionDetected(doc, title) {
		return fic.NewError(fic.ErrSiteProtection, pageURL,
			"anti-bot protection served in place of the work")
	}

	return nil
}

func sessionRequired(doc *goquery.Document, title string) bool {
	if doc.Find("form#new_session").Length() > 0 {
		return true
	}
	if containsLower(title, "new session") {
		return true
	}
	body := doc.Find("body").Text()
	return matchesAny(title, sessionPhrases) || matchesAny(body, sessionPhrases)
}

// protectionDetected is deliberately narrow: only the <title> and the
// top-level headings count, so a work whose tags happen to mention
// "Cloudflare" does not trip the gate.
func protectionDetected(doc *goquery.Document, title string) bool {
	if matchesAny(title, protectionPhrases) {
		return true
	}
	tripped := false
	doc.Find("h1, body > h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if matchesAny(s.Text(), protectionPhrases) {
			tripped = true
			return false
		}
		return true
	})
	return tripped
}
