// Package ffnet implements the FanFiction.Net-shape metadata scraper.
// These sites have no login wall or bot defense, so a plain HTTP
// collector is enough; only the extraction rules are site-specific.
package ffnet

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Scraper fetches and parses story pages over plain HTTP.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Scraper{cfg: cfg, baseCollector: c, logger: logger}
}

// FetchMetadata retrieves one story page and extracts its metadata.
func (s *Scraper) FetchMetadata(ctx context.Context, url string, opts fic.FetchOptions) (fic.WorkMetadata, error) {
	start := time.Now()

	var (
		body     []byte
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	if err := ctx.Err(); err != nil {
		return fic.WorkMetadata{}, fmt.Errorf("fetch canceled: %w", err)
	}
	if err := collector.Visit(url); err != nil {
		metrics.ObserveFetch(url, "error", time.Since(start))
		return fic.WorkMetadata{}, fic.WrapError(fic.ErrParse, url, fmt.Errorf("visit: %w", err))
	}
	collector.Wait()
	if fetchErr != nil {
		metrics.ObserveFetch(url, "error", time.Since(start))
		return fic.WorkMetadata{}, fic.WrapError(fic.ErrParse, url, fmt.Errorf("fetch: %w", fetchErr))
	}

	rec, err := Parse(string(body), url, opts)
	if err != nil {
		metrics.ObserveFetch(url, string(fic.KindOf(err)), time.Since(start))
		return fic.WorkMetadata{}, err
	}
	metrics.ObserveFetch(url, "success", time.Since(start))
	return rec, nil
}

// Parse extracts metadata from a story page. The interesting part is
// the profile line, a single "Rated: ... - Words: ... - Status: ..."
// string holding most stats.
func Parse(html, pageURL string, opts fic.FetchOptions) (fic.WorkMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fic.WorkMetadata{}, fic.WrapError(fic.ErrParse, pageURL, err)
	}

	rec := fic.WorkMetadata{
		URL:           pageURL,
		Title:         strings.TrimSpace(doc.Find("#profile_top b.xcontrast_txt").First().Text()),
		Authors:       extractAuthors(doc),
		Summary:       strings.TrimSpace(doc.Find("#profile_top div.xcontrast_txt").First().Text()),
		Fandoms:       []string{},
		Relationships: []string{},
		Characters:    []string{},
		FreeformTags:  []string{},
		Warnings:      []string{},
		Status:        fic.StatusUnknown,
	}

	if fandom := strings.TrimSpace(doc.Find("#pre_story_links a").Last().Text()); fandom != "" {
		rec.Fandoms = append(rec.Fandoms, fandom)
	}

	profile := doc.Find("#profile_top span.xgray").First().Text()
	applyProfileLine(&rec, profile)

	if rec.Title == "" {
		pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
		rec.Title = strings.TrimSpace(strings.Split(pageTitle, "|")[0])
	}

	if opts.KeepRawHTML {
		rec.RawHTML = html
	}
	rec.FetchedAt = time.Now().UTC()

	if rec.Title == "" {
		return fic.WorkMetadata{}, fic.NewError(fic.ErrSchemaInvalid, pageURL, "no title found on story page")
	}
	return rec, nil
}

func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	doc.Find("#profile_top a[href^=\"/u/\"]").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) == 0 {
		return []string{fic.UnknownAuthor}
	}
	return authors
}

var profileFieldPattern = regexp.MustCompile(`(Rated|Words|Chapters|Reviews|Favs|Follows|Published|Updated|Status):\s*([^-]+)`)

func applyProfileLine(rec *fic.WorkMetadata, profile string) {
	if strings.TrimSpace(profile) == "" {
		return
	}
	for _, match := range profileFieldPattern.FindAllStringSubmatch(profile, -1) {
		label, value := match[1], strings.TrimSpace(match[2])
		switch label {
		case "Rated":
			rec.Rating = value
		case "Words":
			rec.Words = parseCount(value)
		case "Chapters":
			rec.Chapters = value
		case "Reviews":
			rec.Comments = parseCount(value)
		case "Favs":
			rec.Kudos = parseCount(value)
		case "Follows":
			rec.Bookmarks = parseCount(value)
		case "Published":
			rec.Published = value
		case "Updated":
			rec.Updated = value
		case "Status":
			if strings.EqualFold(value, "complete") {
				rec.Status = fic.StatusComplete
			} else {
				rec.Status = fic.StatusInProgress
			}
		}
	}
	// The profile line only carries Status on finished stories.
	if rec.Status == fic.StatusUnknown && rec.Updated != "" {
		rec.Status = fic.StatusInProgress
	}
	// The language sits in the second dash-separated segment, the only
	// one without a label.
	segments := strings.Split(profile, " - ")
	if rec.Language == "" && len(segments) > 1 && !strings.Contains(segments[1], ":") {
		rec.Language = strings.TrimSpace(segments[1])
	}
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return 0
	}
	return n
}
