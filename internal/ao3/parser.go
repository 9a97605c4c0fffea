package ao3

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fandomtools/ficbot/internal/fic"
)

var whitespaceCollapser = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")

// Parse extracts a normalized metadata record from the raw markup of a
// work page. Gates run first, in order, each short-circuiting with a
// typed error; extraction only begins once all of them pass. Every
// returned error is a data result for the caller, not a panic.
func Parse(html, pageURL string, opts fic.FetchOptions) (rec fic.WorkMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = fic.WorkMetadata{}
			err = fic.NewError(fic.ErrParse, pageURL, fmt.Sprintf("internal extraction failure: %v", r))
		}
	}()

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if docErr != nil {
		return fic.WorkMetadata{}, fic.WrapError(fic.ErrParse, pageURL, docErr)
	}

	if gateErr := detectGate(doc, pageURL); gateErr != nil {
		return fic.WorkMetadata{}, gateErr
	}

	rec = fic.WorkMetadata{
		URL:           pageURL,
		Title:         extractTitle(doc),
		Authors:       extractAuthors(doc),
		Summary:       extractSummary(doc),
		Fandoms:       extractTagList(doc, "dd.fandom.tags"),
		Relationships: extractTagList(doc, "dd.relationship.tags"),
		Characters:    extractTagList(doc, "dd.character.tags"),
		FreeformTags:  extractTagList(doc, "dd.freeform.tags"),
		Warnings:      extractTagList(doc, "dd.warning.tags"),
	}
	if ratings := extractTagList(doc, "dd.rating.tags"); len(ratings) > 0 {
		rec.Rating = ratings[0]
	}

	stats := scanStats(doc)
	applyStats(&rec, stats)

	rec.Status = inferStatus(statusSignals{
		FreeformTags:  rec.FreeformTags,
		CompleteIcon:  extractCompleteIcon(doc),
		Chapters:      rec.Chapters,
		CompletedDate: stats.completed,
		StatusText:    stats.statusText,
	})

	if opts.KeepRawHTML {
		rec.RawHTML = html
	}

	if verr := validate(rec); verr != nil {
		return fic.WorkMetadata{}, verr
	}
	return rec, nil
}

func extractTitle(doc *goquery.Document) string {
	if heading := doc.Find("h2.title.heading").First(); heading.Length() > 0 {
		cloned := heading.Clone()
		cloned.Find("img").Remove()
		if title := collapse(cloned.Text()); title != "" {
			return title
		}
	}
	pageTitle := collapse(doc.Find("title").First().Text())
	pageTitle = strings.TrimSuffix(pageTitle, siteTitleSuffix)
	pageTitle = strings.TrimSuffix(pageTitle, " [Archive of Our Own]")
	return strings.TrimSpace(pageTitle)
}

// extractAuthors walks the fallback chain: explicit author-relation
// links, then the byline's plain text minus a leading "by", then a
// document-wide scan for anonymous/orphaned markers, and finally the
// sentinel. Co-authors stay an ordered list.
func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	doc.Find("h3.byline a[rel=\"author\"]").Each(func(_ int, s *goquery.Selection) {
		if name := collapse(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) > 0 {
		return authors
	}

	byline := collapse(doc.Find("h3.byline").First().Text())
	byline = strings.TrimSpace(strings.TrimPrefix(byline, "by "))
	if byline != "" {
		for _, part := range strings.Split(byline, ",") {
			if name := strings.TrimSpace(part); name != "" {
				authors = append(authors, name)
			}
		}
	}
	if len(authors) > 0 {
		return authors
	}

	wholeDoc := doc.Text()
	if containsLower(wholeDoc, "anonymous") {
		return []string{"Anonymous"}
	}
	if containsLower(wholeDoc, "orphan_account") {
		return []string{"orphan_account"}
	}
	return []string{fic.UnknownAuthor}
}

func extractSummary(doc *goquery.Document) string {
	return collapse(doc.Find("div.summary blockquote.userstuff p").First().Text())
}

// extractTagList reads anchor-tag text within the designated container.
// A container with no matching children yields an empty, non-nil slice
// so every tag-category field is always present for schema stability.
// Anything nested in the chapter-navigation region is skipped: chapter
// selector entries look exactly like tags and must not be misread.
func extractTagList(doc *goquery.Document, containerSelector string) []string {
	tags := []string{}
	doc.Find(containerSelector + " a.tag").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("#chapter_index, ul.chapter.index, .chapter.navigation").Length() > 0 {
			return
		}
		if tag := collapse(s.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})
	return tags
}

func extractCompleteIcon(doc *goquery.Document) *bool {
	if doc.Find("span.complete-yes, .marked.complete, img[title=\"Complete\"]").Length() > 0 {
		v := true
		return &v
	}
	if doc.Find("span.complete-no, img[title=\"Work in Progress\"]").Length() > 0 {
		v := false
		return &v
	}
	return nil
}

// statsFields accumulates the label/value pairs scanned from the whole
// document. Equivalent data can appear in more than one place, so the
// scan is not confined to a single stats block.
type statsFields struct {
	words      int
	chapters   string
	published  string
	updated    string
	completed  *string
	kudos      int
	hits       int
	bookmarks  int
	comments   int
	language   string
	rating     string
	statusText string
	warnings   []string
}

// tagCategoryLabels are the definition-list labels handled by the tag
// extractors; the stats scan skips them instead of flagging them.
var tagCategoryLabels = map[string]bool{
	"fandom":           true,
	"fandoms":          true,
	"relationship":     true,
	"relationships":    true,
	"character":        true,
	"characters":       true,
	"additional tags":  true,
	"archive warning":  true,
	"archive warnings": true,
	"warning":          true,
	"warnings":         true,
	"category":         true,
	"categories":       true,
	"series":           true,
	"collections":      true,
	"stats":            true,
	"more tags":        true,
}

func scanStats(doc *goquery.Document) statsFields {
	var out statsFields
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(strings.TrimSuffix(collapse(dt.Text()), ":"))
		dd := dt.NextFiltered("dd")
		if label == "" || dd.Length() == 0 {
			return
		}
		value := collapse(dd.Text())

		switch label {
		case "words", "word count":
			out.words = parseCount(value, out.words)
		case "chapters":
			out.chapters = value
		case "published":
			out.published = laterDate(out.published, value)
		case "updated":
			out.updated = laterDate(out.updated, value)
		case "completed":
			if out.completed == nil || *out.completed == "" || laterDate(*out.completed, value) == value {
				v := value
				out.completed = &v
			}
		case "kudos":
			out.kudos = parseCount(value, out.kudos)
		case "hits":
			out.hits = parseCount(value, out.hits)
		case "bookmarks":
			out.bookmarks = parseCount(value, out.bookmarks)
		case "comments":
			out.comments = parseCount(value, out.comments)
		case "language":
			out.language = value
		case "rating":
			out.rating = value
		case "status":
			out.statusText = value
		default:
			if tagCategoryLabels[label] {
				return
			}
			// Unrecognized pairs are surfaced, not dropped: the archive
			// adds stat labels without notice.
			out.warnings = append(out.warnings, fmt.Sprintf("unrecognized stats field %q = %q", label, value))
		}
	})
	return out
}

func applyStats(rec *fic.WorkMetadata, stats statsFields) {
	rec.Words = stats.words
	rec.Chapters = stats.chapters
	rec.Published = stats.published
	rec.Updated = stats.updated
	if stats.completed != nil {
		rec.Completed = *stats.completed
	}
	rec.Kudos = stats.kudos
	rec.Hits = stats.hits
	rec.Bookmarks = stats.bookmarks
	rec.Comments = stats.comments
	rec.Language = stats.language
	if rec.Rating == "" {
		rec.Rating = stats.rating
	}
	rec.ParseWarnings = stats.warnings
}

func validate(rec fic.WorkMetadata) error {
	var missing []string
	if strings.TrimSpace(rec.Title) == "" {
		missing = append(missing, "title")
	}
	if len(rec.Authors) == 0 {
		missing = append(missing, "authors")
	}
	if len(missing) == 0 {
		return nil
	}
	return &fic.ScrapeError{
		Kind: fic.ErrSchemaInvalid,
		URL:  rec.URL,
		Msg:  "record failed schema validation",
		Details: append(
			[]string{fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))},
			describeFields(rec)...,
		),
	}
}

func describeFields(rec fic.WorkMetadata) []string {
	return []string{
		fmt.Sprintf("title=%q", rec.Title),
		fmt.Sprintf("authors=%v", rec.Authors),
		fmt.Sprintf("chapters=%q", rec.Chapters),
		fmt.Sprintf("words=%d", rec.Words),
	}
}

// laterDate keeps whichever of the two date strings reads later. A
// previously found value is only overwritten by one that is textually
// later, which guards against picking up a stale duplicate from a
// second stats block.
func laterDate(existing, candidate string) string {
	if existing == "" {
		return candidate
	}
	if candidate == "" {
		return existing
	}
	if candidate > existing {
		return candidate
	}
	return existing
}

func parseCount(value string, fallback int) int {
	n, err := strconv.Atoi(stripThousands(strings.TrimSpace(value)))
	if err != nil {
		return fallback
	}
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(whitespaceCollapser.Replace(s)), " ")
}
