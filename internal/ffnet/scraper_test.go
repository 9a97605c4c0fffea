package ffnet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

const storyURL = "https://www.fanfiction.net/s/1234567/1/Example-Story"

const completeStoryPage = `<!DOCTYPE html>
<html>
<head><title>Example Story Chapter 1, a supernatural fanfic | FanFiction</title></head>
<body>
<div id="pre_story_links">
  <span><a href="/tv/">TV Shows</a> &#187; <a href="/tv/Supernatural/">Supernatural</a></span>
</div>
<div id="profile_top">
  <b class="xcontrast_txt">Example Story</b>
  <span>By:</span> <a class="xcontrast_txt" href="/u/98765/storymaker">storymaker</a>
  <div class="xcontrast_txt">Sam and Dean take one last case before everything changes.</div>
  <span class="xgray xcontrast_txt">Rated: Fiction T - English - Drama - Chapters: 14 - Words: 61,204 - Reviews: 312 - Favs: 845 - Follows: 420 - Updated: 4/2/2023 - Published: 1/15/2022 - Status: Complete - id: 1234567</span>
</div>
</body>
</html>`

func TestParseCompleteStory(t *testing.T) {
	t.Parallel()

	rec, err := Parse(completeStoryPage, storyURL, fic.FetchOptions{})
	require.NoError(t, err)

	require.Equal(t, "Example Story", rec.Title)
	require.Equal(t, []string{"storymaker"}, rec.Authors)
	require.Equal(t, "Sam and Dean take one last case before everything changes.", rec.Summary)
	require.Equal(t, []string{"Supernatural"}, rec.Fandoms)
	require.Equal(t, "Fiction T", rec.Rating)
	require.Equal(t, "English", rec.Language)
	require.Equal(t, 61204, rec.Words)
	require.Equal(t, "14", rec.Chapters)
	require.Equal(t, 312, rec.Comments)
	require.Equal(t, 845, rec.Kudos)
	require.Equal(t, 420, rec.Bookmarks)
	require.Equal(t, "4/2/2023", rec.Updated)
	require.Equal(t, "1/15/2022", rec.Published)
	require.Equal(t, fic.StatusComplete, rec.Status)
}

func TestParseInProgressStoryWithoutStatusField(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div id="profile_top">
  <b class="xcontrast_txt">Open Ended</b>
  <a href="/u/1/someone">someone</a>
  <span class="xgray">Rated: Fiction K - English - Chapters: 3 - Words: 9,100 - Updated: 8/1/2023 - Published: 6/1/2023 - id: 555</span>
</div>
</body></html>`
	rec, err := Parse(page, storyURL, fic.FetchOptions{})
	require.NoError(t, err)
	// No explicit Status plus a recent update reads as in progress.
	require.Equal(t, fic.StatusInProgress, rec.Status)
}

func TestParseTagCategoriesAlwaysPresent(t *testing.T) {
	t.Parallel()

	rec, err := Parse(completeStoryPage, storyURL, fic.FetchOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec.Relationships)
	require.NotNil(t, rec.Characters)
	require.NotNil(t, rec.FreeformTags)
	require.NotNil(t, rec.Warnings)
}

func TestParseAuthorFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="profile_top"><b class="xcontrast_txt">Orphaned</b></div></body></html>`
	rec, err := Parse(page, storyURL, fic.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{fic.UnknownAuthor}, rec.Authors)
}

func TestParseMissingTitleFails(t *testing.T) {
	t.Parallel()

	_, err := Parse(`<html><body><p>not a story page</p></body></html>`, storyURL, fic.FetchOptions{})
	require.True(t, fic.IsKind(err, fic.ErrSchemaInvalid), "got %v", err)
}

func TestParseKeepsRawHTMLOnRequest(t *testing.T) {
	t.Parallel()

	rec, err := Parse(completeStoryPage, storyURL, fic.FetchOptions{KeepRawHTML: true})
	require.NoError(t, err)
	require.Equal(t, completeStoryPage, rec.RawHTML)
}
