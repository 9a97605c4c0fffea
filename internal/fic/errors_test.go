package fic

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrapeErrorMessageShape(t *testing.T) {
	t.Parallel()

	err := NewError(ErrSearchRedirect, "https://example.org/works/1", "resolved to search")
	require.Equal(t,
		"search_redirect (https://example.org/works/1): resolved to search",
		err.Error(),
	)
}

func TestKindOfUnwrapsThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := WrapError(ErrBrowser, "https://example.org/works/2", errors.New("tab crashed"))
	wrapped := fmt.Errorf("fetch failed: %w", inner)

	require.Equal(t, ErrBrowser, KindOf(wrapped))
	require.True(t, IsKind(wrapped, ErrBrowser))
	require.False(t, IsKind(wrapped, ErrRateLimited))
}

func TestKindOfForeignError(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	require.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestRetryableOnlyForBrowserFailures(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(WrapError(ErrBrowser, "", errors.New("disconnect"))))

	for _, kind := range []ErrorKind{
		ErrRateLimited, ErrBadCredentials, ErrLoginNavigation,
		ErrSessionRequired, ErrSearchRedirect, ErrSiteProtection,
		ErrSchemaInvalid, ErrParse, ErrTimeout,
	} {
		require.False(t, Retryable(NewError(kind, "", "nope")), "kind %s", kind)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := WrapError(ErrParse, "u", cause)
	require.ErrorIs(t, err, cause)
}
