package ao3

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// gotoAndSettle navigates the tab to targetURL under a bounded timeout
// and bypasses the "stay logged in" continue page when it appears. The
// interstitial is a redirect artifact: the fix is re-navigating straight
// to the target, not parsing it. Idempotent; retries belong to the
// orchestrator.
func gotoAndSettle(tabCtx context.Context, targetURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", targetURL, err)
	}

	var body string
	if err := chromedp.Run(navCtx,
		chromedp.Text("body", &body, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("inspect page after navigation: %w", err)
	}

	if IsInterstitial(body) {
		if err := chromedp.Run(navCtx,
			chromedp.Navigate(targetURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("bypass interstitial for %s: %w", targetURL, err)
		}
	}
	return nil
}

// renderedPage snapshots the tab's title and full DOM.
func renderedPage(tabCtx context.Context, timeout time.Duration) (title, html string, err error) {
	snapCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	err = chromedp.Run(snapCtx,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("snapshot page: %w", err)
	}
	return title, html, nil
}
