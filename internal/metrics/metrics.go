// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeFetchesTotal        *prometheus.CounterVec
	scrapeLoginAttemptsTotal  *prometheus.CounterVec
	browserRelaunchesTotal    *prometheus.CounterVec
	browserOpenTabs           prometheus.Gauge
	rateGateDelaySeconds      prometheus.Histogram
	scrapeFetchDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ficbot_fetches_total",
				Help: "Total metadata fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scrapeLoginAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ficbot_login_attempts_total",
				Help: "Total archive login attempts, labeled by result.",
			},
			[]string{"result"},
		)

		browserRelaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ficbot_browser_relaunches_total",
				Help: "Browser session relaunches, labeled by reason.",
			},
			[]string{"reason"},
		)

		browserOpenTabs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ficbot_browser_open_tabs",
				Help: "Number of tabs currently open in the shared browser.",
			},
		)

		rateGateDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ficbot_rate_gate_delay_seconds",
				Help:    "Histogram of rate gate wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16, 30},
			},
		)

		scrapeFetchDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ficbot_fetch_duration_seconds",
				Help:    "Histogram of end-to-end fetch latencies, labeled by site.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for metric labels.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed fetch attempt.
func ObserveFetch(site, outcome string, duration time.Duration) {
	sanitized := SanitizeSite(site)
	scrapeFetchesTotal.WithLabelValues(sanitized, outcome).Inc()
	scrapeFetchDurationSecond.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveLogin records a login attempt outcome.
func ObserveLogin(result string) {
	scrapeLoginAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRelaunch counts a browser session relaunch by reason.
func ObserveRelaunch(reason string) {
	browserRelaunchesTotal.WithLabelValues(reason).Inc()
}

// SetOpenTabs updates the open tab gauge.
func SetOpenTabs(n int) {
	browserOpenTabs.Set(float64(n))
}

// ObserveRateGateDelay records the duration of a rate gate wait.
func ObserveRateGateDelay(duration time.Duration) {
	rateGateDelaySeconds.Observe(duration.Seconds())
}
