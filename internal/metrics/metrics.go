// Package metrics exposes Prometheus collectors for the outreach service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerEmailsTotal            prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	robotsFallbackTotal           prometheus.Counter
	jobsTotal                     *prometheus.CounterVec
	activeWorkers                 prometheus.Gauge
	rateLimitDelaySeconds         *prometheus.HistogramVec
	allocationOperationsTotal     *prometheus.CounterVec
	recipientsRemovedTotal        prometheus.Counter
	recipientsRestoredTotal       prometheus.Counter
	snapshotFailuresTotal         prometheus.Counter
	completionPublishFailureTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerEmailsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_crawler_emails_discovered_total",
				Help: "Total number of distinct emails recorded on completed jobs.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_crawler_robots_fallback_total",
				Help: "Total robots.txt fetches that fell back to allow-all after repeated timeouts.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_jobs_total",
				Help: "Total number of crawl jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_rate_limit_delay_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		allocationOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_allocation_operations_total",
				Help: "Total allocation operations, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		recipientsRemovedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_recipients_removed_total",
				Help: "Total recipients removed from campaign ledgers.",
			},
		)

		recipientsRestoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_recipients_restored_total",
				Help: "Total recipients restored to campaign ledgers.",
			},
		)

		snapshotFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_snapshot_failures_total",
				Help: "Total page snapshots that could not be written to blob storage.",
			},
		)

		completionPublishFailureTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_completion_publish_failures_total",
				Help: "Total job completion notifications that failed to publish.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
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

// ObserveFetch increments the page and byte counters for one fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveEmails adds n to the discovered email counter.
func ObserveEmails(n int) {
	if n > 0 {
		crawlerEmailsTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that degraded to allow-all.
func ObserveRobotsFallback() {
	robotsFallbackTotal.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveAllocation counts one allocation operation. result is "ok" or a
// short error class such as "over_allocation".
func ObserveAllocation(operation, result string) {
	allocationOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveRecipientsRemoved adds n to the removed recipients counter.
func ObserveRecipientsRemoved(n int) {
	if n > 0 {
		recipientsRemovedTotal.Add(float64(n))
	}
}

// ObserveRecipientRestored counts one restored recipient.
func ObserveRecipientRestored() {
	recipientsRestoredTotal.Inc()
}

// ObserveSnapshotFailure counts a failed page snapshot write.
func ObserveSnapshotFailure() {
	snapshotFailuresTotal.Inc()
}

// ObserveCompletionPublishFailure counts a failed completion notification.
func ObserveCompletionPublishFailure() {
	completionPublishFailureTotal.Inc()
}
