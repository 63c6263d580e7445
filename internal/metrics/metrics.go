// Package metrics exposes Prometheus collectors for the bidwatch service.
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
	monitorRoundsTotal        *prometheus.CounterVec
	monitorRoundDuration      prometheus.Histogram
	monitorFetchesTotal       *prometheus.CounterVec
	monitorNewRecordsTotal    *prometheus.CounterVec
	monitorNotificationsTotal *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorRoundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_rounds_total",
				Help: "Total number of monitoring rounds, labeled by result.",
			},
			[]string{"result"},
		)

		monitorRoundDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bidwatch_round_duration_seconds",
				Help:    "Histogram of monitoring round durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		monitorFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		monitorNewRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_new_records_total",
				Help: "Total number of new records stored, labeled by source.",
			},
			[]string{"source"},
		)

		monitorNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_notifications_total",
				Help: "Total number of notification attempts, labeled by channel and result.",
			},
			[]string{"channel", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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

// ObserveRound records one completed round.
func ObserveRound(result string, duration time.Duration) {
	monitorRoundsTotal.WithLabelValues(result).Inc()
	monitorRoundDuration.Observe(duration.Seconds())
}

// ObserveFetch increments the fetch counter for a site and outcome.
func ObserveFetch(site, outcome string) {
	monitorFetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveNewRecord increments the stored-record counter for a source.
func ObserveNewRecord(source string) {
	monitorNewRecordsTotal.WithLabelValues(source).Inc()
}

// ObserveNotification records one channel send attempt.
func ObserveNotification(channel, result string) {
	monitorNotificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
