// Package metrics exposes logo inlining outcomes to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jsvensson/inlinelogo/internal/inline"
)

// Collector implements inline.Observer.
type Collector struct {
	logos      *prometheus.CounterVec
	fetchTimes prometheus.Histogram
	pages      *prometheus.CounterVec
}

// New registers the inliner metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		logos: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inlinelogo_logos_total",
			Help: "Logo images processed, by outcome",
		}, []string{"outcome"}),
		fetchTimes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "inlinelogo_fetch_duration_seconds",
			Help:    "Time spent fetching logo payloads",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inlinelogo_pages_total",
			Help: "HTML pages seen by the proxy, by result",
		}, []string{"result"}),
	}
}

// Observe records one image. Skipped images never reach the network, so
// their duration is not recorded.
func (c *Collector) Observe(outcome inline.Outcome, fetchDuration time.Duration) {
	c.logos.WithLabelValues(outcomeLabel(outcome)).Inc()
	if outcome != inline.Skipped && fetchDuration > 0 {
		c.fetchTimes.Observe(fetchDuration.Seconds())
	}
}

// Page records one proxied HTML page: "rewritten", "unchanged" or
// "parse_error".
func (c *Collector) Page(result string) {
	switch result {
	case "rewritten", "unchanged", "parse_error":
	default:
		result = "unknown"
	}
	c.pages.WithLabelValues(result).Inc()
}

func outcomeLabel(o inline.Outcome) string {
	switch o {
	case inline.Replaced, inline.FetchFailed, inline.NoSVG, inline.Skipped:
		return string(o)
	default:
		return "unknown"
	}
}
