// Package metrics exposes exploration counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "primal"

// Collector records exploration metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	trafficIssues  *prometheus.CounterVec
	fuzzedControls prometheus.Counter
	chaosAborts    prometheus.Counter
	screenshots    *prometheus.CounterVec
}

// NewCollector registers the exploration metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Exploration runs by mode, outcome and failure category.",
		}, []string{"mode", "outcome", "category"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one exploration run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		trafficIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traffic_issues_total",
			Help:      "Network traffic issues recorded, by kind.",
		}, []string{"kind"}),
		fuzzedControls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuzzed_controls_total",
			Help:      "Form controls handed to the input fuzzer.",
		}),
		chaosAborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chaos_aborted_requests_total",
			Help:      "Requests aborted by network chaos.",
		}),
		screenshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_total",
			Help:      "Screenshot capture attempts by result.",
		}, []string{"result"}),
	}
}

// RecordRun counts one finished run. category is empty on success.
func (c *Collector) RecordRun(mode string, success bool, category string, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.runs.WithLabelValues(mode, outcome, category).Inc()
	c.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordTrafficIssue counts one traffic issue of the given kind.
func (c *Collector) RecordTrafficIssue(kind string) {
	if c == nil {
		return
	}
	c.trafficIssues.WithLabelValues(kind).Inc()
}

// RecordFuzzedControls adds n fuzzed controls.
func (c *Collector) RecordFuzzedControls(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.fuzzedControls.Add(float64(n))
}

// RecordChaosAbort counts one aborted request.
func (c *Collector) RecordChaosAbort() {
	if c == nil {
		return
	}
	c.chaosAborts.Inc()
}

// RecordScreenshot counts one capture attempt.
func (c *Collector) RecordScreenshot(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.screenshots.WithLabelValues(result).Inc()
}
