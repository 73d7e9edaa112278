package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun("passive", true, "", 2*time.Second)
	c.RecordRun("passive", false, "console", time.Second)
	c.RecordRun("passive", false, "console", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("passive", "success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("passive", "failure", "console")))

	n, err := testutil.GatherAndCount(reg, "primal_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordTrafficIssue("slow_request")
	c.RecordTrafficIssue("large_payload")
	c.RecordTrafficIssue("large_payload")
	c.RecordFuzzedControls(3)
	c.RecordFuzzedControls(0)
	c.RecordChaosAbort()
	c.RecordScreenshot(nil)
	c.RecordScreenshot(errors.New("target closed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.trafficIssues.WithLabelValues("slow_request")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.trafficIssues.WithLabelValues("large_payload")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.fuzzedControls))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chaosAborts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.screenshots.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.screenshots.WithLabelValues("error")))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordRun("exploratory", false, "navigation", time.Second)
		c.RecordTrafficIssue("slow_request")
		c.RecordFuzzedControls(4)
		c.RecordChaosAbort()
		c.RecordScreenshot(nil)
	})
}
