// Package exporter serves live run metrics in the Prometheus text format.
package exporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/rampcheck/internal/performance/executor"
	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
)

const namespace = "rampcheck"

// Source is what the collector reads on every scrape. GetMetrics and
// GetStats return nil before the run starts.
type Source interface {
	GetMetrics() *metrics.Snapshot
	GetStats() *executor.Stats
	GetProgress() float64
}

// Collector is a prometheus.Collector over a running test.
type Collector struct {
	source Source

	requests      *prometheus.Desc
	failures      *prometheus.Desc
	iterations    *prometheus.Desc
	bytes         *prometheus.Desc
	duration      *prometheus.Desc
	vus           *prometheus.Desc
	vusTarget     *prometheus.Desc
	vusMax        *prometheus.Desc
	progress      *prometheus.Desc
	requestsPerS  *prometheus.Desc
	failureRate   *prometheus.Desc
	phaseActivity *prometheus.Desc
}

var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// NewCollector returns a collector for source. testName becomes the "test"
// label on every series.
func NewCollector(source Source, testName string) *Collector {
	labels := prometheus.Labels{"test": testName}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}

	return &Collector{
		source: source,

		requests:      desc("http", "reqs_total", "Requests sent."),
		failures:      desc("http", "req_failed_total", "Requests that failed or returned a non-2xx status."),
		iterations:    desc("", "iterations_total", "VU iterations completed."),
		bytes:         desc("", "data_received_bytes_total", "Response body bytes received."),
		duration:      desc("http", "req_duration_seconds", "Request latency."),
		vus:           desc("", "vus", "Live virtual users."),
		vusTarget:     desc("", "vus_target", "Virtual users the ramp currently aims for."),
		vusMax:        desc("", "vus_max", "Highest number of live virtual users so far."),
		progress:      desc("", "progress_ratio", "Fraction of the stage timeline elapsed."),
		requestsPerS:  desc("http", "req_rate", "Average requests per second since the run started."),
		failureRate:   desc("http", "req_failed_rate", "Failed requests divided by all requests."),
		phaseActivity: desc("", "phase", "1 for the current load phase.", "phase"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failures
	ch <- c.iterations
	ch <- c.bytes
	ch <- c.duration
	ch <- c.vus
	ch <- c.vusTarget
	ch <- c.vusMax
	ch <- c.progress
	ch <- c.requestsPerS
	ch <- c.failureRate
	ch <- c.phaseActivity
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, c.source.GetProgress())

	snap := c.source.GetMetrics()
	if snap == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(snap.ActiveVUs))
	ch <- prometheus.MustNewConstMetric(c.vusMax, prometheus.GaugeValue, float64(snap.MaxVUs))
	ch <- prometheus.MustNewConstMetric(c.requestsPerS, prometheus.GaugeValue, snap.RPS)
	ch <- prometheus.MustNewConstMetric(c.failureRate, prometheus.GaugeValue, snap.ErrorRate)
	ch <- prometheus.MustNewConstMetric(c.phaseActivity, prometheus.GaugeValue, 1, string(snap.CurrentPhase))

	lat := snap.Latency
	ch <- prometheus.MustNewConstSummary(c.duration,
		uint64(lat.Count),
		lat.Mean.Seconds()*float64(lat.Count),
		map[float64]float64{
			quantiles[0]: lat.P50.Seconds(),
			quantiles[1]: lat.P90.Seconds(),
			quantiles[2]: lat.P95.Seconds(),
			quantiles[3]: lat.P99.Seconds(),
		},
	)

	if stats := c.source.GetStats(); stats != nil {
		ch <- prometheus.MustNewConstMetric(c.vusTarget, prometheus.GaugeValue, float64(stats.TargetVUs))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
