// Package metrics collects request latency, outcome and VU metrics for a
// load test run.
//
// Latency goes into an HDR histogram (1µs to 1h, 3 significant figures) so
// percentiles stay accurate at any throughput. Counters are atomic. A
// background emitter snapshots the state into 1-second time buckets tagged
// with the current load phase.
//
//	engine := metrics.NewEngine()
//	defer engine.Stop()
//
//	engine.RecordRequest(150*time.Millisecond, true, 1024)
//	engine.RecordIteration()
//
//	snapshot := engine.GetSnapshot()
//	fmt.Printf("P95 Latency: %v\n", snapshot.Latency.P95)
//	fmt.Printf("Error Rate: %.2f%%\n", snapshot.ErrorRate*100)
package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before the first stage starts
	PhaseInit Phase = "init"

	// PhaseRampUp is when the VU target is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is when the VU target is flat
	PhaseSteady Phase = "steady"

	// PhaseRampDown is when the VU target is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	// TotalRequests is the number of requests completed (http_reqs)
	TotalRequests int64 `json:"totalRequests"`

	// SuccessRequests is the number of requests with a 2xx response
	SuccessRequests int64 `json:"successRequests"`

	// FailedRequests is the number of failed requests
	FailedRequests int64 `json:"failedRequests"`

	// TotalBytes is the total response bytes received
	TotalBytes int64 `json:"totalBytes"`

	// Iterations is the number of completed VU iterations
	Iterations int64 `json:"iterations"`

	// Latency contains latency statistics (http_req_duration)
	Latency LatencyStats `json:"latency"`

	// RPS is requests per second over the whole elapsed time
	RPS float64 `json:"rps"`

	// SteadyStateRPS is the mean RPS over steady-phase buckets only
	SteadyStateRPS float64 `json:"steadyStateRps"`

	// ErrorRate is FailedRequests / TotalRequests, 0 when nothing ran (http_req_failed)
	ErrorRate float64 `json:"errorRate"`

	// ActiveVUs is the current number of running virtual users (vus)
	ActiveVUs int `json:"activeVUs"`

	// MaxVUs is the highest number of VUs alive at once (vus_max)
	MaxVUs int `json:"maxVUs"`

	// CurrentPhase is the current test phase
	CurrentPhase Phase `json:"currentPhase"`

	// Elapsed is the time since the engine started, frozen once stopped
	Elapsed time.Duration `json:"elapsed"`

	// StartTime is when the engine started
	StartTime time.Time `json:"startTime"`

	// Timestamp is when this snapshot was taken
	Timestamp time.Time `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket represents metrics for one emitter interval.
//
// Each bucket carries both cumulative totals and interval-specific deltas.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters (total since test start)
	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	// Interval metrics
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalFailures  int64   `json:"intervalFailures"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	// Latency percentiles from the cumulative histogram
	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}
