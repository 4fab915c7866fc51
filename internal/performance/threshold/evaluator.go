package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
)

// Source provides the aggregated metrics thresholds are checked against.
// *metrics.Engine satisfies it.
type Source interface {
	GetSnapshot() *metrics.Snapshot
	Percentile(q float64) time.Duration
}

// Definition is an unparsed threshold as it appears in configuration.
type Definition struct {
	Metric      string
	Expression  string
	AbortOnFail bool
}

// Threshold is a parsed threshold.
type Threshold struct {
	*Expression
	AbortOnFail bool
}

// Set is an ordered collection of thresholds.
type Set struct {
	thresholds []Threshold
}

// NewSet parses every definition. All parse errors are reported together.
func NewSet(defs []Definition) (*Set, error) {
	s := &Set{thresholds: make([]Threshold, 0, len(defs))}

	var errs []error
	for _, d := range defs {
		expr, err := Parse(d.Metric, d.Expression)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %s: %w", d.Metric, err))
			continue
		}
		s.thresholds = append(s.thresholds, Threshold{Expression: expr, AbortOnFail: d.AbortOnFail})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Len returns the number of thresholds in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.thresholds)
}

// Thresholds returns the parsed thresholds in definition order.
func (s *Set) Thresholds() []Threshold {
	if s == nil {
		return nil
	}
	out := make([]Threshold, len(s.thresholds))
	copy(out, s.thresholds)
	return out
}

// HasAbortOnFail reports whether any threshold should stop the run early.
func (s *Set) HasAbortOnFail() bool {
	for _, t := range s.Thresholds() {
		if t.AbortOnFail {
			return true
		}
	}
	return false
}

// Evaluate checks every threshold against src and returns the verdict.
// An empty set passes.
func (s *Set) Evaluate(src Source) *Verdict {
	snap := src.GetSnapshot()

	v := &Verdict{Passed: true, Results: make([]Result, 0, s.Len())}
	for _, t := range s.Thresholds() {
		r := t.evaluate(snap, src)
		if !r.Passed {
			v.Passed = false
		}
		v.Results = append(v.Results, r)
	}
	return v
}

// CheckAbort evaluates only the abortOnFail thresholds and returns the first
// breached one.
func (s *Set) CheckAbort(src Source) (Result, bool) {
	if !s.HasAbortOnFail() {
		return Result{}, false
	}

	snap := src.GetSnapshot()
	for _, t := range s.Thresholds() {
		if !t.AbortOnFail {
			continue
		}
		if r := t.evaluate(snap, src); !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}

func (t Threshold) evaluate(snap *metrics.Snapshot, src Source) Result {
	value := t.observe(snap, src)
	display := t.Label() + "=" + t.format(value)

	r := Result{
		Metric:      t.Metric,
		Expression:  t.Source,
		Value:       value,
		Display:     display,
		AbortOnFail: t.AbortOnFail,
		Passed:      t.Operator.Compare(value, t.Bound),
	}
	if !r.Passed {
		r.Message = fmt.Sprintf("%s %s, threshold: %s", t.Metric, display, t.Source)
	}
	return r
}

// observe reads the value the expression compares. Trend values are
// milliseconds.
func (t Threshold) observe(snap *metrics.Snapshot, src Source) float64 {
	switch t.Metric {
	case MetricReqDuration:
		switch t.Aggregation {
		case "avg":
			return millis(snap.Latency.Mean)
		case "min":
			return millis(snap.Latency.Min)
		case "max":
			return millis(snap.Latency.Max)
		case "med":
			return millis(src.Percentile(50))
		case "p":
			return millis(src.Percentile(t.Percentile))
		}
	case MetricReqFailed:
		return snap.ErrorRate
	case MetricReqs:
		if t.Aggregation == "count" {
			return float64(snap.TotalRequests)
		}
		return snap.RPS
	case MetricIterations:
		if t.Aggregation == "count" {
			return float64(snap.Iterations)
		}
		if secs := snap.Elapsed.Seconds(); secs > 0 {
			return float64(snap.Iterations) / secs
		}
		return 0
	case MetricVUs:
		return float64(snap.ActiveVUs)
	case MetricVUsMax:
		return float64(snap.MaxVUs)
	}
	return 0
}

func (t Threshold) format(value float64) string {
	switch {
	case t.Metric == MetricReqDuration:
		return strconv.FormatFloat(value, 'f', 2, 64) + "ms"
	case t.Metric == MetricReqFailed:
		return strconv.FormatFloat(value*100, 'f', 2, 64) + "%"
	case t.Aggregation == "rate":
		return strconv.FormatFloat(value, 'f', 2, 64) + "/s"
	default:
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
