// Package threshold parses pass/fail threshold expressions and evaluates
// them against collected metrics.
//
// Expressions follow the k6 grammar ("p(95)<500", "rate<0.01", "count>=100")
// and also accept the spaced form "p95 < 500ms". Bounds on latency metrics
// are milliseconds unless they carry a duration suffix.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the metric type, which decides the aggregations it supports.
type Kind int

const (
	// Trend metrics hold a distribution of durations.
	Trend Kind = iota
	// Rate metrics hold the fraction of non-zero samples.
	Rate
	// Counter metrics are monotonically increasing totals.
	Counter
	// Gauge metrics hold a single current value.
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Trend:
		return "trend"
	case Rate:
		return "rate"
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Metric names collected during a run.
const (
	MetricReqDuration = "http_req_duration"
	MetricReqFailed   = "http_req_failed"
	MetricReqs        = "http_reqs"
	MetricIterations  = "iterations"
	MetricVUs         = "vus"
	MetricVUsMax      = "vus_max"
)

var knownMetrics = map[string]Kind{
	MetricReqDuration: Trend,
	MetricReqFailed:   Rate,
	MetricReqs:        Counter,
	MetricIterations:  Counter,
	MetricVUs:         Gauge,
	MetricVUsMax:      Gauge,
}

// KnownMetrics returns the names of all metrics thresholds can reference.
func KnownMetrics() []string {
	names := make([]string, 0, len(knownMetrics))
	for name := range knownMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnownMetric reports whether name is a collected metric.
func IsKnownMetric(name string) bool {
	_, ok := knownMetrics[name]
	return ok
}

// KindOf returns the kind of a known metric.
func KindOf(name string) (Kind, bool) {
	k, ok := knownMetrics[name]
	return k, ok
}

// Aggregation methods by metric kind.
var aggregations = map[Kind][]string{
	Trend:   {"avg", "min", "max", "med", "p"},
	Rate:    {"rate"},
	Counter: {"count", "rate"},
	Gauge:   {"value"},
}

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare reports whether "actual op bound" holds.
func (o Operator) Compare(actual, bound float64) bool {
	switch o {
	case OpLess:
		return actual < bound
	case OpLessEqual:
		return actual <= bound
	case OpGreater:
		return actual > bound
	case OpGreaterEqual:
		return actual >= bound
	case OpEqual:
		return actual == bound
	case OpNotEqual:
		return actual != bound
	default:
		return false
	}
}

// Expression is a parsed threshold expression bound to a metric.
type Expression struct {
	// Metric is the metric the expression applies to
	Metric string

	// Source is the expression as written
	Source string

	// Aggregation is avg, min, max, med, p, rate, count or value
	Aggregation string

	// Percentile is set when Aggregation is "p", in the range (0, 100]
	Percentile float64

	Operator Operator

	// Bound is the right-hand side; milliseconds for trend metrics
	Bound float64
}

// Matches "p(95)<500", "p95 < 500ms", "rate<=0.01", "count > 10".
var expressionRe = regexp.MustCompile(
	`^([a-z]+)(?:\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)|([0-9]+(?:\.[0-9]+)?))?\s*(<=|>=|==|!=|<|>|=)\s*(\S+)$`)

// Parse parses expr as a threshold on metric.
//
// It fails when the metric is unknown, the aggregation does not apply to
// the metric's kind, or the bound is not a number (or, for trend metrics,
// a duration such as "1.5s").
func Parse(metric, expr string) (*Expression, error) {
	kind, ok := KindOf(metric)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	source := strings.TrimSpace(expr)
	m := expressionRe.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q: expected '<aggregation> <operator> <value>'", expr)
	}

	e := &Expression{
		Metric:      metric,
		Source:      source,
		Aggregation: m[1],
		Operator:    Operator(m[4]),
	}
	if e.Operator == "=" {
		e.Operator = OpEqual
	}

	percentile := m[2]
	if percentile == "" {
		percentile = m[3]
	}
	if e.Aggregation == "p" {
		if percentile == "" {
			return nil, fmt.Errorf("invalid threshold expression %q: percentile missing, use p(N)", expr)
		}
		p, err := strconv.ParseFloat(percentile, 64)
		if err != nil || p <= 0 || p > 100 {
			return nil, fmt.Errorf("invalid threshold expression %q: percentile must be in (0, 100]", expr)
		}
		e.Percentile = p
	} else if percentile != "" {
		return nil, fmt.Errorf("invalid threshold expression %q: only p() takes an argument", expr)
	}

	if !supports(kind, e.Aggregation) {
		return nil, fmt.Errorf("aggregation %q is not valid for %s metric %s (use one of: %s)",
			e.Aggregation, kind, metric, strings.Join(aggregations[kind], ", "))
	}

	bound, err := parseBound(kind, m[5])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}
	e.Bound = bound

	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(metric, expr string) *Expression {
	e, err := Parse(metric, expr)
	if err != nil {
		panic(err)
	}
	return e
}

func supports(kind Kind, aggregation string) bool {
	for _, a := range aggregations[kind] {
		if a == aggregation {
			return true
		}
	}
	return false
}

func parseBound(kind Kind, s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if kind == Trend {
		d, err := time.ParseDuration(s)
		if err == nil {
			return float64(d) / float64(time.Millisecond), nil
		}
	}
	return 0, fmt.Errorf("invalid bound %q", s)
}

// Label returns the aggregation as k6 prints it, e.g. "p(95)" or "rate".
func (e *Expression) Label() string {
	if e.Aggregation == "p" {
		return "p(" + strconv.FormatFloat(e.Percentile, 'f', -1, 64) + ")"
	}
	return e.Aggregation
}

func (e *Expression) String() string {
	return e.Source
}
