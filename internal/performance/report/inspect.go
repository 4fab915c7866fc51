package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

// Summary is the part of a saved report needed to show and re-judge a run.
type Summary struct {
	ID        string
	Name      string
	URL       string
	StartTime time.Time
	Duration  time.Duration

	TotalRequests  int64
	FailedRequests int64
	ErrorRate      float64
	RPS            float64
	P95            time.Duration
	MaxVUs         int

	Verdict threshold.Verdict
}

// ExitCode returns the exit status the original run ended with.
func (s *Summary) ExitCode() int {
	return s.Verdict.ExitCode()
}

// Inspect reads the report at path.
func Inspect(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return Parse(data)
}

// Parse extracts a Summary from report JSON. Unknown fields are ignored so
// reports from newer runs with extra data still load.
func Parse(data []byte) (*Summary, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("report is not valid JSON")
	}

	doc := gjson.ParseBytes(data)
	if v := doc.Get("version"); !v.Exists() || v.Int() > FormatVersion {
		return nil, fmt.Errorf("unsupported report version %q", v.Raw)
	}
	if !doc.Get("verdict").IsObject() {
		return nil, fmt.Errorf("report has no verdict")
	}

	s := &Summary{
		ID:        doc.Get("id").String(),
		Name:      doc.Get("name").String(),
		URL:       doc.Get("url").String(),
		StartTime: doc.Get("startTime").Time(),
		Duration:  time.Duration(doc.Get("duration").Int()),

		TotalRequests:  doc.Get("metrics.totalRequests").Int(),
		FailedRequests: doc.Get("metrics.failedRequests").Int(),
		ErrorRate:      doc.Get("metrics.errorRate").Float(),
		RPS:            doc.Get("metrics.rps").Float(),
		P95:            time.Duration(doc.Get("metrics.latency.p95").Int()),
		MaxVUs:         int(doc.Get("metrics.maxVUs").Int()),

		Verdict: threshold.Verdict{
			Passed:    doc.Get("verdict.passed").Bool(),
			Aborted:   doc.Get("verdict.aborted").Bool(),
			AbortedBy: doc.Get("verdict.abortedBy").String(),
		},
	}

	// ForEach visits a null or scalar once, so only iterate real arrays
	if results := doc.Get("verdict.results"); results.IsArray() {
		results.ForEach(func(_, r gjson.Result) bool {
			s.Verdict.Results = append(s.Verdict.Results, threshold.Result{
				Metric:      r.Get("metric").String(),
				Expression:  r.Get("expression").String(),
				Passed:      r.Get("passed").Bool(),
				Value:       r.Get("value").Float(),
				Display:     r.Get("display").String(),
				Message:     r.Get("message").String(),
				AbortOnFail: r.Get("abortOnFail").Bool(),
			})
			return true
		})
	}

	return s, nil
}

// Query extracts a single value from report JSON. path may be a gjson
// path ("metrics.latency.p95") or a JSONPath-style expression
// ("$.verdict.results[0].passed").
func Query(data []byte, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty query path")
	}

	result := gjson.GetBytes(data, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// toGjsonPath converts the JSONPath subset ($, dots, [n], ['key']) to gjson
// syntax. Anything else is passed through.
func toGjsonPath(path string) string {
	if path == "$" {
		return "@this"
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "", "[", ".", "]", "")
	return strings.TrimPrefix(r.Replace(path), ".")
}
