package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampcheck/internal/performance/config"
	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
	"github.com/wesleyorama2/rampcheck/internal/performance/executor"
	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

func sampleResult() *engine.TestResult {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &engine.TestResult{
		ID:        "b4b7c6de-3c52-4b5e-9a58-5bd0cbb1e0f7",
		Name:      "health check",
		URL:       "http://127.0.0.1:64240/api/health_check",
		StartTime: start,
		EndTime:   start.Add(10 * time.Second),
		Duration:  10 * time.Second,
		Config:    config.DefaultConfig(),
		Metrics: &metrics.Snapshot{
			TotalRequests:   90,
			SuccessRequests: 88,
			FailedRequests:  2,
			ErrorRate:       2.0 / 90,
			RPS:             9,
			MaxVUs:          10,
			Latency: metrics.LatencyStats{
				P95:   42 * time.Millisecond,
				Count: 90,
			},
		},
		Phases: []metrics.PhaseChange{
			{Phase: metrics.PhaseRampUp, Timestamp: start},
		},
		Executor: &executor.Stats{PeakVUs: 10, TotalStages: 2},
		Passed:   false,
		Verdict: &threshold.Verdict{
			Passed:    false,
			Aborted:   true,
			AbortedBy: "http_req_failed: rate<0.01",
			Results: []threshold.Result{
				{
					Metric:      "http_req_failed",
					Expression:  "rate<0.01",
					Passed:      false,
					Value:       2.0 / 90,
					Display:     "rate=2.22%",
					Message:     "http_req_failed rate=2.22%, threshold: rate<0.01",
					AbortOnFail: true,
				},
				{
					Metric:     "http_req_duration",
					Expression: "p(95)<500",
					Passed:     true,
					Value:      42,
					Display:    "p(95)=42ms",
				},
			},
		},
	}
}

func TestWriteJSON_Inspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")

	require.NoError(t, WriteJSON(sampleResult(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	s, err := Inspect(path)
	require.NoError(t, err)

	assert.Equal(t, "b4b7c6de-3c52-4b5e-9a58-5bd0cbb1e0f7", s.ID)
	assert.Equal(t, "health check", s.Name)
	assert.Equal(t, "http://127.0.0.1:64240/api/health_check", s.URL)
	assert.True(t, s.StartTime.Equal(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)))
	assert.Equal(t, 10*time.Second, s.Duration)
	assert.Equal(t, int64(90), s.TotalRequests)
	assert.Equal(t, int64(2), s.FailedRequests)
	assert.Equal(t, 42*time.Millisecond, s.P95)
	assert.Equal(t, 10, s.MaxVUs)

	assert.False(t, s.Verdict.Passed)
	assert.True(t, s.Verdict.Aborted)
	assert.Equal(t, "http_req_failed: rate<0.01", s.Verdict.AbortedBy)
	require.Len(t, s.Verdict.Results, 2)
	assert.Equal(t, sampleResult().Verdict.Results, s.Verdict.Results)
	assert.Equal(t, threshold.ExitCodeFailed, s.ExitCode())
}

func TestWriteJSON_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteJSON(sampleResult(), filepath.Join(dir, "run.json")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.json", entries[0].Name())
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleResult()))

	out := buf.String()
	assert.Contains(t, out, `"version": 1`)
	assert.Contains(t, out, `"abortOnFail": true`)
	assert.Contains(t, out, `"stages"`)
	assert.NotContains(t, out, `"Error"`)
	assert.Contains(t, out, `"abortedBy": "http_req_failed: rate<0.01"`)
	assert.Contains(t, out, `"p(95)<500"`)
	assert.NotContains(t, out, `\u003c`)

	assert.Error(t, Encode(&buf, nil))
}

func TestParse_Passed(t *testing.T) {
	result := sampleResult()
	result.Passed = true
	result.Verdict = &threshold.Verdict{Passed: true}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, result))

	s, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, s.Verdict.Passed)
	assert.Empty(t, s.Verdict.Results)
	assert.Equal(t, threshold.ExitCodePassed, s.ExitCode())
}

func TestParse_NullResults(t *testing.T) {
	s, err := Parse([]byte(`{"version":1,"verdict":{"passed":true,"results":null}}`))
	require.NoError(t, err)
	assert.True(t, s.Verdict.Passed)
	assert.Empty(t, s.Verdict.Results)

	s, err = Parse([]byte(`{"version":1,"verdict":{"passed":false,"results":"broken"}}`))
	require.NoError(t, err)
	assert.Empty(t, s.Verdict.Results)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{"not json", `{"version": 1,`, "not valid JSON"},
		{"no version", `{"verdict": {"passed": true}}`, "unsupported report version"},
		{"future version", `{"version": 99, "verdict": {"passed": true}}`, "unsupported report version"},
		{"no verdict", `{"version": 1}`, "no verdict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInspect_MissingFile(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read report")
}

func TestQuery(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleResult()))
	data := buf.Bytes()

	tests := []struct {
		path     string
		expected string
	}{
		{"name", "health check"},
		{"metrics.totalRequests", "90"},
		{"$.metrics.maxVUs", "10"},
		{"$.verdict.results[0].metric", "http_req_failed"},
		{"$['verdict']['aborted']", "true"},
		{"verdict.results.#", "2"},
		{"config.stages.1.target", "200"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Query(data, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := Query(data, "metrics.nope")
	assert.Error(t, err)
	_, err = Query(data, "")
	assert.Error(t, err)
}

func TestToGjsonPath(t *testing.T) {
	tests := map[string]string{
		"$":                        "@this",
		"$.":                       "@this",
		"$.a.b":                    "a.b",
		"$[0]":                     "0",
		"$.a[1].b":                 "a.1.b",
		`$["a"]["b"]`:              "a.b",
		"metrics.latency.p95":      "metrics.latency.p95",
		"verdict.results.#.metric": "verdict.results.#.metric",
	}

	for in, want := range tests {
		assert.Equal(t, want, toGjsonPath(in), in)
	}
}
