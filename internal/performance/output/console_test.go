package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
	"github.com/wesleyorama2/rampcheck/internal/performance/executor"
	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDurationShort(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDurationShort(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatNumber(tt.number)
			if result != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, result, tt.expected)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"\033[32mgreen\033[0m", "green"},
		{"\033[1m\033[34mbold blue\033[0m", "bold blue"},
		{"no \033[31mcolors\033[0m here", "no colors here"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := stripANSI(tt.input)
			if result != tt.expected {
				t.Errorf("stripANSI(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		progress float64
		width    int
		filled   int
	}{
		{0.0, 20, 0},
		{0.5, 20, 10},
		{1.0, 20, 20},
		{1.7, 20, 20},
		{-0.2, 20, 0},
	}

	for _, tt := range tests {
		result := renderProgressBar(tt.progress, tt.width)

		if !strings.HasPrefix(result, "[") || !strings.HasSuffix(result, "]") {
			t.Errorf("Progress bar should be wrapped in brackets: %q", result)
		}

		// Count runes, the bar uses multi-byte characters
		if runeCount := len([]rune(result)); runeCount != tt.width+2 {
			t.Errorf("Progress bar rune count = %d, want %d", runeCount, tt.width+2)
		}
		if filled := strings.Count(result, progressFilled); filled != tt.filled {
			t.Errorf("renderProgressBar(%v) filled = %d, want %d", tt.progress, filled, tt.filled)
		}
	}
}

func TestConsoleOutputCreation(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{
		TestName: "Test Name",
		Writer:   &buf,
	})

	if output.testName != "Test Name" {
		t.Errorf("testName = %q, want %q", output.testName, "Test Name")
	}
	if output.IsTTY() {
		t.Error("Expected non-TTY when writing to buffer")
	}

	forced := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true})
	if !forced.IsTTY() {
		t.Error("ForceTTY should mark the output as a terminal")
	}
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{
		TestName: "Health Check",
		URL:      "http://localhost:8080/api/health_check",
		Writer:   &buf,
	})
	output.PrintHeader(2, 10, 10*time.Second)

	header := buf.String()
	for _, want := range []string{"Health Check - Running", "localhost:8080/api/health_check", "2 stages, up to 10 VUs, 10.0s"} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q:\n%s", want, header)
		}
	}
}

func TestColors(t *testing.T) {
	var plain, colored bytes.Buffer

	NewConsoleOutput(ConsoleOutputConfig{TestName: "T", Writer: &plain}).PrintHeader(1, 1, time.Second)
	NewConsoleOutput(ConsoleOutputConfig{TestName: "T", Writer: &colored, ForceColors: true}).PrintHeader(1, 1, time.Second)

	if strings.Contains(plain.String(), "\033[") {
		t.Error("non-terminal output should not contain escape codes")
	}
	if !strings.Contains(colored.String(), "\033[") {
		t.Error("ForceColors output should contain escape codes")
	}

	var disabled bytes.Buffer
	NewConsoleOutput(ConsoleOutputConfig{Writer: &disabled, ForceColors: true, NoColor: true}).PrintHeader(1, 1, time.Second)
	if strings.Contains(disabled.String(), "\033[") {
		t.Error("NoColor wins over ForceColors")
	}
}

func sampleResult(passed bool) *engine.TestResult {
	verdict := &threshold.Verdict{
		Passed: passed,
		Results: []threshold.Result{
			{Metric: "http_req_failed", Expression: "rate<0.01", Passed: passed, Display: "rate=1.00%"},
			{Metric: "http_req_duration", Expression: "p(95)<500", Passed: true, Display: "p(95)=60ms"},
		},
	}

	return &engine.TestResult{
		ID:       "3f8e2a",
		Name:     "Test Result",
		Duration: 30 * time.Second,
		Passed:   passed,
		Verdict:  verdict,
		Metrics: &metrics.Snapshot{
			TotalRequests:   1000,
			SuccessRequests: 990,
			FailedRequests:  10,
			Iterations:      1000,
			ErrorRate:       0.01,
			RPS:             33.33,
			MaxVUs:          10,
			Latency: metrics.LatencyStats{
				Min:  10 * time.Millisecond,
				Max:  100 * time.Millisecond,
				Mean: 30 * time.Millisecond,
				P50:  25 * time.Millisecond,
				P90:  50 * time.Millisecond,
				P95:  60 * time.Millisecond,
				P99:  80 * time.Millisecond,
			},
		},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	output.PrintSummary(sampleResult(true))

	summary := buf.String()
	for _, want := range []string{
		"Test Result",
		"Completed ✓",
		"1,000",
		"Peak VUs:      10",
		"P95:       60ms",
		"✓ http_req_failed rate<0.01 (actual: rate=1.00%)",
		"✓ http_req_duration p(95)<500 (actual: p(95)=60ms)",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestPrintSummary_Failed(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	output.PrintSummary(sampleResult(false))

	summary := buf.String()
	if !strings.Contains(summary, "Failed ✗") {
		t.Errorf("summary should show failure:\n%s", summary)
	}
	if !strings.Contains(summary, "✗ http_req_failed rate<0.01") {
		t.Errorf("summary should mark the failed threshold:\n%s", summary)
	}
}

func TestPrintSummary_Aborted(t *testing.T) {
	var buf bytes.Buffer

	result := sampleResult(false)
	result.Verdict.Aborted = true
	result.Verdict.AbortedBy = "http_req_failed: rate<0.01"

	NewConsoleOutput(ConsoleOutputConfig{Writer: &buf}).PrintSummary(result)

	summary := buf.String()
	if !strings.Contains(summary, "Aborted ✗") {
		t.Errorf("summary should show abort:\n%s", summary)
	}
	if !strings.Contains(summary, "Run aborted early by http_req_failed: rate<0.01") {
		t.Errorf("summary should name the aborting threshold:\n%s", summary)
	}
}

func TestUpdate_NonInteractive(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	output.Update(&LiveStats{
		Progress:          0.5,
		Elapsed:           5 * time.Second,
		ActiveVUs:         7,
		TargetVUs:         8,
		TotalRequests:     42,
		CurrentPhase:      "ramp-up",
		LatencyP95:        12 * time.Millisecond,
		ThresholdsPassing: 1,
		ThresholdsTotal:   2,
	})

	line := buf.String()
	if strings.Count(line, "\n") != 1 {
		t.Errorf("expected a single line, got %q", line)
	}
	for _, want := range []string{"[5.0s] ramp-up", "Progress: 50%", "VUs: 7/8", "Reqs: 42", "P95: 12ms", "Thresholds: 1/2"} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %q", want, line)
		}
	}
}

func TestUpdate_TTYRedraw(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true, NoColor: true})
	stats := &LiveStats{Progress: 0.25, ActiveVUs: 3, TargetVUs: 4, TotalStages: 2, CurrentStage: 1, CurrentPhase: "ramp-up"}

	output.Update(stats)
	first := buf.String()
	if strings.Contains(first, "\033[") {
		t.Errorf("first draw should not move the cursor: %q", first)
	}
	if !strings.Contains(first, "ramp-up (1/2)") {
		t.Errorf("live box missing stage info:\n%s", first)
	}
	if output.linesOutput == 0 {
		t.Fatal("live box height not tracked")
	}

	buf.Reset()
	output.Update(stats)
	if !strings.HasPrefix(buf.String(), "\033[") {
		t.Error("second draw should start by moving the cursor up")
	}

	buf.Reset()
	output.PrintSummary(sampleResult(true))
	if output.linesOutput != 0 {
		t.Error("summary should clear the live box")
	}
}

func TestFormatBoxRow_Width(t *testing.T) {
	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &bytes.Buffer{}, ForceColors: true})

	for _, width := range []int{54, 55} {
		plain := stripANSI(output.formatBoxRow(output.palette.Value.Sprint("VUs: 3"), "Requests: 10", width))
		if n := len([]rune(plain)); n != width {
			t.Errorf("box row width = %d, want %d: %q", n, width, plain)
		}
	}
}

func TestRenderLiveStats_RowsMatchBorder(t *testing.T) {
	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &bytes.Buffer{}, ForceColors: true})

	lines := output.renderLiveStats(&LiveStats{
		ActiveVUs:         3,
		TargetVUs:         5,
		TotalRequests:     1200,
		ThresholdsTotal:   2,
		ThresholdsPassing: 1,
	})

	border := -1
	for _, line := range lines {
		plain := stripANSI(line)
		if !strings.HasPrefix(plain, boxTopLeft) && !strings.HasPrefix(plain, boxVertical) && !strings.HasPrefix(plain, boxBottomLeft) {
			continue
		}
		n := len([]rune(plain))
		if border < 0 {
			border = n
			continue
		}
		if n != border {
			t.Errorf("box line width = %d, want %d: %q", n, border, plain)
		}
	}
	if border != 55 {
		t.Errorf("box border width = %d, want 55", border)
	}
}

func TestStatsFromProgress(t *testing.T) {
	p := engine.Progress{
		Progress: 0.5,
		Metrics: &metrics.Snapshot{
			TotalRequests:  500,
			FailedRequests: 10,
			ErrorRate:      0.02,
			RPS:            50.0,
			ActiveVUs:      10,
			CurrentPhase:   metrics.PhaseSteady,
			Elapsed:        30 * time.Second,
			Latency: metrics.LatencyStats{
				Mean: 20 * time.Millisecond,
				P95:  50 * time.Millisecond,
			},
		},
		Stats: &executor.Stats{
			TargetVUs:     20,
			CurrentStage:  1,
			TotalStages:   3,
			Elapsed:       30 * time.Second,
			TotalDuration: time.Minute,
		},
		Thresholds: &threshold.Verdict{Results: []threshold.Result{{Passed: true}, {Passed: false}}},
	}

	stats := StatsFromProgress(p)

	if stats.Progress != 0.5 {
		t.Errorf("Progress = %f, want 0.5", stats.Progress)
	}
	if stats.ActiveVUs != 10 {
		t.Errorf("ActiveVUs = %d, want 10", stats.ActiveVUs)
	}
	if stats.TargetVUs != 20 {
		t.Errorf("TargetVUs = %d, want 20", stats.TargetVUs)
	}
	if stats.CurrentStage != 2 {
		t.Errorf("CurrentStage = %d, want 2", stats.CurrentStage)
	}
	if stats.TotalStages != 3 {
		t.Errorf("TotalStages = %d, want 3", stats.TotalStages)
	}
	if stats.Remaining != 30*time.Second {
		t.Errorf("Remaining = %v, want 30s", stats.Remaining)
	}
	if stats.CurrentPhase != "steady" {
		t.Errorf("CurrentPhase = %q, want steady", stats.CurrentPhase)
	}
	if stats.ThresholdsPassing != 1 || stats.ThresholdsTotal != 2 {
		t.Errorf("Thresholds = %d/%d, want 1/2", stats.ThresholdsPassing, stats.ThresholdsTotal)
	}
}

func TestStatsFromProgress_BeforeRun(t *testing.T) {
	stats := StatsFromProgress(engine.Progress{})
	if stats.CurrentPhase != "initializing" {
		t.Errorf("CurrentPhase = %q, want initializing", stats.CurrentPhase)
	}
	if stats.TotalRequests != 0 || stats.ThresholdsTotal != 0 {
		t.Errorf("unexpected stats before run: %+v", stats)
	}
}

func TestQuietMode(t *testing.T) {
	var buf bytes.Buffer

	output := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, Quiet: true})

	output.PrintHeader(1, 1, time.Second)
	if buf.Len() != 0 {
		t.Error("PrintHeader should not output in quiet mode")
	}

	output.Update(&LiveStats{Progress: 0.5, ActiveVUs: 10, TargetVUs: 10})
	if buf.Len() != 0 {
		t.Error("Update should not output in quiet mode")
	}

	output.PrintSummary(sampleResult(true))
	if !strings.Contains(buf.String(), "PASSED") {
		t.Error("PrintSummary should output PASSED in quiet mode")
	}

	buf.Reset()
	output.PrintSummary(sampleResult(false))
	if !strings.Contains(buf.String(), "FAILED") {
		t.Error("PrintSummary should output FAILED in quiet mode")
	}
}
