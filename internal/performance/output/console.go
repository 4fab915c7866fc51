// Package output renders a running load test and its final summary to the
// console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

// ANSI escape codes for cursor control.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress tracking
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since test start
	Remaining time.Duration // Time left on the stage timeline

	// VU stats
	ActiveVUs int
	TargetVUs int

	// Request stats
	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64 // 0.0 to 1.0

	// Latency stats
	LatencyP95 time.Duration
	LatencyAvg time.Duration

	// Phase info
	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int

	// Thresholds passing right now, out of ThresholdsTotal
	ThresholdsPassing int
	ThresholdsTotal   int
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName string
	url      string
	writer   io.Writer
	palette  *Palette
	isTTY    bool
	quiet    bool

	mu          sync.Mutex
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName string
	URL      string
	Writer   io.Writer
	Quiet    bool
	NoColor  bool

	// ForceColors and ForceTTY override terminal detection
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var palette *Palette
	switch {
	case config.NoColor:
		palette = NoColorPalette()
	case config.ForceColors || (isTTY && supportsColors()):
		palette = ForcedColorPalette()
	default:
		palette = NoColorPalette()
	}

	return &ConsoleOutput{
		testName: config.TestName,
		url:      config.URL,
		writer:   config.Writer,
		palette:  palette,
		isTTY:    isTTY,
		quiet:    config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader(stages, maxVUs int, duration time.Duration) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.palette.Border.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln(line)
	c.writeln(c.palette.Title.Sprintf("%s - Running [ramping-vus]", c.testName))
	c.writeln(line)
	if c.url != "" {
		c.writeln(fmt.Sprintf("Target:   %s", c.palette.Value.Sprint(c.url)))
	}
	c.writeln(fmt.Sprintf("Plan:     %d stages, up to %d VUs, %s",
		stages, maxVUs, formatDuration(duration)))
	c.writeln("")
}

// Update shows live progress: a redrawn box on a terminal, a status line
// otherwise.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.isTTY {
		c.redraw(stats)
		return
	}
	c.PrintNonInteractiveUpdate(stats)
}

func (c *ConsoleOutput) redraw(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live box. Callers hold mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.palette
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.Good.Sprint(bar),
		p.Title.Sprintf("%.0f%%", stats.Progress*100),
		p.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", p.Phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, p.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", p.Value.Sprintf("%d", stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", p.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	errColor := p.errorRateColor(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", p.Good.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprintf("%d", stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", p.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", p.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	if stats.ThresholdsTotal > 0 {
		thColor := p.Good
		if stats.ThresholdsPassing < stats.ThresholdsTotal {
			thColor = p.Bad
		}
		thStr := fmt.Sprintf("Thresholds: %s",
			thColor.Sprintf("%d/%d passing", stats.ThresholdsPassing, stats.ThresholdsTotal))
		lines = append(lines, c.formatBoxRow(thStr, "", boxWidth))
	}

	lines = append(lines, p.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	// 3 borders and 3 spaces; the right column takes the odd column.
	leftWidth := (boxWidth - 6) / 2
	rightWidth := boxWidth - 6 - leftWidth

	leftPadding := max(leftWidth-len([]rune(stripANSI(left))), 0)
	rightPadding := max(rightWidth-len([]rune(stripANSI(right))), 0)

	border := c.palette.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, strings.Repeat(" ", leftPadding),
		border,
		right, strings.Repeat(" ", rightPadding),
		border)
}

// PrintNonInteractiveUpdate prints a one-line status update, for output
// that is piped to a file or a CI log.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95))
	if stats.ThresholdsTotal > 0 {
		line += fmt.Sprintf(" | Thresholds: %d/%d", stats.ThresholdsPassing, stats.ThresholdsTotal)
	}
	c.writeln(line)
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	p := c.palette

	if c.quiet {
		if result.Passed {
			c.writeln(p.Good.Sprint("PASSED"))
		} else {
			c.writeln(p.Bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := p.Border.Sprint(strings.Repeat(boxHorizontal, 56))
	status := p.Good.Sprint("Completed ✓")
	switch {
	case result.Verdict != nil && result.Verdict.Aborted:
		status = p.Bad.Sprint("Aborted ✗")
	case !result.Passed:
		status = p.Bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(line)
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(result.Name), status))
	c.writeln(line)
	c.writeln("")

	if result.ID != "" {
		c.writeln(fmt.Sprintf("Run ID:        %s", p.Dim.Sprint(result.ID)))
	}
	c.writeln(fmt.Sprintf("Duration:      %s", p.Value.Sprint(formatDuration(result.Duration))))

	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", p.Value.Sprint(formatNumber(m.TotalRequests))))
		c.writeln(fmt.Sprintf("Failed Reqs:   %s", p.errorRateColor(m.ErrorRate).Sprintf("%s (%.2f%%)", formatNumber(m.FailedRequests), m.ErrorRate*100)))
		c.writeln(fmt.Sprintf("Iterations:    %s", p.Value.Sprint(formatNumber(m.Iterations))))
		c.writeln(fmt.Sprintf("Avg RPS:       %s", p.Value.Sprintf("%.1f", m.RPS)))
		c.writeln(fmt.Sprintf("Peak VUs:      %s", p.Value.Sprintf("%d", m.MaxVUs)))
		c.writeln("")

		c.writeln(p.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(m.Latency.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
	}
	c.writeln("")

	if result.Verdict != nil && len(result.Verdict.Results) > 0 {
		c.writeln(p.Title.Sprint("Thresholds:"))
		for _, l := range ThresholdLines(result.Verdict, p) {
			c.writeln("  " + l)
		}
		c.writeln("")
	}

	if result.Verdict != nil && result.Verdict.Aborted {
		c.writeln(p.Bad.Sprintf("Run aborted early by %s", result.Verdict.AbortedBy))
		c.writeln("")
	}
	if result.ErrorMessage != "" {
		c.writeln(p.Bad.Sprintf("Error: %s", result.ErrorMessage))
		c.writeln("")
	}
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromProgress creates LiveStats from an engine progress report.
func StatsFromProgress(p engine.Progress) *LiveStats {
	stats := &LiveStats{
		Progress:     p.Progress,
		CurrentPhase: "initializing",
	}

	if s := p.Stats; s != nil {
		stats.TargetVUs = s.TargetVUs
		stats.TotalStages = s.TotalStages
		if s.CurrentStage >= 0 && s.CurrentStage < s.TotalStages {
			stats.CurrentStage = s.CurrentStage + 1
		} else if s.CurrentStage >= s.TotalStages {
			stats.CurrentStage = s.TotalStages
		}
		stats.Remaining = max(s.TotalDuration-s.Elapsed, 0)
	}

	if m := p.Metrics; m != nil {
		stats.Elapsed = m.Elapsed
		stats.ActiveVUs = m.ActiveVUs
		stats.CurrentRPS = m.RPS
		stats.TotalRequests = m.TotalRequests
		stats.Errors = m.FailedRequests
		stats.ErrorRate = m.ErrorRate
		stats.LatencyP95 = m.Latency.P95
		stats.LatencyAvg = m.Latency.Mean
		if m.CurrentPhase != "" {
			stats.CurrentPhase = string(m.CurrentPhase)
		}
	}

	if v := p.Thresholds; v != nil {
		stats.ThresholdsTotal = len(v.Results)
		stats.ThresholdsPassing = stats.ThresholdsTotal - len(v.Failed())
	}

	return stats
}

// renderProgressBar renders a progress bar of width cells in brackets.
func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency value.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	str = strings.TrimPrefix(str, "-")
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// ThresholdLines renders one line per threshold result, for callers that
// print a verdict without the full summary.
func ThresholdLines(v *threshold.Verdict, palette *Palette) []string {
	if v == nil {
		return nil
	}
	lines := make([]string, 0, len(v.Results))
	for _, r := range v.Results {
		icon := palette.PassIcon()
		if !r.Passed {
			icon = palette.FailIcon()
		}
		lines = append(lines, fmt.Sprintf("%s %s %s (actual: %s)", icon, r.Metric, r.Expression, r.Display))
	}
	return lines
}
