package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults. They mirror the health check profile the
// tool was built around.
const (
	DefaultURL          = "http://127.0.0.1:64240/api/health_check"
	DefaultSleep        = "500ms"
	DefaultTimeout      = "30s"
	DefaultGracefulStop = "30s"
	DefaultUserAgent    = "rampcheck/1.0"
	DefaultName         = "Health check ramp"
)

// DefaultConfig returns the stock profile: ramp to 100 VUs in 30s, to 200 VUs
// over 2m, drain over 1m, failing when more than 1% of requests fail or p95
// latency reaches 500ms.
func DefaultConfig() *TestConfig {
	cfg := &TestConfig{
		Name: DefaultName,
		URL:  DefaultURL,
		Stages: []StageConfig{
			{Duration: "30s", Target: 100},
			{Duration: "2m", Target: 200},
			{Duration: "1m", Target: 0},
		},
		Thresholds: ThresholdsConfig{
			"http_req_failed":   {{Threshold: "rate<0.01"}},
			"http_req_duration": {{Threshold: "p(95)<500"}},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig checks the raw document against the config schema and decodes it.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	if err := ValidateDocument(data, path); err != nil {
		return nil, err
	}

	var config TestConfig

	if isJSON(path) {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

func isJSON(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	seconds, err := strconv.Atoi(s)
	if err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses stages from the CLI format "30s:100,2m:200,1m:0".
func ParseStages(stagesStr string) ([]StageConfig, error) {
	var stages []StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// ParseThresholdFlag parses the CLI form "metric=expression", for example
// "http_req_failed=rate<0.01". A trailing "!" on the expression marks it
// abortOnFail.
func ParseThresholdFlag(s string) (string, ThresholdConfig, error) {
	idx := strings.Index(s, "=")
	if idx <= 0 {
		return "", ThresholdConfig{}, fmt.Errorf("expected 'metric=expression', got '%s'", s)
	}

	// "==" is an operator, not the separator.
	if strings.HasPrefix(s[idx:], "==") {
		return "", ThresholdConfig{}, fmt.Errorf("expected 'metric=expression', got '%s'", s)
	}

	metric := strings.TrimSpace(s[:idx])
	expr := strings.TrimSpace(s[idx+1:])

	tc := ThresholdConfig{Threshold: expr}
	if strings.HasSuffix(expr, "!") {
		tc.Threshold = strings.TrimSpace(strings.TrimSuffix(expr, "!"))
		tc.AbortOnFail = true
	}
	if tc.Threshold == "" {
		return "", ThresholdConfig{}, fmt.Errorf("empty threshold expression for metric '%s'", metric)
	}

	return metric, tc, nil
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Sleep == "" {
		config.Sleep = DefaultSleep
	}
	if config.Timeout == "" {
		config.Timeout = DefaultTimeout
	}
	if config.GracefulStop == "" {
		config.GracefulStop = DefaultGracefulStop
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	for i, stage := range config.Stages {
		if stage.Name == "" {
			config.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}

// TotalDuration sums the stage durations. Unparseable stages count as zero;
// Validate reports them.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		if d, err := ParseDurationString(stage.Duration); err == nil {
			total += d
		}
	}
	return total
}

// MaxTarget returns the highest stage target.
func (c *TestConfig) MaxTarget() int {
	maxVUs := 0
	for _, stage := range c.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}
