package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_YAML(t *testing.T) {
	yamlContent := `
name: "Health Check"
url: "http://localhost:64240/api/health_check"
sleep: 500ms
stages:
  - duration: 30s
    target: 100
  - duration: 2m
    target: 200
  - duration: 1m
    target: 0
thresholds:
  http_req_failed: ["rate<0.01"]
  http_req_duration:
    - "p(95)<500"
    - threshold: "p(99)<1500"
      abortOnFail: true
settings:
  insecureSkipVerify: true
  headers:
    X-Trace-Id: rampcheck
`

	config, err := ParseConfig([]byte(yamlContent), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "Health Check" {
		t.Errorf("Name = %v, want %v", config.Name, "Health Check")
	}
	if len(config.Stages) != 3 {
		t.Fatalf("Stages count = %d, want 3", len(config.Stages))
	}
	if config.Stages[1].Target != 200 {
		t.Errorf("Stages[1].Target = %d, want 200", config.Stages[1].Target)
	}

	durations := config.Thresholds["http_req_duration"]
	if len(durations) != 2 {
		t.Fatalf("http_req_duration thresholds = %d, want 2", len(durations))
	}
	if durations[0].Threshold != "p(95)<500" || durations[0].AbortOnFail {
		t.Errorf("unexpected first threshold: %+v", durations[0])
	}
	if durations[1].Threshold != "p(99)<1500" || !durations[1].AbortOnFail {
		t.Errorf("unexpected second threshold: %+v", durations[1])
	}

	if !config.Settings.InsecureSkipVerify {
		t.Error("Settings.InsecureSkipVerify should be true")
	}
	if config.Settings.Headers["X-Trace-Id"] != "rampcheck" {
		t.Errorf("Settings.Headers = %v", config.Settings.Headers)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonContent := `{
  "name": "JSON Test",
  "url": "https://example.com/health",
  "stages": [{"duration": "10s", "target": 5}],
  "thresholds": {
    "http_req_failed": ["rate<0.05", {"threshold": "rate<0.5", "abortOnFail": true}]
  }
}`

	config, err := ParseConfig([]byte(jsonContent), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "JSON Test" {
		t.Errorf("Name = %v, want %v", config.Name, "JSON Test")
	}
	failed := config.Thresholds["http_req_failed"]
	if len(failed) != 2 || !failed[1].AbortOnFail {
		t.Errorf("unexpected thresholds: %+v", failed)
	}
}

func TestParseConfig_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
		errMsg  string
	}{
		{
			name:    "unknown top level key",
			content: "url: http://x\nscenarios: {}\n",
			path:    "c.yaml",
			errMsg:  "scenarios",
		},
		{
			name:    "target not an integer",
			content: "url: http://x\nstages:\n  - duration: 10s\n    target: many\n",
			path:    "c.yaml",
			errMsg:  "stages.0.target",
		},
		{
			name:    "stage missing target",
			content: `{"url": "http://x", "stages": [{"duration": "10s"}]}`,
			path:    "c.json",
			errMsg:  "target",
		},
		{
			name:    "threshold wrong type",
			content: `{"url": "http://x", "thresholds": {"http_reqs": [42]}}`,
			path:    "c.json",
			errMsg:  "thresholds.http_reqs.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content), tt.path)
			if err == nil {
				t.Fatal("ParseConfig() should fail")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected *ValidationErrors, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestParseConfig_InvalidSyntax(t *testing.T) {
	if _, err := ParseConfig([]byte("url: [unclosed"), "c.yaml"); err == nil {
		t.Error("ParseConfig() should fail on malformed YAML")
	}
	if _, err := ParseConfig([]byte(`{"url": `), "c.json"); err == nil {
		t.Error("ParseConfig() should fail on malformed JSON")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-config.yaml")

	yamlContent := `
name: "File Test"
url: "http://localhost:8080/health"
stages:
  - duration: 10s
    target: 5
`
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	config, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Name != "File Test" {
		t.Errorf("Name = %v, want %v", config.Name, "File Test")
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadConfig() should return error for nonexistent file")
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"500ms", 500 * time.Millisecond, false},
		{"30", 30 * time.Second, false},
		{" 5s ", 5 * time.Second, false},
		{"", 0, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:100, 2m:200,1m:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}

	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	want := []StageConfig{
		{Duration: "30s", Target: 100, Name: "stage-1"},
		{Duration: "2m", Target: 200, Name: "stage-2"},
		{Duration: "1m", Target: 0, Name: "stage-3"},
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %+v, want %+v", i, stages[i], want[i])
		}
	}
}

func TestParseStages_Errors(t *testing.T) {
	inputs := []string{
		"",
		"30s",
		"abc:10",
		"30s:ten",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseStages(input); err == nil {
				t.Errorf("ParseStages(%q) should fail", input)
			}
		})
	}
}

func TestParseThresholdFlag(t *testing.T) {
	tests := []struct {
		input      string
		wantMetric string
		wantExpr   string
		wantAbort  bool
		wantErr    bool
	}{
		{"http_req_failed=rate<0.01", "http_req_failed", "rate<0.01", false, false},
		{"http_req_duration=p(95)<500", "http_req_duration", "p(95)<500", false, false},
		{"http_req_duration = p95 < 500ms !", "http_req_duration", "p95 < 500ms", true, false},
		{"http_reqs=count>=10", "http_reqs", "count>=10", false, false},
		{"rate<0.01", "", "", false, true},
		{"=rate<0.01", "", "", false, true},
		{"http_reqs==5", "", "", false, true},
		{"http_reqs=!", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			metric, tc, err := ParseThresholdFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThresholdFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if metric != tt.wantMetric || tc.Threshold != tt.wantExpr || tc.AbortOnFail != tt.wantAbort {
				t.Errorf("ParseThresholdFlag(%q) = %q, %+v", tt.input, metric, tc)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{
		URL:    "http://localhost/health",
		Stages: []StageConfig{{Duration: "10s", Target: 5}},
	}

	ApplyDefaults(config)

	if config.Name != DefaultName {
		t.Errorf("Name = %q, want %q", config.Name, DefaultName)
	}
	if config.Sleep != DefaultSleep {
		t.Errorf("Sleep = %q, want %q", config.Sleep, DefaultSleep)
	}
	if config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %q, want %q", config.Timeout, DefaultTimeout)
	}
	if config.GracefulStop != DefaultGracefulStop {
		t.Errorf("GracefulStop = %q, want %q", config.GracefulStop, DefaultGracefulStop)
	}
	if config.Settings.MaxIdleConnsPerHost != 100 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 100", config.Settings.MaxIdleConnsPerHost)
	}
	if config.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want %q", config.Settings.UserAgent, DefaultUserAgent)
	}
	if config.Stages[0].Name != "stage-1" {
		t.Errorf("Stages[0].Name = %q, want stage-1", config.Stages[0].Name)
	}
}

func TestApplyDefaults_KeepsZeroGracefulStop(t *testing.T) {
	config := &TestConfig{
		URL:          "http://localhost/health",
		Stages:       []StageConfig{{Duration: "10s", Target: 5}},
		GracefulStop: "0s",
	}

	ApplyDefaults(config)

	if config.GracefulStop != "0s" {
		t.Errorf("GracefulStop = %q, want 0s", config.GracefulStop)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TotalDuration() != 3*time.Minute+30*time.Second {
		t.Errorf("TotalDuration() = %v, want 3m30s", cfg.TotalDuration())
	}
	if cfg.MaxTarget() != 200 {
		t.Errorf("MaxTarget() = %d, want 200", cfg.MaxTarget())
	}
	if got := cfg.Thresholds.Metrics(); len(got) != 2 || got[0] != "http_req_duration" || got[1] != "http_req_failed" {
		t.Errorf("Thresholds.Metrics() = %v", got)
	}
}

func TestThresholdConfig_MarshalRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Thresholds["http_reqs"] = []ThresholdConfig{{Threshold: "count>1", AbortOnFail: true}}

	out, err := cfg.Thresholds["http_reqs"][0].MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(out) != `{"threshold":"count>1","abortOnFail":true}` {
		t.Errorf("MarshalJSON() = %s", out)
	}

	plain, err := cfg.Thresholds["http_req_failed"][0].MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(plain) != `"rate<0.01"` {
		t.Errorf("MarshalJSON() = %s", plain)
	}
}
