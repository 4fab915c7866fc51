package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *TestConfig {
	cfg := &TestConfig{
		URL: "http://localhost:8080/api/health_check",
		Stages: []StageConfig{
			{Duration: "30s", Target: 10},
			{Duration: "30s", Target: 0},
		},
		Thresholds: ThresholdsConfig{
			"http_req_failed":   {{Threshold: "rate<0.01"}},
			"http_req_duration": {{Threshold: "p(95)<500"}},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_MinimalValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned error: %v", err)
	}
}

func TestValidate_NoStages(t *testing.T) {
	cfg := validConfig()
	cfg.Stages = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error when no stages defined")
	}
	if !strings.Contains(err.Error(), "stage") {
		t.Errorf("Error should mention 'stage', got: %v", err)
	}
}

func TestValidate_URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://localhost:8080/health", false},
		{"https", "https://example.com", false},
		{"empty", "", true},
		{"relative", "/api/health", true},
		{"ftp scheme", "ftp://example.com/file", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.URL = tt.url

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), "url") {
				t.Errorf("Error should mention 'url', got: %v", err)
			}
		})
	}
}

func TestValidate_Stages(t *testing.T) {
	tests := []struct {
		name    string
		stages  []StageConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:   "zero duration stage allowed",
			stages: []StageConfig{{Duration: "0s", Target: 10}, {Duration: "10s", Target: 10}},
		},
		{
			name:   "target zero allowed",
			stages: []StageConfig{{Duration: "10s", Target: 0}},
		},
		{
			name:    "negative target",
			stages:  []StageConfig{{Duration: "10s", Target: -1}},
			wantErr: true,
			errMsg:  "target",
		},
		{
			name:    "missing duration",
			stages:  []StageConfig{{Target: 5}},
			wantErr: true,
			errMsg:  "duration",
		},
		{
			name:    "invalid duration",
			stages:  []StageConfig{{Duration: "invalid", Target: 5}},
			wantErr: true,
			errMsg:  "duration",
		},
		{
			name:    "negative duration",
			stages:  []StageConfig{{Duration: "-5s", Target: 5}},
			wantErr: true,
			errMsg:  "negative",
		},
		{
			name:    "all zero durations",
			stages:  []StageConfig{{Duration: "0s", Target: 5}},
			wantErr: true,
			errMsg:  "total stage duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Stages = tt.stages

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(strings.ToLower(err.Error()), tt.errMsg) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_Durations(t *testing.T) {
	cfg := validConfig()
	cfg.Sleep = "soon"
	cfg.Timeout = "-1s"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail on bad sleep and timeout")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(verrs.Errors), err)
	}
}

func TestValidate_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds ThresholdsConfig
		wantErr    bool
		errMsg     string
	}{
		{
			name: "spaced form",
			thresholds: ThresholdsConfig{
				"http_req_duration": {{Threshold: "p95 < 500ms"}},
			},
		},
		{
			name: "counter and gauge",
			thresholds: ThresholdsConfig{
				"http_reqs": {{Threshold: "count>10"}},
				"vus_max":   {{Threshold: "value<=200"}},
			},
		},
		{
			name: "unknown metric",
			thresholds: ThresholdsConfig{
				"failure_rate": {{Threshold: "rate<0.01"}},
			},
			wantErr: true,
			errMsg:  "unknown metric",
		},
		{
			name: "aggregation not valid for metric",
			thresholds: ThresholdsConfig{
				"http_req_failed": {{Threshold: "p(95)<500"}},
			},
			wantErr: true,
			errMsg:  "http_req_failed",
		},
		{
			name: "malformed expression",
			thresholds: ThresholdsConfig{
				"http_req_duration": {{Threshold: "fast please"}},
			},
			wantErr: true,
			errMsg:  "http_req_duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Thresholds = tt.thresholds

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_Settings(t *testing.T) {
	cfg := validConfig()
	cfg.Settings.MaxIdleConnsPerHost = -1
	cfg.Settings.Headers = map[string]string{" ": "x"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail on bad settings")
	}
	if !strings.Contains(err.Error(), "maxIdleConnsPerHost") {
		t.Errorf("Error should mention maxIdleConnsPerHost, got: %v", err)
	}
	if !strings.Contains(err.Error(), "header name") {
		t.Errorf("Error should mention header name, got: %v", err)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("unexpected empty message: %q", errs.Error())
	}

	errs.Add("url", "url is required")
	if got := errs.Error(); got != "validation error on field 'url': url is required" {
		t.Errorf("unexpected single message: %q", got)
	}

	errs.Add("", "something else")
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("unexpected multi message: %q", got)
	}
	if !strings.Contains(got, "validation error: something else") {
		t.Errorf("field-less error not rendered: %q", got)
	}
}
