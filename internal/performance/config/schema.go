// Package config provides configuration parsing and validation for load test runs.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

// TestConfig is the root configuration for a load test run.
//
// Example YAML:
//
//	name: "Health check ramp"
//	url: "http://127.0.0.1:64240/api/health_check"
//	sleep: 500ms
//	stages:
//	  - duration: 30s
//	    target: 100
//	  - duration: 2m
//	    target: 200
//	  - duration: 1m
//	    target: 0
//	thresholds:
//	  http_req_failed: ["rate<0.01"]
//	  http_req_duration: ["p(95)<500"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// URL is the endpoint every virtual user requests with GET
	URL string `json:"url" yaml:"url"`

	// Sleep is the fixed think time after every request (e.g. "500ms")
	Sleep string `json:"sleep,omitempty" yaml:"sleep,omitempty"`

	// Timeout is the per-request timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop is how long in-flight requests may run once the last stage ends
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Stages define the ramping profile
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Thresholds define pass/fail criteria, keyed by metric name
	Thresholds ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Settings contains HTTP client settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// StageConfig defines a single stage of the ramping profile.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// GlobalSettings contains HTTP client settings.
type GlobalSettings struct {
	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header sent with every request
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are fixed headers sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ThresholdsConfig maps a metric name to its threshold expressions.
//
//	thresholds:
//	  http_req_failed: ["rate<0.01"]
//	  http_req_duration:
//	    - "p(95)<500"
//	    - threshold: "p(99)<1500"
//	      abortOnFail: true
type ThresholdsConfig map[string][]ThresholdConfig

// Metrics returns the configured metric names in sorted order.
func (t ThresholdsConfig) Metrics() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions flattens the map into threshold definitions, ordered by
// metric name and then by position within each metric.
func (t ThresholdsConfig) Definitions() []threshold.Definition {
	var defs []threshold.Definition
	for _, metric := range t.Metrics() {
		for _, tc := range t[metric] {
			defs = append(defs, threshold.Definition{
				Metric:      metric,
				Expression:  tc.Threshold,
				AbortOnFail: tc.AbortOnFail,
			})
		}
	}
	return defs
}

// ThresholdConfig is a single threshold expression.
//
// In YAML and JSON it is either a bare string or an object with the
// threshold and an abortOnFail flag.
type ThresholdConfig struct {
	// Threshold is the expression, e.g. "rate<0.01" or "p(95)<500"
	Threshold string `json:"threshold" yaml:"threshold"`

	// AbortOnFail stops the run as soon as the threshold is breached
	AbortOnFail bool `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
}

// thresholdObject avoids recursion into the custom unmarshalers.
type thresholdObject struct {
	Threshold   string `json:"threshold" yaml:"threshold"`
	AbortOnFail bool   `json:"abortOnFail" yaml:"abortOnFail"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		t.Threshold = value.Value
		t.AbortOnFail = false
		return nil
	case yaml.MappingNode:
		var obj thresholdObject
		if err := value.Decode(&obj); err != nil {
			return err
		}
		t.Threshold = obj.Threshold
		t.AbortOnFail = obj.AbortOnFail
		return nil
	default:
		return fmt.Errorf("line %d: threshold must be a string or an object", value.Line)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (t ThresholdConfig) MarshalYAML() (interface{}, error) {
	if !t.AbortOnFail {
		return t.Threshold, nil
	}
	return thresholdObject{Threshold: t.Threshold, AbortOnFail: true}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.Threshold = s
		t.AbortOnFail = false
		return nil
	}

	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	t.Threshold = obj.Threshold
	t.AbortOnFail = obj.AbortOnFail
	return nil
}

// MarshalJSON implements json.Marshaler. Expressions keep their < and >
// unescaped.
func (t ThresholdConfig) MarshalJSON() ([]byte, error) {
	if !t.AbortOnFail {
		return marshalUnescaped(t.Threshold)
	}
	return marshalUnescaped(thresholdObject{Threshold: t.Threshold, AbortOnFail: true})
}

func marshalUnescaped(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
