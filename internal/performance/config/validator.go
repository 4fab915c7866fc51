package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateURL(c.URL, errs)

	validateDuration("sleep", c.Sleep, errs)
	validateDuration("timeout", c.Timeout, errs)
	validateDuration("gracefulStop", c.GracefulStop, errs)

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, stage := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), &stage, errs)
	}
	if len(c.Stages) > 0 && c.TotalDuration() <= 0 {
		errs.Add("stages", "total stage duration must be greater than 0")
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateURL requires an absolute http or https URL.
func validateURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("url", "url is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("url", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("url", fmt.Sprintf("unsupported scheme %q: only http and https are allowed", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("url", "url must include a host")
	}
}

func validateDuration(field, value string, errs *ValidationErrors) {
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateThresholds checks that every threshold names a collected metric
// and parses for that metric's type.
func validateThresholds(t ThresholdsConfig, errs *ValidationErrors) {
	for _, metric := range t.Metrics() {
		if !threshold.IsKnownMetric(metric) {
			errs.Add("thresholds."+metric, fmt.Sprintf("unknown metric %q (known: %s)",
				metric, strings.Join(threshold.KnownMetrics(), ", ")))
			continue
		}

		for i, tc := range t[metric] {
			if _, err := threshold.Parse(metric, tc.Threshold); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

// validateSettings validates HTTP client settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	for key := range s.Headers {
		if strings.TrimSpace(key) == "" {
			errs.Add("settings.headers", "header name cannot be empty")
		}
	}
}
