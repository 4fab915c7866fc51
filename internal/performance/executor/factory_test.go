package executor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/rampcheck/internal/performance/config"
	"github.com/wesleyorama2/rampcheck/internal/performance/executor"
)

func TestNewExecutor_RampingVUs(t *testing.T) {
	e, err := executor.NewExecutor(executor.TypeRampingVUs, nil)
	if err != nil {
		t.Fatalf("NewExecutor(TypeRampingVUs) error = %v", err)
	}
	if e == nil {
		t.Fatal("NewExecutor(TypeRampingVUs) returned nil")
	}
	if e.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeRampingVUs)
	}
}

func TestNewExecutor_UnknownType(t *testing.T) {
	for _, typ := range []executor.Type{"constant-arrival-rate", "unknown-type", ""} {
		if _, err := executor.NewExecutor(typ, nil); err == nil {
			t.Errorf("NewExecutor(%q) expected error, got nil", typ)
		}
	}
}

func TestCreateAndInitExecutor(t *testing.T) {
	cfg := &executor.Config{
		Type:   executor.TypeRampingVUs,
		Stages: []executor.Stage{{Duration: time.Second, Target: 1}},
	}

	e, err := executor.CreateAndInitExecutor(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("CreateAndInitExecutor() error = %v", err)
	}
	if e.GetStats().TotalStages != 1 {
		t.Errorf("executor not initialized with config")
	}

	cfg.Stages = nil
	_, err = executor.CreateAndInitExecutor(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "failed to initialize executor") {
		t.Errorf("CreateAndInitExecutor() error = %v, want init failure", err)
	}
}

func TestConfigFromTest(t *testing.T) {
	tc := config.DefaultConfig()

	cfg, err := executor.ConfigFromTest(tc)
	if err != nil {
		t.Fatalf("ConfigFromTest() error = %v", err)
	}

	if cfg.Type != executor.TypeRampingVUs {
		t.Errorf("Type = %v, want ramping-vus", cfg.Type)
	}
	if cfg.ThinkTime != 500*time.Millisecond {
		t.Errorf("ThinkTime = %v, want 500ms", cfg.ThinkTime)
	}
	if cfg.GracefulStop != 30*time.Second {
		t.Errorf("GracefulStop = %v, want 30s", cfg.GracefulStop)
	}

	want := []executor.Stage{
		{Duration: 30 * time.Second, Target: 100},
		{Duration: 2 * time.Minute, Target: 200},
		{Duration: 1 * time.Minute, Target: 0},
	}
	if len(cfg.Stages) != len(want) {
		t.Fatalf("len(Stages) = %d, want %d", len(cfg.Stages), len(want))
	}
	for i := range want {
		if cfg.Stages[i].Duration != want[i].Duration || cfg.Stages[i].Target != want[i].Target {
			t.Errorf("Stages[%d] = %+v, want %+v", i, cfg.Stages[i], want[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("converted config should validate: %v", err)
	}
	if got := cfg.TotalDuration(); got != 210*time.Second {
		t.Errorf("TotalDuration() = %v, want 3m30s", got)
	}
	if got := executor.MaxTarget(cfg.Stages); got != 200 {
		t.Errorf("MaxTarget() = %d, want 200", got)
	}
}

func TestConfigFromTest_ZeroGracefulStop(t *testing.T) {
	tc := config.DefaultConfig()
	tc.GracefulStop = "0s"
	config.ApplyDefaults(tc)

	cfg, err := executor.ConfigFromTest(tc)
	if err != nil {
		t.Fatalf("ConfigFromTest() error = %v", err)
	}
	if cfg.GracefulStop != 0 {
		t.Errorf("GracefulStop = %v, want 0 to be kept", cfg.GracefulStop)
	}
}

func TestConfigFromTest_InvalidDurations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.TestConfig)
		errMsg string
	}{
		{"sleep", func(c *config.TestConfig) { c.Sleep = "soon" }, "invalid sleep"},
		{"gracefulStop", func(c *config.TestConfig) { c.GracefulStop = "later" }, "invalid gracefulStop"},
		{"stage", func(c *config.TestConfig) { c.Stages[1].Duration = "2 minutes" }, "stage 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := config.DefaultConfig()
			tt.mutate(tc)

			_, err := executor.ConfigFromTest(tc)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ConfigFromTest() error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := (&executor.Config{}).Validate()
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	if got := err.Error(); got != "validation error on field 'type': executor type is required" {
		t.Errorf("Error() = %q", got)
	}
}
