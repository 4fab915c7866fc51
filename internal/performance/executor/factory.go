package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampcheck/internal/performance/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type, logger *zap.Logger) (Executor, error) {
	switch executorType {
	case TypeRampingVUs:
		return NewRampingVUs(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
//
// This is a convenience function that combines NewExecutor and Init.
func CreateAndInitExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (Executor, error) {
	exec, err := NewExecutor(cfg.Type, logger)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// ConfigFromTest converts a test document into a ramping-vus executor config,
// parsing every duration string.
func ConfigFromTest(tc *config.TestConfig) (*Config, error) {
	cfg := &Config{
		Name: tc.Name,
		Type: TypeRampingVUs,
	}

	if tc.Sleep != "" {
		dur, err := config.ParseDurationString(tc.Sleep)
		if err != nil {
			return nil, fmt.Errorf("invalid sleep: %w", err)
		}
		cfg.ThinkTime = dur
	}

	if tc.GracefulStop != "" {
		dur, err := config.ParseDurationString(tc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
		cfg.GracefulStop = dur
	}

	for i, stage := range tc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for stage %d: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	return cfg, nil
}
