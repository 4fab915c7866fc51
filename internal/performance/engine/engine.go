// Package engine runs a ramping health-check load test end to end: it builds
// the VU scheduler and executor from a test config, drives the run, watches
// abortOnFail thresholds and produces the final TestResult.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/rampcheck/internal/performance"
	"github.com/wesleyorama2/rampcheck/internal/performance/config"
	"github.com/wesleyorama2/rampcheck/internal/performance/executor"
	"github.com/wesleyorama2/rampcheck/internal/performance/exporter"
	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

// Defaults for the abortOnFail watcher.
const (
	DefaultAbortCheckInterval = time.Second
	DefaultAbortMinRequests   = 50
)

// Engine is the main orchestrator for a load test.
//
// It coordinates:
//   - Configuration validation and threshold parsing
//   - The ramping-vus executor and its VU scheduler
//   - Metrics collection and aggregation
//   - Threshold evaluation, continuous (abortOnFail) and final
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	os.Exit(result.ExitCode())
type Engine struct {
	config     *config.TestConfig
	thresholds *threshold.Set
	execConfig *executor.Config
	request    performance.Request
	httpConfig performance.HTTPClientConfig

	logger           *zap.Logger
	exporter         *exporter.Exporter
	progressFn       func(Progress)
	progressInterval time.Duration
	abortInterval    time.Duration
	abortMinRequests int64

	mu            sync.RWMutex
	metricsEngine *metrics.Engine
	executor      executor.Executor
	startTime     time.Time
	running       bool
	finished      bool
}

// Progress is a live view of a running test passed to the progress callback.
type Progress struct {
	Metrics    *metrics.Snapshot
	Stats      *executor.Stats
	Progress   float64
	Thresholds *threshold.Verdict
}

// TestResult contains the complete test results.
type TestResult struct {
	// Test metadata
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Config is the effective configuration, defaults applied
	Config *config.TestConfig `json:"config"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	Executor   *executor.Stats       `json:"executor"`

	// Threshold evaluation
	Passed  bool               `json:"passed"`
	Verdict *threshold.Verdict `json:"verdict"`

	// Error is set if the run itself failed, as opposed to a threshold
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// ExitCode maps the result to a process exit status.
func (r *TestResult) ExitCode() int {
	if r == nil {
		return threshold.ExitCodePassed
	}
	return r.Verdict.ExitCode()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExporter serves live metrics through x for the duration of the run.
func WithExporter(x *exporter.Exporter) Option {
	return func(e *Engine) {
		e.exporter = x
	}
}

// WithProgress calls fn every interval while the test runs.
func WithProgress(interval time.Duration, fn func(Progress)) Option {
	return func(e *Engine) {
		e.progressInterval = interval
		e.progressFn = fn
	}
}

// WithAbortCheck sets how often abortOnFail thresholds are evaluated and how
// many requests must have completed before they may abort the run.
func WithAbortCheck(interval time.Duration, minRequests int64) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.abortInterval = interval
		}
		if minRequests >= 0 {
			e.abortMinRequests = minRequests
		}
	}
}

// NewEngine creates a new performance engine.
//
// Parameters:
//   - cfg: The test configuration (from LoadConfig or created programmatically)
//
// Returns the engine or an error if configuration is invalid. Nothing is
// sent to the target before Run.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	// Apply defaults
	config.ApplyDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := threshold.NewSet(cfg.Thresholds.Definitions())
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	execConfig, err := executor.ConfigFromTest(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := execConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	timeout, err := config.ParseDurationString(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}

	// Create HTTP client configuration from settings
	httpConfig := performance.DefaultHTTPClientConfig()
	if timeout > 0 {
		httpConfig.Timeout = timeout
	}
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify

	e := &Engine{
		config:     cfg,
		thresholds: thresholds,
		execConfig: execConfig,
		request: performance.Request{
			URL:       cfg.URL,
			UserAgent: cfg.Settings.UserAgent,
			Headers:   cfg.Settings.Headers,
		},
		httpConfig:       httpConfig,
		logger:           zap.NewNop(),
		progressInterval: time.Second,
		abortInterval:    DefaultAbortCheckInterval,
		abortMinRequests: DefaultAbortMinRequests,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Run executes the test and returns its result.
//
// Request failures and threshold breaches are reported in the result, not
// as errors. An error is returned only when the run could not be carried
// out, for example when the metrics exporter cannot listen. Cancelling ctx
// ends the ramp early; VUs are drained and the thresholds are still
// evaluated over what was collected.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running || e.finished {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.startTime = time.Now()

	// Create the metrics engine and executor for this run
	e.metricsEngine = metrics.NewEngine()
	exec, err := executor.CreateAndInitExecutor(ctx, e.execConfig, e.logger.Named("executor"))
	if err != nil {
		e.running = false
		e.mu.Unlock()
		e.metricsEngine.Stop()
		return nil, err
	}
	e.executor = exec
	metricsEngine := e.metricsEngine
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.finished = true
		e.mu.Unlock()
	}()

	id := uuid.NewString()
	log := e.logger.With(zap.String("run_id", id))
	log.Info("test started",
		zap.String("name", e.config.Name),
		zap.String("url", e.request.URL),
		zap.Int("thresholds", e.thresholds.Len()))

	scheduler := performance.NewVUScheduler(e.request, metricsEngine, e.httpConfig)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		abortMu sync.Mutex
		abortBy *threshold.Result
	)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancelRun()
		return exec.Run(gctx, scheduler, metricsEngine)
	})

	if e.thresholds.HasAbortOnFail() {
		g.Go(func() error {
			if r, ok := e.watchAbort(gctx, metricsEngine); ok {
				abortMu.Lock()
				abortBy = &r
				abortMu.Unlock()
				log.Warn("threshold breached, aborting run",
					zap.String("metric", r.Metric),
					zap.String("threshold", r.Expression),
					zap.String("value", r.Display))
				cancelRun()
			}
			return nil
		})
	}

	if e.progressFn != nil && e.progressInterval > 0 {
		g.Go(func() error {
			e.reportProgress(gctx)
			return nil
		})
	}

	if e.exporter != nil {
		g.Go(func() error {
			return e.exporter.Run(gctx, e)
		})
	}

	runErr := g.Wait()

	scheduler.Shutdown(time.Second)
	metricsEngine.Stop()

	verdict := e.thresholds.Evaluate(metricsEngine)
	if abortBy != nil {
		verdict.Aborted = true
		verdict.AbortedBy = abortBy.Metric + ": " + abortBy.Expression
		verdict.Passed = false
	}

	endTime := time.Now()
	result := &TestResult{
		ID:          id,
		Name:        e.config.Name,
		Description: e.config.Description,
		URL:         e.request.URL,
		StartTime:   e.startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(e.startTime),
		Config:      e.config,
		Metrics:     metricsEngine.GetSnapshot(),
		TimeSeries:  metricsEngine.GetTimeSeries(),
		Phases:      metricsEngine.GetPhaseHistory(),
		Executor:    exec.GetStats(),
		Passed:      verdict.Passed,
		Verdict:     verdict,
		Error:       runErr,
	}
	if runErr != nil {
		result.ErrorMessage = runErr.Error()
	}

	log.Info("test finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", verdict.Aborted),
		zap.Int64("total_requests", result.Metrics.TotalRequests),
		zap.Float64("error_rate", result.Metrics.ErrorRate),
		zap.Float64("rps", result.Metrics.RPS),
		zap.Duration("p95", result.Metrics.Latency.P95))

	return result, runErr
}

// watchAbort evaluates abortOnFail thresholds until ctx is done and reports
// the first breach.
func (e *Engine) watchAbort(ctx context.Context, src *metrics.Engine) (threshold.Result, bool) {
	ticker := time.NewTicker(e.abortInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return threshold.Result{}, false
		case <-ticker.C:
			if src.GetSnapshot().TotalRequests < e.abortMinRequests {
				continue
			}
			if r, breached := e.thresholds.CheckAbort(src); breached {
				return r, true
			}
		}
	}
}

func (e *Engine) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.progressFn(e.snapshotProgress())
		}
	}
}

func (e *Engine) snapshotProgress() Progress {
	e.mu.RLock()
	metricsEngine := e.metricsEngine
	e.mu.RUnlock()

	return Progress{
		Metrics:    metricsEngine.GetSnapshot(),
		Stats:      e.GetStats(),
		Progress:   e.GetProgress(),
		Thresholds: e.thresholds.Evaluate(metricsEngine),
	}
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// Thresholds returns the parsed threshold set.
func (e *Engine) Thresholds() *threshold.Set {
	return e.thresholds
}

// ExecutorConfig returns the executor configuration derived from the test.
func (e *Engine) ExecutorConfig() *executor.Config {
	return e.execConfig
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetSnapshot()
}

// GetTimeSeries returns the time series data.
func (e *Engine) GetTimeSeries() []*metrics.TimeBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetTimeSeries()
}

// GetStats returns the executor statistics, or nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.GetStats()
}

// GetProgress returns the test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0.0
	}
	return e.executor.GetProgress()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the ramp early and waits for VUs to drain or ctx to expire.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec := e.executor
	running := e.running
	e.mu.RUnlock()

	if !running || exec == nil {
		return nil
	}
	return exec.Stop(ctx)
}

// CheckTarget sends a single GET to the configured URL and reports whether
// it answered with a 2xx status. It is used to fail fast before a run.
func (e *Engine) CheckTarget(ctx context.Context) error {
	client := performance.NewHTTPClient(e.httpConfig)
	defer client.CloseIdleConnections()
	vu := performance.NewVirtualUser(0, e.request, client, nil)

	result, err := vu.RunIteration(ctx)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return fmt.Errorf("target %s unreachable: %w", e.request.URL, result.Error)
	}
	if !result.Success() {
		return fmt.Errorf("target %s answered %d", e.request.URL, result.StatusCode)
	}
	return nil
}

var _ exporter.Source = (*Engine)(nil)
