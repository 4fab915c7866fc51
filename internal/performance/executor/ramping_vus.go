package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampcheck/internal/performance"
	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
)

// controllerTick is how often the VU count is re-aligned with the stages.
const controllerTick = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// Every controllerTick the target is recomputed with TargetAt. New VUs are
// only spawned while the number of live VU goroutines, including those
// still finishing a request after a stop, is below the target, so the
// population never exceeds it. Excess VUs are asked to stop and finish
// their in-flight request.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 100    # Ramp from 0 to 100 VUs over 30s
//	  - duration: 2m
//	    target: 200    # Ramp from 100 to 200 VUs over 2 minutes
//	  - duration: 1m
//	    target: 0      # Ramp down to 0 VUs over 1 minute
//
// At the end of the run every VU is asked to stop. VUs still busy after
// GracefulStop have their requests cancelled.
type RampingVUs struct {
	config    *Config
	scheduler *performance.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	// State
	startTime    time.Time
	targetVUs    atomic.Int32
	peakVUs      atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool

	// Cancellation
	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	doneCh     chan struct{}
	wg         sync.WaitGroup

	// VUs not asked to stop, oldest first
	vus   []*performance.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor. A nil logger discards
// log output.
func NewRampingVUs(logger *zap.Logger) *RampingVUs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RampingVUs{
		logger: logger,
		vus:    make([]*performance.VirtualUser, 0),
		doneCh: make(chan struct{}),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.currentStage.Store(-1)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor already running")
	}
	defer close(e.doneCh)

	e.scheduler = scheduler
	e.metrics = metricsEngine

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	totalDuration := e.config.TotalDuration()

	// VU requests outlive runCtx so in-flight work can finish during the
	// graceful stop; hardCancel cuts them off afterwards.
	vuCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	runCtx, cancel := context.WithTimeout(ctx, totalDuration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	e.logger.Info("ramping-vus started",
		zap.String("executor", e.config.Name),
		zap.Int("stages", len(e.config.Stages)),
		zap.Int("max_vus", MaxTarget(e.config.Stages)),
		zap.Duration("duration", totalDuration),
		zap.Duration("think_time", e.config.ThinkTime))

	e.vuController(runCtx, vuCtx)

	if ctx.Err() != nil {
		e.logger.Info("run interrupted, draining VUs", zap.Error(context.Cause(ctx)))
	}

	e.gracefulShutdown(hardCancel)

	e.setMetricsVUs()
	if e.metrics != nil {
		e.metrics.SetPhase(metrics.PhaseDone)
	}
	e.finished.Store(true)

	e.logger.Info("ramping-vus finished",
		zap.Duration("elapsed", time.Since(e.startTime)),
		zap.Int("peak_vus", int(e.peakVUs.Load())))

	return nil
}

// vuController adjusts VU count according to stages until runCtx is done.
func (e *RampingVUs) vuController(runCtx, vuCtx context.Context) {
	ticker := time.NewTicker(controllerTick)
	defer ticker.Stop()

	e.tick(vuCtx)
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			e.tick(vuCtx)
		}
	}
}

func (e *RampingVUs) tick(vuCtx context.Context) {
	target, stage := TargetAt(e.config.Stages, time.Since(e.startTime))
	e.targetVUs.Store(int32(target))
	e.enterStage(stage)
	e.adjustVUs(vuCtx, target)
}

// enterStage records a stage transition and updates the metrics phase.
func (e *RampingVUs) enterStage(stage int) {
	prev := int(e.currentStage.Swap(int32(stage)))
	if prev == stage || stage >= len(e.config.Stages) {
		return
	}

	s := e.config.Stages[stage]
	e.logger.Info("stage started",
		zap.Int("stage", stage),
		zap.String("name", s.Name),
		zap.Int("target", s.Target),
		zap.Duration("duration", s.Duration))

	if e.metrics != nil {
		e.metrics.SetPhase(PhaseFor(e.config.Stages, stage))
	}
}

// adjustVUs moves the VU population towards targetVUs.
func (e *RampingVUs) adjustVUs(vuCtx context.Context, targetVUs int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	if excess := len(e.vus) - targetVUs; excess > 0 {
		// Stop the newest VUs first
		for i := len(e.vus) - 1; i >= targetVUs; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:targetVUs]
		e.logger.Debug("stopping VUs", zap.Int("count", excess), zap.Int("target", targetVUs))
	}

	// Stopping VUs still count as live until their request completes.
	if missing := targetVUs - e.scheduler.LiveVUs(); missing > 0 {
		for i := 0; i < missing; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go e.runVU(vuCtx, vu)
		}
		e.logger.Debug("spawned VUs", zap.Int("count", missing), zap.Int("target", targetVUs))
	}

	e.setMetricsVUs()
}

func (e *RampingVUs) setMetricsVUs() {
	live := e.scheduler.LiveVUs()
	for {
		peak := e.peakVUs.Load()
		if int32(live) <= peak || e.peakVUs.CompareAndSwap(peak, int32(live)) {
			break
		}
	}
	if e.metrics != nil {
		e.metrics.SetActiveVUs(live)
	}
}

// runVU runs a single VU until stopped.
func (e *RampingVUs) runVU(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()
	e.scheduler.RunVU(ctx, vu, e.config.ThinkTime)
}

// gracefulShutdown asks every VU to stop and waits up to GracefulStop for
// in-flight requests, then cancels whatever is left.
func (e *RampingVUs) gracefulShutdown(hardCancel context.CancelFunc) {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = e.vus[:0]
	e.vusMu.Unlock()

	e.targetVUs.Store(0)
	if e.metrics != nil {
		e.metrics.SetPhase(metrics.PhaseRampDown)
	}

	graceful := e.config.GracefulStop

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if graceful <= 0 {
		hardCancel()
		<-done
		return
	}

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	e.logger.Warn("graceful stop expired, cancelling in-flight requests",
		zap.Duration("graceful_stop", graceful),
		zap.Int("vus", e.scheduler.LiveVUs()))
	hardCancel()
	<-done
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() || e.config == nil {
		return 0.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	e.mu.RLock()
	elapsed := time.Since(e.startTime)
	e.mu.RUnlock()

	progress := float64(elapsed) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of live VUs.
func (e *RampingVUs) GetActiveVUs() int {
	if e.scheduler == nil {
		return 0
	}
	return e.scheduler.LiveVUs()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	var iterations int64
	if e.metrics != nil {
		iterations = e.metrics.GetSnapshot().Iterations
	}

	stats := &Stats{
		StartTime:    e.startTime,
		CurrentTime:  time.Now(),
		Elapsed:      elapsed,
		ActiveVUs:    e.GetActiveVUs(),
		TargetVUs:    int(e.targetVUs.Load()),
		PeakVUs:      int(e.peakVUs.Load()),
		Iterations:   iterations,
		CurrentStage: int(e.currentStage.Load()),
	}

	if e.config != nil {
		stats.TotalDuration = e.config.TotalDuration()
		stats.TotalStages = len(e.config.Stages)
		if stats.CurrentStage >= 0 && stats.CurrentStage < len(e.config.Stages) {
			stats.CurrentStageName = e.config.Stages[stats.CurrentStage].Name
		}
	}

	return stats
}

// Stop ends the load profile early. VUs are drained as at the natural end of
// the run; Stop waits for that or for ctx to expire.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	cancel := e.cancelFunc
	e.cancelMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
