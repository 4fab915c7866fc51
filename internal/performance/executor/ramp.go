package executor

import (
	"time"

	"github.com/wesleyorama2/rampcheck/internal/performance/metrics"
)

// TargetAt returns the VU target at elapsed time into the run and the index
// of the stage that is active then.
//
// Within a stage the target moves linearly from the previous stage's target
// (0 before the first stage) to the stage's own target. The result is the
// floor of that line, so it never exceeds the interpolated value. Zero-length
// stages jump straight to their target. Past the last stage the last target
// holds and the returned index equals len(stages).
func TargetAt(stages []Stage, elapsed time.Duration) (target int, stage int) {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, s := range stages {
		stageEnd := stageStart + s.Duration
		if elapsed < stageEnd {
			return interpolate(prevTarget, s.Target, elapsed-stageStart, s.Duration), i
		}
		prevTarget = s.Target
		stageStart = stageEnd
	}

	return prevTarget, len(stages)
}

// interpolate computes floor(from + (to-from)*done/total) in integer
// arithmetic.
func interpolate(from, to int, done, total time.Duration) int {
	if total <= 0 {
		return to
	}

	num := int64(to-from) * int64(done)
	step := num / int64(total)
	if num%int64(total) != 0 && num < 0 {
		step--
	}
	return from + int(step)
}

// PhaseFor classifies a stage as ramp-up, steady or ramp-down by comparing
// its target with the one before it.
func PhaseFor(stages []Stage, stage int) metrics.Phase {
	if stage < 0 || stage >= len(stages) {
		return metrics.PhaseDone
	}

	prevTarget := 0
	if stage > 0 {
		prevTarget = stages[stage-1].Target
	}

	switch target := stages[stage].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// MaxTarget returns the highest target across stages.
func MaxTarget(stages []Stage) int {
	peak := 0
	for _, s := range stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}
