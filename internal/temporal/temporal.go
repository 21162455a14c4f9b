// Package temporal computes ultradian-cycle context from the time elapsed
// since sleep start.
package temporal

import (
	"math"
	"time"

	"sleepstage/domain/model"
)

const (
	// CycleMinutes is the length of one ultradian cycle.
	CycleMinutes = 90.0
	// RemWindowStart is the cycle position from which REM is expected.
	RemWindowStart = 0.7
	// FirstRemLatencyMinutes is the earliest point REM may be reported.
	FirstRemLatencyMinutes = 70.0
	// PredictionConfidence is the fixed confidence of a cycle-only prediction.
	PredictionConfidence = 0.4
	// AwakeFadeDuration is how long the sleep-onset awake prior lasts.
	AwakeFadeDuration = 5 * time.Minute

	maxRemPropensity      = 0.5
	earlyRemPropensity    = 0.02
	remPropensityBase     = 0.1
	remPropensityPerCycle = 0.1
	outsideWindowFactor   = 0.3
	lateCyclePosition     = 0.65
)

// Context locates a moment inside the night.
type Context struct {
	MinutesSinceStart float64 `json:"minutesSinceStart"`
	CycleNumber       int     `json:"cycleNumber"`
	CyclePosition     float64 `json:"cyclePosition"`
	IsInRemWindow     bool    `json:"isInRemWindow"`
	RemPropensity     float64 `json:"remPropensity"`
}

// Compute derives the cycle context. A zero start or a now before start is
// treated as zero minutes elapsed.
func Compute(start, now time.Time) Context {
	minutes := MinutesSince(start, now)
	cycle := int(math.Floor(minutes / CycleMinutes))
	position := math.Mod(minutes, CycleMinutes) / CycleMinutes
	return Context{
		MinutesSinceStart: minutes,
		CycleNumber:       cycle,
		CyclePosition:     position,
		IsInRemWindow:     position >= RemWindowStart,
		RemPropensity:     RemPropensity(minutes),
	}
}

// MinutesSince returns the non-negative minutes from start to now.
func MinutesSince(start, now time.Time) float64 {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start).Minutes()
}

// RemPropensity rises by cycle, capped at 0.5, and stays near zero before the
// first REM latency.
func RemPropensity(minutes float64) float64 {
	if minutes < FirstRemLatencyMinutes {
		return earlyRemPropensity
	}
	cycle := math.Floor(minutes / CycleMinutes)
	return math.Min(maxRemPropensity, remPropensityBase+remPropensityPerCycle*cycle)
}

// CyclePrediction is the vitals-free REM forecast.
type CyclePrediction struct {
	RemProbability float64   `json:"remProbability"`
	NextRemStart   time.Time `json:"nextRemStart"`
	NextRemEnd     time.Time `json:"nextRemEnd"`
	Confidence     float64   `json:"confidence"`
	Context        Context   `json:"context"`
}

// PredictRemFromCycle forecasts REM from the ultradian rhythm alone. The
// predicted window is the current one when inside it, otherwise the next
// one, and never starts before the first REM latency.
func PredictRemFromCycle(start, now time.Time) CyclePrediction {
	ctx := Compute(start, now)

	prob := ctx.RemPropensity
	if !ctx.IsInRemWindow {
		prob *= outsideWindowFactor
	}
	if ctx.MinutesSinceStart < FirstRemLatencyMinutes {
		prob = math.Min(prob, earlyRemPropensity)
	}

	// the current cycle's window always ends after now
	cycleStartMin := float64(ctx.CycleNumber) * CycleMinutes
	windowStartMin := math.Max(cycleStartMin+RemWindowStart*CycleMinutes, FirstRemLatencyMinutes)
	windowEndMin := cycleStartMin + CycleMinutes

	base := start
	if base.IsZero() {
		base = now
	}
	return CyclePrediction{
		RemProbability: prob,
		NextRemStart:   base.Add(minutesToDuration(windowStartMin)),
		NextRemEnd:     base.Add(minutesToDuration(windowEndMin)),
		Confidence:     PredictionConfidence,
		Context:        ctx,
	}
}

// TimeBasedRemProbability is the time component of the live REM score: zero
// before the first REM latency, then a per-cycle base that is doubled in the
// last 35% of a cycle and damped elsewhere.
func TimeBasedRemProbability(minutes float64) float64 {
	if minutes < FirstRemLatencyMinutes {
		return 0
	}
	cycle := math.Floor(minutes / CycleMinutes)
	position := math.Mod(minutes, CycleMinutes) / CycleMinutes
	base := math.Min(0.35, 0.10+0.08*cycle)
	if position >= lateCyclePosition {
		return base * 2
	}
	return base * outsideWindowFactor
}

// DefaultAwakePrior is the population awake probability schedule.
func DefaultAwakePrior(minutes float64) float64 {
	return model.DefaultAwakePrior(minutes)
}

// AwakeFadePrior is the weight of the sleep-onset awake prior: 1 at session
// start, falling linearly to 0 after AwakeFadeDuration.
func AwakeFadePrior(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	if elapsed >= AwakeFadeDuration {
		return 0
	}
	return 1 - float64(elapsed)/float64(AwakeFadeDuration)
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
