// Package fusion combines the audio, vitals, historical and sleep-onset
// distributions into one 4-class estimate.
package fusion

import (
	"math"
	"time"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/temporal"
	"sleepstage/ports"
)

// Fallback is returned when no source carries weight.
var Fallback = stage.Probabilities4{0.7, 0.15, 0.1, 0.05}

// AwakeOnset is the distribution of the sleep-onset awake prior.
var AwakeOnset = stage.Probabilities4{0.9, 0.08, 0.02, 0}

const (
	maxHistoryConfidence      = 0.3
	historyConfidencePerNight = 0.03
)

// Source is one weighted distribution.
type Source struct {
	Distribution stage.Probabilities4 `json:"distribution"`
	Confidence   float64              `json:"confidence"`
}

// Inputs are the sources available at one tick. Nil means unavailable.
type Inputs struct {
	Audio   *ports.BreathingAnalysis
	Vitals  *Source
	History *model.LearnedModel
	// SinceStart is the time elapsed since sleep start, driving the awake fade.
	SinceStart time.Duration
}

// Weights are the normalised weights each source received.
type Weights struct {
	Audio     float64 `json:"audio"`
	Vitals    float64 `json:"vitals"`
	History   float64 `json:"history"`
	AwakeFade float64 `json:"awakeFade"`
}

// Result is the fused estimate.
type Result struct {
	Distribution stage.Probabilities4 `json:"distribution"`
	Stage        stage.Stage4         `json:"stage"`
	Confidence   float64              `json:"confidence"`
	Weights      Weights              `json:"weights"`
	Fallback     bool                 `json:"fallback"`
}

// Fuse averages the available distributions, each weighted by its own
// confidence. The awake fade only reshapes an estimate built from real
// sources: with no audio, vitals or history the fixed fallback is returned.
func Fuse(in Inputs) Result {
	var audio, vitals, history Source
	if in.Audio != nil && in.Audio.IsBreathingDetected {
		audio = ClassifyBreathing(in.Audio)
	}
	if in.Vitals != nil {
		vitals = *in.Vitals
		vitals.Confidence = clamp01(vitals.Confidence)
	}
	if in.History != nil {
		history = HistoryPrior(in.History)
	}

	live := audio.Confidence + vitals.Confidence + history.Confidence
	if live <= 0 {
		return Result{Distribution: Fallback, Stage: Fallback.ArgMax(), Fallback: true}
	}

	fade := temporal.AwakeFadePrior(in.SinceStart)
	total := live + fade
	w := Weights{
		Audio:     audio.Confidence / total,
		Vitals:    vitals.Confidence / total,
		History:   history.Confidence / total,
		AwakeFade: fade / total,
	}

	var fused stage.Probabilities4
	for i := range fused {
		fused[i] = w.Audio*audio.Distribution[i] +
			w.Vitals*vitals.Distribution[i] +
			w.History*history.Distribution[i] +
			w.AwakeFade*AwakeOnset[i]
	}
	fused = normalize4(fused)

	return Result{
		Distribution: fused,
		Stage:        fused.ArgMax(),
		Confidence:   math.Max(audio.Confidence, vitals.Confidence),
		Weights:      w,
	}
}

// VitalsSource lifts a 3-class vitals distribution into a fusion source.
func VitalsSource(p stage.Probabilities, confidence float64) *Source {
	return &Source{Distribution: stage.Expand(p), Confidence: confidence}
}

// HistoryPrior turns the per-user stage proportions into a source whose
// confidence grows with the number of nights analysed.
func HistoryPrior(m *model.LearnedModel) Source {
	var sum float64
	for _, v := range m.StageProportions {
		sum += v
	}
	if m.NightsAnalyzed <= 0 || sum <= 0 {
		return Source{}
	}
	return Source{
		Distribution: normalize4(m.StageProportions),
		Confidence:   math.Min(maxHistoryConfidence, historyConfidencePerNight*float64(m.NightsAnalyzed)),
	}
}

func normalize4(p stage.Probabilities4) stage.Probabilities4 {
	var sum float64
	for _, v := range p {
		sum += v
	}
	if sum <= 0 || math.IsNaN(sum) {
		return stage.Probabilities4{0.25, 0.25, 0.25, 0.25}
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
