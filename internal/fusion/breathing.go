package fusion

import (
	"sleepstage/domain/stage"
	"sleepstage/ports"
)

var (
	breathingAwake = stage.Probabilities4{0.7, 0.2, 0.05, 0.05}
	breathingDeep  = stage.Probabilities4{0.05, 0.25, 0.6, 0.1}
	breathingREM   = stage.Probabilities4{0.1, 0.25, 0.1, 0.55}
	breathingLight = stage.Probabilities4{0.15, 0.55, 0.2, 0.1}
)

// ClassifyBreathing maps a breathing summary onto a 4-class distribution.
// Movement or irregular breathing reads as awake; slow, very regular
// breathing as deep; moderately regular but variable breathing as REM.
// Anything else is light sleep. A nil or undetected analysis has zero
// confidence.
func ClassifyBreathing(b *ports.BreathingAnalysis) Source {
	if b == nil || !b.IsBreathingDetected {
		return Source{}
	}
	conf := clamp01(b.ConfidenceScore)

	switch {
	case b.MovementIntensity > 0.5 || b.Regularity < 0.4:
		return Source{Distribution: breathingAwake, Confidence: conf}
	case b.Regularity >= 0.8 && b.BreathsPerMinute >= 10 && b.BreathsPerMinute <= 16 && b.Variability < 0.15:
		return Source{Distribution: breathingDeep, Confidence: conf}
	case b.Regularity < 0.8 && b.Variability > 0.3:
		return Source{Distribution: breathingREM, Confidence: conf}
	default:
		return Source{Distribution: breathingLight, Confidence: conf}
	}
}
