package ports

import "time"

// BreathingAnalysis is the scalar summary produced by the acoustic front end.
type BreathingAnalysis struct {
	IsBreathingDetected bool      `json:"isBreathingDetected"`
	Regularity          float64   `json:"regularity"` // 0..1
	BreathsPerMinute    float64   `json:"breathsPerMinute"`
	Amplitude           float64   `json:"amplitude"`
	MovementIntensity   float64   `json:"movementIntensity"`
	Variability         float64   `json:"variability"`
	ConfidenceScore     float64   `json:"confidenceScore"`
	Timestamp           time.Time `json:"timestamp"`
}

// AudioSource returns the latest breathing analysis, or nil when none is available.
type AudioSource interface {
	CurrentBreathingAnalysis() *BreathingAnalysis
}
