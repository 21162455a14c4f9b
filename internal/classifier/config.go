package classifier

import "time"

// DataSource reports which tier produced a result.
type DataSource string

const (
	SourceVitals          DataSource = "vitals"
	SourceVitalsDegraded  DataSource = "vitals_degraded"
	SourcePredictionBlend DataSource = "prediction_blend"
	SourcePrediction      DataSource = "prediction"
	SourceNone            DataSource = "none"
)

// Config holds the decision constants. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Staleness tier upper bounds (exclusive).
	FreshAge    time.Duration
	DegradedAge time.Duration
	BlendAge    time.Duration

	DegradedConfidenceScale   float64
	PredictionConfidenceScale float64

	HRWindowSize     int
	RMSSDHistorySize int
	JitterDiffs      int

	// Awake sub-classifier.
	AwakeScoreThreshold   float64
	AwakeConsecutiveTicks int
	HighPriorThreshold    float64
	HighPriorScale        float64
	LowPriorThreshold     float64
	LowPriorScale         float64

	// REM sub-classifier.
	CVThreshold            float64
	VeryLowCVFactor        float64
	RemScoreThreshold      float64
	RemConsecutiveTicks    int
	RemHysteresisFloor     float64
	FirstRemLatency        time.Duration
	StayNearPreviousMargin float64

	// EvidenceGain scales how far model-stat likelihoods can move the awake
	// and REM scores.
	EvidenceGain float64
	// DecisionBonus is added to the decided stage when building the output
	// distribution so that the point estimate is its arg-max.
	DecisionBonus float64

	UseLearnedAwakeParams bool
	UseRRFeature          bool
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		FreshAge:    30 * time.Second,
		DegradedAge: 120 * time.Second,
		BlendAge:    300 * time.Second,

		DegradedConfidenceScale:   0.8,
		PredictionConfidenceScale: 0.7,

		HRWindowSize:     20,
		RMSSDHistorySize: 10,
		JitterDiffs:      10,

		AwakeScoreThreshold:   0.4,
		AwakeConsecutiveTicks: 1,
		HighPriorThreshold:    0.25,
		HighPriorScale:        0.85,
		LowPriorThreshold:     0.05,
		LowPriorScale:         1.3,

		CVThreshold:            0.20,
		VeryLowCVFactor:        0.7,
		RemScoreThreshold:      0.25,
		RemConsecutiveTicks:    2,
		RemHysteresisFloor:     0.15,
		FirstRemLatency:        70 * time.Minute,
		StayNearPreviousMargin: 0.2,

		EvidenceGain:  0.3,
		DecisionBonus: 0.25,

		UseLearnedAwakeParams: true,
	}
}
