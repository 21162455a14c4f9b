package model

import (
	"math"
	"sort"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/stage"
)

// MinSamplesPerStage is the HR sample count a stage needs before its
// statistics are populated.
const MinSamplesPerStage = 10

// MinRowTransitions is the number of observed transitions out of a stage
// needed before its empirical row is blended in.
const MinRowTransitions = 5

const (
	empiricalWeight = 0.7
	priorWeight     = 0.3
)

// StageStatistics are the Gaussian parameters for one 3-class stage.
type StageStatistics struct {
	MeanHR      float64 `json:"meanHR"`
	StdHR       float64 `json:"stdHR"`
	MeanHRV     float64 `json:"meanHRV"`
	StdHRV      float64 `json:"stdHRV"`
	HRVCount    int     `json:"hrvCount"`
	MeanRR      float64 `json:"meanRR"`
	StdRR       float64 `json:"stdRR"`
	RRCount     int     `json:"rrCount"`
	MeanRMSSD   float64 `json:"meanRMSSD"`
	StdRMSSD    float64 `json:"stdRMSSD"`
	MeanCV      float64 `json:"meanCV"`
	StdCV       float64 `json:"stdCV"`
	SampleCount int     `json:"sampleCount"`
}

// TransitionMatrix holds P(to | from), rows and columns in stage.All order.
type TransitionMatrix [3][3]float64

// PriorTransitionMatrix is the hand-authored interval-level prior.
func PriorTransitionMatrix() TransitionMatrix {
	m := TransitionMatrix{
		{0.01, 0.89, 0.10},
		{0.43, 0.37, 0.20},
		{0.49, 0.51, 0.001},
	}
	for i := range m {
		m[i] = normalizeRow(m[i])
	}
	return m
}

// At returns P(to | from).
func (m TransitionMatrix) At(from, to stage.Stage) float64 {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 {
		return 0
	}
	return m[i][j]
}

// RowSums returns the sum of each row.
func (m TransitionMatrix) RowSums() [3]float64 {
	var sums [3]float64
	for i := range m {
		for j := range m[i] {
			sums[i] += m[i][j]
		}
	}
	return sums
}

// TransitionCounts are raw from→to interval transition counts.
type TransitionCounts [3][3]int

// Add records one from→to transition.
func (c *TransitionCounts) Add(from, to stage.Stage) {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 {
		return
	}
	c[i][j]++
}

// Row returns the total number of transitions out of row i.
func (c TransitionCounts) Row(i int) int {
	return c[i][0] + c[i][1] + c[i][2]
}

// BlendTransitions mixes empirical rows with the prior. A row with fewer than
// MinRowTransitions observations is the prior row unchanged.
func BlendTransitions(counts TransitionCounts) TransitionMatrix {
	prior := PriorTransitionMatrix()
	var out TransitionMatrix
	for i := range counts {
		total := counts.Row(i)
		if total < MinRowTransitions {
			out[i] = prior[i]
			continue
		}
		var row [3]float64
		for j := range counts[i] {
			empirical := float64(counts[i][j]) / float64(total)
			row[j] = empiricalWeight*empirical + priorWeight*prior[i][j]
		}
		out[i] = normalizeRow(row)
	}
	return out
}

func normalizeRow(row [3]float64) [3]float64 {
	sum := row[0] + row[1] + row[2]
	if sum <= 0 || math.IsNaN(sum) {
		return [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	for j := range row {
		row[j] /= sum
	}
	return row
}

// DefaultJitterThreshold is the mean-abs-HR-difference threshold (bpm) used
// when no threshold has been learned.
const DefaultJitterThreshold = 3.0

// AwakeBinMinutes is the width of an awake-prior time bin.
const AwakeBinMinutes = 30

// AwakeParams are the learned awake-detection parameters.
type AwakeParams struct {
	// AwakePriorByTimeBin maps bin index (minutes/30) to the awake fraction.
	AwakePriorByTimeBin map[int]float64 `json:"awakePriorByTimeBin"`
	JitterThreshold     float64         `json:"jitterThreshold"`
	AwakeMeanDiff       float64         `json:"awakeMeanDiff"`
	SleepMeanDiff       float64         `json:"sleepMeanDiff"`
	SleepStdDiff        float64         `json:"sleepStdDiff"`
	Learned             bool            `json:"learned"`
}

// DefaultAwakeParams carries no learned bins and the default threshold.
func DefaultAwakeParams() AwakeParams {
	return AwakeParams{JitterThreshold: DefaultJitterThreshold}
}

// AwakePriorAt looks up the awake prior for the bin containing minutes.
// Unobserved bins use the nearest learned bin; with no bins at all the
// default schedule applies.
func (p AwakeParams) AwakePriorAt(minutes float64) float64 {
	if len(p.AwakePriorByTimeBin) == 0 {
		return DefaultAwakePrior(minutes)
	}
	bin := int(math.Floor(minutes / AwakeBinMinutes))
	if v, ok := p.AwakePriorByTimeBin[bin]; ok {
		return v
	}

	bins := make([]int, 0, len(p.AwakePriorByTimeBin))
	for b := range p.AwakePriorByTimeBin {
		bins = append(bins, b)
	}
	sort.Ints(bins)
	nearest := bins[0]
	for _, b := range bins[1:] {
		if absInt(b-bin) < absInt(nearest-bin) {
			nearest = b
		}
	}
	return p.AwakePriorByTimeBin[nearest]
}

// Threshold returns the jitter threshold, falling back to the default.
func (p AwakeParams) Threshold() float64 {
	if p.JitterThreshold <= 0 {
		return DefaultJitterThreshold
	}
	return p.JitterThreshold
}

// DefaultAwakePrior is the population awake probability by minutes since
// sleep start: sleep-onset latency, a quiet first cycle, the first-cycle
// arousal, stable mid-night sleep, then a rising morning ramp.
func DefaultAwakePrior(minutes float64) float64 {
	switch {
	case minutes < 30:
		return 0.35
	case minutes < 60:
		return 0.01
	case minutes < 90:
		return 0.33
	case minutes < 330:
		return 0.10
	case minutes < 360:
		return 0.30
	}
	return math.Min(0.65, 0.30+(minutes-360)*0.003)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Hyperparameters are the knobs tuned by cross validation.
type Hyperparameters struct {
	TemporalSmoothingStrength float64 `json:"temporalSmoothingStrength"`
	HRWeight                  float64 `json:"hrWeight"`
	HRVWeight                 float64 `json:"hrvWeight"`
	RRWeight                  float64 `json:"rrWeight"`
	HRVEstWeight              float64 `json:"hrvEstWeight"`
}

// DefaultHyperparameters are used until cross validation picks better ones.
func DefaultHyperparameters() Hyperparameters {
	return NewHyperparameters(0.3, 0.4, 0.3)
}

// NewHyperparameters derives the RR and HRV-estimate weights so that all four
// feature weights sum to at most 1.
func NewHyperparameters(smoothing, hrWeight, hrvWeight float64) Hyperparameters {
	rest := math.Max(0, 1-hrWeight-hrvWeight)
	return Hyperparameters{
		TemporalSmoothingStrength: smoothing,
		HRWeight:                  hrWeight,
		HRVWeight:                 hrvWeight,
		RRWeight:                  rest / 2,
		HRVEstWeight:              rest / 2,
	}
}

// LearnedModel is the per-user trained artifact. It is never mutated after
// training; a retrain produces a new value.
type LearnedModel struct {
	ID               core.ModelID                     `json:"id"`
	UserID           core.UserID                      `json:"userId"`
	StageStats       map[stage.Stage]*StageStatistics `json:"stageStats"`
	Transitions      TransitionMatrix                 `json:"transitionMatrix"`
	AwakeParams      AwakeParams                      `json:"learnedAwakeParams"`
	StageProportions stage.Probabilities4             `json:"stageProportions"`
	NightsAnalyzed   int                              `json:"nightsAnalyzed"`
	LastUpdated      time.Time                        `json:"lastUpdated"`

	ValidationAccuracy *float64                `json:"validationAccuracy"`
	RemSensitivity     float64                 `json:"remSensitivity"`
	RemSpecificity     float64                 `json:"remSpecificity"`
	PerStageAccuracy   map[stage.Stage]float64 `json:"perStageAccuracy"`
	Hyperparameters    Hyperparameters         `json:"hyperparameters"`
}

// Empty returns an untrained model: no stage stats, prior transitions,
// default awake parameters.
func Empty(userID core.UserID) *LearnedModel {
	return &LearnedModel{
		ID:          core.NewModelID(),
		UserID:      userID,
		StageStats:  map[stage.Stage]*StageStatistics{stage.Awake: nil, stage.NREM: nil, stage.REM: nil},
		Transitions: PriorTransitionMatrix(),
		AwakeParams: DefaultAwakeParams(),
		PerStageAccuracy: map[stage.Stage]float64{
			stage.Awake: 0, stage.NREM: 0, stage.REM: 0,
		},
		Hyperparameters: DefaultHyperparameters(),
	}
}

// Stats returns the statistics for s, or nil when the stage is unmodeled.
func (m *LearnedModel) Stats(s stage.Stage) *StageStatistics {
	if m == nil || m.StageStats == nil {
		return nil
	}
	return m.StageStats[s]
}

// ModeledStages counts stages with populated statistics.
func (m *LearnedModel) ModeledStages() int {
	n := 0
	for _, s := range stage.All {
		if m.Stats(s) != nil {
			n++
		}
	}
	return n
}

// IsUsable reports whether the model may drive live classification. A model
// without accuracy metadata, with no modeled stage, or with a modeled stage
// backed by too few samples is treated as absent.
func (m *LearnedModel) IsUsable() bool {
	if m == nil || m.ValidationAccuracy == nil {
		return false
	}
	if m.ModeledStages() == 0 {
		return false
	}
	for _, s := range stage.All {
		if st := m.Stats(s); st != nil && st.SampleCount < MinSamplesPerStage {
			return false
		}
	}
	return true
}

// WithValidation returns a copy of m carrying cross-validation results.
func (m *LearnedModel) WithValidation(accuracy, remSensitivity, remSpecificity float64, perStage map[stage.Stage]float64, params Hyperparameters) *LearnedModel {
	out := *m
	acc := accuracy
	out.ValidationAccuracy = &acc
	out.RemSensitivity = remSensitivity
	out.RemSpecificity = remSpecificity
	out.PerStageAccuracy = make(map[stage.Stage]float64, len(perStage))
	for k, v := range perStage {
		out.PerStageAccuracy[k] = v
	}
	out.Hyperparameters = params
	return &out
}
