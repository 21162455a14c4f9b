package training

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/features"
)

const (
	// HRWindowSize matches the live classifier's rolling HR window.
	HRWindowSize = 20
	// RMSSDHistorySize matches the live classifier's RMSSD history.
	RMSSDHistorySize = 10
	// JitterDiffs is the number of trailing HR deltas averaged for meanDiff.
	JitterDiffs = 10

	minThresholdSamples = 5
)

// Report describes what a training run saw and any degradations.
type Report struct {
	NightsAnalyzed   int                    `json:"nightsAnalyzed"`
	SamplesPerStage  map[stage.Stage]int    `json:"samplesPerStage"`
	TransitionCounts model.TransitionCounts `json:"transitionCounts"`
	Warnings         []string               `json:"warnings"`
}

// Trainer builds LearnedModels from labeled nights.
type Trainer struct {
	minSamples int
	now        func() time.Time
	logger     *internal.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// WithLogger sets the trainer's logger.
func WithLogger(l *internal.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// NewTrainer creates a trainer with the default per-stage sample minimum.
func NewTrainer(opts ...Option) *Trainer {
	t := &Trainer{
		minSamples: model.MinSamplesPerStage,
		now:        time.Now,
		logger:     internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type bucket struct {
	hr, hrv, rr, rmssd, cv []float64
}

// Train fits per-stage statistics, the blended transition matrix and awake
// parameters. It never fails: missing data leaves stages unmodeled and is
// recorded as a warning.
func (t *Trainer) Train(userID core.UserID, nights []stage.Night) (*model.LearnedModel, Report) {
	m := model.Empty(userID)
	m.LastUpdated = t.now()
	m.NightsAnalyzed = len(nights)

	report := Report{
		NightsAnalyzed:  len(nights),
		SamplesPerStage: map[stage.Stage]int{stage.Awake: 0, stage.NREM: 0, stage.REM: 0},
	}

	buckets := map[stage.Stage]*bucket{
		stage.Awake: {}, stage.NREM: {}, stage.REM: {},
	}
	var counts model.TransitionCounts
	var durations stage.Probabilities4
	jitter := newJitterAccumulator()

	for _, night := range nights {
		countTransitions(night, &counts)
		accumulateDurations(night, &durations)
		accumulateHeartRate(night, buckets, jitter)
		for _, s := range night.HRV {
			if label, ok := night.LabelAt(s.Time); ok {
				buckets[label].hrv = append(buckets[label].hrv, s.Value)
			}
		}
		for _, s := range night.RespRate {
			if label, ok := night.LabelAt(s.Time); ok {
				buckets[label].rr = append(buckets[label].rr, s.Value)
			}
		}
	}

	for _, s := range stage.All {
		b := buckets[s]
		report.SamplesPerStage[s] = len(b.hr)
		if len(b.hr) < t.minSamples {
			msg := fmt.Sprintf("stage %s has %d HR samples (< %d), left unmodeled", s, len(b.hr), t.minSamples)
			report.Warnings = append(report.Warnings, msg)
			t.logger.Warn("[Trainer] %s: %s", userID, msg)
			continue
		}
		m.StageStats[s] = b.statistics()
	}

	report.TransitionCounts = counts
	m.Transitions = model.BlendTransitions(counts)
	m.AwakeParams = jitter.params()
	if durations[0]+durations[1]+durations[2]+durations[3] > 0 {
		m.StageProportions = normalize4(durations)
	}

	t.logger.Info("[Trainer] %s: trained on %d nights, modeled %d stages, jitter threshold %.2f",
		userID, len(nights), m.ModeledStages(), m.AwakeParams.Threshold())
	return m, report
}

func (b *bucket) statistics() *model.StageStatistics {
	st := &model.StageStatistics{SampleCount: len(b.hr)}
	st.MeanHR, st.StdHR = meanStd(b.hr)
	st.MeanHRV, st.StdHRV = meanStd(b.hrv)
	st.HRVCount = len(b.hrv)
	st.MeanRR, st.StdRR = meanStd(b.rr)
	st.RRCount = len(b.rr)
	st.MeanRMSSD, st.StdRMSSD = meanStd(b.rmssd)
	st.MeanCV, st.StdCV = meanStd(b.cv)
	return st
}

func meanStd(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func countTransitions(night stage.Night, counts *model.TransitionCounts) {
	var prev stage.Stage
	for _, iv := range night.Intervals {
		cur, ok := stage.To3Class(iv.Stage)
		if !ok {
			continue
		}
		if prev != "" {
			counts.Add(prev, cur)
		}
		prev = cur
	}
}

func accumulateDurations(night stage.Night, durations *stage.Probabilities4) {
	for _, iv := range night.Intervals {
		for i, s := range stage.All4 {
			if iv.Stage == s {
				durations[i] += iv.Duration().Minutes()
			}
		}
	}
}

// accumulateHeartRate replays the night's HR stream through the same rolling
// windows the live classifier keeps, so the RMSSD/CV statistics and jitter
// distributions are comparable to what is observed online.
func accumulateHeartRate(night stage.Night, buckets map[stage.Stage]*bucket, jitter *jitterAccumulator) {
	window := features.NewWindow(HRWindowSize)
	history := features.NewWindow(RMSSDHistorySize)
	start := night.Start()

	for _, s := range night.HeartRate {
		window.Push(s.Value)
		values := window.Values()
		rmssd := features.SuccessiveRMSSD(values)
		history.Push(rmssd)
		cv := features.PopulationCV(history.Values())

		label, ok := night.LabelAt(s.Time)
		if !ok {
			continue
		}
		b := buckets[label]
		b.hr = append(b.hr, s.Value)
		b.rmssd = append(b.rmssd, rmssd)
		b.cv = append(b.cv, cv)

		minutes := s.Time.Sub(start).Minutes()
		jitter.addLabel(minutes, label == stage.Awake)
		if len(values) >= 2 {
			jitter.addDiff(features.MeanAbsDiff(values, JitterDiffs), label == stage.Awake)
		}
	}
}

type jitterAccumulator struct {
	binAwake, binTotal map[int]int
	awake, asleep      []float64
}

func newJitterAccumulator() *jitterAccumulator {
	return &jitterAccumulator{binAwake: map[int]int{}, binTotal: map[int]int{}}
}

func (j *jitterAccumulator) addLabel(minutes float64, awake bool) {
	bin := int(math.Floor(minutes / model.AwakeBinMinutes))
	j.binTotal[bin]++
	if awake {
		j.binAwake[bin]++
	}
}

func (j *jitterAccumulator) addDiff(diff float64, awake bool) {
	if awake {
		j.awake = append(j.awake, diff)
	} else {
		j.asleep = append(j.asleep, diff)
	}
}

// params derives the jitter threshold as the midpoint between the asleep 75th
// and awake 25th percentiles, floored at asleep mean + one std. Percentiles
// are the sorted value at index floor(n*p).
func (j *jitterAccumulator) params() model.AwakeParams {
	p := model.DefaultAwakeParams()
	if len(j.binTotal) > 0 {
		p.AwakePriorByTimeBin = make(map[int]float64, len(j.binTotal))
		for bin, total := range j.binTotal {
			p.AwakePriorByTimeBin[bin] = float64(j.binAwake[bin]) / float64(total)
		}
	}

	if len(j.awake) < minThresholdSamples || len(j.asleep) < minThresholdSamples {
		return p
	}
	sleepP75, err1 := rankValue(j.asleep, 0.75)
	awakeP25, err2 := rankValue(j.awake, 0.25)
	if err1 != nil || err2 != nil {
		return p
	}
	sleepMean, sleepStd := meanStd(j.asleep)
	awakeMean, _ := meanStd(j.awake)

	p.JitterThreshold = math.Max((sleepP75+awakeP25)/2, sleepMean+sleepStd)
	p.AwakeMeanDiff = awakeMean
	p.SleepMeanDiff = sleepMean
	p.SleepStdDiff = sleepStd
	p.Learned = true
	return p
}

// rankValue returns sorted(data)[floor(len*p)], clamped to the last element.
func rankValue(data []float64, p float64) (float64, error) {
	sorted, err := stats.Sort(data)
	if err != nil {
		return 0, err
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i], nil
}

func normalize4(p stage.Probabilities4) stage.Probabilities4 {
	sum := p[0] + p[1] + p[2] + p[3]
	for i := range p {
		p[i] /= sum
	}
	return p
}
