package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/testkit"
)

var t0 = time.Date(2024, 2, 1, 22, 0, 0, 0, time.UTC)

func iv(s stage.Stage4, fromMin, toMin int) stage.Interval {
	return stage.Interval{
		Stage: s,
		Start: t0.Add(time.Duration(fromMin) * time.Minute),
		End:   t0.Add(time.Duration(toMin) * time.Minute),
	}
}

func TestSegmentSplitsOnGapAndDropsShortSessions(t *testing.T) {
	intervals := []stage.Interval{
		iv(stage.Stage4Awake, 0, 10), iv(stage.Stage4Light, 10, 40), iv(stage.Stage4Deep, 40, 80),
		iv(stage.Stage4Light, 80, 100), iv(stage.Stage4REM, 100, 120),
		// a nap 6 hours later, too short to count
		iv(stage.Stage4Light, 480, 500), iv(stage.Stage4Awake, 500, 510),
		// next night, exactly 4h after the nap ends: same session as the nap
		iv(stage.Stage4Light, 750, 770), iv(stage.Stage4Deep, 770, 800), iv(stage.Stage4REM, 800, 820),
	}
	// shuffled input
	intervals[0], intervals[7] = intervals[7], intervals[0]

	nights := Segment(intervals, DefaultSessionGap, DefaultMinIntervals)
	require.Len(t, nights, 2)
	assert.Equal(t, t0, nights[0].Start())
	assert.Len(t, nights[0].Intervals, 5)
	assert.Len(t, nights[1].Intervals, 5)
	assert.Equal(t, t0.Add(480*time.Minute), nights[1].Start())
}

func TestSegmentCountsUnknownIntervals(t *testing.T) {
	intervals := []stage.Interval{
		iv(stage.Stage4Light, 0, 30), iv(stage.Stage4Unknown, 30, 35), iv(stage.Stage4Deep, 35, 70),
		iv(stage.Stage4Unknown, 70, 80), iv(stage.Stage4REM, 80, 100),
	}

	nights := Segment(intervals, DefaultSessionGap, DefaultMinIntervals)
	require.Len(t, nights, 1)
	require.Len(t, nights[0].Intervals, 5)

	_, ok := nights[0].LabelAt(t0.Add(32 * time.Minute))
	assert.False(t, ok, "unknown intervals carry no label")
	label, ok := nights[0].LabelAt(t0.Add(90 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, stage.REM, label)
}

func TestSegmentEmpty(t *testing.T) {
	assert.Nil(t, Segment(nil, DefaultSessionGap, DefaultMinIntervals))
}

func TestAttachSamplesUsesHalfOpenIntervals(t *testing.T) {
	nights := []stage.Night{{Intervals: []stage.Interval{iv(stage.Stage4Light, 0, 10), iv(stage.Stage4REM, 10, 20)}}}
	hr := []stage.Sample{
		{Value: 70, Time: t0.Add(20 * time.Minute)}, // end is exclusive
		{Value: 50, Time: t0},
		{Value: 55, Time: t0.Add(10 * time.Minute)},
		{Value: 40, Time: t0.Add(-time.Minute)},
	}

	out := AttachSamples(nights, hr, nil, nil)
	require.Len(t, out[0].HeartRate, 2)
	assert.Equal(t, 50.0, out[0].HeartRate[0].Value)
	assert.Equal(t, 55.0, out[0].HeartRate[1].Value)
	assert.Empty(t, nights[0].HeartRate, "input nights are not modified")
}

func TestKeepLatest(t *testing.T) {
	nights := make([]stage.Night, 40)
	assert.Len(t, KeepLatest(nights, 30), 30)
	assert.Len(t, KeepLatest(nights[:5], 30), 5)
}

func TestTrainOnZeroNights(t *testing.T) {
	m, report := NewTrainer().Train("u1", nil)

	require.NotNil(t, m)
	for _, s := range stage.All {
		assert.Nil(t, m.StageStats[s], "stage %s", s)
		assert.Equal(t, 0.0, m.PerStageAccuracy[s])
	}
	assert.Equal(t, 0, m.NightsAnalyzed)
	assert.Equal(t, model.PriorTransitionMatrix(), m.Transitions)
	assert.False(t, m.AwakeParams.Learned)
	assert.Len(t, report.Warnings, 3)
}

func TestTrainOnSyntheticNights(t *testing.T) {
	nights := testkit.NewNightGenerator(testkit.DefaultNightConfig()).GenerateNights()
	fixed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	m, report := NewTrainer(WithClock(func() time.Time { return fixed })).Train("u1", nights)

	assert.Equal(t, fixed, m.LastUpdated)
	assert.Equal(t, 7, m.NightsAnalyzed)
	assert.Empty(t, report.Warnings)

	awake, nrem, rem := m.Stats(stage.Awake), m.Stats(stage.NREM), m.Stats(stage.REM)
	require.NotNil(t, awake)
	require.NotNil(t, nrem)
	require.NotNil(t, rem)
	assert.Greater(t, awake.MeanHR, rem.MeanHR)
	assert.Greater(t, rem.MeanHR, nrem.MeanHR)
	assert.Greater(t, nrem.MeanHRV, awake.MeanHRV)
	assert.Equal(t, 7*25, awake.SampleCount)

	for i, sum := range m.Transitions.RowSums() {
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}
	// rem is always followed by light (or ends the night) in the generator
	assert.Greater(t, m.Transitions.At(stage.REM, stage.NREM), 0.7)

	assert.True(t, m.AwakeParams.Learned)
	assert.Greater(t, m.AwakeParams.AwakeMeanDiff, m.AwakeParams.SleepMeanDiff)
	assert.GreaterOrEqual(t, m.AwakeParams.JitterThreshold, m.AwakeParams.SleepMeanDiff+m.AwakeParams.SleepStdDiff)
	assert.InDelta(t, 0.5, m.AwakeParams.AwakePriorByTimeBin[0], 1e-9)
	assert.Equal(t, 0.0, m.AwakeParams.AwakePriorByTimeBin[3])
	assert.InDelta(t, 1.0/3, m.AwakeParams.AwakePriorByTimeBin[14], 1e-9)

	assert.InDelta(t, 1.0, m.StageProportions[0]+m.StageProportions[1]+m.StageProportions[2]+m.StageProportions[3], 1e-9)
	assert.InDelta(t, 25.0/480, m.StageProportions[0], 1e-9)
}

func TestJitterThresholdFromPercentileMidpoint(t *testing.T) {
	tests := []struct {
		name      string
		asleep    []float64
		awake     []float64
		threshold float64
		learned   bool
	}{
		// asleep p75 = 1, awake p25 = sorted[2] = 10
		{"midpoint above floor", []float64{1, 1, 1, 1, 1, 1, 1, 1}, []float64{15, 8, 14, 9, 13, 10, 12, 11}, 5.5, true},
		// midpoint (4+2)/2 = 3 is below asleep mean 2 + sample std 2.19
		{"floored at asleep mean plus std", []float64{0, 4, 0, 4, 0, 4}, []float64{2, 2, 2, 2, 2}, 2 + 2.1908902300206643, true},
		{"too few samples", []float64{1, 1}, []float64{9, 9, 9, 9, 9}, model.DefaultAwakeParams().JitterThreshold, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newJitterAccumulator()
			for _, d := range tt.asleep {
				j.addDiff(d, false)
			}
			for _, d := range tt.awake {
				j.addDiff(d, true)
			}
			p := j.params()
			assert.Equal(t, tt.learned, p.Learned)
			assert.InDelta(t, tt.threshold, p.JitterThreshold, 1e-9)
		})
	}
}

func TestRankValue(t *testing.T) {
	v, err := rankValue([]float64{15, 8, 14, 9, 13, 10, 12, 11}, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	v, err = rankValue([]float64{3}, 0.75)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = rankValue(nil, 0.5)
	assert.Error(t, err)
}
