package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sleepstage/domain/stage"
)

func samplesAt(t0 time.Time, values ...float64) []stage.Sample {
	out := make([]stage.Sample, len(values))
	for i, v := range values {
		out[i] = stage.Sample{Value: v, Time: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestExtractEmpty(t *testing.T) {
	assert.Equal(t, Features{}, Extract(nil))
}

func TestExtractSingleSample(t *testing.T) {
	f := Extract(samplesAt(time.Now(), 60))
	assert.Equal(t, 60.0, f.MeanHR)
	assert.Equal(t, 0.0, f.StdHR)
	assert.Equal(t, 0.0, f.PseudoRMSSD)
	assert.Equal(t, 1, f.SampleCount)
}

func TestExtractWindow(t *testing.T) {
	f := Extract(samplesAt(time.Now(), 50, 60, 50, 60))
	assert.InDelta(t, 55.0, f.MeanHR, 1e-9)
	assert.InDelta(t, 5.0, f.StdHR, 1e-9)
	assert.InDelta(t, 10.0, f.RangeHR, 1e-9)
	assert.InDelta(t, 5.0/55.0, f.CoefficientOfVariation, 1e-9)
	// RR alternates 1200/1000 ms
	assert.InDelta(t, 200.0, f.PseudoRMSSD, 1e-9)
	assert.Equal(t, 4, f.SampleCount)
}

func TestPseudoRMSSDSortsByTime(t *testing.T) {
	t0 := time.Now()
	ordered := samplesAt(t0, 50, 60, 75)
	shuffled := []stage.Sample{ordered[2], ordered[0], ordered[1]}
	assert.InDelta(t, PseudoRMSSD(ordered), PseudoRMSSD(shuffled), 1e-9)
}

func TestPseudoRMSSDSkipsUnusable(t *testing.T) {
	assert.Equal(t, 0.0, PseudoRMSSD(samplesAt(time.Now(), 0, 60, -3)))
}

func TestSuccessiveRMSSD(t *testing.T) {
	assert.Equal(t, DefaultSuccessiveRMSSD, SuccessiveRMSSD([]float64{60}))
	assert.InDelta(t, 2.0, SuccessiveRMSSD([]float64{60, 62, 60}), 1e-9)
}

func TestMeanAbsDiff(t *testing.T) {
	assert.Equal(t, 0.0, MeanAbsDiff([]float64{1}, 10))
	assert.InDelta(t, 2.0, MeanAbsDiff([]float64{60, 62, 60, 62}, 10), 1e-9)
	// only the last two diffs: |70-60|, |60-70|
	assert.InDelta(t, 10.0, MeanAbsDiff([]float64{60, 61, 60, 70, 60}, 2), 1e-9)
}

func TestPopulationCV(t *testing.T) {
	assert.Equal(t, DefaultCV, PopulationCV([]float64{1, 2}))
	assert.Equal(t, DefaultCV, PopulationCV([]float64{0.01, 0.02, 0.03}))
	assert.InDelta(t, math.Sqrt(2.0/3.0)/2, PopulationCV([]float64{1, 2, 3}), 1e-9)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
	}
	assert.Equal(t, []float64{3, 4, 5}, w.Values())
	assert.Equal(t, 3, w.Len())
	w.Reset()
	assert.Equal(t, 0, w.Len())
}
