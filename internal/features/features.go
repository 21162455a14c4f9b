// Package features turns windows of heart-rate samples into scalar features.
// Every function here is pure and returns a best-effort value instead of an
// error.
package features

import (
	"math"

	"github.com/montanaflynn/stats"

	"sleepstage/domain/stage"
)

// Features summarise a heart-rate window.
type Features struct {
	MeanHR                 float64 `json:"meanHR"`
	StdHR                  float64 `json:"stdHR"`
	RangeHR                float64 `json:"rangeHR"`
	PseudoRMSSD            float64 `json:"pseudoRMSSD"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
	SampleCount            int     `json:"sampleCount"`
}

// Extract computes window features. Samples need not be sorted; pseudo-RMSSD
// is computed over a time-sorted copy.
func Extract(samples []stage.Sample) Features {
	if len(samples) == 0 {
		return Features{}
	}

	values := make(stats.Float64Data, 0, len(samples))
	for _, s := range samples {
		values = append(values, s.Value)
	}

	mean, _ := values.Mean()
	std, _ := values.StandardDeviationPopulation()
	lo, _ := values.Min()
	hi, _ := values.Max()

	f := Features{
		MeanHR:      mean,
		StdHR:       std,
		RangeHR:     hi - lo,
		PseudoRMSSD: PseudoRMSSD(samples),
		SampleCount: len(samples),
	}
	if mean > 0 {
		f.CoefficientOfVariation = std / mean
	}
	return f
}

// PseudoRMSSD infers RR intervals (60000/bpm) from time-sorted HR samples and
// returns the root mean square of successive differences, in ms. Non-positive
// readings are skipped; fewer than two usable samples yield 0.
func PseudoRMSSD(samples []stage.Sample) float64 {
	sorted := make([]stage.Sample, len(samples))
	copy(sorted, samples)
	stage.SortSamples(sorted)

	rr := make([]float64, 0, len(sorted))
	for _, s := range sorted {
		if s.Value > 0 && !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0) {
			rr = append(rr, 60000/s.Value)
		}
	}
	return rmssd(rr)
}

// DefaultSuccessiveRMSSD is returned by SuccessiveRMSSD for windows too short
// to difference.
const DefaultSuccessiveRMSSD = 10.0

// SuccessiveRMSSD is the RMSSD of the raw values (bpm domain), the variant the
// live classifier tracks tick to tick.
func SuccessiveRMSSD(values []float64) float64 {
	if len(values) < 2 {
		return DefaultSuccessiveRMSSD
	}
	return rmssd(values)
}

func rmssd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// MeanAbsDiff averages |v[i]-v[i-1]| over the last n differences. Fewer than
// two values yield 0.
func MeanAbsDiff(values []float64, n int) float64 {
	if len(values) < 2 || n <= 0 {
		return 0
	}
	diffs := make(stats.Float64Data, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs = append(diffs, math.Abs(values[i]-values[i-1]))
	}
	if len(diffs) > n {
		diffs = diffs[len(diffs)-n:]
	}
	mean, err := diffs.Mean()
	if err != nil {
		return 0
	}
	return mean
}

// DefaultCV is returned by PopulationCV when the history is too short or too
// close to zero to be meaningful.
const DefaultCV = 0.5

// PopulationCV returns population stdev / mean.
func PopulationCV(values []float64) float64 {
	if len(values) < 3 {
		return DefaultCV
	}
	data := stats.Float64Data(values)
	mean, err := data.Mean()
	if err != nil || mean < 0.1 {
		return DefaultCV
	}
	std, err := data.StandardDeviationPopulation()
	if err != nil {
		return DefaultCV
	}
	return std / mean
}

// Window is a fixed-capacity FIFO of float values.
type Window struct {
	values []float64
	cap    int
}

// NewWindow returns an empty window holding at most capacity values.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]float64, 0, capacity), cap: capacity}
}

// Push appends v, evicting the oldest value when full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.cap {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.cap-1]
	}
	w.values = append(w.values, v)
}

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of values held.
func (w *Window) Len() int { return len(w.values) }

// Reset empties the window.
func (w *Window) Reset() { w.values = w.values[:0] }
