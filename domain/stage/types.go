package stage

import (
	"math"
	"sort"
	"time"
)

// Stage is the internal 3-class sleep stage.
type Stage string

const (
	Awake Stage = "awake"
	NREM  Stage = "nrem"
	REM   Stage = "rem"
)

// All lists the 3-class stages in probability-vector order.
var All = [3]Stage{Awake, NREM, REM}

// Index returns the position of the stage in a Probabilities vector, or -1.
func (s Stage) Index() int {
	switch s {
	case Awake:
		return 0
	case NREM:
		return 1
	case REM:
		return 2
	}
	return -1
}

// Valid reports whether s is one of the three internal stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Stage4 is the external-facing 4-class stage, as reported by vendor health APIs.
type Stage4 string

const (
	Stage4Awake   Stage4 = "awake"
	Stage4Light   Stage4 = "light"
	Stage4Deep    Stage4 = "deep"
	Stage4REM     Stage4 = "rem"
	Stage4Unknown Stage4 = "unknown"
)

// All4 lists the 4-class stages in Probabilities4 order.
var All4 = [4]Stage4{Stage4Awake, Stage4Light, Stage4Deep, Stage4REM}

// ParseStage4 maps a vendor label onto Stage4. Unrecognised labels become unknown.
func ParseStage4(label string) Stage4 {
	switch Stage4(label) {
	case Stage4Awake, Stage4Light, Stage4Deep, Stage4REM:
		return Stage4(label)
	}
	return Stage4Unknown
}

// To3Class collapses light and deep into nrem. The bool is false for unknown.
func To3Class(s Stage4) (Stage, bool) {
	switch s {
	case Stage4Awake:
		return Awake, true
	case Stage4Light, Stage4Deep:
		return NREM, true
	case Stage4REM:
		return REM, true
	}
	return "", false
}

// To4Class projects a 3-class stage outward. nrem maps to light, which makes
// the round trip lossy for deep.
func To4Class(s Stage) Stage4 {
	switch s {
	case Awake:
		return Stage4Awake
	case NREM:
		return Stage4Light
	case REM:
		return Stage4REM
	}
	return Stage4Unknown
}

// Probabilities is a distribution over awake, nrem, rem (in that order).
type Probabilities [3]float64

// Uniform is the uninformative distribution.
func Uniform() Probabilities {
	return Probabilities{1.0 / 3, 1.0 / 3, 1.0 / 3}
}

// Get returns the mass assigned to s.
func (p Probabilities) Get(s Stage) float64 {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return p[i]
}

// Set returns a copy of p with the mass for s replaced.
func (p Probabilities) Set(s Stage, v float64) Probabilities {
	if i := s.Index(); i >= 0 {
		p[i] = v
	}
	return p
}

// Sum returns the total mass.
func (p Probabilities) Sum() float64 {
	return p[0] + p[1] + p[2]
}

// Normalize rescales p to sum to 1. Negative and NaN entries are treated as
// zero; an all-zero vector becomes Uniform.
func (p Probabilities) Normalize() Probabilities {
	for i, v := range p {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			p[i] = 0
		}
	}
	total := p.Sum()
	if total <= 0 {
		return Uniform()
	}
	for i := range p {
		p[i] /= total
	}
	return p
}

// ArgMax returns the most probable stage. Ties resolve in Awake, NREM, REM order.
func (p Probabilities) ArgMax() Stage {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return All[best]
}

// TopTwo returns the largest and second-largest masses.
func (p Probabilities) TopTwo() (float64, float64) {
	sorted := []float64{p[0], p[1], p[2]}
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[0], sorted[1]
}

// Map returns p keyed by stage name, the shape used on the wire.
func (p Probabilities) Map() map[Stage]float64 {
	return map[Stage]float64{Awake: p[0], NREM: p[1], REM: p[2]}
}

// Probabilities4 is a distribution over awake, light, deep, rem (in that order).
type Probabilities4 [4]float64

// Get returns the mass assigned to s.
func (p Probabilities4) Get(s Stage4) float64 {
	for i, st := range All4 {
		if st == s {
			return p[i]
		}
	}
	return 0
}

// To3 merges light and deep into nrem.
func (p Probabilities4) To3() Probabilities {
	return Probabilities{p[0], p[1] + p[2], p[3]}
}

// ArgMax returns the most probable 4-class stage.
func (p Probabilities4) ArgMax() Stage4 {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return All4[best]
}

// Map returns p keyed by stage name.
func (p Probabilities4) Map() map[Stage4]float64 {
	return map[Stage4]float64{
		Stage4Awake: p[0],
		Stage4Light: p[1],
		Stage4Deep:  p[2],
		Stage4REM:   p[3],
	}
}

// LightShareOfNREM is the fraction of nrem mass attributed to light sleep when
// expanding a 3-class distribution to 4 classes.
const LightShareOfNREM = 0.6

// Expand spreads the nrem mass of a 3-class distribution over light and deep.
func Expand(p Probabilities) Probabilities4 {
	return Probabilities4{
		p[0],
		p[1] * LightShareOfNREM,
		p[1] * (1 - LightShareOfNREM),
		p[2],
	}
}

// SampleKind identifies which vital a Sample carries.
type SampleKind string

const (
	KindHeartRate       SampleKind = "heart_rate"       // beats/min
	KindHRV             SampleKind = "hrv"              // ms
	KindRespiratoryRate SampleKind = "respiratory_rate" // breaths/min
)

// Sample is a single timestamped scalar reading.
type Sample struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// SortSamples orders samples by time in place.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})
}

// Interval is a labeled span of historical ground truth.
type Interval struct {
	Stage Stage4    `json:"stage"`
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}

// SortIntervals orders intervals by start time in place.
func SortIntervals(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})
}

// Contains reports whether t falls in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Night is one contiguous sleep session: its labeled intervals and the
// samples that fall inside them. It is the unit of leave-one-out validation.
type Night struct {
	Intervals []Interval `json:"intervals"`
	HeartRate []Sample   `json:"heartRate"`
	HRV       []Sample   `json:"hrv"`
	RespRate  []Sample   `json:"respiratoryRate"`
}

// Start is the sleep-session start time used as the minutes-elapsed basis.
func (n Night) Start() time.Time {
	if len(n.Intervals) == 0 {
		return time.Time{}
	}
	return n.Intervals[0].Start
}

// End is the end of the last interval.
func (n Night) End() time.Time {
	if len(n.Intervals) == 0 {
		return time.Time{}
	}
	return n.Intervals[len(n.Intervals)-1].End
}

// LabelAt returns the 3-class ground-truth label at t.
func (n Night) LabelAt(t time.Time) (Stage, bool) {
	i := sort.Search(len(n.Intervals), func(i int) bool {
		return n.Intervals[i].End.After(t)
	})
	if i < len(n.Intervals) && n.Intervals[i].Contains(t) {
		return To3Class(n.Intervals[i].Stage)
	}
	return "", false
}
