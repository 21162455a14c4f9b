package testkit

import (
	"math"
	"math/rand"
	"time"

	"sleepstage/domain/stage"
)

// NightGeneratorConfig configures the synthetic night generator
type NightGeneratorConfig struct {
	Nights         int           `json:"nights"`
	FirstNight     time.Time     `json:"first_night"`
	SampleInterval time.Duration `json:"sample_interval"`
	IncludeHRV     bool          `json:"include_hrv"`
	IncludeRR      bool          `json:"include_rr"`
	Seed           int64         `json:"seed"`
}

// DefaultNightConfig returns a week of minute-resolution nights
func DefaultNightConfig() NightGeneratorConfig {
	return NightGeneratorConfig{
		Nights:         7,
		FirstNight:     time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC),
		SampleInterval: time.Minute,
		IncludeHRV:     true,
		IncludeRR:      true,
		Seed:           42,
	}
}

// History is a flat pool of labeled intervals and samples, shaped like what a
// vendor API returns for a date range.
type History struct {
	Intervals []stage.Interval
	HeartRate []stage.Sample
	HRV       []stage.Sample
	RespRate  []stage.Sample
}

type segment struct {
	stage   stage.Stage4
	minutes int
}

// hypnogram is an 8-hour night of five ultradian cycles with REM growing
// towards the morning.
var hypnogram = []segment{
	{stage.Stage4Awake, 15}, {stage.Stage4Light, 40}, {stage.Stage4Deep, 35}, {stage.Stage4Light, 20}, {stage.Stage4REM, 10},
	{stage.Stage4Light, 30}, {stage.Stage4Deep, 30}, {stage.Stage4Light, 15}, {stage.Stage4REM, 20},
	{stage.Stage4Light, 30}, {stage.Stage4Deep, 20}, {stage.Stage4Light, 15}, {stage.Stage4REM, 25},
	{stage.Stage4Light, 40}, {stage.Stage4Deep, 10}, {stage.Stage4Light, 20}, {stage.Stage4REM, 30},
	{stage.Stage4Light, 30}, {stage.Stage4Awake, 10}, {stage.Stage4Light, 15}, {stage.Stage4REM, 20},
}

type vitalsProfile struct {
	hrBase, hrJitter float64
	hrv, rr          float64
}

var profiles = map[stage.Stage4]vitalsProfile{
	stage.Stage4Awake: {hrBase: 68, hrJitter: 6, hrv: 35, rr: 16},
	stage.Stage4Light: {hrBase: 56, hrJitter: 1.5, hrv: 55, rr: 14},
	stage.Stage4Deep:  {hrBase: 50, hrJitter: 1, hrv: 70, rr: 12.5},
	stage.Stage4REM:   {hrBase: 61, hrJitter: 0.8, hrv: 40, rr: 15.5},
}

// NightGenerator produces deterministic labeled nights
type NightGenerator struct {
	config NightGeneratorConfig
	rng    *rand.Rand
}

// NewNightGenerator creates a new night generator
func NewNightGenerator(config NightGeneratorConfig) *NightGenerator {
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Minute
	}
	return &NightGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// GenerateHistory generates all configured nights as one flat pool
func (g *NightGenerator) GenerateHistory() History {
	var h History
	for n := 0; n < g.config.Nights; n++ {
		night := g.generateNight(g.config.FirstNight.Add(time.Duration(n) * 24 * time.Hour))
		h.Intervals = append(h.Intervals, night.Intervals...)
		h.HeartRate = append(h.HeartRate, night.HeartRate...)
		h.HRV = append(h.HRV, night.HRV...)
		h.RespRate = append(h.RespRate, night.RespRate...)
	}
	return h
}

// GenerateNights generates the configured nights already segmented
func (g *NightGenerator) GenerateNights() []stage.Night {
	nights := make([]stage.Night, 0, g.config.Nights)
	for n := 0; n < g.config.Nights; n++ {
		nights = append(nights, g.generateNight(g.config.FirstNight.Add(time.Duration(n)*24*time.Hour)))
	}
	return nights
}

func (g *NightGenerator) generateNight(start time.Time) stage.Night {
	var night stage.Night
	cursor := start
	for _, seg := range hypnogram {
		end := cursor.Add(time.Duration(seg.minutes) * time.Minute)
		night.Intervals = append(night.Intervals, stage.Interval{Stage: seg.stage, Start: cursor, End: end})

		p := profiles[seg.stage]
		for t := cursor; t.Before(end); t = t.Add(g.config.SampleInterval) {
			hr := p.hrBase + g.noise(p.hrJitter)
			if seg.stage == stage.Stage4REM {
				// slow drift, steady beat-to-beat variability
				hr += 2 * math.Sin(float64(t.Sub(cursor))/float64(10*time.Minute))
			}
			night.HeartRate = append(night.HeartRate, stage.Sample{Value: hr, Time: t})

			offset := t.Sub(start)
			if g.config.IncludeHRV && offset%(5*time.Minute) == 0 {
				night.HRV = append(night.HRV, stage.Sample{Value: p.hrv + g.noise(5), Time: t})
			}
			if g.config.IncludeRR && offset%(5*time.Minute) == 0 {
				night.RespRate = append(night.RespRate, stage.Sample{Value: p.rr + g.noise(0.5), Time: t})
			}
		}
		cursor = end
	}
	return night
}

// noise returns a uniform value in [-amplitude, amplitude]
func (g *NightGenerator) noise(amplitude float64) float64 {
	return (g.rng.Float64()*2 - 1) * amplitude
}
