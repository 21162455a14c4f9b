// Package classifier implements the tiered live sleep-stage classifier. A
// Session owns all mutable state for one tracking session; it is not safe for
// concurrent use and callers must serialise ticks.
package classifier

import (
	"math"
	"time"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/features"
	"sleepstage/internal/temporal"
)

// NoVitalsAge is reported as VitalsAgeMs when a tick carries no timestamp.
const NoVitalsAge = int64(math.MaxInt64)

// Input is one polling tick. Any field may be nil.
type Input struct {
	HeartRate       *float64   `json:"heartRate"`
	HRV             *float64   `json:"hrv"`
	RespiratoryRate *float64   `json:"respiratoryRate"`
	VitalsTimestamp *time.Time `json:"vitalsTimestamp"`
}

// Result is the classification for one tick.
type Result struct {
	Stage         stage.Stage         `json:"stage"`
	Stage4        stage.Stage4        `json:"stage4"`
	Confidence    float64             `json:"confidence"`
	Probabilities stage.Probabilities `json:"probabilities"`
	DataSource    DataSource          `json:"dataSource"`
	VitalsAgeMs   int64               `json:"vitalsAgeMs"`
	Tier          int                 `json:"tier"`
	AwakeScore    float64             `json:"awakeScore"`
	RemScore      float64             `json:"remScore"`
	Minutes       float64             `json:"minutesSinceStart"`
}

// Session is the per-tracking-session classifier state.
type Session struct {
	cfg    Config
	model  *model.LearnedModel
	logger *internal.Logger

	started      bool
	start        time.Time
	hrWindow     *features.Window
	rmssdHistory *features.Window
	lastVitalsAt time.Time
	lastRMSSD    float64

	awakeStreak int
	remStreak   int
	prevStage   stage.Stage
	prevProbs   stage.Probabilities
	evidence    stage.Probabilities
	hasEvidence bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *internal.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a classifier session. A nil model means no model: the
// session runs on default awake parameters and time priors only. The model
// is used as given; callers decide whether a persisted model is usable.
func NewSession(m *model.LearnedModel, cfg Config, opts ...Option) *Session {
	if m == nil {
		m = model.Empty("")
	}
	s := &Session{
		cfg:          cfg,
		model:        m,
		logger:       internal.NewNopLogger(),
		hrWindow:     features.NewWindow(cfg.HRWindowSize),
		rmssdHistory: features.NewWindow(cfg.RMSSDHistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

// Start resets all live state and marks now as sleep start.
func (s *Session) Start(now time.Time) {
	s.reset()
	s.started = true
	s.start = now
	s.logger.Debug("[Classifier] session started at %s", now.Format(time.RFC3339))
}

// Stop resets all live state.
func (s *Session) Stop() {
	s.reset()
}

// Started reports whether Start has been called since the last Stop.
func (s *Session) Started() bool { return s.started }

// StartTime returns the sleep start of the running session.
func (s *Session) StartTime() time.Time { return s.start }

// Model returns the model the session classifies with.
func (s *Session) Model() *model.LearnedModel { return s.model }

func (s *Session) reset() {
	s.started = false
	s.start = time.Time{}
	s.hrWindow.Reset()
	s.rmssdHistory.Reset()
	s.lastVitalsAt = time.Time{}
	s.lastRMSSD = features.DefaultSuccessiveRMSSD
	s.awakeStreak = 0
	s.remStreak = 0
	s.prevStage = stage.Awake
	s.prevProbs = stage.Uniform()
	s.evidence = stage.Uniform()
	s.hasEvidence = false
}

// ClassifyTick classifies one tick. It never fails; stale or missing vitals
// move the result down the tier ladder.
func (s *Session) ClassifyTick(in Input, now time.Time) Result {
	if !s.started {
		p := stage.Uniform()
		return Result{
			Stage:         p.ArgMax(),
			Stage4:        stage.To4Class(p.ArgMax()),
			Probabilities: p,
			DataSource:    SourceNone,
			VitalsAgeMs:   vitalsAgeMs(in, now),
			Tier:          4,
		}
	}

	ageMs := vitalsAgeMs(in, now)
	age := time.Duration(ageMs) * time.Millisecond
	hasVitals := ageMs != NoVitalsAge

	var r Result
	switch {
	case hasVitals && in.HeartRate != nil && age < s.cfg.FreshAge:
		r = s.classifyVitals(in, now)
		r.DataSource, r.Tier = SourceVitals, 1
	case hasVitals && in.HeartRate != nil && age < s.cfg.DegradedAge:
		r = s.classifyVitals(in, now)
		r.Confidence *= s.cfg.DegradedConfidenceScale
		r.DataSource, r.Tier = SourceVitalsDegraded, 2
	case hasVitals && age < s.cfg.BlendAge:
		r = s.classifyBlend(now)
		r.DataSource, r.Tier = SourcePredictionBlend, 3
	default:
		r = s.classifyPrediction(now)
		r.DataSource, r.Tier = SourcePrediction, 4
	}
	r.VitalsAgeMs = ageMs
	r.Stage4 = stage.To4Class(r.Stage)

	if r.Stage != s.prevStage {
		s.logger.Debug("[Classifier] %s -> %s at %.1f min (tier %d, confidence %.2f)",
			s.prevStage, r.Stage, r.Minutes, r.Tier, r.Confidence)
	}
	s.prevStage = r.Stage
	s.prevProbs = r.Probabilities
	return r
}

func vitalsAgeMs(in Input, now time.Time) int64 {
	if in.VitalsTimestamp == nil || in.VitalsTimestamp.IsZero() {
		return NoVitalsAge
	}
	age := now.Sub(*in.VitalsTimestamp).Milliseconds()
	if age < 0 {
		return 0
	}
	return age
}

func (s *Session) minutes(now time.Time) float64 {
	return temporal.MinutesSince(s.start, now)
}

func (s *Session) beforeFirstRem(minutes float64) bool {
	return minutes < s.cfg.FirstRemLatency.Minutes()
}

func (s *Session) awakeParams() model.AwakeParams {
	if !s.cfg.UseLearnedAwakeParams {
		return model.DefaultAwakeParams()
	}
	return s.model.AwakeParams
}

// classifyBlend leans on the previous stage while mixing in the cycle
// prediction.
func (s *Session) classifyBlend(now time.Time) Result {
	s.awakeStreak, s.remStreak = 0, 0
	minutes := s.minutes(now)
	pred := s.predictionVector(now, minutes)

	var blended stage.Probabilities
	for i := range blended {
		blended[i] = 0.5*pred[i] + 0.5*s.prevProbs[i]
	}
	blended = blended.Normalize()

	decided := blended.ArgMax()
	if s.prevStage.Valid() && blended.Get(decided)-blended.Get(s.prevStage) < s.cfg.StayNearPreviousMargin {
		decided = s.prevStage
	}
	if decided == stage.REM && s.beforeFirstRem(minutes) {
		decided = stage.NREM
	}
	return Result{
		Stage:         decided,
		Confidence:    temporal.PredictionConfidence,
		Probabilities: blended,
		Minutes:       minutes,
	}
}

// classifyPrediction uses the ultradian rhythm alone.
func (s *Session) classifyPrediction(now time.Time) Result {
	s.awakeStreak, s.remStreak = 0, 0
	minutes := s.minutes(now)
	pred := s.predictionVector(now, minutes)

	decided := pred.ArgMax()
	if decided == stage.REM && s.beforeFirstRem(minutes) {
		decided = stage.NREM
	}
	return Result{
		Stage:         decided,
		Confidence:    temporal.PredictionConfidence * s.cfg.PredictionConfidenceScale,
		Probabilities: pred,
		Minutes:       minutes,
	}
}

func (s *Session) predictionVector(now time.Time, minutes float64) stage.Probabilities {
	pred := temporal.PredictRemFromCycle(s.start, now)
	awake := s.awakeParams().AwakePriorAt(minutes)
	rem := pred.RemProbability * (1 - awake)
	if s.beforeFirstRem(minutes) {
		rem = 0
	}
	return stage.Probabilities{awake, math.Max(0, 1-awake-rem), rem}.Normalize()
}
