// Package smoother is an HMM forward-filter layer that can sit on top of any
// per-tick probability stream. It adds exponential smoothing, minimum dwell
// times and a margin requirement before a transition is committed.
package smoother

import (
	"math"
	"time"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
)

// BlockReason explains why a candidate transition was not committed.
type BlockReason string

const (
	NotBlocked       BlockReason = ""
	BlockedByDwell   BlockReason = "dwell"
	BlockedByMargin  BlockReason = "margin"
	BlockedByLatency BlockReason = "rem_latency"
)

// Config holds the smoother constants.
type Config struct {
	Alpha            float64
	MinDwell         time.Duration
	MinRemDwell      time.Duration
	MarginBase       float64
	MarginScale      float64
	RemBlockedBefore time.Duration
	ConfidenceOffset float64
	// Stickiness mixes self-persistence into an interval-level transition
	// matrix to make it a per-tick one.
	Stickiness float64
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		Alpha:            0.3,
		MinDwell:         60 * time.Second,
		MinRemDwell:      120 * time.Second,
		MarginBase:       0.15,
		MarginScale:      1.3,
		RemBlockedBefore: 60 * time.Minute,
		ConfidenceOffset: 0.3,
		Stickiness:       0.9,
	}
}

// InitialBelief is the belief at session start.
var InitialBelief = stage.Probabilities{0.3, 0.7, 0}

// Estimate is the smoother output for one tick.
type Estimate struct {
	Stage        stage.Stage         `json:"stage"`
	Candidate    stage.Stage         `json:"candidate"`
	Belief       stage.Probabilities `json:"belief"`
	Smoothed     stage.Probabilities `json:"smoothed"`
	Confidence   float64             `json:"confidence"`
	Transitioned bool                `json:"transitioned"`
	Blocked      BlockReason         `json:"blocked,omitempty"`
	Transitions  int                 `json:"transitions"`
	EnteredAt    time.Time           `json:"enteredAt"`
}

// Smoother holds the live, session-scoped smoothing state. It is not safe
// for concurrent use.
type Smoother struct {
	cfg         Config
	transitions model.TransitionMatrix

	sessionStart time.Time
	belief       stage.Probabilities
	smoothed     stage.Probabilities
	hasSmoothed  bool
	committed    stage.Stage
	enteredAt    time.Time
	count        int
}

// New creates a smoother over an interval-level transition matrix (learned or
// prior). The matrix is made per-tick with cfg.Stickiness.
func New(intervalTransitions model.TransitionMatrix, cfg Config) *Smoother {
	s := &Smoother{
		cfg:         cfg,
		transitions: TickTransitions(intervalTransitions, cfg.Stickiness),
	}
	s.Reset(time.Time{})
	return s
}

// Reset clears all state; now becomes the session start.
func (s *Smoother) Reset(now time.Time) {
	s.sessionStart = now
	s.belief = InitialBelief
	s.smoothed = stage.Probabilities{}
	s.hasSmoothed = false
	s.committed = stage.Awake
	s.enteredAt = now
	s.count = 0
}

// Stage returns the committed stage.
func (s *Smoother) Stage() stage.Stage { return s.committed }

// Update folds one raw probability vector into the belief and decides
// whether to commit a transition.
func (s *Smoother) Update(raw stage.Probabilities, now time.Time) Estimate {
	raw = raw.Normalize()
	if !s.hasSmoothed {
		s.smoothed = raw
		s.hasSmoothed = true
	} else {
		for i := range s.smoothed {
			s.smoothed[i] = s.cfg.Alpha*raw[i] + (1-s.cfg.Alpha)*s.smoothed[i]
		}
		s.smoothed = s.smoothed.Normalize()
	}

	s.belief = forward(s.belief, s.smoothed, s.transitions)

	candidate := s.belief.ArgMax()
	est := Estimate{Candidate: candidate, Belief: s.belief, Smoothed: s.smoothed}

	if candidate != s.committed {
		est.Blocked = s.blockReason(candidate, now)
		if est.Blocked == NotBlocked {
			s.committed = candidate
			s.enteredAt = now
			s.count++
			est.Transitioned = true
		}
	}

	top, second := s.belief.TopTwo()
	est.Stage = s.committed
	est.Confidence = math.Max(0, math.Min(1, top-second+s.cfg.ConfidenceOffset))
	est.Transitions = s.count
	est.EnteredAt = s.enteredAt
	return est
}

func (s *Smoother) blockReason(candidate stage.Stage, now time.Time) BlockReason {
	dwell := s.cfg.MinDwell
	if s.committed == stage.REM {
		dwell = s.cfg.MinRemDwell
	}
	if now.Sub(s.enteredAt) < dwell {
		return BlockedByDwell
	}
	if s.belief.Get(candidate)-s.belief.Get(s.committed) < s.cfg.MarginBase*s.cfg.MarginScale {
		return BlockedByMargin
	}
	if candidate == stage.REM && now.Sub(s.sessionStart) < s.cfg.RemBlockedBefore {
		return BlockedByLatency
	}
	return NotBlocked
}

// forward is one HMM forward step: belief'[to] = L[to] * sum_from belief[from]*T[from][to].
func forward(belief, likelihood stage.Probabilities, t model.TransitionMatrix) stage.Probabilities {
	var next stage.Probabilities
	for to := range next {
		var prior float64
		for from := range belief {
			prior += belief[from] * t[from][to]
		}
		next[to] = likelihood[to] * prior
	}
	if next.Sum() <= 0 {
		return likelihood
	}
	return next.Normalize()
}

// TickTransitions blends an interval-level matrix with the identity.
func TickTransitions(m model.TransitionMatrix, stickiness float64) model.TransitionMatrix {
	stickiness = math.Max(0, math.Min(1, stickiness))
	var out model.TransitionMatrix
	for i := range m {
		for j := range m[i] {
			out[i][j] = (1 - stickiness) * m[i][j]
			if i == j {
				out[i][j] += stickiness
			}
		}
	}
	return out
}
