package classifier

import (
	"math"
	"time"

	"sleepstage/domain/stage"
	"sleepstage/internal/features"
	"sleepstage/internal/temporal"
)

// classifyVitals runs the two-stage decision: awake detection from HR
// jitter first, then REM versus NREM from cycle timing and RMSSD stability.
func (s *Session) classifyVitals(in Input, now time.Time) Result {
	hr := *in.HeartRate
	if in.VitalsTimestamp.After(s.lastVitalsAt) {
		s.hrWindow.Push(hr)
		s.lastRMSSD = features.SuccessiveRMSSD(s.hrWindow.Values())
		s.rmssdHistory.Push(s.lastRMSSD)
		s.lastVitalsAt = *in.VitalsTimestamp
	}
	window := s.hrWindow.Values()
	cv := features.PopulationCV(s.rmssdHistory.Values())
	minutes := s.minutes(now)

	evidence, ok := s.updateEvidence(observation{hr: hr, hrv: in.HRV, rr: in.RespiratoryRate, rmssd: s.lastRMSSD})

	awakeScore := s.awakeScore(window, minutes)
	if ok {
		awakeScore += s.cfg.EvidenceGain * (evidence.Get(stage.Awake) - 1.0/3)
	}
	if awakeScore > s.cfg.AwakeScoreThreshold {
		s.awakeStreak++
	} else {
		s.awakeStreak = 0
	}

	remScore := s.remScore(cv, minutes)
	if ok {
		remScore += s.cfg.EvidenceGain * (evidence.Get(stage.REM) - 1.0/3)
	}

	var decided stage.Stage
	switch {
	case s.awakeStreak >= s.cfg.AwakeConsecutiveTicks:
		decided = stage.Awake
		s.remStreak = 0
	case s.beforeFirstRem(minutes):
		decided = stage.NREM
		s.remStreak = 0
	default:
		if remScore > s.cfg.RemScoreThreshold {
			s.remStreak++
		} else {
			s.remStreak = 0
		}
		switch {
		case s.remStreak >= s.cfg.RemConsecutiveTicks:
			decided = stage.REM
		case s.prevStage == stage.REM && remScore > s.cfg.RemHysteresisFloor:
			decided = stage.REM
		default:
			decided = stage.NREM
		}
	}

	probs := s.decisionVector(decided, awakeScore, remScore, minutes)
	return Result{
		Stage:         decided,
		Confidence:    decisionConfidence(probs, decided),
		Probabilities: probs,
		AwakeScore:    awakeScore,
		RemScore:      remScore,
		Minutes:       minutes,
	}
}

// awakeScore combines HR jitter against the (time-adjusted) threshold with
// the awake prior for the current time bin.
func (s *Session) awakeScore(window []float64, minutes float64) float64 {
	params := s.awakeParams()
	prior := params.AwakePriorAt(minutes)
	threshold := params.Threshold()
	switch {
	case prior > s.cfg.HighPriorThreshold:
		threshold *= s.cfg.HighPriorScale
	case prior < s.cfg.LowPriorThreshold:
		threshold *= s.cfg.LowPriorScale
	}
	meanDiff := features.MeanAbsDiff(window, s.cfg.JitterDiffs)
	hrSignal := clamp((meanDiff-threshold+1.5)/3, 0, 1)
	return 0.7*hrSignal + 0.3*prior
}

// remScore combines the time-based REM probability with RMSSD stability.
func (s *Session) remScore(cv, minutes float64) float64 {
	score := 0.5 * temporal.TimeBasedRemProbability(minutes)
	if cv < s.cfg.CVThreshold {
		score += 0.25
	}
	if cv < s.cfg.CVThreshold*s.cfg.VeryLowCVFactor {
		score += 0.15
	}
	return score
}

// updateEvidence folds the current likelihoods into the running evidence
// vector using the temporal smoothing strength.
func (s *Session) updateEvidence(obs observation) (stage.Probabilities, bool) {
	params := s.model.Hyperparameters
	raw, ok := stageEvidence(s.model, obs, params, s.cfg.UseRRFeature)
	if !ok {
		return stage.Uniform(), false
	}
	if !s.hasEvidence {
		s.evidence = raw
		s.hasEvidence = true
		return raw, true
	}
	k := clamp(params.TemporalSmoothingStrength, 0, 1)
	var next stage.Probabilities
	for i := range next {
		next[i] = k*s.evidence[i] + (1-k)*raw[i]
	}
	s.evidence = next.Normalize()
	return s.evidence, true
}

// decisionVector turns the scores into a distribution whose arg-max is the
// decided stage.
func (s *Session) decisionVector(decided stage.Stage, awakeScore, remScore, minutes float64) stage.Probabilities {
	awake := clamp(awakeScore, 0, 1)
	rem := clamp(remScore, 0, 1)
	if s.beforeFirstRem(minutes) {
		rem = 0
	}
	v := stage.Probabilities{awake, math.Max(0, 1-awake-rem), rem}

	var maxOther float64
	for _, st := range stage.All {
		if st != decided {
			maxOther = math.Max(maxOther, v.Get(st))
		}
	}
	v = v.Set(decided, math.Max(v.Get(decided), maxOther)+s.cfg.DecisionBonus)
	return v.Normalize()
}

// decisionConfidence maps the decided stage's lead over the runner-up into
// [0.5, 1].
func decisionConfidence(p stage.Probabilities, decided stage.Stage) float64 {
	var second float64
	for _, st := range stage.All {
		if st != decided {
			second = math.Max(second, p.Get(st))
		}
	}
	return clamp(0.5+0.5*(p.Get(decided)-second), 0.5, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
