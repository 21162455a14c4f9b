package classifier

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
)

// Standard deviation floors keep a tight training distribution from
// producing extreme likelihood ratios.
const (
	minStdHR    = 1.0
	minStdHRV   = 2.0
	minStdRR    = 0.5
	minStdRMSSD = 0.5
)

type observation struct {
	hr    float64
	hrv   *float64
	rr    *float64
	rmssd float64
}

type feature struct {
	weight  float64
	value   float64
	mean    func(*model.StageStatistics) float64
	std     func(*model.StageStatistics) float64
	floor   float64
	present func(*model.StageStatistics) bool
}

// stageEvidence converts the current observation into a distribution using
// weighted Gaussian log-likelihoods under each modeled stage. Unmodeled
// stages keep a uniform share. It reports false when fewer than two stages
// are modeled, since a single likelihood cannot discriminate.
func stageEvidence(m *model.LearnedModel, obs observation, params model.Hyperparameters, useRR bool) (stage.Probabilities, bool) {
	var modeled []stage.Stage
	for _, s := range stage.All {
		if m.Stats(s) != nil {
			modeled = append(modeled, s)
		}
	}
	if len(modeled) < 2 {
		return stage.Uniform(), false
	}

	feats := []feature{
		{
			weight:  params.HRWeight,
			value:   obs.hr,
			floor:   minStdHR,
			mean:    func(st *model.StageStatistics) float64 { return st.MeanHR },
			std:     func(st *model.StageStatistics) float64 { return st.StdHR },
			present: func(*model.StageStatistics) bool { return true },
		},
		{
			weight:  params.HRVEstWeight,
			value:   obs.rmssd,
			floor:   minStdRMSSD,
			mean:    func(st *model.StageStatistics) float64 { return st.MeanRMSSD },
			std:     func(st *model.StageStatistics) float64 { return st.StdRMSSD },
			present: func(*model.StageStatistics) bool { return true },
		},
	}
	if obs.hrv != nil {
		feats = append(feats, feature{
			weight:  params.HRVWeight,
			value:   *obs.hrv,
			floor:   minStdHRV,
			mean:    func(st *model.StageStatistics) float64 { return st.MeanHRV },
			std:     func(st *model.StageStatistics) float64 { return st.StdHRV },
			present: func(st *model.StageStatistics) bool { return st.HRVCount >= 2 },
		})
	}
	if useRR && obs.rr != nil {
		feats = append(feats, feature{
			weight:  params.RRWeight,
			value:   *obs.rr,
			floor:   minStdRR,
			mean:    func(st *model.StageStatistics) float64 { return st.MeanRR },
			std:     func(st *model.StageStatistics) float64 { return st.StdRR },
			present: func(st *model.StageStatistics) bool { return st.RRCount >= 2 },
		})
	}

	logL := make([]float64, len(modeled))
	for _, f := range feats {
		if f.weight <= 0 || !presentForAll(f, m, modeled) {
			continue
		}
		for i, s := range modeled {
			st := m.Stats(s)
			dist := distuv.Normal{Mu: f.mean(st), Sigma: math.Max(f.std(st), f.floor)}
			logL[i] += f.weight * dist.LogProb(f.value)
		}
	}

	// softmax over modeled stages, scaled to their share of the mass
	maxL := math.Inf(-1)
	for _, l := range logL {
		maxL = math.Max(maxL, l)
	}
	var sum float64
	weights := make([]float64, len(logL))
	for i, l := range logL {
		weights[i] = math.Exp(l - maxL)
		sum += weights[i]
	}

	out := stage.Uniform()
	share := float64(len(modeled)) / 3
	for i, s := range modeled {
		out = out.Set(s, share*weights[i]/sum)
	}
	return out.Normalize(), true
}

func presentForAll(f feature, m *model.LearnedModel, modeled []stage.Stage) bool {
	for _, s := range modeled {
		if !f.present(m.Stats(s)) {
			return false
		}
	}
	return true
}
