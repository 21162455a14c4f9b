package validation

import (
	"github.com/montanaflynn/stats"
)

// DefaultStabilityThreshold is the per-fold accuracy a fold must reach to
// count as stable.
const DefaultStabilityThreshold = 0.5

// FoldStability summarises how evenly a grid point performs across held-out
// nights. A high mean with a wide spread means the choice depends on which
// night is held out.
type FoldStability struct {
	Folds          int     `json:"folds"`
	MeanAccuracy   float64 `json:"meanAccuracy"`
	StdAccuracy    float64 `json:"stdAccuracy"`
	MinAccuracy    float64 `json:"minAccuracy"`
	StableFraction float64 `json:"stableFraction"`
}

func foldStability(foldAccuracies []float64, threshold float64) FoldStability {
	out := FoldStability{Folds: len(foldAccuracies)}
	if len(foldAccuracies) == 0 {
		return out
	}
	data := stats.Float64Data(foldAccuracies)
	out.MeanAccuracy, _ = data.Mean()
	out.StdAccuracy, _ = data.StandardDeviationPopulation()
	out.MinAccuracy, _ = data.Min()

	var stable int
	for _, a := range foldAccuracies {
		if a >= threshold {
			stable++
		}
	}
	out.StableFraction = float64(stable) / float64(len(foldAccuracies))
	return out
}
