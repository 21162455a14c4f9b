package smoother

import (
	"math"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
)

const logFloor = 1e-12

// Viterbi decodes the most likely stage path for a recorded night given
// per-tick emission likelihoods. It is the offline counterpart of Update and
// sees the whole night at once.
func Viterbi(emissions []stage.Probabilities, t model.TransitionMatrix, initial stage.Probabilities) []stage.Stage {
	n := len(emissions)
	if n == 0 {
		return nil
	}

	var logT [3][3]float64
	for i := range t {
		for j := range t[i] {
			logT[i][j] = safeLog(t[i][j])
		}
	}

	score := make([][3]float64, n)
	back := make([][3]int, n)
	for j := 0; j < 3; j++ {
		score[0][j] = safeLog(initial[j]) + safeLog(emissions[0][j])
	}

	for k := 1; k < n; k++ {
		for to := 0; to < 3; to++ {
			best, arg := math.Inf(-1), 0
			for from := 0; from < 3; from++ {
				if v := score[k-1][from] + logT[from][to]; v > best {
					best, arg = v, from
				}
			}
			score[k][to] = best + safeLog(emissions[k][to])
			back[k][to] = arg
		}
	}

	last := 0
	for j := 1; j < 3; j++ {
		if score[n-1][j] > score[n-1][last] {
			last = j
		}
	}

	path := make([]stage.Stage, n)
	for k := n - 1; k >= 0; k-- {
		path[k] = stage.All[last]
		last = back[k][last]
	}
	return path
}

func safeLog(v float64) float64 {
	return math.Log(math.Max(v, logFloor))
}
