package validation

import (
	"math"

	"sleepstage/domain/stage"
)

// ConfusionMatrix counts [truth][predicted] in stage.All order.
type ConfusionMatrix [3][3]int

// Add records one prediction against its ground truth.
func (c *ConfusionMatrix) Add(truth, predicted stage.Stage) {
	i, j := truth.Index(), predicted.Index()
	if i < 0 || j < 0 {
		return
	}
	c[i][j]++
}

// Merge adds other into c.
func (c *ConfusionMatrix) Merge(other ConfusionMatrix) {
	for i := range c {
		for j := range c[i] {
			c[i][j] += other[i][j]
		}
	}
}

// Total is the number of recorded predictions.
func (c ConfusionMatrix) Total() int {
	var n int
	for i := range c {
		for j := range c[i] {
			n += c[i][j]
		}
	}
	return n
}

// Support is the number of samples whose truth is s.
func (c ConfusionMatrix) Support(s stage.Stage) int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return c[i][0] + c[i][1] + c[i][2]
}

// Accuracy is the fraction of correct predictions.
func (c ConfusionMatrix) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c[0][0]+c[1][1]+c[2][2]) / float64(total)
}

// Recall (sensitivity) for s.
func (c ConfusionMatrix) Recall(s stage.Stage) float64 {
	i := s.Index()
	support := c.Support(s)
	if support == 0 {
		return 0
	}
	return float64(c[i][i]) / float64(support)
}

// Precision for s.
func (c ConfusionMatrix) Precision(s stage.Stage) float64 {
	j := s.Index()
	if j < 0 {
		return 0
	}
	predicted := c[0][j] + c[1][j] + c[2][j]
	if predicted == 0 {
		return 0
	}
	return float64(c[j][j]) / float64(predicted)
}

// Specificity for s: true negatives over all negatives.
func (c ConfusionMatrix) Specificity(s stage.Stage) float64 {
	k := s.Index()
	if k < 0 {
		return 0
	}
	var tn, fp int
	for i := range c {
		if i == k {
			continue
		}
		for j := range c[i] {
			if j == k {
				fp += c[i][j]
			} else {
				tn += c[i][j]
			}
		}
	}
	if tn+fp == 0 {
		return 0
	}
	return float64(tn) / float64(tn+fp)
}

// F1 is the harmonic mean of precision and recall for s.
func (c ConfusionMatrix) F1(s stage.Stage) float64 {
	p, r := c.Precision(s), c.Recall(s)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// PerStageAccuracy is the recall of every stage.
func (c ConfusionMatrix) PerStageAccuracy() map[stage.Stage]float64 {
	out := make(map[stage.Stage]float64, len(stage.All))
	for _, s := range stage.All {
		out[s] = c.Recall(s)
	}
	return out
}

// MeanPerStage averages recall over stages that have support.
func (c ConfusionMatrix) MeanPerStage() float64 {
	var sum float64
	var n int
	for _, s := range stage.All {
		if c.Support(s) == 0 {
			continue
		}
		sum += c.Recall(s)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Score ranks a grid point: REM sensitivity counts double.
func (c ConfusionMatrix) Score() float64 {
	score := 2*c.Recall(stage.REM) + c.Recall(stage.Awake) + c.MeanPerStage()
	if math.IsNaN(score) {
		return 0
	}
	return score
}
