// Package validation runs leave-one-night-out cross validation of the live
// classifier over a hyperparameter grid and picks the best combination.
package validation

import (
	"context"
	"sort"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/classifier"
	"sleepstage/internal/training"
)

const (
	// MinNights is the fewest nights leave-one-out can run on.
	MinNights = 2
	// HRVMatchWindow is how far back an HRV sample may be paired with a
	// heart-rate tick.
	HRVMatchWindow = 5 * time.Minute
)

// DefaultGrid is the hyperparameter grid searched when none is given.
func DefaultGrid() []model.Hyperparameters {
	var grid []model.Hyperparameters
	for _, s := range []float64{0, 0.3, 0.6} {
		for _, hr := range []float64{0.2, 0.4, 0.6} {
			for _, hrv := range []float64{0.1, 0.3} {
				grid = append(grid, model.NewHyperparameters(s, hr, hrv))
			}
		}
	}
	return grid
}

// GridResult is the pooled outcome of one grid point over all folds.
type GridResult struct {
	Params           model.Hyperparameters   `json:"params"`
	Confusion        ConfusionMatrix         `json:"confusion"`
	Score            float64                 `json:"score"`
	Accuracy         float64                 `json:"accuracy"`
	RemSensitivity   float64                 `json:"remSensitivity"`
	RemSpecificity   float64                 `json:"remSpecificity"`
	RemPrecision     float64                 `json:"remPrecision"`
	RemF1            float64                 `json:"remF1"`
	PerStageAccuracy map[stage.Stage]float64 `json:"perStageAccuracy"`
	Stability        FoldStability           `json:"stability"`
}

// Report is the outcome of a cross-validation run.
type Report struct {
	Skipped  bool          `json:"skipped"`
	Reason   string        `json:"reason,omitempty"`
	Nights   int           `json:"nights"`
	Best     *GridResult   `json:"best,omitempty"`
	Results  []GridResult  `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Config controls a Harness.
type Config struct {
	Workers            int
	Classifier         classifier.Config
	StabilityThreshold float64
}

// DefaultConfig uses four workers and the default classifier.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		Classifier:         classifier.DefaultConfig(),
		StabilityThreshold: DefaultStabilityThreshold,
	}
}

// Harness runs cross validation.
type Harness struct {
	cfg     Config
	trainer *training.Trainer
	logger  *internal.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the harness logger.
func WithLogger(l *internal.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithTrainer overrides the trainer used for fold models.
func WithTrainer(t *training.Trainer) Option {
	return func(h *Harness) { h.trainer = t }
}

// NewHarness creates a harness.
func NewHarness(cfg Config, opts ...Option) *Harness {
	h := &Harness{
		cfg:     cfg,
		trainer: training.NewTrainer(),
		logger:  internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run evaluates every grid point with leave-one-night-out validation. Fewer
// than MinNights nights yields a skipped report, not an error; errors are
// only returned on context cancellation.
func (h *Harness) Run(ctx context.Context, userID core.UserID, nights []stage.Night, grid []model.Hyperparameters) (*Report, error) {
	started := time.Now()
	if len(nights) < MinNights {
		h.logger.Warn("[Validation] %d night(s) available, need %d; skipping", len(nights), MinNights)
		return &Report{Skipped: true, Reason: "not enough nights for leave-one-out", Nights: len(nights)}, nil
	}
	if len(grid) == 0 {
		grid = DefaultGrid()
	}

	// one trained model per held-out night, shared read-only by all grid points
	folds := make([]*model.LearnedModel, len(nights))
	for i := range nights {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folds[i], _ = h.trainer.Train(userID, without(nights, i))
	}

	jobs := make([]gridJob, len(grid))
	for i, p := range grid {
		jobs[i] = gridJob{index: i, params: p}
	}
	exec := newGridExecutor(h.cfg.Workers, h.logger)
	results, err := exec.run(ctx, jobs, func(ctx context.Context, params model.Hyperparameters) (GridResult, error) {
		return h.evaluate(ctx, params, nights, folds)
	})
	if err != nil {
		return nil, err
	}

	best := 0
	for i := range results {
		if results[i].Score > results[best].Score {
			best = i
		}
	}
	chosen := results[best]
	report := &Report{
		Nights:   len(nights),
		Best:     &chosen,
		Results:  results,
		Duration: time.Since(started),
	}
	h.logger.Info("[Validation] %d nights, %d grid points: best score %.3f (accuracy %.3f, rem sensitivity %.3f) in %v",
		len(nights), len(grid), chosen.Score, chosen.Accuracy, chosen.RemSensitivity, report.Duration)
	return report, nil
}

func (h *Harness) evaluate(ctx context.Context, params model.Hyperparameters, nights []stage.Night, folds []*model.LearnedModel) (GridResult, error) {
	var pooled ConfusionMatrix
	accuracies := make([]float64, 0, len(nights))
	for i, night := range nights {
		if err := ctx.Err(); err != nil {
			return GridResult{}, err
		}
		temp := *folds[i]
		temp.Hyperparameters = params
		cm := h.classifyNight(&temp, night)
		if cm.Total() > 0 {
			accuracies = append(accuracies, cm.Accuracy())
		}
		pooled.Merge(cm)
	}

	return GridResult{
		Params:           params,
		Confusion:        pooled,
		Score:            pooled.Score(),
		Accuracy:         pooled.Accuracy(),
		RemSensitivity:   pooled.Recall(stage.REM),
		RemSpecificity:   pooled.Specificity(stage.REM),
		RemPrecision:     pooled.Precision(stage.REM),
		RemF1:            pooled.F1(stage.REM),
		PerStageAccuracy: pooled.PerStageAccuracy(),
		Stability:        foldStability(accuracies, h.cfg.StabilityThreshold),
	}, nil
}

// classifyNight replays a held-out night through a fresh classifier
// session, one tick per heart-rate sample.
func (h *Harness) classifyNight(m *model.LearnedModel, night stage.Night) ConfusionMatrix {
	var cm ConfusionMatrix
	if len(night.Intervals) == 0 {
		return cm
	}
	hr := sortedSamples(night.HeartRate)
	hrv := sortedSamples(night.HRV)

	session := classifier.NewSession(m, h.cfg.Classifier)
	session.Start(night.Start())
	for _, sample := range hr {
		value, ts := sample.Value, sample.Time
		in := classifier.Input{
			HeartRate:       &value,
			HRV:             latestBefore(hrv, ts, HRVMatchWindow),
			VitalsTimestamp: &ts,
		}
		r := session.ClassifyTick(in, ts)
		if truth, ok := night.LabelAt(ts); ok {
			cm.Add(truth, r.Stage)
		}
	}
	return cm
}

// latestBefore returns the value of the last sample at or before t and no
// older than window.
func latestBefore(sorted []stage.Sample, t time.Time, window time.Duration) *float64 {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Time.After(t) })
	if i == 0 {
		return nil
	}
	s := sorted[i-1]
	if t.Sub(s.Time) > window {
		return nil
	}
	v := s.Value
	return &v
}

func sortedSamples(samples []stage.Sample) []stage.Sample {
	if sort.SliceIsSorted(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) }) {
		return samples
	}
	out := make([]stage.Sample, len(samples))
	copy(out, samples)
	stage.SortSamples(out)
	return out
}

func without(nights []stage.Night, skip int) []stage.Night {
	out := make([]stage.Night, 0, len(nights)-1)
	out = append(out, nights[:skip]...)
	return append(out, nights[skip+1:]...)
}
