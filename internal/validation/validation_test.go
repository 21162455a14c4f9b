package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/testkit"
)

func TestConfusionMatrixMetrics(t *testing.T) {
	var cm ConfusionMatrix
	add := func(truth, pred stage.Stage, n int) {
		for i := 0; i < n; i++ {
			cm.Add(truth, pred)
		}
	}
	add(stage.Awake, stage.Awake, 8)
	add(stage.Awake, stage.NREM, 2)
	add(stage.NREM, stage.NREM, 30)
	add(stage.NREM, stage.REM, 10)
	add(stage.REM, stage.REM, 15)
	add(stage.REM, stage.NREM, 5)

	assert.Equal(t, 70, cm.Total())
	assert.InDelta(t, 53.0/70, cm.Accuracy(), 1e-9)
	assert.InDelta(t, 0.75, cm.Recall(stage.REM), 1e-9)
	assert.InDelta(t, 0.8, cm.Recall(stage.Awake), 1e-9)
	assert.InDelta(t, 15.0/25, cm.Precision(stage.REM), 1e-9)
	assert.InDelta(t, 40.0/50, cm.Specificity(stage.REM), 1e-9)
	assert.InDelta(t, (0.8+0.75+0.75)/3, cm.MeanPerStage(), 1e-9)
	assert.InDelta(t, 2*0.75+0.8+(0.8+0.75+0.75)/3, cm.Score(), 1e-9)

	p, r := 0.6, 0.75
	assert.InDelta(t, 2*p*r/(p+r), cm.F1(stage.REM), 1e-9)
}

func TestConfusionMatrixEmpty(t *testing.T) {
	var cm ConfusionMatrix
	assert.Zero(t, cm.Accuracy())
	assert.Zero(t, cm.Recall(stage.REM))
	assert.Zero(t, cm.Specificity(stage.REM))
	assert.Zero(t, cm.MeanPerStage())
	assert.Zero(t, cm.Score())
}

func TestMeanPerStageSkipsUnsupportedStages(t *testing.T) {
	var cm ConfusionMatrix
	cm.Add(stage.NREM, stage.NREM)
	cm.Add(stage.NREM, stage.Awake)
	assert.InDelta(t, 0.5, cm.MeanPerStage(), 1e-9)
}

func TestDefaultGrid(t *testing.T) {
	grid := DefaultGrid()
	require.Len(t, grid, 18)
	for _, p := range grid {
		assert.LessOrEqual(t, p.HRWeight+p.HRVWeight+p.RRWeight+p.HRVEstWeight, 1.0+1e-9)
	}
}

func TestRunSkipsWithTooFewNights(t *testing.T) {
	nights := testkit.NewNightGenerator(testkit.DefaultNightConfig()).GenerateNights()
	report, err := NewHarness(DefaultConfig()).Run(context.Background(), "u1", nights[:1], nil)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Nil(t, report.Best)
}

func TestRunPicksBestScore(t *testing.T) {
	cfg := testkit.DefaultNightConfig()
	cfg.Nights = 3
	nights := testkit.NewNightGenerator(cfg).GenerateNights()

	grid := []model.Hyperparameters{
		model.NewHyperparameters(0, 0.4, 0.3),
		model.NewHyperparameters(0.6, 0.6, 0.1),
		model.NewHyperparameters(0.3, 0.2, 0.3),
	}
	report, err := NewHarness(DefaultConfig()).Run(context.Background(), "u1", nights, grid)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Len(t, report.Results, len(grid))
	require.NotNil(t, report.Best)

	var labeled int
	for _, n := range nights {
		labeled += len(n.HeartRate)
	}
	for i, r := range report.Results {
		assert.Equal(t, grid[i], r.Params)
		assert.Equal(t, labeled, r.Confusion.Total())
		assert.LessOrEqual(t, r.Score, report.Best.Score)
		assert.Equal(t, 3, r.Stability.Folds)
		assert.InDelta(t, r.Confusion.Recall(stage.REM), r.RemSensitivity, 1e-12)
	}
	assert.Greater(t, report.Best.Accuracy, 0.0)
}

func TestRunIsDeterministicAcrossWorkerCounts(t *testing.T) {
	cfg := testkit.DefaultNightConfig()
	cfg.Nights = 3
	nights := testkit.NewNightGenerator(cfg).GenerateNights()
	grid := DefaultGrid()[:6]

	serialCfg := DefaultConfig()
	serialCfg.Workers = 1
	serial, err := NewHarness(serialCfg).Run(context.Background(), "u1", nights, grid)
	require.NoError(t, err)

	parallel, err := NewHarness(DefaultConfig()).Run(context.Background(), "u1", nights, grid)
	require.NoError(t, err)

	for i := range grid {
		assert.Equal(t, serial.Results[i].Confusion, parallel.Results[i].Confusion)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	nights := testkit.NewNightGenerator(testkit.DefaultNightConfig()).GenerateNights()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHarness(DefaultConfig()).Run(ctx, "u1", nights, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatestBefore(t *testing.T) {
	base := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	samples := []stage.Sample{{Value: 40, Time: base}, {Value: 50, Time: base.Add(5 * time.Minute)}}

	assert.Nil(t, latestBefore(samples, base.Add(-time.Second), HRVMatchWindow))
	assert.Equal(t, 40.0, *latestBefore(samples, base.Add(4*time.Minute), HRVMatchWindow))
	assert.Equal(t, 50.0, *latestBefore(samples, base.Add(5*time.Minute), HRVMatchWindow))
	assert.Nil(t, latestBefore(samples, base.Add(11*time.Minute), HRVMatchWindow))
}

func TestFoldStability(t *testing.T) {
	s := foldStability([]float64{0.4, 0.6, 0.8}, 0.5)
	assert.Equal(t, 3, s.Folds)
	assert.InDelta(t, 0.6, s.MeanAccuracy, 1e-9)
	assert.InDelta(t, 0.4, s.MinAccuracy, 1e-9)
	assert.InDelta(t, 2.0/3, s.StableFraction, 1e-9)
	assert.Zero(t, foldStability(nil, 0.5).Folds)
}
