package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/core"
	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
	"sleepstage/internal/testkit"
	"sleepstage/internal/validation"
)

const testUser = core.UserID("user-1")

func trainingFixture(t *testing.T) (*testkit.FakeVitalsSource, *testkit.InMemoryModelRepository, func() time.Time) {
	t.Helper()
	cfg := testkit.DefaultNightConfig()
	history := testkit.NewNightGenerator(cfg).GenerateHistory()
	now := cfg.FirstNight.Add(time.Duration(cfg.Nights+1) * 24 * time.Hour)
	return testkit.NewFakeVitalsSource(history), testkit.NewInMemoryModelRepository(), func() time.Time { return now }
}

func TestTrainModelEndToEnd(t *testing.T) {
	vitals, repo, clock := trainingFixture(t)
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock), WithGrid(validation.DefaultGrid()[:2]))

	var events []Progress
	m, report := svc.TrainModel(context.Background(), testUser, 0, func(p Progress) { events = append(events, p) })

	require.Empty(t, report.Errors)
	assert.True(t, report.Saved)
	assert.Equal(t, 7, report.NightsFound)
	assert.Equal(t, 7, report.NightsUsed)
	require.NotNil(t, report.Validation)
	assert.False(t, report.Validation.Skipped)

	require.NotNil(t, m.ValidationAccuracy)
	assert.True(t, m.IsUsable())
	assert.Equal(t, 7, m.NightsAnalyzed)
	assert.Equal(t, report.Validation.Best.Params, m.Hyperparameters)

	saved, err := repo.Load(context.Background(), testUser)
	require.NoError(t, err)
	assert.Same(t, m, saved)
	assert.Same(t, m, svc.CurrentModel(testUser))

	require.NotEmpty(t, events)
	seen := map[ProgressStage]bool{}
	last := -1
	for _, e := range events {
		seen[e.Stage] = true
		assert.GreaterOrEqual(t, e.Percent, last)
		last = e.Percent
	}
	for _, st := range []ProgressStage{ProgressFetching, ProgressProcessing, ProgressValidating, ProgressComplete} {
		assert.True(t, seen[st], "missing %s", st)
	}
	assert.Equal(t, ProgressComplete, events[len(events)-1].Stage)
	assert.Equal(t, 100, events[len(events)-1].Percent)
}

func TestTrainModelOnZeroNights(t *testing.T) {
	repo := testkit.NewInMemoryModelRepository()
	svc := NewTrainingService(testkit.NewFakeVitalsSource(testkit.History{}), repo)

	m, report := svc.TrainModel(context.Background(), testUser, 24, nil)
	require.NotNil(t, m)
	assert.Empty(t, report.Errors)
	assert.False(t, report.Saved)
	for _, s := range stage.All {
		assert.Nil(t, m.StageStats[s])
		assert.Zero(t, m.PerStageAccuracy[s])
	}

	_, err := repo.Load(context.Background(), testUser)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestTrainModelCatchesFetchErrors(t *testing.T) {
	vitals, repo, clock := trainingFixture(t)
	vitals.Err = fmt.Errorf("connection refused")
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock))

	var final Progress
	m, report := svc.TrainModel(context.Background(), testUser, 720, func(p Progress) { final = p })
	require.NotNil(t, m)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "connection refused")
	assert.False(t, report.Saved)
	assert.Zero(t, m.ModeledStages())
	assert.Equal(t, ProgressComplete, final.Stage)
	assert.Nil(t, svc.CurrentModel(testUser))
}

func TestTrainModelDoesNotSwapWhenSaveFails(t *testing.T) {
	vitals, repo, clock := trainingFixture(t)
	repo.SaveErr = errors.DatabaseError("insert failed", nil)
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock), WithGrid(validation.DefaultGrid()[:1]))

	_, report := svc.TrainModel(context.Background(), testUser, 720, nil)
	require.Len(t, report.Errors, 1)
	assert.False(t, report.Saved)
	assert.Nil(t, svc.CurrentModel(testUser))
}

func TestTrainModelWithSingleNightSkipsValidation(t *testing.T) {
	vitals, repo, clock := trainingFixture(t)
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock), WithMaxNights(1))

	m, report := svc.TrainModel(context.Background(), testUser, 720, nil)
	assert.Empty(t, report.Errors)
	require.NotNil(t, report.Validation)
	assert.True(t, report.Validation.Skipped)
	assert.Nil(t, m.ValidationAccuracy)
	assert.False(t, m.IsUsable())
}

func TestLoadAndClearModel(t *testing.T) {
	ctx := context.Background()
	repo := testkit.NewInMemoryModelRepository()
	svc := NewTrainingService(testkit.NewFakeVitalsSource(testkit.History{}), repo)

	m, err := svc.LoadModel(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, m)

	vitals, _, clock := trainingFixture(t)
	trained, _ := NewTrainingService(vitals, repo, WithTrainingClock(clock), WithGrid(validation.DefaultGrid()[:1])).
		TrainModel(ctx, testUser, 720, nil)

	m, err = svc.LoadModel(ctx, testUser)
	require.NoError(t, err)
	assert.Same(t, trained, m)
	assert.Same(t, trained, svc.CurrentModel(testUser))

	require.NoError(t, svc.ClearModel(ctx, testUser))
	assert.Nil(t, svc.CurrentModel(testUser))
	m, err = svc.LoadModel(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestTrainModelRecordsRuns(t *testing.T) {
	ctx := context.Background()
	vitals, repo, clock := trainingFixture(t)
	runs := &testkit.InMemoryRunRepository{}
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock),
		WithGrid(validation.DefaultGrid()[:1]), WithRunRecorder(runs))

	m, report := svc.TrainModel(ctx, testUser, 720, nil)
	require.True(t, report.Saved)

	failing := NewTrainingService(testkit.NewFakeVitalsSource(testkit.History{}), repo, WithRunRecorder(runs))
	failing.TrainModel(ctx, testUser, 720, nil)

	listed, err := svc.Runs(ctx, testUser, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	assert.False(t, listed[0].Saved)
	assert.Nil(t, listed[0].Accuracy)
	assert.NotEmpty(t, listed[0].Warnings)

	assert.Equal(t, report.RunID, listed[1].ID)
	assert.True(t, listed[1].Saved)
	assert.Equal(t, 7, listed[1].NightsUsed)
	require.NotNil(t, listed[1].Accuracy)
	assert.Equal(t, *m.ValidationAccuracy, *listed[1].Accuracy)
}

func TestTrainModelUsesConfiguredDefaultWindow(t *testing.T) {
	vitals, repo, clock := trainingFixture(t)
	svc := NewTrainingService(vitals, repo, WithTrainingClock(clock),
		WithGrid(validation.DefaultGrid()[:1]), WithDefaultHoursBack(60))

	// 60 hours back reaches only the last generated night
	_, report := svc.TrainModel(context.Background(), testUser, 0, nil)
	assert.Equal(t, clock().Add(-60*time.Hour), report.RangeStart)
	assert.Equal(t, 1, report.NightsFound)

	_, report = svc.TrainModel(context.Background(), testUser, DefaultHoursBack, nil)
	assert.Equal(t, clock().Add(-DefaultHoursBack*time.Hour), report.RangeStart)
	assert.Equal(t, 7, report.NightsFound)
}
