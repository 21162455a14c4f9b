package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/errors"
	"sleepstage/internal/training"
	"sleepstage/internal/validation"
	"sleepstage/ports"
)

// ProgressStage names a training phase.
type ProgressStage string

const (
	ProgressFetching   ProgressStage = "fetching"
	ProgressProcessing ProgressStage = "processing"
	ProgressValidating ProgressStage = "validating"
	ProgressComplete   ProgressStage = "complete"
)

// Progress is emitted as training advances.
type Progress struct {
	Stage   ProgressStage `json:"stage"`
	Message string        `json:"message"`
	Percent int           `json:"percent"`
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(Progress)

// DefaultHoursBack is the training window when none is given.
const DefaultHoursBack = 720

// TrainingReport describes one training run.
type TrainingReport struct {
	RunID       core.RunID         `json:"runId"`
	UserID      core.UserID        `json:"userId"`
	RangeStart  time.Time          `json:"rangeStart"`
	RangeEnd    time.Time          `json:"rangeEnd"`
	NightsFound int                `json:"nightsFound"`
	NightsUsed  int                `json:"nightsUsed"`
	Training    training.Report    `json:"training"`
	Validation  *validation.Report `json:"validation,omitempty"`
	Saved       bool               `json:"saved"`
	Warnings    []string           `json:"warnings"`
	Errors      []string           `json:"errors"`
	Duration    time.Duration      `json:"duration"`
}

// TrainingService fetches labeled history, trains and validates a model and
// persists it. Live sessions read the current model through CurrentModel;
// a new model is swapped in only after it has been saved.
type TrainingService struct {
	vitals    ports.VitalsSource
	repo      ports.ModelRepository
	runs      ports.TrainingRunRepository
	trainer   *training.Trainer
	harness   *validation.Harness
	grid      []model.Hyperparameters
	maxNights int
	hoursBack int
	now       func() time.Time
	logger    *internal.Logger

	models sync.Map // core.UserID -> *atomic.Pointer[model.LearnedModel]
}

// TrainingOption configures a TrainingService.
type TrainingOption func(*TrainingService)

// WithTrainingLogger sets the service logger.
func WithTrainingLogger(l *internal.Logger) TrainingOption {
	return func(s *TrainingService) { s.logger = l }
}

// WithTrainingClock overrides the clock that anchors the fetch window.
func WithTrainingClock(now func() time.Time) TrainingOption {
	return func(s *TrainingService) { s.now = now }
}

// WithGrid overrides the cross-validation grid.
func WithGrid(grid []model.Hyperparameters) TrainingOption {
	return func(s *TrainingService) { s.grid = grid }
}

// WithMaxNights caps how many of the most recent nights are used.
func WithMaxNights(n int) TrainingOption {
	return func(s *TrainingService) { s.maxNights = n }
}

// WithDefaultHoursBack sets the training window used when a caller passes
// no positive hoursBack.
func WithDefaultHoursBack(hours int) TrainingOption {
	return func(s *TrainingService) {
		if hours > 0 {
			s.hoursBack = hours
		}
	}
}

// WithHarness overrides the cross-validation harness.
func WithHarness(h *validation.Harness) TrainingOption {
	return func(s *TrainingService) { s.harness = h }
}

// WithRunRecorder records a summary of every training run.
func WithRunRecorder(r ports.TrainingRunRepository) TrainingOption {
	return func(s *TrainingService) { s.runs = r }
}

// NewTrainingService creates a training service
func NewTrainingService(vitals ports.VitalsSource, repo ports.ModelRepository, opts ...TrainingOption) *TrainingService {
	s := &TrainingService{
		vitals:    vitals,
		repo:      repo,
		maxNights: 30,
		hoursBack: DefaultHoursBack,
		now:       time.Now,
		logger:    internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.trainer = training.NewTrainer(training.WithClock(s.now), training.WithLogger(s.logger))
	if s.harness == nil {
		s.harness = validation.NewHarness(validation.DefaultConfig(),
			validation.WithTrainer(s.trainer), validation.WithLogger(s.logger))
	}
	return s
}

// TrainModel runs fetching, segmentation, training and cross validation for
// the last hoursBack hours, or the configured default window when
// hoursBack is not positive. It never fails: fetch and persistence problems
// are recorded in the report's Errors and an empty model is returned.
func (s *TrainingService) TrainModel(ctx context.Context, userID core.UserID, hoursBack int, onProgress ProgressFunc) (*model.LearnedModel, *TrainingReport) {
	started := time.Now()
	if hoursBack <= 0 {
		hoursBack = s.hoursBack
	}
	end := s.now()
	report := &TrainingReport{
		RunID:      core.NewRunID(),
		UserID:     userID,
		RangeStart: end.Add(-time.Duration(hoursBack) * time.Hour),
		RangeEnd:   end,
	}
	emit := func(st ProgressStage, percent int, format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		s.logger.Debug("[Training] %s %d%%: %s", st, percent, msg)
		if onProgress != nil {
			onProgress(Progress{Stage: st, Message: msg, Percent: percent})
		}
	}
	finish := func(m *model.LearnedModel) (*model.LearnedModel, *TrainingReport) {
		report.Duration = time.Since(started)
		s.record(ctx, m, report, end)
		emit(ProgressComplete, 100, "trained on %d nights", report.NightsUsed)
		return m, report
	}
	fail := func(err error) (*model.LearnedModel, *TrainingReport) {
		s.logger.Error("[Training] run %s for %s failed: %v", report.RunID, userID, err)
		report.Errors = append(report.Errors, err.Error())
		return finish(model.Empty(userID))
	}

	emit(ProgressFetching, 0, "fetching %d hours of history", hoursBack)
	intervals, err := s.vitals.FetchSleepStageIntervals(ctx, report.RangeStart, end)
	if err != nil {
		return fail(errors.TrainingFailed("fetching sleep stages", err))
	}
	hr, err := s.vitals.FetchHeartRateSamples(ctx, report.RangeStart, end)
	if err != nil {
		return fail(errors.TrainingFailed("fetching heart rate", err))
	}
	hrv, err := s.vitals.FetchHRVSamples(ctx, report.RangeStart, end)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("hrv unavailable: %v", err))
		hrv = nil
	}
	rr, err := s.vitals.FetchRespiratoryRateSamples(ctx, report.RangeStart, end)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("respiratory rate unavailable: %v", err))
		rr = nil
	}
	emit(ProgressFetching, 25, "%d intervals, %d heart-rate samples", len(intervals), len(hr))

	emit(ProgressProcessing, 30, "segmenting nights")
	nights := training.Segment(intervals, training.DefaultSessionGap, training.DefaultMinIntervals)
	report.NightsFound = len(nights)
	nights = training.AttachSamples(training.KeepLatest(nights, s.maxNights), hr, hrv, rr)
	report.NightsUsed = len(nights)

	m, trainReport := s.trainer.Train(userID, nights)
	report.Training = trainReport
	report.Warnings = append(report.Warnings, trainReport.Warnings...)
	emit(ProgressProcessing, 55, "modeled %d of %d stages", m.ModeledStages(), len(stage.All))

	if len(nights) == 0 {
		report.Warnings = append(report.Warnings, "no nights found; model not saved")
		return finish(m)
	}

	emit(ProgressValidating, 60, "cross validating over %d nights", len(nights))
	cv, err := s.harness.Run(ctx, userID, nights, s.grid)
	if err != nil {
		return fail(errors.TrainingFailed("cross validation", err))
	}
	report.Validation = cv
	if cv.Skipped {
		report.Warnings = append(report.Warnings, cv.Reason)
	} else {
		best := cv.Best
		m = m.WithValidation(best.Accuracy, best.RemSensitivity, best.RemSpecificity, best.PerStageAccuracy, best.Params)
	}
	emit(ProgressValidating, 90, "validation done")

	if err := s.repo.Save(ctx, m); err != nil {
		s.logger.Error("[Training] saving model for %s: %v", userID, err)
		report.Errors = append(report.Errors, err.Error())
		return finish(m)
	}
	report.Saved = true
	s.slot(userID).Store(m)
	s.logger.Info("[Training] model %s for %s saved (%d nights, usable=%t)", m.ID, userID, m.NightsAnalyzed, m.IsUsable())

	return finish(m)
}

// record stores the run summary. Failures are logged and never change the
// outcome of the run.
func (s *TrainingService) record(ctx context.Context, m *model.LearnedModel, report *TrainingReport, startedAt time.Time) {
	if s.runs == nil {
		return
	}
	run := ports.TrainingRun{
		ID:         report.RunID,
		UserID:     report.UserID,
		StartedAt:  startedAt,
		Duration:   report.Duration,
		NightsUsed: report.NightsUsed,
		Saved:      report.Saved,
		Warnings:   report.Warnings,
		Errors:     report.Errors,
	}
	if report.Saved {
		run.Accuracy = m.ValidationAccuracy
		run.RemSensitivity = m.RemSensitivity
	}
	if err := s.runs.Record(ctx, run); err != nil {
		s.logger.Warn("[Training] recording run %s: %v", report.RunID, err)
	}
}

// Runs lists recent training runs for userID, newest first.
func (s *TrainingService) Runs(ctx context.Context, userID core.UserID, limit int) ([]ports.TrainingRun, error) {
	if s.runs == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.runs.List(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing training runs")
	}
	return runs, nil
}

// CurrentModel returns the in-memory model for userID, or nil.
func (s *TrainingService) CurrentModel(userID core.UserID) *model.LearnedModel {
	if v, ok := s.models.Load(userID); ok {
		return v.(*atomic.Pointer[model.LearnedModel]).Load()
	}
	return nil
}

// LoadModel returns the current model, reading through to the repository
// on a cache miss. A user without a model yields nil and no error.
func (s *TrainingService) LoadModel(ctx context.Context, userID core.UserID) (*model.LearnedModel, error) {
	if m := s.CurrentModel(userID); m != nil {
		return m, nil
	}
	m, err := s.repo.Load(ctx, userID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}
	s.slot(userID).CompareAndSwap(nil, m)
	return s.CurrentModel(userID), nil
}

// ClearModel deletes the persisted model and drops it from memory.
func (s *TrainingService) ClearModel(ctx context.Context, userID core.UserID) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clearing model")
	}
	s.slot(userID).Store(nil)
	s.logger.Info("[Training] model for %s cleared", userID)
	return nil
}

func (s *TrainingService) slot(userID core.UserID) *atomic.Pointer[model.LearnedModel] {
	v, _ := s.models.LoadOrStore(userID, &atomic.Pointer[model.LearnedModel]{})
	return v.(*atomic.Pointer[model.LearnedModel])
}
