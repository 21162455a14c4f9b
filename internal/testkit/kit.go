package testkit

import (
	"context"
	"sync"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// FakeVitalsSource serves a History filtered by the requested range
type FakeVitalsSource struct {
	History History
	// Err, when set, is returned by every fetch
	Err error

	mu    sync.Mutex
	calls int
}

var _ ports.VitalsSource = (*FakeVitalsSource)(nil)

// NewFakeVitalsSource creates a vitals source backed by h
func NewFakeVitalsSource(h History) *FakeVitalsSource {
	return &FakeVitalsSource{History: h}
}

// Calls returns how many fetches were made
func (f *FakeVitalsSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeVitalsSource) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.Err
}

func (f *FakeVitalsSource) FetchHeartRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return filterSamples(f.History.HeartRate, start, end), nil
}

func (f *FakeVitalsSource) FetchHRVSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return filterSamples(f.History.HRV, start, end), nil
}

func (f *FakeVitalsSource) FetchRespiratoryRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return filterSamples(f.History.RespRate, start, end), nil
}

func (f *FakeVitalsSource) FetchSleepStageIntervals(ctx context.Context, start, end time.Time) ([]stage.Interval, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	var out []stage.Interval
	for _, iv := range f.History.Intervals {
		if iv.End.After(start) && iv.Start.Before(end) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func filterSamples(samples []stage.Sample, start, end time.Time) []stage.Sample {
	var out []stage.Sample
	for _, s := range samples {
		if !s.Time.Before(start) && s.Time.Before(end) {
			out = append(out, s)
		}
	}
	return out
}

// InMemoryModelRepository stores models in a map
type InMemoryModelRepository struct {
	mu      sync.RWMutex
	models  map[core.UserID]*model.LearnedModel
	SaveErr error
}

var _ ports.ModelRepository = (*InMemoryModelRepository)(nil)

// NewInMemoryModelRepository creates an empty repository
func NewInMemoryModelRepository() *InMemoryModelRepository {
	return &InMemoryModelRepository{models: make(map[core.UserID]*model.LearnedModel)}
}

func (r *InMemoryModelRepository) Load(ctx context.Context, userID core.UserID) (*model.LearnedModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[userID]
	if !ok {
		return nil, errors.NotFound("model for " + userID.String())
	}
	return m, nil
}

func (r *InMemoryModelRepository) Save(ctx context.Context, m *model.LearnedModel) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.UserID] = m
	return nil
}

func (r *InMemoryModelRepository) Clear(ctx context.Context, userID core.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, userID)
	return nil
}

// RecordingPublisher collects published stage events
type RecordingPublisher struct {
	mu     sync.Mutex
	events []ports.StageEvent
}

var _ ports.StageEventPublisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) Publish(ctx context.Context, event ports.StageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (p *RecordingPublisher) Events() []ports.StageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ports.StageEvent, len(p.events))
	copy(out, p.events)
	return out
}

// StaticAudioSource always returns the same analysis
type StaticAudioSource struct {
	Analysis *ports.BreathingAnalysis
}

func (s StaticAudioSource) CurrentBreathingAnalysis() *ports.BreathingAnalysis {
	return s.Analysis
}

// InMemoryRunRepository keeps training runs in insertion order
type InMemoryRunRepository struct {
	mu   sync.Mutex
	runs []ports.TrainingRun
}

var _ ports.TrainingRunRepository = (*InMemoryRunRepository)(nil)

func (r *InMemoryRunRepository) Record(ctx context.Context, run ports.TrainingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *InMemoryRunRepository) List(ctx context.Context, userID core.UserID, limit int) ([]ports.TrainingRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.TrainingRun
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.runs[i].UserID == userID {
			out = append(out, r.runs[i])
		}
	}
	return out, nil
}
