package app

import (
	"context"
	"sync"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/classifier"
	"sleepstage/internal/errors"
	"sleepstage/internal/fusion"
	"sleepstage/internal/smoother"
	"sleepstage/ports"
)

// ModelProvider returns the user's current model, or nil when there is none.
type ModelProvider interface {
	LoadModel(ctx context.Context, userID core.UserID) (*model.LearnedModel, error)
}

// TrackingConfig controls live sessions.
type TrackingConfig struct {
	Classifier  classifier.Config
	Smoother    smoother.Config
	UseSmoother bool
}

// DefaultTrackingConfig enables the smoother with default constants.
func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		Classifier:  classifier.DefaultConfig(),
		Smoother:    smoother.DefaultConfig(),
		UseSmoother: true,
	}
}

// TickResult is what a caller gets back for one tick.
type TickResult struct {
	SessionID  core.SessionID     `json:"sessionId"`
	Stage      stage.Stage        `json:"stage"`
	Stage4     stage.Stage4       `json:"stage4"`
	Confidence float64            `json:"confidence"`
	Raw        classifier.Result  `json:"raw"`
	Smoothed   *smoother.Estimate `json:"smoothed,omitempty"`
	Fused      *fusion.Result     `json:"fused,omitempty"`
	Events     []ports.StageEvent `json:"events,omitempty"`
}

// SessionStatus summarises a running session.
type SessionStatus struct {
	SessionID core.SessionID `json:"sessionId"`
	UserID    core.UserID    `json:"userId"`
	StartedAt time.Time      `json:"startedAt"`
	Stage     stage.Stage    `json:"stage"`
	Ticks     int            `json:"ticks"`
	HasModel  bool           `json:"hasModel"`
}

type trackedSession struct {
	mu         sync.Mutex
	id         core.SessionID
	userID     core.UserID
	startedAt  time.Time
	model      *model.LearnedModel
	classifier *classifier.Session
	smoother   *smoother.Smoother
	reported   stage.Stage
	ticks      int
}

// TrackingService owns the live classification sessions, one per user.
// Ticks for one user are serialised; different users run independently.
type TrackingService struct {
	cfg        TrackingConfig
	models     ModelProvider
	audio      func(core.UserID) ports.AudioSource
	publishers []ports.StageEventPublisher
	now        func() time.Time
	logger     *internal.Logger

	mu       sync.Mutex
	sessions map[core.UserID]*trackedSession
}

// TrackingOption configures a TrackingService.
type TrackingOption func(*TrackingService)

// WithAudioSource enables breathing fusion with one source for every user.
func WithAudioSource(a ports.AudioSource) TrackingOption {
	return func(s *TrackingService) {
		s.audio = func(core.UserID) ports.AudioSource { return a }
	}
}

// WithUserAudio enables breathing fusion with a per-user source lookup.
func WithUserAudio(lookup func(core.UserID) ports.AudioSource) TrackingOption {
	return func(s *TrackingService) { s.audio = lookup }
}

// WithPublisher adds a stage event publisher.
func WithPublisher(p ports.StageEventPublisher) TrackingOption {
	return func(s *TrackingService) { s.publishers = append(s.publishers, p) }
}

// WithTrackingClock overrides the tick clock.
func WithTrackingClock(now func() time.Time) TrackingOption {
	return func(s *TrackingService) { s.now = now }
}

// WithTrackingLogger sets the service logger.
func WithTrackingLogger(l *internal.Logger) TrackingOption {
	return func(s *TrackingService) { s.logger = l }
}

// NewTrackingService creates a tracking service. models may be nil, in which
// case sessions always run without a learned model.
func NewTrackingService(cfg TrackingConfig, models ModelProvider, opts ...TrackingOption) *TrackingService {
	s := &TrackingService{
		cfg:      cfg,
		models:   models,
		now:      time.Now,
		logger:   internal.NewNopLogger(),
		sessions: make(map[core.UserID]*trackedSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession begins a new session for userID, replacing any running one.
// The user's model is used only if it is usable.
func (s *TrackingService) StartSession(ctx context.Context, userID core.UserID) (core.SessionID, error) {
	if userID.String() == "" {
		return "", errors.InvalidInput("user id is required")
	}
	var m *model.LearnedModel
	if s.models != nil {
		loaded, err := s.models.LoadModel(ctx, userID)
		if err != nil {
			s.logger.Warn("[Tracking] loading model for %s: %v; continuing without one", userID, err)
		} else if loaded.IsUsable() {
			m = loaded
		} else if loaded != nil {
			s.logger.Info("[Tracking] model for %s is not usable; using priors", userID)
		}
	}

	now := s.now()
	transitions := model.PriorTransitionMatrix()
	if m != nil {
		transitions = m.Transitions
	}
	ts := &trackedSession{
		id:         core.NewSessionID(),
		userID:     userID,
		startedAt:  now,
		model:      m,
		classifier: classifier.NewSession(m, s.cfg.Classifier, classifier.WithLogger(s.logger)),
		reported:   stage.Awake,
	}
	ts.classifier.Start(now)
	if s.cfg.UseSmoother {
		ts.smoother = smoother.New(transitions, s.cfg.Smoother)
		ts.smoother.Reset(now)
	}

	s.mu.Lock()
	s.sessions[userID] = ts
	s.mu.Unlock()

	s.logger.Info("[Tracking] session %s started for %s (model=%t, smoother=%t)", ts.id, userID, m != nil, s.cfg.UseSmoother)
	return ts.id, nil
}

// StopSession ends the running session for userID.
func (s *TrackingService) StopSession(userID core.UserID) error {
	s.mu.Lock()
	ts, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return errors.SessionNotStarted(userID.String())
	}

	ts.mu.Lock()
	ts.classifier.Stop()
	ticks := ts.ticks
	ts.mu.Unlock()
	s.logger.Info("[Tracking] session %s for %s stopped after %d ticks", ts.id, userID, ticks)
	return nil
}

// Status reports on the running session for userID.
func (s *TrackingService) Status(userID core.UserID) (SessionStatus, error) {
	ts, err := s.session(userID)
	if err != nil {
		return SessionStatus{}, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return SessionStatus{
		SessionID: ts.id,
		UserID:    ts.userID,
		StartedAt: ts.startedAt,
		Stage:     ts.reported,
		Ticks:     ts.ticks,
		HasModel:  ts.model != nil,
	}, nil
}

// ClassifyTick classifies one polling tick for userID. The only error is a
// missing session; classification itself always produces a result.
func (s *TrackingService) ClassifyTick(ctx context.Context, userID core.UserID, in classifier.Input) (*TickResult, error) {
	ts, err := s.session(userID)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := s.now()
	raw := ts.classifier.ClassifyTick(in, now)
	ts.ticks++

	out := &TickResult{
		SessionID:  ts.id,
		Stage:      raw.Stage,
		Confidence: raw.Confidence,
		Raw:        raw,
	}
	if ts.smoother != nil {
		est := ts.smoother.Update(raw.Probabilities, now)
		out.Smoothed = &est
		out.Stage = est.Stage
		out.Confidence = est.Confidence
	}
	out.Stage4 = stage.To4Class(out.Stage)

	if audio := s.audioFor(ts.userID); audio != nil {
		var vitals *fusion.Source
		if raw.DataSource == classifier.SourceVitals || raw.DataSource == classifier.SourceVitalsDegraded {
			vitals = fusion.VitalsSource(raw.Probabilities, raw.Confidence)
		}
		fused := fusion.Fuse(fusion.Inputs{
			Audio:      audio.CurrentBreathingAnalysis(),
			Vitals:     vitals,
			History:    ts.model,
			SinceStart: now.Sub(ts.startedAt),
		})
		out.Fused = &fused
	}

	if out.Stage != ts.reported {
		out.Events = stageEvents(ts, out.Stage, out.Confidence, now)
		ts.reported = out.Stage
		s.publish(ctx, out.Events)
	}
	return out, nil
}

func (s *TrackingService) audioFor(userID core.UserID) ports.AudioSource {
	if s.audio == nil {
		return nil
	}
	return s.audio(userID)
}

func (s *TrackingService) session(userID core.UserID) (*trackedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.sessions[userID]
	if !ok {
		return nil, errors.SessionNotStarted(userID.String())
	}
	return ts, nil
}

func stageEvents(ts *trackedSession, to stage.Stage, confidence float64, at time.Time) []ports.StageEvent {
	base := ports.StageEvent{
		UserID:     ts.userID,
		SessionID:  ts.id,
		From:       ts.reported,
		To:         to,
		Confidence: confidence,
		At:         at,
	}
	changed := base
	changed.Kind = ports.EventStageChanged
	events := []ports.StageEvent{changed}

	if ts.reported == stage.REM {
		ended := base
		ended.Kind = ports.EventREMEnded
		events = append(events, ended)
	}
	if to == stage.REM {
		started := base
		started.Kind = ports.EventREMStarted
		events = append(events, started)
	}
	return events
}

func (s *TrackingService) publish(ctx context.Context, events []ports.StageEvent) {
	for _, p := range s.publishers {
		for _, e := range events {
			if err := p.Publish(ctx, e); err != nil {
				s.logger.Warn("[Tracking] publishing %s for %s: %v", e.Kind, e.UserID, err)
			}
		}
	}
}
