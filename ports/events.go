package ports

import (
	"context"
	"time"

	"sleepstage/domain/core"
	"sleepstage/domain/stage"
)

// EventKind names a live stage event.
type EventKind string

const (
	EventStageChanged EventKind = "stage_changed"
	EventREMStarted   EventKind = "rem_started"
	EventREMEnded     EventKind = "rem_ended"
)

// StageEvent is emitted by the tracking service when the reported stage changes.
type StageEvent struct {
	Kind       EventKind      `json:"kind"`
	UserID     core.UserID    `json:"userId"`
	SessionID  core.SessionID `json:"sessionId"`
	From       stage.Stage    `json:"from"`
	To         stage.Stage    `json:"to"`
	Confidence float64        `json:"confidence"`
	At         time.Time      `json:"at"`
}

// StageEventPublisher receives stage events. Publish is called synchronously
// from the tick path and should not block for long.
type StageEventPublisher interface {
	Publish(ctx context.Context, event StageEvent) error
}
