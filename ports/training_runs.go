package ports

import (
	"context"
	"time"

	"sleepstage/domain/core"
)

// TrainingRun is the persisted summary of one training run.
type TrainingRun struct {
	ID             core.RunID    `json:"id"`
	UserID         core.UserID   `json:"userId"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	NightsUsed     int           `json:"nightsUsed"`
	Accuracy       *float64      `json:"accuracy"`
	RemSensitivity float64       `json:"remSensitivity"`
	Saved          bool          `json:"saved"`
	Warnings       []string      `json:"warnings"`
	Errors         []string      `json:"errors"`
}

// TrainingRunRepository keeps a history of training runs per user.
type TrainingRunRepository interface {
	Record(ctx context.Context, run TrainingRun) error
	List(ctx context.Context, userID core.UserID, limit int) ([]TrainingRun, error)
}
