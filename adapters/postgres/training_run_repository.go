package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"sleepstage/domain/core"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// TrainingRunRepository records training run summaries.
type TrainingRunRepository struct {
	db *sqlx.DB
}

var _ ports.TrainingRunRepository = (*TrainingRunRepository)(nil)

// NewTrainingRunRepository creates a training run repository
func NewTrainingRunRepository(db *sqlx.DB) *TrainingRunRepository {
	return &TrainingRunRepository{db: db}
}

type runRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	StartedAt      time.Time       `db:"started_at"`
	DurationMs     int64           `db:"duration_ms"`
	NightsUsed     int             `db:"nights_used"`
	Accuracy       sql.NullFloat64 `db:"accuracy"`
	RemSensitivity float64         `db:"rem_sensitivity"`
	Saved          bool            `db:"saved"`
	Warnings       string          `db:"warnings"`
	Errors         string          `db:"errors"`
}

// Record inserts one run.
func (r *TrainingRunRepository) Record(ctx context.Context, run ports.TrainingRun) error {
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return errors.InternalError("encoding warnings: " + err.Error())
	}
	errs, err := json.Marshal(nonNil(run.Errors))
	if err != nil {
		return errors.InternalError("encoding errors: " + err.Error())
	}
	var accuracy sql.NullFloat64
	if run.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *run.Accuracy, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO training_runs (id, user_id, started_at, duration_ms, nights_used, accuracy, rem_sensitivity, saved, warnings, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID.String(), run.UserID.String(), run.StartedAt.UTC(), run.Duration.Milliseconds(), run.NightsUsed,
		accuracy, run.RemSensitivity, run.Saved, string(warnings), string(errs))
	if err != nil {
		return errors.DatabaseError("recording training run", err)
	}
	return nil
}

// List returns the user's most recent runs, newest first.
func (r *TrainingRunRepository) List(ctx context.Context, userID core.UserID, limit int) ([]ports.TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, user_id, started_at, duration_ms, nights_used, accuracy, rem_sensitivity, saved, warnings, errors
		FROM training_runs
		WHERE user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`), userID.String(), limit)
	if err != nil {
		return nil, errors.DatabaseError("listing training runs", err)
	}

	runs := make([]ports.TrainingRun, 0, len(rows))
	for _, row := range rows {
		run := ports.TrainingRun{
			ID:             core.RunID(row.ID),
			UserID:         core.UserID(row.UserID),
			StartedAt:      row.StartedAt,
			Duration:       time.Duration(row.DurationMs) * time.Millisecond,
			NightsUsed:     row.NightsUsed,
			RemSensitivity: row.RemSensitivity,
			Saved:          row.Saved,
		}
		if row.Accuracy.Valid {
			acc := row.Accuracy.Float64
			run.Accuracy = &acc
		}
		if err := json.Unmarshal([]byte(row.Warnings), &run.Warnings); err != nil {
			return nil, errors.DatabaseError("decoding warnings", err)
		}
		if err := json.Unmarshal([]byte(row.Errors), &run.Errors); err != nil {
			return nil, errors.DatabaseError("decoding errors", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
