package migration

import (
	"context"

	"sleepstage/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the model store schema. Every statement is valid
// on both PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createLearnedModelsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create learned_models table")
	}

	if err := r.createTrainingRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create training_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createLearnedModelsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS learned_models (
			user_id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			nights_analyzed INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createTrainingRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			nights_used INTEGER NOT NULL DEFAULT 0,
			accuracy DOUBLE PRECISION,
			rem_sensitivity DOUBLE PRECISION NOT NULL DEFAULT 0,
			saved BOOLEAN NOT NULL DEFAULT FALSE,
			warnings TEXT NOT NULL DEFAULT '[]',
			errors TEXT NOT NULL DEFAULT '[]'
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_training_runs_user_started ON training_runs (user_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_learned_models_updated ON learned_models (updated_at)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
