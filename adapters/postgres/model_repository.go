package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/internal"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// ModelRepository persists one model per user as a JSON payload.
type ModelRepository struct {
	db     *sqlx.DB
	logger *internal.Logger
}

var _ ports.ModelRepository = (*ModelRepository)(nil)

// NewModelRepository creates a model repository
func NewModelRepository(db *sqlx.DB, logger *internal.Logger) *ModelRepository {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ModelRepository{db: db, logger: logger}
}

type modelRow struct {
	UserID         string    `db:"user_id"`
	ModelID        string    `db:"model_id"`
	Payload        string    `db:"payload"`
	NightsAnalyzed int       `db:"nights_analyzed"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Load returns the user's model or a NotFound error.
func (r *ModelRepository) Load(ctx context.Context, userID core.UserID) (*model.LearnedModel, error) {
	var row modelRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT user_id, model_id, payload, nights_analyzed, updated_at
		FROM learned_models
		WHERE user_id = ?
	`), userID.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("model for user " + userID.String())
	}
	if err != nil {
		return nil, errors.DatabaseError("loading model", err)
	}

	var m model.LearnedModel
	if err := json.Unmarshal([]byte(row.Payload), &m); err != nil {
		return nil, errors.DatabaseError("decoding model payload", err)
	}
	return &m, nil
}

// Save upserts the user's model.
func (r *ModelRepository) Save(ctx context.Context, m *model.LearnedModel) error {
	if m == nil || m.UserID.String() == "" {
		return errors.InvalidInput("model must carry a user id")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.InternalError("encoding model: " + err.Error())
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO learned_models (user_id, model_id, payload, nights_analyzed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			model_id = excluded.model_id,
			payload = excluded.payload,
			nights_analyzed = excluded.nights_analyzed,
			updated_at = excluded.updated_at
	`), m.UserID.String(), m.ID.String(), string(payload), m.NightsAnalyzed, m.LastUpdated.UTC())
	if err != nil {
		return errors.DatabaseError("saving model", err)
	}
	r.logger.Debug("[ModelRepository] saved model %s for %s (%d bytes)", m.ID, m.UserID, len(payload))
	return nil
}

// Clear deletes the user's model. Clearing a missing model is not an error.
func (r *ModelRepository) Clear(ctx context.Context, userID core.UserID) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM learned_models WHERE user_id = ?`), userID.String())
	if err != nil {
		return errors.DatabaseError("clearing model", err)
	}
	return nil
}
