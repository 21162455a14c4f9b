package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
	"sleepstage/internal/migration"
	"sleepstage/ports"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func sampleModel() *model.LearnedModel {
	m := model.Empty("u1")
	m.NightsAnalyzed = 7
	m.LastUpdated = time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)
	m.StageStats[stage.NREM] = &model.StageStatistics{MeanHR: 52, StdHR: 2, SampleCount: 300}
	m.AwakeParams.AwakePriorByTimeBin = map[int]float64{0: 0.5, 3: 0.1}
	return m.WithValidation(0.81, 0.7, 0.9, map[stage.Stage]float64{stage.REM: 0.7}, model.DefaultHyperparameters())
}

func TestModelRepositoryLoad(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewModelRepository(db, nil)
	want := sampleModel()
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"user_id", "model_id", "payload", "nights_analyzed", "updated_at"}).
		AddRow("u1", want.ID.String(), string(payload), 7, want.LastUpdated)
	mock.ExpectQuery(regexp.QuoteMeta("FROM learned_models")).
		WithArgs("u1").
		WillReturnRows(rows)

	got, err := repo.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, 7, got.NightsAnalyzed)
	require.NotNil(t, got.ValidationAccuracy)
	assert.Equal(t, 0.81, *got.ValidationAccuracy)
	assert.Equal(t, 52.0, got.Stats(stage.NREM).MeanHR)
	assert.Nil(t, got.Stats(stage.REM))
	assert.Equal(t, 0.1, got.AwakeParams.AwakePriorByTimeBin[3])
	assert.True(t, want.LastUpdated.Equal(got.LastUpdated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepositoryLoadNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewModelRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM learned_models")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "model_id", "payload", "nights_analyzed", "updated_at"}))

	_, err := repo.Load(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepositorySaveUpserts(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewModelRepository(db, nil)
	m := sampleModel()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO UPDATE")).
		WithArgs("u1", m.ID.String(), sqlmock.AnyArg(), int64(7), m.LastUpdated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepositorySaveWrapsDatabaseErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewModelRepository(db, nil)

	mock.ExpectExec("INSERT INTO learned_models").WillReturnError(fmt.Errorf("connection reset"))
	err := repo.Save(context.Background(), sampleModel())
	assert.True(t, errors.Is(err, errors.CodeDatabaseError))

	err = repo.Save(context.Background(), &model.LearnedModel{})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestModelRepositoryClear(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewModelRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM learned_models WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Clear(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite3", ":memory:")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.NewRunner().Run(context.Background(), db))
	return db
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := NewModelRepository(db, nil)

	first := sampleModel()
	require.NoError(t, repo.Save(ctx, first))

	second := sampleModel()
	second.NightsAnalyzed = 9
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 9, got.NightsAnalyzed)

	require.NoError(t, repo.Clear(ctx, "u1"))
	_, err = repo.Load(ctx, "u1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestTrainingRunRepository(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := NewTrainingRunRepository(db)

	acc := 0.8
	base := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record(ctx, ports.TrainingRun{
		ID: "r1", UserID: "u1", StartedAt: base, Duration: 1500 * time.Millisecond,
		NightsUsed: 7, Accuracy: &acc, RemSensitivity: 0.6, Saved: true, Warnings: []string{"few rem samples"},
	}))
	require.NoError(t, repo.Record(ctx, ports.TrainingRun{
		ID: "r2", UserID: "u1", StartedAt: base.Add(time.Hour), Errors: []string{"fetch failed"},
	}))

	runs, err := repo.List(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID.String())
	assert.Nil(t, runs[0].Accuracy)
	assert.Equal(t, []string{"fetch failed"}, runs[0].Errors)
	assert.Empty(t, runs[0].Warnings)

	require.NotNil(t, runs[1].Accuracy)
	assert.Equal(t, 0.8, *runs[1].Accuracy)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.True(t, runs[1].Saved)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.True(t, errors.Is(err, errors.CodeConfigInvalid))
}
