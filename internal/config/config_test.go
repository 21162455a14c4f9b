package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Database.URL)
	assert.Equal(t, 720, cfg.Training.HoursBack)
	assert.Equal(t, 30, cfg.Training.MaxNights)
	assert.Equal(t, 1, cfg.Classifier.AwakeConsecutiveTicks)
	assert.Equal(t, 2, cfg.Classifier.RemConsecutiveTicks)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/sleep")
	t.Setenv("CV_WORKERS", "8")
	t.Setenv("USE_RR_FEATURE", "true")
	t.Setenv("HEALTH_API_TIMEOUT", "5s")
	t.Setenv("REM_CONSECUTIVE_TICKS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Training.CVWorkers)
	assert.True(t, cfg.Classifier.UseRRFeature)
	assert.Equal(t, 5*time.Second, cfg.HealthAPI.Timeout)
	assert.Equal(t, 2, cfg.Classifier.RemConsecutiveTicks)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DATABASE_URL", "x")

	_, err := Load()
	assert.Error(t, err)
}
