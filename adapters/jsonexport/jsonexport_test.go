package jsonexport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
)

const sampleExport = `{
  "hrSamples": [
    {"time": "2024-06-01T23:10:00Z", "bpm": 58},
    {"time": "2024-06-01T23:05:00Z", "bpm": 61.5},
    {"time": "not a time", "bpm": 70},
    {"time": "2024-06-01T23:15:00Z"}
  ],
  "hrvSamples": [{"time": "2024-06-01T23:06:00Z", "ms": 42}],
  "respiratorySamples": [{"time": "2024-06-01T23:07:00Z", "value": 14}],
  "sleepStages": [
    {"startTime": "2024-06-01T23:20:00Z", "endTime": "2024-06-01T23:50:00Z", "stage": "deep"},
    {"startTime": "2024-06-01T23:00:00Z", "endTime": "2024-06-01T23:20:00Z", "stage": "awake"},
    {"startTime": "2024-06-01T23:50:00Z", "endTime": "2024-06-02T00:10:00Z", "stage": "asleep"},
    {"startTime": "2024-06-02T00:10:00Z", "endTime": "2024-06-02T00:10:00Z", "stage": "rem"}
  ]
}`

func TestParse(t *testing.T) {
	e, err := Parse([]byte(sampleExport))
	require.NoError(t, err)

	require.Len(t, e.HeartRate, 2)
	assert.Equal(t, 61.5, e.HeartRate[0].Value, "samples are sorted")
	assert.Equal(t, 58.0, e.HeartRate[1].Value)
	require.Len(t, e.HRV, 1)
	assert.Equal(t, 42.0, e.HRV[0].Value)
	require.Len(t, e.Respiratory, 1)

	require.Len(t, e.Stages, 3, "empty intervals are dropped")
	assert.Equal(t, stage.Stage4Awake, e.Stages[0].Stage)
	assert.Equal(t, stage.Stage4Deep, e.Stages[1].Stage)
	assert.Equal(t, stage.Stage4Unknown, e.Stages[2].Stage, "unrecognised labels are kept as unknown")
}

func TestParseRejectsBadDocuments(t *testing.T) {
	_, err := Parse([]byte(`{"hrSamples": [`))
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))

	_, err = Parse([]byte(`{"other": []}`))
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleExport), 0o600))
	src := NewFileSource(path, nil)
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 23, 6, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)

	hr, err := src.FetchHeartRateSamples(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, 58.0, hr[0].Value)

	hrv, err := src.FetchHRVSamples(ctx, start, end)
	require.NoError(t, err)
	assert.Len(t, hrv, 1, "start is inclusive")

	intervals, err := src.FetchSleepStageIntervals(ctx, start, end)
	require.NoError(t, err)
	assert.Len(t, intervals, 2, "overlapping intervals are included")
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.json"), nil)
	_, err := src.FetchHeartRateSamples(context.Background(), time.Time{}, time.Now())
	assert.True(t, errors.Is(err, errors.CodeExternalService))
}
