package healthapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/stage"
	"sleepstage/internal/config"
	"sleepstage/internal/errors"
)

var (
	rangeStart = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.HealthAPIConfig{BaseURL: srv.URL, Token: "secret", Timeout: 2 * time.Second}, nil)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(time.Millisecond)
	return c
}

func TestFetchHeartRateSamples(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/samples/heart_rate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-06-01T20:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-06-02T10:00:00Z", r.URL.Query().Get("end"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"time": "2024-06-01T23:01:00Z", "value": 57},
			{"time": "2024-06-01T23:00:00Z", "value": 59.5}
		]}`))
	})

	samples, err := c.FetchHeartRateSamples(context.Background(), rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 59.5, samples[0].Value)
}

func TestFetchSleepStageIntervals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sleep/stages", r.URL.Path)
		w.Write([]byte(`{"data": [
			{"startTime": "2024-06-01T23:00:00Z", "endTime": "2024-06-01T23:30:00Z", "stage": "light"},
			{"startTime": "2024-06-01T23:30:00Z", "endTime": "2024-06-01T23:45:00Z", "stage": "rem"}
		]}`))
	})

	intervals, err := c.FetchSleepStageIntervals(context.Background(), rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.Equal(t, stage.Stage4Light, intervals[0].Stage)
	assert.Equal(t, 15*time.Minute, intervals[1].Duration())
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"client error", http.StatusUnauthorized, `{"error": "bad token"}`},
		{"missing data", http.StatusOK, `{"items": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchHRVSamples(context.Background(), rangeStart, rangeEnd)
			assert.True(t, errors.Is(err, errors.CodeExternalService))
			assert.Contains(t, err.Error(), "fetching hrv samples")
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data": [{"time": "2024-06-01T23:00:00Z", "value": 14}]}`))
	})

	samples, err := c.FetchRespiratoryRateSamples(context.Background(), rangeStart, rangeEnd)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
