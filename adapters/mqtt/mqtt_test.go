package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/stage"
	"sleepstage/ports"
)

func TestEventPublisherTopicAndPayload(t *testing.T) {
	broker := newFakeBroker()
	pub := NewEventPublisher(broker, "sleepstage")

	at := time.Date(2024, 6, 2, 3, 10, 0, 0, time.UTC)
	event := ports.StageEvent{
		Kind: ports.EventREMStarted, UserID: "u1", SessionID: "s1",
		From: stage.NREM, To: stage.REM, Confidence: 0.7, At: at,
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, broker.published, 1)
	msg := broker.published[0]
	assert.Equal(t, "sleepstage/u1/events", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got ports.StageEvent
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, event.Kind, got.Kind)
	assert.Equal(t, stage.REM, got.To)
	assert.True(t, at.Equal(got.At))
}

func TestEventPublisherPropagatesErrors(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = fmt.Errorf("not connected")
	pub := NewEventPublisher(broker, "sleepstage")
	assert.Error(t, pub.Publish(context.Background(), ports.StageEvent{UserID: "u1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	broker.publishErr = nil
	assert.ErrorIs(t, pub.Publish(ctx, ports.StageEvent{UserID: "u1"}), context.Canceled)
	assert.Empty(t, broker.published)
}

func TestBreathingFeed(t *testing.T) {
	const pattern = "sleepstage/+/breathing"
	now := time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC)
	broker := newFakeBroker()
	feed := NewBreathingFeed(pattern, nil)
	feed.now = func() time.Time { return now }
	require.NoError(t, feed.Subscribe(broker))

	src := feed.Source("u1")
	assert.Nil(t, src.CurrentBreathingAnalysis())

	payload, _ := json.Marshal(ports.BreathingAnalysis{
		IsBreathingDetected: true, Regularity: 0.9, BreathsPerMinute: 13, Timestamp: now.Add(-5 * time.Second),
	})
	broker.deliver(pattern, "sleepstage/u1/breathing", payload)
	broker.deliver(pattern, "sleepstage/u2/other", payload)
	broker.deliver(pattern, "sleepstage/u3/breathing", []byte("nope"))

	got := src.CurrentBreathingAnalysis()
	require.NotNil(t, got)
	assert.Equal(t, 13.0, got.BreathsPerMinute)
	assert.Nil(t, feed.Source("u2").CurrentBreathingAnalysis())
	assert.Nil(t, feed.Source("u3").CurrentBreathingAnalysis())

	now = now.Add(DefaultBreathingMaxAge)
	assert.Nil(t, src.CurrentBreathingAnalysis(), "stale analysis is dropped")
}

func TestUserFromTopic(t *testing.T) {
	feed := NewBreathingFeed("home/+/audio/breathing", nil)
	tests := []struct {
		topic string
		user  string
		ok    bool
	}{
		{"home/alice/audio/breathing", "alice", true},
		{"home//audio/breathing", "", false},
		{"home/alice/audio", "", false},
		{"office/alice/audio/breathing", "", false},
	}
	for _, tt := range tests {
		user, ok := feed.userFromTopic(tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.user, user.String(), tt.topic)
	}
}
