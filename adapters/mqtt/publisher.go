package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"sleepstage/domain/core"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// EventPublisher publishes stage events to <prefix>/<user>/events.
type EventPublisher struct {
	broker Broker
	prefix string
	qos    byte
}

var _ ports.StageEventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher. Events go out at QoS 1 so that REM
// boundaries are not silently dropped.
func NewEventPublisher(broker Broker, prefix string) *EventPublisher {
	return &EventPublisher{broker: broker, prefix: prefix, qos: 1}
}

// EventTopic returns the topic for a user's stage events.
func EventTopic(prefix string, userID core.UserID) string {
	return fmt.Sprintf("%s/%s/events", prefix, userID)
}

func (p *EventPublisher) Publish(ctx context.Context, event ports.StageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("encoding stage event: " + err.Error())
	}
	return p.broker.Publish(EventTopic(p.prefix, event.UserID), p.qos, false, payload)
}
