package api

import (
	"context"

	"sleepstage/ports"
)

// SSEEventPublisher adapts the SSEHub to ports.StageEventPublisher
type SSEEventPublisher struct {
	hub *SSEHub
}

var _ ports.StageEventPublisher = (*SSEEventPublisher)(nil)

// NewSSEEventPublisher creates a publisher over hub
func NewSSEEventPublisher(hub *SSEHub) *SSEEventPublisher {
	return &SSEEventPublisher{hub: hub}
}

// Publish queues the event for streaming. Delivery is best effort.
func (p *SSEEventPublisher) Publish(ctx context.Context, event ports.StageEvent) error {
	p.hub.Broadcast(event)
	return nil
}
