package events

import (
	"context"

	"hearth/api/hub"
)

// HubPublisher forwards events to websocket subscribers.
type HubPublisher struct {
	Hub *hub.Hub
}

func (p *HubPublisher) Publish(_ context.Context, evt Event) {
	p.Hub.Broadcast(hub.Event{
		Type:     evt.Type,
		ServerID: evt.ServerID,
		NodeID:   evt.NodeID,
		Payload:  evt,
	})
}
