// Package events carries committed lifecycle transitions to subscribers
// outside the orchestrator: the websocket hub, NATS and the activity log.
package events

import (
	"context"
	"time"
)

const (
	ServerCreated       = "server.created"
	ServerInstalled     = "server.installed"
	ServerInstallFailed = "server.install_failed"
	ServerReinstalling  = "server.reinstalling"
	ServerSuspended     = "server.suspended"
	ServerUnsuspended   = "server.unsuspended"
	ServerDeleted       = "server.deleted"
	ServerEggChanged    = "server.egg_changed"
	ServerBuildUpdated  = "server.build_updated"
	ServerPower         = "server.power"
	ServerCommand       = "server.command"
	AllocationAdded     = "allocation.added"
	AllocationPrimary   = "allocation.primary"
	AllocationRemoved   = "allocation.removed"
	BackupStarted       = "backup.started"
	BackupCompleted     = "backup.completed"
	BackupFailed        = "backup.failed"
	BackupDeleted       = "backup.deleted"
	BackupRestoring     = "backup.restoring"
	BackupRestored      = "backup.restored"
	NodeReset           = "node.reset"
	NodeHealth          = "node.health"
)

type Event struct {
	Type     string            `json:"type"`
	ServerID string            `json:"serverId,omitempty"`
	NodeID   string            `json:"nodeId,omitempty"`
	ActorID  string            `json:"actorId,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Publisher receives events after the transition they describe has been
// persisted. Publishers must not block the caller for long and never fail
// the transition; errors are theirs to log.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, evt)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
