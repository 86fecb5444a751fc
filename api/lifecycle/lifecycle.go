// Package lifecycle owns the server state machine. It coordinates the
// ledger, the node selector and the daemon client, persists every committed
// transition and publishes it as an event.
//
//	(none)          --create-->            installing | install_failed
//	installing      --install callback-->  offline | install_failed
//	install_failed  --install callback-->  offline | install_failed
//	install_failed  --retry-->             installing
//	offline         --reinstall-->         installing
//	offline         --restore backup-->    restoring_backup --callback--> offline
//
// Suspension is an overlay toggled at any status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/ledger"
	"hearth/api/metrics"
	"hearth/api/model"
	"hearth/api/placement"
	"hearth/api/storage"
	"hearth/api/store"
)

// Daemon is the subset of the daemon client the orchestrator drives.
type Daemon interface {
	CreateServer(ctx context.Context, node *model.Node, cfg *daemon.ServerConfiguration, startOnCompletion bool) error
	SyncServer(ctx context.Context, node *model.Node, cfg *daemon.ServerConfiguration) error
	Install(ctx context.Context, node *model.Node, uuid string) error
	Reinstall(ctx context.Context, node *model.Node, uuid string) error
	DeleteServer(ctx context.Context, node *model.Node, uuid string) error
	Power(ctx context.Context, node *model.Node, uuid, action string) error
	SendCommands(ctx context.Context, node *model.Node, uuid string, commands ...string) error
	CreateBackup(ctx context.Context, node *model.Node, serverUUID string, b *model.Backup) error
	DeleteBackup(ctx context.Context, node *model.Node, serverUUID, backupUUID string) error
	RestoreBackup(ctx context.Context, node *model.Node, serverUUID string, b *model.Backup, truncate bool, downloadURL string) error
}

// Objects is the object storage holding s3 backups.
type Objects interface {
	BeginUpload(ctx context.Context, key string, size int64) (*storage.Upload, error)
	CompleteUpload(ctx context.Context, key, uploadID string, parts []storage.Part) error
	AbortUpload(ctx context.Context, key, uploadID string) error
	PresignDownload(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

type Orchestrator struct {
	store    *store.Store
	ledger   *ledger.Ledger
	selector *placement.Selector
	locks    *placement.NodeLocks
	daemon   Daemon
	events   events.Publisher

	// Objects is nil when no object storage is configured; backups then
	// stay on the node.
	Objects Objects
	// PickPort chooses the primary port for a new server. Defaults to a
	// uniformly random free port.
	PickPort func(free []int) int
	Now      func() time.Time
}

func New(s *store.Store, d Daemon, locks *placement.NodeLocks, pub events.Publisher) *Orchestrator {
	if locks == nil {
		locks = placement.NewNodeLocks()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Orchestrator{
		store:    s,
		ledger:   ledger.New(s),
		selector: placement.NewSelector(s),
		locks:    locks,
		daemon:   d,
		events:   pub,
		PickPort: RandomPort,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// RandomPort picks any port from free. free must not be empty.
func RandomPort(free []int) int {
	return free[rand.IntN(len(free))]
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	if evt.At.IsZero() {
		evt.At = o.Now()
	}
	metrics.LifecycleTransitions.WithLabelValues(evt.Type).Inc()
	o.events.Publish(ctx, evt)
}

func (o *Orchestrator) server(ctx context.Context, id string) (*model.Server, error) {
	srv, err := o.store.Servers.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", id, err)
	}
	return srv, nil
}

func (o *Orchestrator) node(ctx context.Context, id string) (*model.Node, error) {
	node, err := o.store.Nodes.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return node, nil
}

// egg returns nil when the egg no longer exists.
func (o *Orchestrator) egg(ctx context.Context, id string) (*model.Egg, error) {
	egg, err := o.store.Eggs.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("egg %s: %w", id, err)
	}
	return egg, nil
}

// Configuration renders srv's desired-state document.
func (o *Orchestrator) Configuration(ctx context.Context, srv *model.Server) (*daemon.ServerConfiguration, error) {
	egg, err := o.egg(ctx, srv.EggID)
	if err != nil {
		return nil, err
	}
	return daemon.Configuration(srv, egg), nil
}

// Sync pushes srv's desired state to its node. Callers persist srv only
// after Sync succeeds so a failed push leaves the stored record untouched.
func (o *Orchestrator) Sync(ctx context.Context, srv *model.Server) error {
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return err
	}
	cfg, err := o.Configuration(ctx, srv)
	if err != nil {
		return err
	}
	if err := o.daemon.SyncServer(ctx, node, cfg); err != nil {
		return fmt.Errorf("sync %s: %w", srv.ID, err)
	}
	return nil
}

// syncAndSave pushes next and, only on success, persists it.
func (o *Orchestrator) syncAndSave(ctx context.Context, next *model.Server) error {
	if err := o.Sync(ctx, next); err != nil {
		return err
	}
	next.UpdatedAt = o.Now()
	if err := o.store.Servers.Update(ctx, next); err != nil {
		return fmt.Errorf("save server %s: %w", next.ID, err)
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, srv *model.Server) error {
	srv.UpdatedAt = o.Now()
	if err := o.store.Servers.Update(ctx, srv); err != nil {
		return fmt.Errorf("save server %s: %w", srv.ID, err)
	}
	return nil
}

// requireControllable rejects actions against a server that is suspended or
// whose files the daemon is still changing.
func requireControllable(srv *model.Server, action string) error {
	if srv.Suspended {
		return &model.StateConflict{Status: srv.Status, Suspended: true, Action: action}
	}
	if srv.Status != model.StatusOffline {
		return &model.StateConflict{Status: srv.Status, Action: action}
	}
	return nil
}

// Power forwards a power action for actor.
func (o *Orchestrator) Power(ctx context.Context, actor model.Actor, serverID, action string) error {
	if !daemon.ValidPowerAction(action) {
		return &model.ValidationError{Field: "action", Reason: "must be one of start, stop, restart, kill"}
	}
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return err
	}
	if !srv.Permits(actor, model.PowerPermission(action)) {
		return &model.PermissionDenied{Permission: model.PowerPermission(action)}
	}
	if err := requireControllable(srv, action); err != nil {
		return err
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return err
	}
	if err := o.daemon.Power(ctx, node, srv.ID, action); err != nil {
		return fmt.Errorf("power %s %s: %w", action, srv.ID, err)
	}
	o.publish(ctx, events.Event{
		Type: events.ServerPower, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"action": action},
	})
	return nil
}

// SendCommand types command into the server console for actor.
func (o *Orchestrator) SendCommand(ctx context.Context, actor model.Actor, serverID, command string) error {
	if command == "" {
		return &model.ValidationError{Field: "command", Reason: "required"}
	}
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return err
	}
	if !srv.Permits(actor, model.PermConsole) {
		return &model.PermissionDenied{Permission: model.PermConsole}
	}
	if err := requireControllable(srv, "send command"); err != nil {
		return err
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return err
	}
	if err := o.daemon.SendCommands(ctx, node, srv.ID, command); err != nil {
		return fmt.Errorf("command %s: %w", srv.ID, err)
	}
	o.publish(ctx, events.Event{
		Type: events.ServerCommand, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"command": command},
	})
	return nil
}

func logf(format string, args ...any) {
	log.Printf("lifecycle: "+format, args...)
}
