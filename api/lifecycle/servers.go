package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/ledger"
	"hearth/api/model"
)

// InstallResult is the daemon's install callback.
type InstallResult struct {
	Successful bool   `json:"successful"`
	Reinstall  bool   `json:"reinstall"`
	Error      string `json:"error,omitempty"`
}

// CompleteInstall applies the daemon's install callback. Only installing and
// install_failed servers accept it.
func (o *Orchestrator) CompleteInstall(ctx context.Context, serverID string, res InstallResult) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Status != model.StatusInstalling && srv.Status != model.StatusInstallFailed {
		return nil, &model.StateConflict{Status: srv.Status, Action: "complete install"}
	}

	evt := events.Event{ServerID: srv.ID, NodeID: srv.NodeID}
	if res.Successful {
		srv.Status = model.StatusOffline
		srv.InstallError = ""
		evt.Type = events.ServerInstalled
	} else {
		srv.Status = model.StatusInstallFailed
		srv.InstallError = res.Error
		if srv.InstallError == "" {
			srv.InstallError = "installation script failed"
		}
		evt.Type = events.ServerInstallFailed
		evt.Message = srv.InstallError
	}
	if res.Reinstall {
		evt.Metadata = map[string]string{"reinstall": "true"}
	}
	if err := o.save(ctx, srv); err != nil {
		return nil, err
	}
	o.publish(ctx, evt)
	return srv, nil
}

// RetryInstall moves an install_failed server back to installing and
// re-issues the install. A daemon that never registered the server is
// sent a fresh create instead.
func (o *Orchestrator) RetryInstall(ctx context.Context, serverID string) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Status != model.StatusInstallFailed {
		return nil, &model.StateConflict{Status: srv.Status, Action: "retry install"}
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return nil, err
	}

	srv.Status = model.StatusInstalling
	srv.InstallError = ""
	if err := o.save(ctx, srv); err != nil {
		return nil, err
	}
	o.publish(ctx, events.Event{Type: events.ServerReinstalling, ServerID: srv.ID, NodeID: node.ID, Metadata: map[string]string{"retry": "true"}})

	err = o.daemon.Install(ctx, node, srv.ID)
	if daemon.IsNotFound(err) {
		var cfg *daemon.ServerConfiguration
		if cfg, err = o.Configuration(ctx, srv); err == nil {
			err = o.daemon.CreateServer(ctx, node, cfg, false)
		}
	}
	if err != nil {
		srv.Status = model.StatusInstallFailed
		srv.InstallError = err.Error()
		if serr := o.save(ctx, srv); serr != nil {
			return nil, serr
		}
		o.publish(ctx, events.Event{Type: events.ServerInstallFailed, ServerID: srv.ID, NodeID: node.ID, Message: srv.InstallError})
		return srv, fmt.Errorf("retry install %s: %w", srv.ID, err)
	}
	return srv, nil
}

// Reinstall wipes and reinstalls an offline, unsuspended server. If the daemon refuses,
// the server goes back to offline and the error is returned.
func (o *Orchestrator) Reinstall(ctx context.Context, serverID string) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := requireControllable(srv, "reinstall"); err != nil {
		return nil, err
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return nil, err
	}

	srv.Status = model.StatusInstalling
	if err := o.save(ctx, srv); err != nil {
		return nil, err
	}
	if err := o.daemon.Reinstall(ctx, node, srv.ID); err != nil {
		srv.Status = model.StatusOffline
		if serr := o.save(ctx, srv); serr != nil {
			logf("revert %s after failed reinstall: %v", srv.ID, serr)
		}
		return nil, fmt.Errorf("reinstall %s: %w", srv.ID, err)
	}
	o.publish(ctx, events.Event{Type: events.ServerReinstalling, ServerID: srv.ID, NodeID: node.ID})
	return srv, nil
}

// SetSuspended toggles the suspension overlay. The status is untouched.
func (o *Orchestrator) SetSuspended(ctx context.Context, serverID string, suspended bool) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Suspended == suspended {
		return srv, nil
	}

	next := *srv
	next.Suspended = suspended
	if err := o.syncAndSave(ctx, &next); err != nil {
		return nil, err
	}

	typ := events.ServerUnsuspended
	if suspended {
		typ = events.ServerSuspended
	}
	o.publish(ctx, events.Event{Type: typ, ServerID: next.ID, NodeID: next.NodeID})
	return &next, nil
}

// Delete removes the server and everything hanging off it. The daemon is
// told first but its failure is only logged: the local record always goes.
func (o *Orchestrator) Delete(ctx context.Context, serverID string) error {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return err
	}

	node, err := o.store.Nodes.Get(ctx, srv.NodeID)
	switch {
	case err == nil:
		if derr := o.daemon.DeleteServer(ctx, node, srv.ID); derr != nil {
			logf("daemon delete %s on %s failed, removing locally anyway: %v", srv.ID, node.Name, derr)
		}
	case errors.Is(err, model.ErrNotFound):
		logf("node %s of %s is gone, removing locally", srv.NodeID, srv.ID)
	default:
		return fmt.Errorf("node %s: %w", srv.NodeID, err)
	}

	backups, err := o.store.BackupsForServer(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("backups of %s: %w", srv.ID, err)
	}
	for i := range backups {
		o.removeBackupObject(ctx, &backups[i])
		if err := o.store.Backups.Delete(ctx, backups[i].ID); err != nil {
			return fmt.Errorf("delete backup %s: %w", backups[i].ID, err)
		}
	}
	schedules, err := o.store.SchedulesForServer(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("schedules of %s: %w", srv.ID, err)
	}
	for _, sc := range schedules {
		if err := o.store.Schedules.Delete(ctx, sc.ID); err != nil {
			return fmt.Errorf("delete schedule %s: %w", sc.ID, err)
		}
	}
	if err := o.store.Servers.Delete(ctx, srv.ID); err != nil {
		return fmt.Errorf("delete server %s: %w", srv.ID, err)
	}
	o.publish(ctx, events.Event{Type: events.ServerDeleted, ServerID: srv.ID, NodeID: srv.NodeID})
	return nil
}

// ChangeEgg moves the server to another egg: startup and image are taken
// from the new egg, its variables' defaults fill any unset environment, and
// the result is synced. The server is not reinstalled.
func (o *Orchestrator) ChangeEgg(ctx context.Context, serverID, eggID string) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Status.Transitional() {
		return nil, &model.StateConflict{Status: srv.Status, Action: "change egg"}
	}
	egg, err := o.egg(ctx, eggID)
	if err != nil {
		return nil, err
	}
	if egg == nil {
		return nil, &model.ValidationError{Field: "eggId", Reason: "unknown egg"}
	}

	next := *srv
	next.EggID = egg.ID
	next.Startup = egg.Startup
	next.Image = egg.DockerImage
	next.Environment = egg.MergeEnvironment(srv.Environment)
	if err := o.syncAndSave(ctx, &next); err != nil {
		return nil, err
	}
	o.publish(ctx, events.Event{
		Type: events.ServerEggChanged, ServerID: next.ID, NodeID: next.NodeID,
		Metadata: map[string]string{"from": srv.EggID, "to": egg.ID},
	})
	return &next, nil
}

type BuildRequest struct {
	Limits        model.Limits        `json:"limits"`
	FeatureLimits model.FeatureLimits `json:"featureLimits"`
}

// UpdateBuild changes resource and feature limits. Growth must fit in what
// the node has left; the node is locked while that is checked and saved.
func (o *Orchestrator) UpdateBuild(ctx context.Context, serverID string, req BuildRequest) (*model.Server, error) {
	if err := validateLimits(req.Limits, req.FeatureLimits); err != nil {
		return nil, err
	}
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if req.FeatureLimits.Allocations > 0 && len(srv.Allocations) > req.FeatureLimits.Allocations {
		return nil, &model.ValidationError{Field: "featureLimits.allocations", Reason: "below the number of allocations already assigned"}
	}

	unlock := o.locks.Lock(srv.NodeID)
	defer unlock()

	usage, err := o.ledger.ForNode(ctx, srv.NodeID)
	if err != nil {
		return nil, err
	}
	if err := fitsNode(usage, srv.Limits, req.Limits); err != nil {
		return nil, err
	}

	next := *srv
	next.Limits = req.Limits
	next.FeatureLimits = req.FeatureLimits
	if err := o.syncAndSave(ctx, &next); err != nil {
		return nil, err
	}
	o.publish(ctx, events.Event{Type: events.ServerBuildUpdated, ServerID: next.ID, NodeID: next.NodeID})
	return &next, nil
}

func fitsNode(u *ledger.Usage, current, wanted model.Limits) error {
	if grow := wanted.Memory - current.Memory; grow > 0 && grow > u.AvailableMemory {
		return &model.LimitExceeded{Resource: "node memory", Limit: u.AvailableMemory, Wanted: grow}
	}
	if grow := wanted.Disk - current.Disk; grow > 0 && grow > u.AvailableDisk {
		return &model.LimitExceeded{Resource: "node disk", Limit: u.AvailableDisk, Wanted: grow}
	}
	return nil
}

// ResetNode forces every server on nodeID that is stuck installing or
// restoring back to offline. The daemon calls this after it restarts.
func (o *Orchestrator) ResetNode(ctx context.Context, nodeID string) (int, error) {
	servers, err := o.store.ServersOnNode(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("servers on node %s: %w", nodeID, err)
	}
	n := 0
	for i := range servers {
		srv := &servers[i]
		if !srv.Status.Transitional() {
			continue
		}
		srv.Status = model.StatusOffline
		if err := o.save(ctx, srv); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		logf("reset %d servers on node %s", n, nodeID)
	}
	o.publish(ctx, events.Event{Type: events.NodeReset, NodeID: nodeID, Metadata: map[string]string{"servers": fmt.Sprint(n)}})
	return n, nil
}
