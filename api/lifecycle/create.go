package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/ledger"
	"hearth/api/model"
	"hearth/api/placement"
)

type CreateRequest struct {
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	OwnerID           string              `json:"ownerId"`
	EggID             string              `json:"eggId"`
	Image             string              `json:"image"`   // empty takes the egg default
	Startup           string              `json:"startup"` // empty takes the egg default
	Limits            model.Limits        `json:"limits"`
	FeatureLimits     model.FeatureLimits `json:"featureLimits"`
	Environment       map[string]string   `json:"environment"`
	NodeID            string              `json:"nodeId"` // pins placement, skipping selection
	SkipEggScripts    bool                `json:"skipEggScripts"`
	StartOnCompletion bool                `json:"startOnCompletion"`
}

func (r *CreateRequest) Validate() error {
	switch {
	case r.Name == "":
		return &model.ValidationError{Field: "name", Reason: "required"}
	case len(r.Name) > 191:
		return &model.ValidationError{Field: "name", Reason: "at most 191 characters"}
	case r.OwnerID == "":
		return &model.ValidationError{Field: "ownerId", Reason: "required"}
	case r.EggID == "":
		return &model.ValidationError{Field: "eggId", Reason: "required"}
	}
	return validateLimits(r.Limits, r.FeatureLimits)
}

func validateLimits(l model.Limits, f model.FeatureLimits) error {
	switch {
	case l.Memory < 0:
		return &model.ValidationError{Field: "limits.memory", Reason: "must not be negative"}
	case l.Disk < 0:
		return &model.ValidationError{Field: "limits.disk", Reason: "must not be negative"}
	case l.Swap < -1:
		return &model.ValidationError{Field: "limits.swap", Reason: "must be -1 or greater"}
	case l.CPU < 0:
		return &model.ValidationError{Field: "limits.cpu", Reason: "must not be negative"}
	case l.IO != 0 && (l.IO < 10 || l.IO > 1000):
		return &model.ValidationError{Field: "limits.io", Reason: "must be between 10 and 1000"}
	case f.Backups < 0:
		return &model.ValidationError{Field: "featureLimits.backups", Reason: "must not be negative"}
	case f.Allocations < 0:
		return &model.ValidationError{Field: "featureLimits.allocations", Reason: "must not be negative"}
	}
	return nil
}

// checkOwnerLimits compares the owner's existing footprint plus the new
// server against their aggregate limits.
func checkOwnerLimits(owner *model.User, owned []model.Server, l model.Limits) error {
	var memory, disk int64
	var cpu int
	for _, s := range owned {
		memory += s.Limits.Memory
		disk += s.Limits.Disk
		cpu += s.Limits.CPU
	}
	lim := owner.Limits
	switch {
	case lim.Servers > 0 && len(owned)+1 > lim.Servers:
		return &model.LimitExceeded{Resource: "servers", Limit: int64(lim.Servers), Wanted: int64(len(owned) + 1)}
	case lim.Memory > 0 && memory+l.Memory > lim.Memory:
		return &model.LimitExceeded{Resource: "memory", Limit: lim.Memory, Wanted: memory + l.Memory}
	case lim.Disk > 0 && disk+l.Disk > lim.Disk:
		return &model.LimitExceeded{Resource: "disk", Limit: lim.Disk, Wanted: disk + l.Disk}
	case lim.CPU > 0 && cpu+l.CPU > lim.CPU:
		return &model.LimitExceeded{Resource: "cpu", Limit: int64(lim.CPU), Wanted: int64(cpu + l.CPU)}
	}
	return nil
}

// Create admits, places and persists a new server, then asks its node to
// install it. A daemon failure does not fail Create: the server is kept
// with status install_failed and the captured error.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*model.Server, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, err := o.store.Users.Get(ctx, req.OwnerID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.ValidationError{Field: "ownerId", Reason: "unknown user"}
	} else if err != nil {
		return nil, fmt.Errorf("owner %s: %w", req.OwnerID, err)
	}
	owned, err := o.store.ServersOwnedBy(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("servers of %s: %w", owner.ID, err)
	}
	if err := checkOwnerLimits(owner, owned, req.Limits); err != nil {
		return nil, err
	}

	egg, err := o.egg(ctx, req.EggID)
	if err != nil {
		return nil, err
	}
	if egg == nil {
		return nil, &model.ValidationError{Field: "eggId", Reason: "unknown egg"}
	}

	srv, node, err := o.place(ctx, req, egg)
	if err != nil {
		return nil, err
	}
	logf("created %s on node %s port %d", srv.ID, node.Name, srv.PrimaryAllocation().Port)
	o.publish(ctx, events.Event{Type: events.ServerCreated, ServerID: srv.ID, NodeID: node.ID, ActorID: req.OwnerID})

	if err := o.daemon.CreateServer(ctx, node, daemon.Configuration(srv, egg), req.StartOnCompletion); err != nil {
		logf("daemon create %s failed: %v", srv.ID, err)
		srv.Status = model.StatusInstallFailed
		srv.InstallError = err.Error()
		if serr := o.save(ctx, srv); serr != nil {
			return nil, serr
		}
		o.publish(ctx, events.Event{Type: events.ServerInstallFailed, ServerID: srv.ID, NodeID: node.ID, Message: srv.InstallError})
	}
	return srv, nil
}

// place picks a node and persists the server on it. The node lock is held
// from the ledger read until the record is stored.
func (o *Orchestrator) place(ctx context.Context, req CreateRequest, egg *model.Egg) (*model.Server, *model.Node, error) {
	want := placement.Request{Memory: req.Limits.Memory, Disk: req.Limits.Disk}

	nodeID := req.NodeID
	if nodeID == "" {
		c, err := o.selector.Select(ctx, want)
		if err != nil {
			return nil, nil, err
		}
		nodeID = c.Node.ID
	}

	unlock := o.locks.Lock(nodeID)
	defer unlock()

	node, err := o.store.Nodes.Get(ctx, nodeID)
	if errors.Is(err, model.ErrNotFound) && req.NodeID != "" {
		return nil, nil, &model.ValidationError{Field: "nodeId", Reason: "unknown node"}
	} else if err != nil {
		return nil, nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	servers, err := o.store.ServersOnNode(ctx, node.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("servers on node %s: %w", node.ID, err)
	}
	usage := ledger.Compute(node, servers)
	if !placement.Eligible(node, usage, want) {
		// another create won the node between selection and the lock
		return nil, nil, model.ErrNoEligibleNode
	}

	image, startup := req.Image, req.Startup
	if image == "" {
		image = egg.DockerImage
	}
	if startup == "" {
		startup = egg.Startup
	}
	now := o.Now()
	alloc := model.Allocation{
		ID:      uuid.NewString(),
		IP:      allocationIP(node),
		Port:    o.PickPort(usage.AvailablePorts),
		Primary: true,
	}
	srv := &model.Server{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		OwnerID:           req.OwnerID,
		NodeID:            node.ID,
		EggID:             egg.ID,
		Image:             image,
		Startup:           startup,
		Limits:            req.Limits,
		FeatureLimits:     req.FeatureLimits,
		Environment:       egg.MergeEnvironment(req.Environment),
		Allocations:       []model.Allocation{alloc},
		DefaultAllocation: alloc.ID,
		Status:            model.StatusInstalling,
		SkipEggScripts:    req.SkipEggScripts,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.store.Servers.Insert(ctx, srv); err != nil {
		return nil, nil, fmt.Errorf("insert server: %w", err)
	}
	return srv, node, nil
}

func allocationIP(node *model.Node) string {
	if node.AllocationIP != "" {
		return node.AllocationIP
	}
	return "0.0.0.0"
}
