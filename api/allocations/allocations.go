// Package allocations adds, promotes and removes the ports of an existing
// server. Every change is pushed to the daemon before it is stored.
package allocations

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"hearth/api/events"
	"hearth/api/ledger"
	"hearth/api/model"
	"hearth/api/placement"
	"hearth/api/store"
)

// Syncer pushes a server's desired state to its node.
type Syncer interface {
	Sync(ctx context.Context, srv *model.Server) error
}

type Manager struct {
	store  *store.Store
	ledger *ledger.Ledger
	locks  *placement.NodeLocks
	syncer Syncer
	events events.Publisher

	// PickPort chooses among the node's free ports.
	PickPort func(free []int) int
}

func New(s *store.Store, syncer Syncer, locks *placement.NodeLocks, pub events.Publisher, pick func([]int) int) *Manager {
	if locks == nil {
		locks = placement.NewNodeLocks()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Manager{store: s, ledger: ledger.New(s), locks: locks, syncer: syncer, events: pub, PickPort: pick}
}

func (m *Manager) authorize(ctx context.Context, actor model.Actor, serverID, perm string) (*model.Server, error) {
	srv, err := m.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", serverID, err)
	}
	if !srv.Permits(actor, perm) {
		return nil, &model.PermissionDenied{Permission: perm}
	}
	return srv, nil
}

// countOwned is the owner's allocation total across every server they own.
func (m *Manager) countOwned(ctx context.Context, ownerID string) (int, error) {
	owned, err := m.store.ServersOwnedBy(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range owned {
		n += len(s.Allocations)
	}
	return n, nil
}

// Add assigns one random free port of the server's node. The first
// allocation of a server becomes primary; later ones never do.
func (m *Manager) Add(ctx context.Context, actor model.Actor, serverID string) (*model.Allocation, error) {
	srv, err := m.authorize(ctx, actor, serverID, model.PermAllocCreate)
	if err != nil {
		return nil, err
	}
	if srv.FeatureLimits.Allocations > 0 && len(srv.Allocations)+1 > srv.FeatureLimits.Allocations {
		return nil, &model.LimitExceeded{Resource: "allocations", Limit: int64(srv.FeatureLimits.Allocations), Wanted: int64(len(srv.Allocations) + 1)}
	}
	owner, err := m.store.Users.Get(ctx, srv.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w", srv.OwnerID, err)
	}
	if owner.Limits.Allocations > 0 {
		n, err := m.countOwned(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		if n+1 > owner.Limits.Allocations {
			return nil, &model.LimitExceeded{Resource: "user allocations", Limit: int64(owner.Limits.Allocations), Wanted: int64(n + 1)}
		}
	}

	unlock := m.locks.Lock(srv.NodeID)
	defer unlock()

	node, err := m.store.Nodes.Get(ctx, srv.NodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", srv.NodeID, err)
	}
	usage, err := m.ledger.ForNode(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	if len(usage.AvailablePorts) == 0 {
		return nil, model.ErrNoAvailablePorts
	}

	ip := node.AllocationIP
	if ip == "" {
		ip = "0.0.0.0"
	}
	alloc := model.Allocation{
		ID:      uuid.NewString(),
		IP:      ip,
		Port:    m.PickPort(usage.AvailablePorts),
		Primary: len(srv.Allocations) == 0,
	}
	next := *srv
	next.Allocations = append(append([]model.Allocation(nil), srv.Allocations...), alloc)
	if alloc.Primary {
		next.DefaultAllocation = alloc.ID
	}
	if err := m.commit(ctx, &next); err != nil {
		return nil, err
	}
	m.publish(ctx, events.AllocationAdded, &next, actor, alloc)
	return &alloc, nil
}

// SetPrimary makes allocationID the server's only primary allocation.
func (m *Manager) SetPrimary(ctx context.Context, actor model.Actor, serverID, allocationID string) (*model.Server, error) {
	srv, err := m.authorize(ctx, actor, serverID, model.PermAllocUpdate)
	if err != nil {
		return nil, err
	}
	next := *srv
	next.Allocations = append([]model.Allocation(nil), srv.Allocations...)
	if !next.SetPrimary(allocationID) {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, model.ErrNotFound)
	}
	if err := m.commit(ctx, &next); err != nil {
		return nil, err
	}
	m.publish(ctx, events.AllocationPrimary, &next, actor, *next.Allocation(allocationID))
	return &next, nil
}

// Remove drops a non-primary allocation.
func (m *Manager) Remove(ctx context.Context, actor model.Actor, serverID, allocationID string) (*model.Server, error) {
	srv, err := m.authorize(ctx, actor, serverID, model.PermAllocDelete)
	if err != nil {
		return nil, err
	}
	target := srv.Allocation(allocationID)
	if target == nil {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, model.ErrNotFound)
	}
	if target.Primary {
		return nil, model.ErrCannotRemovePrimary
	}
	removed := *target

	next := *srv
	next.Allocations = make([]model.Allocation, 0, len(srv.Allocations)-1)
	for _, a := range srv.Allocations {
		if a.ID != allocationID {
			next.Allocations = append(next.Allocations, a)
		}
	}
	if err := m.commit(ctx, &next); err != nil {
		return nil, err
	}
	m.publish(ctx, events.AllocationRemoved, &next, actor, removed)
	return &next, nil
}

func (m *Manager) commit(ctx context.Context, next *model.Server) error {
	if err := m.syncer.Sync(ctx, next); err != nil {
		return err
	}
	if err := m.store.Servers.Update(ctx, next); err != nil {
		return fmt.Errorf("save server %s: %w", next.ID, err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, typ string, srv *model.Server, actor model.Actor, a model.Allocation) {
	m.events.Publish(ctx, events.Event{
		Type: typ, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"allocation": a.ID, "ip": a.IP, "port": strconv.Itoa(a.Port)},
	})
}
