// Package store persists panel records. Every backend exposes the same
// collection interface; callers read a record, mutate it in memory and write
// it back whole. There is no optimistic versioning: the last writer wins.
package store

import (
	"context"
	"errors"

	"hearth/api/model"
)

// ErrDuplicate is returned by Insert when the id is already taken.
var ErrDuplicate = errors.New("record already exists")

// Record is implemented by every persisted model type.
type Record interface {
	RecordID() string
}

// Collection is the repository for one record type. Get returns
// model.ErrNotFound for a missing id; List returns records in insertion order.
type Collection[T Record] interface {
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context) ([]T, error)
	Insert(ctx context.Context, v *T) error
	Update(ctx context.Context, v *T) error
	Delete(ctx context.Context, id string) error
}

type Store struct {
	Nodes     Collection[model.Node]
	Servers   Collection[model.Server]
	Users     Collection[model.User]
	Eggs      Collection[model.Egg]
	Backups   Collection[model.Backup]
	Schedules Collection[model.Schedule]

	healthy func(ctx context.Context) error
	close   func() error
}

// Healthy checks the backend is reachable.
func (s *Store) Healthy(ctx context.Context) error {
	if s.healthy == nil {
		return nil
	}
	return s.healthy(ctx)
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// ServersOnNode returns every server placed on nodeID.
func (s *Store) ServersOnNode(ctx context.Context, nodeID string) ([]model.Server, error) {
	all, err := s.Servers.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Server
	for _, srv := range all {
		if srv.NodeID == nodeID {
			out = append(out, srv)
		}
	}
	return out, nil
}

// ServersOwnedBy returns every server owned by userID.
func (s *Store) ServersOwnedBy(ctx context.Context, userID string) ([]model.Server, error) {
	all, err := s.Servers.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Server
	for _, srv := range all {
		if srv.OwnerID == userID {
			out = append(out, srv)
		}
	}
	return out, nil
}

// BackupsForServer returns the backups recorded for serverID.
func (s *Store) BackupsForServer(ctx context.Context, serverID string) ([]model.Backup, error) {
	all, err := s.Backups.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Backup
	for _, b := range all {
		if b.ServerID == serverID {
			out = append(out, b)
		}
	}
	return out, nil
}

// SchedulesForServer returns the schedules defined for serverID.
func (s *Store) SchedulesForServer(ctx context.Context, serverID string) ([]model.Schedule, error) {
	all, err := s.Schedules.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Schedule
	for _, sc := range all {
		if sc.ServerID == serverID {
			out = append(out, sc)
		}
	}
	return out, nil
}

// FindNodeByTokenID locates the node owning a daemon token id.
// Fleet sizes are small enough that a linear scan is fine.
func (s *Store) FindNodeByTokenID(ctx context.Context, tokenID string) (*model.Node, error) {
	nodes, err := s.Nodes.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].DaemonTokenID == tokenID {
			return &nodes[i], nil
		}
	}
	return nil, model.ErrNotFound
}

// FindUserByUsername is a case-sensitive lookup used by SFTP authentication.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	users, err := s.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Username == username {
			return &users[i], nil
		}
	}
	return nil, model.ErrNotFound
}
