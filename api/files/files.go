// Package files checks a caller's file permissions on a server and forwards
// the operation to the server's daemon.
package files

import (
	"context"
	"fmt"
	"path"
	"strings"

	"hearth/api/daemon"
	"hearth/api/model"
	"hearth/api/store"
)

// Daemon is the file half of the daemon client.
type Daemon interface {
	ListDirectory(ctx context.Context, node *model.Node, uuid, dir string) ([]daemon.FileStat, error)
	CreateDirectory(ctx context.Context, node *model.Node, uuid, root, name string) error
	DeleteFiles(ctx context.Context, node *model.Node, uuid, root string, files []string) error
	RenameFiles(ctx context.Context, node *model.Node, uuid, root string, files []daemon.RenamePair) error
	CompressFiles(ctx context.Context, node *model.Node, uuid, root string, files []string) (*daemon.FileStat, error)
	DecompressFile(ctx context.Context, node *model.Node, uuid, root, file string) error
	FileContents(ctx context.Context, node *model.Node, uuid, file string) ([]byte, error)
	WriteFile(ctx context.Context, node *model.Node, uuid, file string, content []byte) error
}

type Service struct {
	store  *store.Store
	daemon Daemon
}

func New(s *store.Store, d Daemon) *Service {
	return &Service{store: s, daemon: d}
}

// Clean normalises a client path to an absolute path inside the server root.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func (s *Service) resolve(ctx context.Context, actor model.Actor, serverID, perm string) (*model.Server, *model.Node, error) {
	srv, err := s.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("server %s: %w", serverID, err)
	}
	if !srv.Permits(actor, perm) {
		return nil, nil, &model.PermissionDenied{Permission: perm}
	}
	if srv.Suspended || srv.Status.Transitional() {
		return nil, nil, &model.StateConflict{Status: srv.Status, Suspended: srv.Suspended, Action: "access files"}
	}
	node, err := s.store.Nodes.Get(ctx, srv.NodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s: %w", srv.NodeID, err)
	}
	return srv, node, nil
}

func (s *Service) List(ctx context.Context, actor model.Actor, serverID, dir string) ([]daemon.FileStat, error) {
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileRead)
	if err != nil {
		return nil, err
	}
	return s.daemon.ListDirectory(ctx, node, srv.ID, Clean(dir))
}

func (s *Service) Contents(ctx context.Context, actor model.Actor, serverID, file string) ([]byte, error) {
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileContent)
	if err != nil {
		return nil, err
	}
	return s.daemon.FileContents(ctx, node, srv.ID, Clean(file))
}

func (s *Service) Write(ctx context.Context, actor model.Actor, serverID, file string, content []byte) error {
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileUpdate)
	if err != nil {
		return err
	}
	return s.daemon.WriteFile(ctx, node, srv.ID, Clean(file), content)
}

func (s *Service) CreateDirectory(ctx context.Context, actor model.Actor, serverID, root, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return &model.ValidationError{Field: "name", Reason: "must be a single path segment"}
	}
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileCreate)
	if err != nil {
		return err
	}
	return s.daemon.CreateDirectory(ctx, node, srv.ID, Clean(root), name)
}

func (s *Service) Rename(ctx context.Context, actor model.Actor, serverID, root string, pairs []daemon.RenamePair) error {
	if len(pairs) == 0 {
		return &model.ValidationError{Field: "files", Reason: "required"}
	}
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileUpdate)
	if err != nil {
		return err
	}
	return s.daemon.RenameFiles(ctx, node, srv.ID, Clean(root), pairs)
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, serverID, root string, names []string) error {
	if len(names) == 0 {
		return &model.ValidationError{Field: "files", Reason: "required"}
	}
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileDelete)
	if err != nil {
		return err
	}
	return s.daemon.DeleteFiles(ctx, node, srv.ID, Clean(root), names)
}

func (s *Service) Compress(ctx context.Context, actor model.Actor, serverID, root string, names []string) (*daemon.FileStat, error) {
	if len(names) == 0 {
		return nil, &model.ValidationError{Field: "files", Reason: "required"}
	}
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileArchive)
	if err != nil {
		return nil, err
	}
	return s.daemon.CompressFiles(ctx, node, srv.ID, Clean(root), names)
}

func (s *Service) Decompress(ctx context.Context, actor model.Actor, serverID, root, file string) error {
	srv, node, err := s.resolve(ctx, actor, serverID, model.PermFileArchive)
	if err != nil {
		return err
	}
	return s.daemon.DecompressFile(ctx, node, srv.ID, Clean(root), file)
}
