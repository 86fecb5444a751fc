package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"hearth/api/events"
	"hearth/api/model"
	"hearth/api/storage"
)

func (o *Orchestrator) backupDisk() string {
	if o.Objects != nil {
		return model.BackupDiskS3
	}
	return model.BackupDiskDaemon
}

// backup loads backupID and checks it belongs to serverID.
func (o *Orchestrator) backup(ctx context.Context, serverID, backupID string) (*model.Backup, error) {
	b, err := o.store.Backups.Get(ctx, backupID)
	if err != nil {
		return nil, fmt.Errorf("backup %s: %w", backupID, err)
	}
	if serverID != "" && b.ServerID != serverID {
		return nil, fmt.Errorf("backup %s: %w", backupID, model.ErrNotFound)
	}
	return b, nil
}

// CreateBackup records a backup and asks the daemon to produce it. The
// record is dropped again if the daemon refuses.
func (o *Orchestrator) CreateBackup(ctx context.Context, actor model.Actor, serverID, name, ignored string) (*model.Backup, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.Permits(actor, model.PermBackupCreate) {
		return nil, &model.PermissionDenied{Permission: model.PermBackupCreate}
	}
	if err := requireControllable(srv, "create backup"); err != nil {
		return nil, err
	}
	existing, err := o.store.BackupsForServer(ctx, srv.ID)
	if err != nil {
		return nil, fmt.Errorf("backups of %s: %w", srv.ID, err)
	}
	if len(existing)+1 > srv.FeatureLimits.Backups {
		return nil, &model.LimitExceeded{Resource: "backups", Limit: int64(srv.FeatureLimits.Backups), Wanted: int64(len(existing) + 1)}
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return nil, err
	}

	now := o.Now()
	if name == "" {
		name = "Backup at " + now.Format("2006-01-02 15:04:05")
	}
	b := &model.Backup{
		ID:        uuid.NewString(),
		ServerID:  srv.ID,
		Name:      name,
		Disk:      o.backupDisk(),
		Ignored:   ignored,
		CreatedAt: now,
	}
	if err := o.store.Backups.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	if err := o.daemon.CreateBackup(ctx, node, srv.ID, b); err != nil {
		if derr := o.store.Backups.Delete(ctx, b.ID); derr != nil {
			logf("drop backup %s after daemon refusal: %v", b.ID, derr)
		}
		return nil, fmt.Errorf("create backup %s: %w", srv.ID, err)
	}
	o.publish(ctx, events.Event{
		Type: events.BackupStarted, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"backup": b.ID, "name": b.Name},
	})
	return b, nil
}

// BackupUpload starts the multipart upload the daemon streams an s3 backup
// into.
func (o *Orchestrator) BackupUpload(ctx context.Context, node *model.Node, backupID string, size int64) (*storage.Upload, error) {
	b, srv, err := o.nodeBackup(ctx, node, backupID)
	if err != nil {
		return nil, err
	}
	if b.Disk != model.BackupDiskS3 || o.Objects == nil {
		return nil, &model.ValidationError{Field: "backup", Reason: "not stored in object storage"}
	}
	if b.CompletedAt != nil {
		return nil, &model.StateConflict{Status: srv.Status, Action: "upload a completed backup"}
	}
	up, err := o.Objects.BeginUpload(ctx, b.ObjectKey(), size)
	if err != nil {
		return nil, err
	}
	b.UploadID = up.UploadID
	if err := o.store.Backups.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("save backup %s: %w", b.ID, err)
	}
	return up, nil
}

// nodeBackup loads a backup on behalf of a daemon, which may only touch
// backups of servers it hosts.
func (o *Orchestrator) nodeBackup(ctx context.Context, node *model.Node, backupID string) (*model.Backup, *model.Server, error) {
	b, err := o.backup(ctx, "", backupID)
	if err != nil {
		return nil, nil, err
	}
	srv, err := o.server(ctx, b.ServerID)
	if err != nil {
		return nil, nil, err
	}
	if srv.NodeID != node.ID {
		return nil, nil, fmt.Errorf("backup %s: %w", backupID, model.ErrNotFound)
	}
	return b, srv, nil
}

type BackupReport struct {
	Successful   bool           `json:"successful"`
	Checksum     string         `json:"checksum"`
	ChecksumType string         `json:"checksum_type"`
	Size         int64          `json:"size"`
	Parts        []storage.Part `json:"parts"`
}

// CompleteBackup records the daemon's report on a finished backup and
// finalises or aborts the s3 upload.
func (o *Orchestrator) CompleteBackup(ctx context.Context, node *model.Node, backupID string, rep BackupReport) (*model.Backup, error) {
	b, srv, err := o.nodeBackup(ctx, node, backupID)
	if err != nil {
		return nil, err
	}
	if b.CompletedAt != nil {
		return nil, &model.StateConflict{Status: srv.Status, Action: "complete a finished backup"}
	}

	successful := rep.Successful
	if b.Disk == model.BackupDiskS3 && b.UploadID != "" && o.Objects != nil {
		if successful {
			if err := o.Objects.CompleteUpload(ctx, b.ObjectKey(), b.UploadID, rep.Parts); err != nil {
				logf("complete upload of backup %s: %v", b.ID, err)
				successful = false
			}
		}
		if !successful {
			if err := o.Objects.AbortUpload(ctx, b.ObjectKey(), b.UploadID); err != nil {
				logf("abort upload of backup %s: %v", b.ID, err)
			}
		}
	}

	now := o.Now()
	b.IsSuccessful = successful
	b.CompletedAt = &now
	if successful {
		b.Checksum = rep.ChecksumType + ":" + rep.Checksum
		b.Bytes = rep.Size
	}
	if err := o.store.Backups.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("save backup %s: %w", b.ID, err)
	}

	typ := events.BackupCompleted
	if !successful {
		typ = events.BackupFailed
	}
	o.publish(ctx, events.Event{
		Type: typ, ServerID: srv.ID, NodeID: srv.NodeID,
		Metadata: map[string]string{"backup": b.ID, "bytes": strconv.FormatInt(b.Bytes, 10)},
	})
	return b, nil
}

// ListBackups returns the server's backups, oldest first.
func (o *Orchestrator) ListBackups(ctx context.Context, actor model.Actor, serverID string) ([]model.Backup, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.Permits(actor, model.PermBackupRead) {
		return nil, &model.PermissionDenied{Permission: model.PermBackupRead}
	}
	return o.store.BackupsForServer(ctx, srv.ID)
}

// DownloadBackup returns a short-lived link to a completed s3 backup.
// Backups kept on the node are served by the daemon and have no link here.
func (o *Orchestrator) DownloadBackup(ctx context.Context, actor model.Actor, serverID, backupID string) (string, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return "", err
	}
	if !srv.Permits(actor, model.PermBackupDownload) {
		return "", &model.PermissionDenied{Permission: model.PermBackupDownload}
	}
	b, err := o.backup(ctx, srv.ID, backupID)
	if err != nil {
		return "", err
	}
	if b.Disk != model.BackupDiskS3 || o.Objects == nil {
		return "", &model.ValidationError{Field: "backup", Reason: "not stored in object storage"}
	}
	if !b.IsSuccessful {
		return "", &model.ValidationError{Field: "backup", Reason: "backup has not completed successfully"}
	}
	return o.Objects.PresignDownload(ctx, b.ObjectKey())
}

// DeleteBackup removes a backup. Failures to remove the archive itself are
// logged; the record is deleted regardless.
func (o *Orchestrator) DeleteBackup(ctx context.Context, actor model.Actor, serverID, backupID string) error {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return err
	}
	if !srv.Permits(actor, model.PermBackupDelete) {
		return &model.PermissionDenied{Permission: model.PermBackupDelete}
	}
	b, err := o.backup(ctx, srv.ID, backupID)
	if err != nil {
		return err
	}

	if b.Disk == model.BackupDiskDaemon {
		node, err := o.store.Nodes.Get(ctx, srv.NodeID)
		if err == nil {
			err = o.daemon.DeleteBackup(ctx, node, srv.ID, b.ID)
		}
		if err != nil {
			logf("daemon delete backup %s failed, removing locally anyway: %v", b.ID, err)
		}
	} else {
		o.removeBackupObject(ctx, b)
	}

	if err := o.store.Backups.Delete(ctx, b.ID); err != nil {
		return fmt.Errorf("delete backup %s: %w", b.ID, err)
	}
	o.publish(ctx, events.Event{
		Type: events.BackupDeleted, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"backup": b.ID},
	})
	return nil
}

func (o *Orchestrator) removeBackupObject(ctx context.Context, b *model.Backup) {
	if b.Disk != model.BackupDiskS3 || o.Objects == nil {
		return
	}
	if b.CompletedAt == nil && b.UploadID != "" {
		if err := o.Objects.AbortUpload(ctx, b.ObjectKey(), b.UploadID); err != nil {
			logf("abort upload of backup %s: %v", b.ID, err)
		}
		return
	}
	if err := o.Objects.Remove(ctx, b.ObjectKey()); err != nil {
		logf("remove object of backup %s: %v", b.ID, err)
	}
}

// RestoreBackup puts an offline server into restoring_backup and has the
// daemon unpack the archive. A daemon refusal reverts to offline.
func (o *Orchestrator) RestoreBackup(ctx context.Context, actor model.Actor, serverID, backupID string, truncate bool) (*model.Server, error) {
	srv, err := o.server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.Permits(actor, model.PermBackupRestore) {
		return nil, &model.PermissionDenied{Permission: model.PermBackupRestore}
	}
	if err := requireControllable(srv, "restore backup"); err != nil {
		return nil, err
	}
	b, err := o.backup(ctx, srv.ID, backupID)
	if err != nil {
		return nil, err
	}
	if !b.IsSuccessful {
		return nil, &model.ValidationError{Field: "backup", Reason: "only completed, successful backups can be restored"}
	}
	node, err := o.node(ctx, srv.NodeID)
	if err != nil {
		return nil, err
	}

	var download string
	if b.Disk == model.BackupDiskS3 {
		if o.Objects == nil {
			return nil, &model.ValidationError{Field: "backup", Reason: "object storage is not configured"}
		}
		if download, err = o.Objects.PresignDownload(ctx, b.ObjectKey()); err != nil {
			return nil, err
		}
	}

	srv.Status = model.StatusRestoringBackup
	if err := o.save(ctx, srv); err != nil {
		return nil, err
	}
	if err := o.daemon.RestoreBackup(ctx, node, srv.ID, b, truncate, download); err != nil {
		srv.Status = model.StatusOffline
		if serr := o.save(ctx, srv); serr != nil {
			logf("revert %s after failed restore: %v", srv.ID, serr)
		}
		return nil, fmt.Errorf("restore backup %s: %w", b.ID, err)
	}
	o.publish(ctx, events.Event{
		Type: events.BackupRestoring, ServerID: srv.ID, NodeID: srv.NodeID, ActorID: actor.UserID,
		Metadata: map[string]string{"backup": b.ID, "truncate": strconv.FormatBool(truncate)},
	})
	return srv, nil
}

// CompleteRestore is the daemon's restore callback. The server returns to
// offline whatever the outcome.
func (o *Orchestrator) CompleteRestore(ctx context.Context, node *model.Node, backupID string, successful bool) (*model.Server, error) {
	b, srv, err := o.nodeBackup(ctx, node, backupID)
	if err != nil {
		return nil, err
	}
	if srv.Status != model.StatusRestoringBackup {
		return nil, &model.StateConflict{Status: srv.Status, Action: "complete restore"}
	}
	srv.Status = model.StatusOffline
	if err := o.save(ctx, srv); err != nil {
		return nil, err
	}
	o.publish(ctx, events.Event{
		Type: events.BackupRestored, ServerID: srv.ID, NodeID: srv.NodeID,
		Metadata: map[string]string{"backup": b.ID, "successful": strconv.FormatBool(successful)},
	})
	return srv, nil
}
