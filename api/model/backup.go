package model

import "time"

const (
	BackupDiskDaemon = "wings"
	BackupDiskS3     = "s3"
)

type Backup struct {
	ID           string     `json:"id"`
	ServerID     string     `json:"serverId"`
	Name         string     `json:"name"`
	Disk         string     `json:"disk"`
	Ignored      string     `json:"ignored,omitempty"` // newline separated patterns
	Checksum     string     `json:"checksum,omitempty"`
	Bytes        int64      `json:"bytes"`
	UploadID     string     `json:"uploadId,omitempty"`
	IsSuccessful bool       `json:"isSuccessful"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (b Backup) RecordID() string { return b.ID }

// ObjectKey is the S3 key the daemon uploads the archive to.
func (b *Backup) ObjectKey() string {
	return b.ServerID + "/" + b.ID + ".tar.gz"
}
