package daemon

import (
	"context"
	"net/http"
	"net/url"

	"hearth/api/model"
)

func (c *Client) CreateBackup(ctx context.Context, node *model.Node, serverUUID string, b *model.Backup) error {
	return c.do(ctx, node, request{
		endpoint: "backups.create",
		method:   http.MethodPost,
		path:     serverPath(serverUUID) + "/backup",
		body: map[string]string{
			"adapter": b.Disk,
			"uuid":    b.ID,
			"ignore":  b.Ignored,
		},
	})
}

func (c *Client) DeleteBackup(ctx context.Context, node *model.Node, serverUUID, backupUUID string) error {
	return c.do(ctx, node, request{
		endpoint: "backups.delete",
		method:   http.MethodDelete,
		path:     serverPath(serverUUID) + "/backup/" + url.PathEscape(backupUUID),
	})
}

// RestoreBackup asks the daemon to unpack a backup over the server's files.
// downloadURL is required for S3 backups and ignored for local ones.
func (c *Client) RestoreBackup(ctx context.Context, node *model.Node, serverUUID string, b *model.Backup, truncate bool, downloadURL string) error {
	body := map[string]any{
		"adapter":            b.Disk,
		"truncate_directory": truncate,
	}
	if downloadURL != "" {
		body["download_url"] = downloadURL
	}
	return c.do(ctx, node, request{
		endpoint: "backups.restore",
		method:   http.MethodPost,
		path:     serverPath(serverUUID) + "/backup/" + url.PathEscape(b.ID) + "/restore",
		body:     body,
	})
}
