package daemon

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"hearth/api/model"
)

type FileStat struct {
	Name      string    `json:"name"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
	Mode      string    `json:"mode"`
	ModeBits  string    `json:"mode_bits"`
	Size      int64     `json:"size"`
	Directory bool      `json:"directory"`
	File      bool      `json:"file"`
	Symlink   bool      `json:"symlink"`
	Mime      string    `json:"mime"`
}

type RenamePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func filesPath(uuid, op string) string {
	return serverPath(uuid) + "/files/" + op
}

func (c *Client) ListDirectory(ctx context.Context, node *model.Node, uuid, dir string) ([]FileStat, error) {
	var out []FileStat
	err := c.do(ctx, node, request{
		endpoint: "files.list",
		method:   http.MethodGet,
		path:     filesPath(uuid, "list-directory") + "?directory=" + url.QueryEscape(dir),
		out:      &out,
	})
	return out, err
}

func (c *Client) CreateDirectory(ctx context.Context, node *model.Node, uuid, root, name string) error {
	return c.do(ctx, node, request{
		endpoint: "files.mkdir",
		method:   http.MethodPost,
		path:     filesPath(uuid, "create-directory"),
		body:     map[string]string{"name": name, "path": root},
	})
}

func (c *Client) DeleteFiles(ctx context.Context, node *model.Node, uuid, root string, files []string) error {
	return c.do(ctx, node, request{
		endpoint: "files.delete",
		method:   http.MethodPost,
		path:     filesPath(uuid, "delete"),
		body:     map[string]any{"root": root, "files": files},
	})
}

func (c *Client) RenameFiles(ctx context.Context, node *model.Node, uuid, root string, files []RenamePair) error {
	return c.do(ctx, node, request{
		endpoint: "files.rename",
		method:   http.MethodPut,
		path:     filesPath(uuid, "rename"),
		body:     map[string]any{"root": root, "files": files},
	})
}

// CompressFiles archives files under root and returns the new archive's stat.
func (c *Client) CompressFiles(ctx context.Context, node *model.Node, uuid, root string, files []string) (*FileStat, error) {
	var out FileStat
	err := c.do(ctx, node, request{
		endpoint: "files.compress",
		method:   http.MethodPost,
		path:     filesPath(uuid, "compress"),
		body:     map[string]any{"root": root, "files": files},
		out:      &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DecompressFile(ctx context.Context, node *model.Node, uuid, root, file string) error {
	return c.do(ctx, node, request{
		endpoint: "files.decompress",
		method:   http.MethodPost,
		path:     filesPath(uuid, "decompress"),
		body:     map[string]string{"root": root, "file": file},
	})
}

func (c *Client) FileContents(ctx context.Context, node *model.Node, uuid, file string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, node, request{
		endpoint: "files.contents",
		method:   http.MethodGet,
		path:     filesPath(uuid, "contents") + "?file=" + url.QueryEscape(file),
		out:      &out,
	})
	return out, err
}

// WriteFile replaces file with content. The payload goes over the wire as
// text/plain, not JSON.
func (c *Client) WriteFile(ctx context.Context, node *model.Node, uuid, file string, content []byte) error {
	if content == nil {
		content = []byte{}
	}
	return c.do(ctx, node, request{
		endpoint: "files.write",
		method:   http.MethodPost,
		path:     filesPath(uuid, "write") + "?file=" + url.QueryEscape(file),
		raw:      content,
	})
}
