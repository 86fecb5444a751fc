package daemon

import (
	"context"
	"net/http"
	"net/url"

	"hearth/api/model"
)

var PowerActions = []string{"start", "stop", "restart", "kill"}

func ValidPowerAction(action string) bool {
	for _, a := range PowerActions {
		if a == action {
			return true
		}
	}
	return false
}

func serverPath(uuid string) string {
	return "/api/servers/" + url.PathEscape(uuid)
}

// CreateServer registers the server on the daemon with its full desired
// state and starts the installation process there.
func (c *Client) CreateServer(ctx context.Context, node *model.Node, cfg *ServerConfiguration, startOnCompletion bool) error {
	body := struct {
		*ServerConfiguration
		StartOnCompletion bool `json:"start_on_completion"`
	}{cfg, startOnCompletion}
	return c.do(ctx, node, request{endpoint: "servers.create", method: http.MethodPost, path: "/api/servers", body: body})
}

// SyncServer pushes the complete desired state for a server.
func (c *Client) SyncServer(ctx context.Context, node *model.Node, cfg *ServerConfiguration) error {
	return c.do(ctx, node, request{endpoint: "servers.sync", method: http.MethodPost, path: serverPath(cfg.UUID) + "/sync", body: cfg})
}

func (c *Client) Install(ctx context.Context, node *model.Node, uuid string) error {
	return c.do(ctx, node, request{endpoint: "servers.install", method: http.MethodPost, path: serverPath(uuid) + "/install"})
}

func (c *Client) Reinstall(ctx context.Context, node *model.Node, uuid string) error {
	return c.do(ctx, node, request{endpoint: "servers.reinstall", method: http.MethodPost, path: serverPath(uuid) + "/reinstall"})
}

func (c *Client) DeleteServer(ctx context.Context, node *model.Node, uuid string) error {
	return c.do(ctx, node, request{endpoint: "servers.delete", method: http.MethodDelete, path: serverPath(uuid)})
}

func (c *Client) Power(ctx context.Context, node *model.Node, uuid, action string) error {
	return c.do(ctx, node, request{
		endpoint: "servers.power",
		method:   http.MethodPost,
		path:     serverPath(uuid) + "/power",
		body:     map[string]string{"action": action},
	})
}

func (c *Client) SendCommands(ctx context.Context, node *model.Node, uuid string, commands ...string) error {
	return c.do(ctx, node, request{
		endpoint: "servers.commands",
		method:   http.MethodPost,
		path:     serverPath(uuid) + "/commands",
		body:     map[string][]string{"commands": commands},
	})
}

// ResourceUsage is the daemon's live view of a server.
type ResourceUsage struct {
	State       string `json:"state"`
	IsSuspended bool   `json:"is_suspended"`
	Utilization struct {
		MemoryBytes      int64   `json:"memory_bytes"`
		MemoryLimitBytes int64   `json:"memory_limit_bytes"`
		CPUAbsolute      float64 `json:"cpu_absolute"`
		DiskBytes        int64   `json:"disk_bytes"`
		Uptime           int64   `json:"uptime"`
		Network          struct {
			RxBytes int64 `json:"rx_bytes"`
			TxBytes int64 `json:"tx_bytes"`
		} `json:"network"`
	} `json:"utilization"`
}

func (c *Client) ServerResources(ctx context.Context, node *model.Node, uuid string) (*ResourceUsage, error) {
	var out ResourceUsage
	if err := c.do(ctx, node, request{endpoint: "servers.resources", method: http.MethodGet, path: serverPath(uuid), out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// SystemInfo describes the node host as reported by the daemon.
type SystemInfo struct {
	Architecture  string `json:"architecture"`
	CPUCount      int    `json:"cpu_count"`
	KernelVersion string `json:"kernel_version"`
	OS            string `json:"os"`
	Version       string `json:"version"`
}

func (c *Client) SystemInfo(ctx context.Context, node *model.Node) (*SystemInfo, error) {
	var out SystemInfo
	if err := c.do(ctx, node, request{endpoint: "system", method: http.MethodGet, path: "/api/system", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}
