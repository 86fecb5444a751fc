package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Error is a non-2xx answer from the panel.
type Error struct {
	Status       int
	Message      string
	DaemonStatus int
}

func (e *Error) Error() string {
	if e.DaemonStatus != 0 {
		return fmt.Sprintf("HTTP %d: %s (daemon answered %d)", e.Status, e.Message, e.DaemonStatus)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

type Node struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	FQDN               string `json:"fqdn"`
	Scheme             string `json:"scheme,omitempty"`
	DaemonListen       int    `json:"daemonListen"`
	DaemonSFTP         int    `json:"daemonSftp,omitempty"`
	DaemonTokenID      string `json:"daemonTokenId,omitempty"`
	DaemonToken        string `json:"daemonToken,omitempty"`
	Memory             int64  `json:"memory"`
	MemoryOverallocate int    `json:"memoryOverallocate"`
	Disk               int64  `json:"disk"`
	DiskOverallocate   int    `json:"diskOverallocate"`
	AllocationIP       string `json:"allocationIp,omitempty"`
	AllocationStart    int    `json:"allocationStart"`
	AllocationEnd      int    `json:"allocationEnd"`
	Maintenance        bool   `json:"maintenance"`
}

type Capacity struct {
	MemoryLimit int64   `json:"memoryLimit"`
	MemoryUsed  int64   `json:"memoryUsed"`
	DiskLimit   int64   `json:"diskLimit"`
	DiskUsed    int64   `json:"diskUsed"`
	MemoryPct   float64 `json:"memoryPercent"`
	DiskPct     float64 `json:"diskPercent"`
	FreePorts   int     `json:"freePorts"`
}

type NodeUsage struct {
	Capacity Capacity `json:"capacity"`
}

type NodeHealth struct {
	NodeID     string    `json:"nodeId"`
	Reachable  bool      `json:"reachable"`
	Error      string    `json:"error"`
	ResponseMs int       `json:"responseMs"`
	CheckedAt  time.Time `json:"checkedAt"`
}

type Limits struct {
	Memory int64 `json:"memory"`
	Swap   int64 `json:"swap"`
	Disk   int64 `json:"disk"`
	IO     int   `json:"io"`
	CPU    int   `json:"cpu"`
}

type FeatureLimits struct {
	Backups     int `json:"backups"`
	Allocations int `json:"allocations"`
}

type Allocation struct {
	ID      string `json:"id"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Primary bool   `json:"primary"`
}

type Server struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	OwnerID       string        `json:"ownerId"`
	NodeID        string        `json:"nodeId"`
	EggID         string        `json:"eggId"`
	Image         string        `json:"image"`
	Limits        Limits        `json:"limits"`
	FeatureLimits FeatureLimits `json:"featureLimits"`
	Allocations   []Allocation  `json:"allocations"`
	Status        string        `json:"status"`
	Suspended     bool          `json:"suspended"`
	InstallError  string        `json:"installError"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type CreateServer struct {
	Name              string            `json:"name"`
	OwnerID           string            `json:"ownerId"`
	EggID             string            `json:"eggId"`
	NodeID            string            `json:"nodeId,omitempty"`
	Limits            Limits            `json:"limits"`
	FeatureLimits     FeatureLimits     `json:"featureLimits"`
	Environment       map[string]string `json:"environment,omitempty"`
	StartOnCompletion bool              `json:"startOnCompletion"`
}

type Resources struct {
	State       string `json:"state"`
	Utilization struct {
		MemoryBytes int64   `json:"memory_bytes"`
		CPUAbsolute float64 `json:"cpu_absolute"`
		DiskBytes   int64   `json:"disk_bytes"`
		Uptime      int64   `json:"uptime"`
	} `json:"utilization"`
}

type Backup struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Disk         string     `json:"disk"`
	Bytes        int64      `json:"bytes"`
	IsSuccessful bool       `json:"isSuccessful"`
	CompletedAt  *time.Time `json:"completedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type Activity struct {
	ServerID  string            `json:"serverId"`
	UserID    string            `json:"userId"`
	Source    string            `json:"source"`
	Event     string            `json:"event"`
	IP        string            `json:"ip"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Version() (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.get("/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// --- Nodes ---

func (c *Client) ListNodes() ([]Node, error) {
	var nodes []Node
	if err := c.get("/api/nodes", &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *Client) CreateNode(n Node) (*Node, error) {
	var out Node
	if err := c.send(http.MethodPost, "/api/nodes", n, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteNode(id string) error {
	return c.send(http.MethodDelete, "/api/nodes/"+id, nil, nil)
}

// RotateNodeCredentials issues a new daemon token. The token itself only
// appears in the node's configuration file.
func (c *Client) RotateNodeCredentials(id string) (*Node, error) {
	var out Node
	if err := c.send(http.MethodPost, "/api/nodes/"+id+"/credentials", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NodeUsage(id string) (*NodeUsage, error) {
	var u NodeUsage
	if err := c.get("/api/nodes/"+id+"/usage", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) NodeHealth(id string) (*NodeHealth, error) {
	var h NodeHealth
	if err := c.get("/api/nodes/"+id+"/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// NodeConfiguration returns the daemon configuration file for a node,
// as YAML or JSON.
func (c *Client) NodeConfiguration(id, format string) ([]byte, error) {
	path := "/api/nodes/" + id + "/configuration"
	if format != "" {
		path += "?format=" + format
	}
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// --- Servers ---

func (c *Client) ListServers() ([]Server, error) {
	var servers []Server
	if err := c.get("/api/servers", &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func (c *Client) GetServer(id string) (*Server, []string, error) {
	var out struct {
		Server      Server   `json:"server"`
		Permissions []string `json:"permissions"`
	}
	if err := c.get("/api/servers/"+id, &out); err != nil {
		return nil, nil, err
	}
	return &out.Server, out.Permissions, nil
}

func (c *Client) CreateServer(req CreateServer) (*Server, error) {
	var out Server
	if err := c.send(http.MethodPost, "/api/servers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteServer(id string) error {
	return c.send(http.MethodDelete, "/api/servers/"+id, nil, nil)
}

// ServerAction posts to one of the admin state endpoints: suspend,
// unsuspend, reinstall or retry-install.
func (c *Client) ServerAction(id, action string) (*Server, error) {
	var out Server
	if err := c.send(http.MethodPost, "/api/servers/"+id+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resources(id string) (*Resources, error) {
	var r Resources
	if err := c.get("/api/servers/"+id+"/resources", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Power(id, signal string) error {
	return c.send(http.MethodPost, "/api/servers/"+id+"/power", map[string]string{"signal": signal}, nil)
}

func (c *Client) Command(id, command string) error {
	return c.send(http.MethodPost, "/api/servers/"+id+"/command", map[string]string{"command": command}, nil)
}

func (c *Client) Activity(id string) ([]Activity, error) {
	var out []Activity
	if err := c.get("/api/servers/"+id+"/activity", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Backups ---

func (c *Client) ListBackups(id string) ([]Backup, error) {
	var out []Backup
	if err := c.get("/api/servers/"+id+"/backups", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateBackup(id, name string) (*Backup, error) {
	var out Backup
	if err := c.send(http.MethodPost, "/api/servers/"+id+"/backups", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BackupDownloadURL(id, backupID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.get("/api/servers/"+id+"/backups/"+backupID+"/download", &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) RestoreBackup(id, backupID string, truncate bool) error {
	return c.send(http.MethodPost, "/api/servers/"+id+"/backups/"+backupID+"/restore", map[string]bool{"truncate": truncate}, nil)
}

// --- Console ---

// ConsoleURL is the websocket URL of a server's console.
func (c *Client) ConsoleURL(id string) string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/api/servers/" + id + "/console"
}

func (c *Client) DialConsole(id string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(c.ConsoleURL(id), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, responseError(resp)
		}
		return nil, fmt.Errorf("console: %w", err)
	}
	return conn, nil
}

func (c *Client) get(path string, v any) error {
	return c.send(http.MethodGet, path, nil, v)
}

// send issues a request with body encoded as JSON and decodes the answer
// into v when both are non-nil.
func (c *Client) send(method, path string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	resp, err := c.do(method, path, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error        string `json:"error"`
		DaemonStatus int    `json:"daemonStatus"`
	}
	e := &Error{Status: resp.StatusCode}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		e.Message, e.DaemonStatus = body.Error, body.DaemonStatus
	} else {
		e.Message = strings.TrimSpace(string(b))
	}
	return e
}
