package model

import (
	"fmt"
	"time"
)

type Node struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	FQDN               string    `json:"fqdn"`
	Scheme             string    `json:"scheme"`       // http, https
	DaemonListen       int       `json:"daemonListen"` // daemon HTTP API port
	DaemonSFTP         int       `json:"daemonSftp"`
	DaemonBase         string    `json:"daemonBase"` // volume root on the node
	DaemonTokenID      string    `json:"daemonTokenId"`
	DaemonToken        string    `json:"daemonToken,omitempty"`
	Memory             int64     `json:"memory"` // MiB
	MemoryOverallocate int       `json:"memoryOverallocate"`
	Disk               int64     `json:"disk"` // MiB
	DiskOverallocate   int       `json:"diskOverallocate"`
	UploadSize         int       `json:"uploadSize"` // MiB
	AllocationIP       string    `json:"allocationIp"`
	AllocationStart    int       `json:"allocationStart"`
	AllocationEnd      int       `json:"allocationEnd"`
	Maintenance        bool      `json:"maintenance"`
	BehindProxy        bool      `json:"behindProxy"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (n Node) RecordID() string { return n.ID }

// Redacted returns a copy safe to hand to API clients.
func (n Node) Redacted() Node {
	n.DaemonToken = ""
	return n
}

// BaseURL is the daemon's HTTP API root, e.g. https://node1.example.com:8080.
func (n *Node) BaseURL() string {
	scheme := n.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.FQDN, n.DaemonListen)
}

// SocketURL is the websocket root matching BaseURL's scheme.
func (n *Node) SocketURL() string {
	scheme := "wss"
	if n.Scheme == "http" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.FQDN, n.DaemonListen)
}

// Credential is the bearer value presented to and by the daemon.
func (n *Node) Credential() string {
	return n.DaemonTokenID + "." + n.DaemonToken
}

// Validate checks the fields an admin must supply when creating or editing a node.
func (n *Node) Validate() error {
	switch {
	case n.Name == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case n.FQDN == "":
		return &ValidationError{Field: "fqdn", Reason: "required"}
	case n.Scheme != "" && n.Scheme != "http" && n.Scheme != "https":
		return &ValidationError{Field: "scheme", Reason: "must be http or https"}
	case n.DaemonListen <= 0 || n.DaemonListen > 65535:
		return &ValidationError{Field: "daemonListen", Reason: "must be a valid port"}
	case n.Memory < 0:
		return &ValidationError{Field: "memory", Reason: "must not be negative"}
	case n.Disk < 0:
		return &ValidationError{Field: "disk", Reason: "must not be negative"}
	case n.AllocationStart <= 0 || n.AllocationEnd > 65535 || n.AllocationStart > n.AllocationEnd:
		return &ValidationError{Field: "allocationStart", Reason: "port range must satisfy 0 < start <= end <= 65535"}
	}
	return nil
}
