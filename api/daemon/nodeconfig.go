package daemon

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"hearth/api/model"
)

// NodeConfig is the file an operator drops onto a node to provision its
// daemon by hand.
type NodeConfig struct {
	Debug          bool          `yaml:"debug" json:"debug"`
	UUID           string        `yaml:"uuid" json:"uuid"`
	TokenID        string        `yaml:"token_id" json:"token_id"`
	Token          string        `yaml:"token" json:"token"`
	API            NodeAPIConfig `yaml:"api" json:"api"`
	System         NodeSystem    `yaml:"system" json:"system"`
	Docker         NodeDocker    `yaml:"docker" json:"docker"`
	AllowedMounts  []string      `yaml:"allowed_mounts" json:"allowed_mounts"`
	Remote         string        `yaml:"remote" json:"remote"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`
}

type NodeAPIConfig struct {
	Host        string  `yaml:"host" json:"host"`
	Port        int     `yaml:"port" json:"port"`
	SSL         NodeSSL `yaml:"ssl" json:"ssl"`
	UploadLimit int     `yaml:"upload_limit" json:"upload_limit"`
}

type NodeSSL struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cert    string `yaml:"cert" json:"cert"`
	Key     string `yaml:"key" json:"key"`
}

type NodeSystem struct {
	Data string   `yaml:"data" json:"data"`
	SFTP NodeSFTP `yaml:"sftp" json:"sftp"`
}

type NodeSFTP struct {
	BindPort int `yaml:"bind_port" json:"bind_port"`
}

type NodeDocker struct {
	Network NodeNetwork `yaml:"network" json:"network"`
}

type NodeNetwork struct {
	Interface  string            `yaml:"interface" json:"interface"`
	DNS        []string          `yaml:"dns" json:"dns"`
	Name       string            `yaml:"name" json:"name"`
	Driver     string            `yaml:"driver" json:"driver"`
	Mode       string            `yaml:"network_mode" json:"network_mode"`
	IsInternal bool              `yaml:"is_internal" json:"is_internal"`
	EnableICC  bool              `yaml:"enable_icc" json:"enable_icc"`
	MTU        int               `yaml:"network_mtu" json:"network_mtu"`
	Interfaces NodeNetInterfaces `yaml:"interfaces" json:"interfaces"`
}

type NodeNetInterfaces struct {
	V4 NodeSubnet `yaml:"v4" json:"v4"`
}

type NodeSubnet struct {
	Subnet  string `yaml:"subnet" json:"subnet"`
	Gateway string `yaml:"gateway" json:"gateway"`
}

// BuildNodeConfig renders the provisioning document for node. panelURL is
// where the daemon calls back into the remote API.
func BuildNodeConfig(node *model.Node, panelURL string) *NodeConfig {
	ssl := NodeSSL{Enabled: node.Scheme != "http" && !node.BehindProxy}
	if ssl.Enabled {
		ssl.Cert = fmt.Sprintf("/etc/letsencrypt/live/%s/fullchain.pem", node.FQDN)
		ssl.Key = fmt.Sprintf("/etc/letsencrypt/live/%s/privkey.pem", node.FQDN)
	}
	upload := node.UploadSize
	if upload <= 0 {
		upload = 100
	}
	data := node.DaemonBase
	if data == "" {
		data = "/var/lib/hearth/volumes"
	}
	sftp := node.DaemonSFTP
	if sftp == 0 {
		sftp = 2022
	}

	return &NodeConfig{
		UUID:    node.ID,
		TokenID: node.DaemonTokenID,
		Token:   node.DaemonToken,
		API: NodeAPIConfig{
			Host:        "0.0.0.0",
			Port:        node.DaemonListen,
			SSL:         ssl,
			UploadLimit: upload,
		},
		System: NodeSystem{
			Data: data,
			SFTP: NodeSFTP{BindPort: sftp},
		},
		Docker: NodeDocker{Network: NodeNetwork{
			Interface: "172.18.0.1",
			DNS:       []string{"1.1.1.1", "1.0.0.1"},
			Name:      "hearth_nw",
			Driver:    "bridge",
			Mode:      "hearth_nw",
			EnableICC: true,
			MTU:       1500,
			Interfaces: NodeNetInterfaces{V4: NodeSubnet{
				Subnet:  "172.18.0.0/16",
				Gateway: "172.18.0.1",
			}},
		}},
		AllowedMounts:  []string{},
		Remote:         panelURL,
		AllowedOrigins: []string{"*"},
	}
}

// YAML renders the config as the daemon's config.yml.
func (c *NodeConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
