package daemon

import (
	"strconv"

	"hearth/api/model"
)

// ServerConfiguration is the desired-state document the daemon consumes on
// create and sync and fetches itself when reconciling. Field names are part
// of the daemon protocol.
type ServerConfiguration struct {
	UUID                 string                  `json:"uuid"`
	Suspended            bool                    `json:"suspended"`
	Environment          map[string]string       `json:"environment"`
	Invocation           string                  `json:"invocation"`
	SkipEggScripts       bool                    `json:"skip_egg_scripts"`
	Build                BuildConfiguration      `json:"build"`
	Container            ContainerConfiguration  `json:"container"`
	Allocations          AllocationConfiguration `json:"allocations"`
	Mounts               []Mount                 `json:"mounts"`
	Egg                  EggConfiguration        `json:"egg"`
	ProcessConfiguration ProcessConfiguration    `json:"process_configuration"`
}

type BuildConfiguration struct {
	MemoryLimit int64   `json:"memory_limit"`
	Swap        int64   `json:"swap"`
	IOWeight    int     `json:"io_weight"`
	CPULimit    int     `json:"cpu_limit"`
	DiskSpace   int64   `json:"disk_space"`
	Threads     *string `json:"threads"`
}

type ContainerConfiguration struct {
	Image string `json:"image"`
}

type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type AllocationConfiguration struct {
	Default  Address          `json:"default"`
	Mappings map[string][]int `json:"mappings"`
}

type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

type EggConfiguration struct {
	ID           string   `json:"id"`
	FileDenylist []string `json:"file_denylist"`
}

type StartupConfiguration struct {
	Done            []string `json:"done"`
	UserInteraction []string `json:"user_interaction"`
	StripANSI       bool     `json:"strip_ansi"`
}

type StopConfiguration struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type ProcessConfiguration struct {
	Startup StartupConfiguration `json:"startup"`
	Stop    StopConfiguration    `json:"stop"`
	Configs []model.ConfigFile   `json:"configs"`
}

// StopFor translates an egg stop command. The literal ^C means "send SIGINT"
// rather than typing a command into the console.
func StopFor(stopCommand string) StopConfiguration {
	if stopCommand == "^C" {
		return StopConfiguration{Type: "signal", Value: "SIGINT"}
	}
	return StopConfiguration{Type: "command", Value: stopCommand}
}

// Configuration renders the desired state of srv. egg may be nil when the
// egg was deleted out from under the server; process settings are then empty.
func Configuration(srv *model.Server, egg *model.Egg) *ServerConfiguration {
	if egg == nil {
		egg = &model.Egg{ID: srv.EggID}
	}

	cfg := &ServerConfiguration{
		UUID:           srv.ID,
		Suspended:      srv.Suspended,
		Environment:    environment(srv),
		Invocation:     srv.Startup,
		SkipEggScripts: srv.SkipEggScripts,
		Build: BuildConfiguration{
			MemoryLimit: srv.Limits.Memory,
			Swap:        srv.Limits.Swap,
			IOWeight:    srv.Limits.IO,
			CPULimit:    srv.Limits.CPU,
			DiskSpace:   srv.Limits.Disk,
		},
		Container: ContainerConfiguration{Image: srv.Image},
		Allocations: AllocationConfiguration{
			Mappings: srv.Mappings(),
		},
		Mounts: []Mount{},
		Egg: EggConfiguration{
			ID:           egg.ID,
			FileDenylist: nonNil(egg.FileDenylist),
		},
		ProcessConfiguration: ProcessConfiguration{
			Startup: StartupConfiguration{
				Done:            nonNil(egg.StartupDone),
				UserInteraction: nonNil(egg.UserInteraction),
				StripANSI:       egg.StripANSI,
			},
			Stop:    StopFor(egg.StopCommand),
			Configs: egg.ConfigFiles,
		},
	}
	if cfg.ProcessConfiguration.Configs == nil {
		cfg.ProcessConfiguration.Configs = []model.ConfigFile{}
	}
	if srv.Limits.Threads != "" {
		threads := srv.Limits.Threads
		cfg.Build.Threads = &threads
	}
	if primary := srv.PrimaryAllocation(); primary != nil {
		cfg.Allocations.Default = Address{IP: primary.IP, Port: primary.Port}
	}
	return cfg
}

// environment layers the panel-provided variables over the server's own.
func environment(srv *model.Server) map[string]string {
	env := make(map[string]string, len(srv.Environment)+6)
	for k, v := range srv.Environment {
		env[k] = v
	}
	env["STARTUP"] = srv.Startup
	env["P_SERVER_UUID"] = srv.ID
	env["P_SERVER_ALLOCATION_LIMIT"] = strconv.Itoa(srv.FeatureLimits.Allocations)
	env["SERVER_MEMORY"] = strconv.FormatInt(srv.Limits.Memory, 10)
	if primary := srv.PrimaryAllocation(); primary != nil {
		env["SERVER_IP"] = primary.IP
		env["SERVER_PORT"] = strconv.Itoa(primary.Port)
	}
	return env
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// InstallConfiguration is what the daemon runs to install a server.
type InstallConfiguration struct {
	ContainerImage string `json:"container_image"`
	Entrypoint     string `json:"entrypoint"`
	Script         string `json:"script"`
}

func InstallScript(egg *model.Egg) InstallConfiguration {
	entrypoint := egg.Install.Entrypoint
	if entrypoint == "" {
		entrypoint = "bash"
	}
	return InstallConfiguration{
		ContainerImage: egg.Install.Container,
		Entrypoint:     entrypoint,
		Script:         egg.Install.Script,
	}
}
