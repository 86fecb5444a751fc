package daemon

import (
	"encoding/json"
	"strings"
	"testing"

	"hearth/api/model"
)

func testServer() *model.Server {
	return &model.Server{
		ID:            "8f1c2a9e-0000-4000-8000-000000000001",
		EggID:         "egg-1",
		Image:         "ghcr.io/games/minecraft:java21",
		Startup:       "java -Xmx{{SERVER_MEMORY}}M -jar {{SERVER_JARFILE}}",
		Limits:        model.Limits{Memory: 4096, Swap: 0, Disk: 20480, IO: 500, CPU: 200},
		FeatureLimits: model.FeatureLimits{Allocations: 3},
		Environment:   map[string]string{"SERVER_JARFILE": "server.jar"},
		Allocations: []model.Allocation{
			{ID: "a2", IP: "0.0.0.0", Port: 25566},
			{ID: "a1", IP: "0.0.0.0", Port: 25565, Primary: true},
			{ID: "a3", IP: "10.0.0.5", Port: 25570},
		},
		DefaultAllocation: "a1",
	}
}

func TestConfigurationStopSignal(t *testing.T) {
	tests := []struct {
		stop      string
		wantType  string
		wantValue string
	}{
		{"^C", "signal", "SIGINT"},
		{"stop", "command", "stop"},
		{"quit", "command", "quit"},
	}
	for _, tt := range tests {
		cfg := Configuration(testServer(), &model.Egg{ID: "egg-1", StopCommand: tt.stop})
		if cfg.ProcessConfiguration.Stop.Type != tt.wantType || cfg.ProcessConfiguration.Stop.Value != tt.wantValue {
			t.Errorf("stop %q → %+v, want %s/%s", tt.stop, cfg.ProcessConfiguration.Stop, tt.wantType, tt.wantValue)
		}
	}
}

func TestConfigurationAllocations(t *testing.T) {
	cfg := Configuration(testServer(), &model.Egg{ID: "egg-1"})

	if cfg.Allocations.Default.IP != "0.0.0.0" || cfg.Allocations.Default.Port != 25565 {
		t.Errorf("default = %+v", cfg.Allocations.Default)
	}
	ports := cfg.Allocations.Mappings["0.0.0.0"]
	if len(ports) != 2 || ports[0] != 25565 || ports[1] != 25566 {
		t.Errorf("mappings[0.0.0.0] = %v", ports)
	}
	if got := cfg.Allocations.Mappings["10.0.0.5"]; len(got) != 1 || got[0] != 25570 {
		t.Errorf("mappings[10.0.0.5] = %v", got)
	}
	if cfg.Environment["SERVER_PORT"] != "25565" || cfg.Environment["SERVER_MEMORY"] != "4096" {
		t.Errorf("environment = %v", cfg.Environment)
	}
	if cfg.Environment["SERVER_JARFILE"] != "server.jar" {
		t.Errorf("server variable lost: %v", cfg.Environment)
	}
}

func TestConfigurationWireFieldNames(t *testing.T) {
	data, err := json.Marshal(Configuration(testServer(), &model.Egg{ID: "egg-1", StopCommand: "^C"}))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"uuid", "suspended", "environment", "invocation", "skip_egg_scripts", "build", "container", "allocations", "mounts", "egg", "process_configuration"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}

	s := string(data)
	for _, frag := range []string{
		`"memory_limit":4096`, `"io_weight":500`, `"cpu_limit":200`, `"disk_space":20480`, `"threads":null`,
		`"file_denylist":[]`, `"mounts":[]`, `"done":[]`, `"user_interaction":[]`, `"strip_ansi":false`,
		`"stop":{"type":"signal","value":"SIGINT"}`, `"configs":[]`, `"default":{"ip":"0.0.0.0","port":25565}`,
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("document missing %s\n%s", frag, s)
		}
	}
}

func TestConfigurationWithoutEgg(t *testing.T) {
	srv := testServer()
	srv.Allocations = nil
	cfg := Configuration(srv, nil)
	if cfg.Egg.ID != "egg-1" {
		t.Errorf("egg id = %q", cfg.Egg.ID)
	}
	if cfg.Allocations.Default.Port != 0 {
		t.Errorf("default = %+v, want zero", cfg.Allocations.Default)
	}
}

func TestInstallScriptDefaultsEntrypoint(t *testing.T) {
	got := InstallScript(&model.Egg{Install: model.InstallScript{Container: "debian:bookworm", Script: "echo hi"}})
	if got.Entrypoint != "bash" || got.ContainerImage != "debian:bookworm" || got.Script != "echo hi" {
		t.Errorf("got %+v", got)
	}
}
