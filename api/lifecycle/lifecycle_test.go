package lifecycle

import (
	"context"
	"errors"
	"slices"
	"testing"

	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/ledger"
	"hearth/api/model"
	"hearth/api/store"
)

type harness struct {
	o      *Orchestrator
	store  *store.Store
	daemon *fakeDaemon
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	mustInsert(t, s.Nodes.Insert(ctx, &model.Node{
		ID: "node-1", Name: "node-1", FQDN: "node1.example.com", Scheme: "https", DaemonListen: 8080,
		DaemonTokenID: "tid", DaemonToken: "tok",
		Memory: 8192, Disk: 51200, AllocationIP: "0.0.0.0", AllocationStart: 25565, AllocationEnd: 25575,
	}))
	mustInsert(t, s.Users.Insert(ctx, &model.User{ID: "owner", Username: "owner"}))
	mustInsert(t, s.Users.Insert(ctx, &model.User{ID: "friend", Username: "friend"}))
	mustInsert(t, s.Eggs.Insert(ctx, &model.Egg{
		ID: "paper", DockerImage: "ghcr.io/games/java:21", Startup: "java -jar {{SERVER_JARFILE}}", StopCommand: "stop",
		Variables: []model.EggVariable{
			{EnvVariable: "SERVER_JARFILE", DefaultValue: "server.jar"},
			{EnvVariable: "VERSION", DefaultValue: "latest"},
		},
	}))
	mustInsert(t, s.Eggs.Insert(ctx, &model.Egg{
		ID: "vanilla", DockerImage: "ghcr.io/games/java:17", Startup: "java -jar vanilla.jar", StopCommand: "^C",
		Variables: []model.EggVariable{
			{EnvVariable: "VERSION", DefaultValue: "1.20.4"},
			{EnvVariable: "MOTD", DefaultValue: "welcome"},
		},
	}))

	d := &fakeDaemon{fail: map[string]error{}}
	rec := &recorder{}
	o := New(s, d, nil, rec)
	o.PickPort = func(free []int) int { return free[0] }
	return &harness{o: o, store: s, daemon: d, events: rec}
}

func mustInsert(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) create(t *testing.T, memory, disk int64) *model.Server {
	t.Helper()
	srv, err := h.o.Create(context.Background(), CreateRequest{
		Name: "survival", OwnerID: "owner", EggID: "paper",
		Limits:        model.Limits{Memory: memory, Disk: disk},
		FeatureLimits: model.FeatureLimits{Backups: 2, Allocations: 3},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return srv
}

func (h *harness) get(t *testing.T, id string) *model.Server {
	t.Helper()
	srv, err := h.store.Servers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return srv
}

func TestCreatePlacesAndPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mustInsert(t, h.store.Servers.Insert(ctx, &model.Server{
		ID: "existing", NodeID: "node-1", OwnerID: "someone", Status: model.StatusOffline,
		Limits:      model.Limits{Memory: 2048, Disk: 10240},
		Allocations: []model.Allocation{{ID: "e1", IP: "0.0.0.0", Port: 25565, Primary: true}},
	}))

	srv := h.create(t, 4096, 20480)

	if srv.Status != model.StatusInstalling {
		t.Errorf("status = %s, want installing", srv.Status)
	}
	if srv.NodeID != "node-1" || srv.Image != "ghcr.io/games/java:21" {
		t.Errorf("server = %+v", srv)
	}
	if srv.Environment["SERVER_JARFILE"] != "server.jar" || srv.Environment["VERSION"] != "latest" {
		t.Errorf("environment = %v", srv.Environment)
	}
	primary := srv.PrimaryAllocation()
	if primary == nil || primary.Port != 25566 || srv.DefaultAllocation != primary.ID {
		t.Errorf("primary = %+v, default = %s", primary, srv.DefaultAllocation)
	}
	if h.daemon.called("create") != 1 {
		t.Errorf("daemon create calls = %d", h.daemon.called("create"))
	}

	u, err := ledger.New(h.store).ForNode(ctx, "node-1")
	if err != nil {
		t.Fatal(err)
	}
	if u.AvailableMemory != 2048 {
		t.Errorf("AvailableMemory = %d, want 2048", u.AvailableMemory)
	}
	if u.AvailableDisk != 51200-10240-20480 {
		t.Errorf("AvailableDisk = %d", u.AvailableDisk)
	}
}

func TestCreateDaemonFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.daemon.fail["create"] = &daemon.UnreachableError{Node: "node1.example.com", Err: errors.New("connection refused")}

	srv, err := h.o.Create(context.Background(), CreateRequest{
		Name: "s", OwnerID: "owner", EggID: "paper", Limits: model.Limits{Memory: 1024, Disk: 1024},
	})
	if err != nil {
		t.Fatalf("Create returned %v, want nil", err)
	}
	if srv.Status != model.StatusInstallFailed || srv.InstallError == "" {
		t.Errorf("server = %+v", srv)
	}
	if stored := h.get(t, srv.ID); stored.Status != model.StatusInstallFailed {
		t.Errorf("stored status = %s", stored.Status)
	}
	if got := h.events.types(); !slices.Equal(got, []string{events.ServerCreated, events.ServerInstallFailed}) {
		t.Errorf("events = %v", got)
	}
}

func TestCreateOwnerLimitsFailFast(t *testing.T) {
	tests := []struct {
		name     string
		limits   model.UserLimits
		resource string
	}{
		{"servers", model.UserLimits{Servers: 1}, "servers"},
		{"memory", model.UserLimits{Memory: 3000}, "memory"},
		{"disk", model.UserLimits{Disk: 2000}, "disk"},
		{"cpu", model.UserLimits{CPU: 150}, "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			mustInsert(t, h.store.Users.Update(ctx, &model.User{ID: "owner", Username: "owner", Limits: tt.limits}))
			mustInsert(t, h.store.Servers.Insert(ctx, &model.Server{
				ID: "old", OwnerID: "owner", NodeID: "node-1", Limits: model.Limits{Memory: 2048, Disk: 1024, CPU: 100},
			}))

			_, err := h.o.Create(ctx, CreateRequest{
				Name: "s", OwnerID: "owner", EggID: "paper", Limits: model.Limits{Memory: 1024, Disk: 1024, CPU: 100},
			})
			var le *model.LimitExceeded
			if !errors.As(err, &le) || le.Resource != tt.resource {
				t.Fatalf("err = %v, want LimitExceeded{%s}", err, tt.resource)
			}
			if len(h.daemon.calls) != 0 {
				t.Errorf("daemon called: %v", h.daemon.calls)
			}
			if servers, _ := h.store.Servers.List(ctx); len(servers) != 1 {
				t.Errorf("servers = %d, want 1", len(servers))
			}
		})
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		req   CreateRequest
		field string
	}{
		{CreateRequest{OwnerID: "owner", EggID: "paper"}, "name"},
		{CreateRequest{Name: "s", EggID: "paper"}, "ownerId"},
		{CreateRequest{Name: "s", OwnerID: "owner"}, "eggId"},
		{CreateRequest{Name: "s", OwnerID: "owner", EggID: "paper", Limits: model.Limits{Memory: -1}}, "limits.memory"},
		{CreateRequest{Name: "s", OwnerID: "ghost", EggID: "paper"}, "ownerId"},
		{CreateRequest{Name: "s", OwnerID: "owner", EggID: "missing"}, "eggId"},
	}
	for _, tt := range tests {
		_, err := h.o.Create(context.Background(), tt.req)
		var ve *model.ValidationError
		if !errors.As(err, &ve) || ve.Field != tt.field {
			t.Errorf("req %+v: err = %v, want ValidationError{%s}", tt.req, err, tt.field)
		}
	}
}

func TestCreateNoEligibleNode(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Create(context.Background(), CreateRequest{
		Name: "huge", OwnerID: "owner", EggID: "paper", Limits: model.Limits{Memory: 9000, Disk: 1},
	})
	if !errors.Is(err, model.ErrNoEligibleNode) {
		t.Fatalf("err = %v, want ErrNoEligibleNode", err)
	}
}

func TestInstallCallback(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		srv := h.create(t, 1024, 1024)
		got, err := h.o.CompleteInstall(context.Background(), srv.ID, InstallResult{Successful: true})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.StatusOffline || h.get(t, srv.ID).Status != model.StatusOffline {
			t.Errorf("status = %s", got.Status)
		}
	})
	t.Run("failure", func(t *testing.T) {
		h := newHarness(t)
		srv := h.create(t, 1024, 1024)
		got, err := h.o.CompleteInstall(context.Background(), srv.ID, InstallResult{Successful: false})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.StatusInstallFailed || got.InstallError == "" {
			t.Errorf("server = %+v", got)
		}
	})
	t.Run("failed then succeeded", func(t *testing.T) {
		h := newHarness(t)
		srv := h.create(t, 1024, 1024)
		ctx := context.Background()
		h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: false})
		got, err := h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true})
		if err != nil || got.Status != model.StatusOffline || got.InstallError != "" {
			t.Errorf("got %+v, %v", got, err)
		}
	})
	t.Run("offline rejects", func(t *testing.T) {
		h := newHarness(t)
		srv := h.create(t, 1024, 1024)
		ctx := context.Background()
		h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true})
		_, err := h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: false})
		var sc *model.StateConflict
		if !errors.As(err, &sc) {
			t.Fatalf("err = %v, want StateConflict", err)
		}
		if h.get(t, srv.ID).Status != model.StatusOffline {
			t.Error("status changed")
		}
	})
}

// failedServer returns a server stuck in install_failed.
func (h *harness) failedServer(t *testing.T) *model.Server {
	t.Helper()
	srv := h.create(t, 1024, 1024)
	if _, err := h.o.CompleteInstall(context.Background(), srv.ID, InstallResult{Successful: false}); err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestOnlyRetryLeavesInstallFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.failedServer(t)

	if _, err := h.o.Reinstall(ctx, srv.ID); err == nil {
		t.Error("reinstall of install_failed server succeeded")
	}
	if _, err := h.o.SetSuspended(ctx, srv.ID, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := h.o.SetSuspended(ctx, srv.ID, false); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	if _, err := h.o.ResetNode(ctx, "node-1"); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, srv.ID).Status; got != model.StatusInstallFailed {
		t.Fatalf("status after other events = %s, want install_failed", got)
	}

	got, err := h.o.RetryInstall(ctx, srv.ID)
	if err != nil {
		t.Fatalf("RetryInstall: %v", err)
	}
	if got.Status != model.StatusInstalling || h.daemon.called("install") != 1 {
		t.Errorf("status = %s, install calls = %d", got.Status, h.daemon.called("install"))
	}
}

func TestRetryInstallRejectsOtherStates(t *testing.T) {
	h := newHarness(t)
	srv := h.create(t, 1024, 1024)
	_, err := h.o.RetryInstall(context.Background(), srv.ID)
	var sc *model.StateConflict
	if !errors.As(err, &sc) || sc.Status != model.StatusInstalling {
		t.Fatalf("err = %v, want StateConflict from installing", err)
	}
}

func TestRetryInstallFallsBackToCreate(t *testing.T) {
	h := newHarness(t)
	srv := h.failedServer(t)
	h.daemon.fail["install"] = &daemon.RemoteError{Status: 404, Message: "server not found"}

	got, err := h.o.RetryInstall(context.Background(), srv.ID)
	if err != nil {
		t.Fatalf("RetryInstall: %v", err)
	}
	if got.Status != model.StatusInstalling {
		t.Errorf("status = %s", got.Status)
	}
	if h.daemon.called("create") != 2 {
		t.Errorf("create calls = %d, want 2", h.daemon.called("create"))
	}
}

func TestRetryInstallFailureRecordsError(t *testing.T) {
	h := newHarness(t)
	srv := h.failedServer(t)
	h.daemon.fail["install"] = &daemon.RemoteError{Status: 500, Message: "docker is down"}

	_, err := h.o.RetryInstall(context.Background(), srv.ID)
	if err == nil {
		t.Fatal("want error")
	}
	stored := h.get(t, srv.ID)
	if stored.Status != model.StatusInstallFailed || stored.InstallError == "" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestReinstall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 1024, 1024)

	if _, err := h.o.Reinstall(ctx, srv.ID); err == nil {
		t.Error("reinstall while installing succeeded")
	}
	h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true})

	got, err := h.o.Reinstall(ctx, srv.ID)
	if err != nil || got.Status != model.StatusInstalling {
		t.Fatalf("Reinstall = %+v, %v", got, err)
	}

	h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true, Reinstall: true})
	h.daemon.fail["reinstall"] = &daemon.RemoteError{Status: 409, Message: "busy"}
	if _, err := h.o.Reinstall(ctx, srv.ID); err == nil {
		t.Fatal("want daemon error surfaced")
	}
	if got := h.get(t, srv.ID).Status; got != model.StatusOffline {
		t.Errorf("status after failed reinstall = %s, want offline", got)
	}

	delete(h.daemon.fail, "reinstall")
	if _, err := h.o.SetSuspended(ctx, srv.ID, true); err != nil {
		t.Fatal(err)
	}
	var sc *model.StateConflict
	if _, err := h.o.Reinstall(ctx, srv.ID); !errors.As(err, &sc) || !sc.Suspended {
		t.Fatalf("reinstall while suspended: %v", err)
	}
	if got := h.get(t, srv.ID).Status; got != model.StatusOffline {
		t.Errorf("status after refused reinstall = %s, want offline", got)
	}
}

func TestSuspendSyncFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 1024, 1024)

	h.daemon.fail["sync"] = &daemon.UnreachableError{Node: "n", Err: errors.New("timeout")}
	if _, err := h.o.SetSuspended(ctx, srv.ID, true); !errors.Is(err, daemon.ErrRemoteUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if h.get(t, srv.ID).Suspended {
		t.Error("suspended despite failed sync")
	}

	delete(h.daemon.fail, "sync")
	got, err := h.o.SetSuspended(ctx, srv.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Suspended || got.Status != model.StatusInstalling {
		t.Errorf("server = %+v", got)
	}
	if !h.daemon.last.Suspended {
		t.Error("sync did not carry suspended=true")
	}
}

func TestDeleteIgnoresDaemonFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 4096, 20480)
	mustInsert(t, h.store.Backups.Insert(ctx, &model.Backup{ID: "b1", ServerID: srv.ID, Disk: model.BackupDiskDaemon}))
	mustInsert(t, h.store.Schedules.Insert(ctx, &model.Schedule{ID: "sc1", ServerID: srv.ID}))
	h.daemon.fail["delete"] = &daemon.UnreachableError{Node: "n", Err: errors.New("refused")}

	if err := h.o.Delete(ctx, srv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.store.Servers.Get(ctx, srv.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("server still stored: %v", err)
	}
	if _, err := h.store.Backups.Get(ctx, "b1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("backup still stored: %v", err)
	}
	if _, err := h.store.Schedules.Get(ctx, "sc1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("schedule still stored: %v", err)
	}

	u, _ := ledger.New(h.store).ForNode(ctx, "node-1")
	if u.AvailableMemory != 8192 || len(u.AvailablePorts) != 11 {
		t.Errorf("ledger after delete = %+v", u)
	}
}

func TestChangeEggMergesEnvironment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 1024, 1024)
	h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true})

	got, err := h.o.ChangeEgg(ctx, srv.ID, "vanilla")
	if err != nil {
		t.Fatalf("ChangeEgg: %v", err)
	}
	if got.Image != "ghcr.io/games/java:17" || got.Startup != "java -jar vanilla.jar" {
		t.Errorf("image/startup = %s / %s", got.Image, got.Startup)
	}
	if got.Environment["VERSION"] != "latest" {
		t.Errorf("existing VERSION overwritten: %v", got.Environment)
	}
	if got.Environment["MOTD"] != "welcome" {
		t.Errorf("MOTD default missing: %v", got.Environment)
	}
	if h.daemon.called("reinstall") != 0 || h.daemon.called("sync") != 1 {
		t.Errorf("calls = %v", h.daemon.calls)
	}
	if h.daemon.last.ProcessConfiguration.Stop.Type != "signal" {
		t.Errorf("synced stop = %+v", h.daemon.last.ProcessConfiguration.Stop)
	}
}

func TestUpdateBuildChecksNodeHeadroom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 4096, 1024)

	_, err := h.o.UpdateBuild(ctx, srv.ID, BuildRequest{Limits: model.Limits{Memory: 8193, Disk: 1024}})
	var le *model.LimitExceeded
	if !errors.As(err, &le) || le.Resource != "node memory" {
		t.Fatalf("err = %v, want node memory limit", err)
	}

	got, err := h.o.UpdateBuild(ctx, srv.ID, BuildRequest{Limits: model.Limits{Memory: 8192, Disk: 2048}, FeatureLimits: model.FeatureLimits{Allocations: 2}})
	if err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}
	if got.Limits.Memory != 8192 || h.daemon.last.Build.MemoryLimit != 8192 {
		t.Errorf("limits = %+v", got.Limits)
	}
}

func TestResetNode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t, 512, 512)
	b := h.failedServer(t)

	n, err := h.o.ResetNode(ctx, "node-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("reset %d servers, want 1", n)
	}
	if h.get(t, a.ID).Status != model.StatusOffline {
		t.Error("installing server not reset")
	}
	if h.get(t, b.ID).Status != model.StatusInstallFailed {
		t.Error("install_failed server should be left alone")
	}
}

func TestPowerChecksPermissionAndState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := h.create(t, 1024, 1024)
	friend := model.Actor{UserID: "friend"}
	owner := model.Actor{UserID: "owner"}

	var sc *model.StateConflict
	if err := h.o.Power(ctx, owner, srv.ID, "start"); !errors.As(err, &sc) {
		t.Errorf("power while installing: %v", err)
	}
	h.o.CompleteInstall(ctx, srv.ID, InstallResult{Successful: true})

	var ve *model.ValidationError
	if err := h.o.Power(ctx, owner, srv.ID, "explode"); !errors.As(err, &ve) {
		t.Errorf("bad action: %v", err)
	}
	var pd *model.PermissionDenied
	if err := h.o.Power(ctx, friend, srv.ID, "start"); !errors.As(err, &pd) {
		t.Errorf("stranger: %v", err)
	}

	stored := h.get(t, srv.ID)
	stored.Subusers = []model.Subuser{{UserID: "friend", Permissions: []string{model.PermStart}}}
	mustInsert(t, h.store.Servers.Update(ctx, stored))

	if err := h.o.Power(ctx, friend, srv.ID, "start"); err != nil {
		t.Errorf("subuser start: %v", err)
	}
	if err := h.o.Power(ctx, friend, srv.ID, "kill"); !errors.As(err, &pd) || pd.Permission != model.PermStop {
		t.Errorf("subuser kill: %v", err)
	}
	if err := h.o.SendCommand(ctx, owner, srv.ID, "say hi"); err != nil {
		t.Errorf("owner command: %v", err)
	}
	if h.daemon.called("power") != 1 || h.daemon.called("command") != 1 {
		t.Errorf("calls = %v", h.daemon.calls)
	}
}
