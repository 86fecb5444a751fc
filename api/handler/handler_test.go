package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"hearth/api/activity"
	"hearth/api/allocations"
	"hearth/api/auth"
	"hearth/api/config"
	"hearth/api/console"
	"hearth/api/daemon"
	"hearth/api/files"
	"hearth/api/hub"
	"hearth/api/lifecycle"
	"hearth/api/model"
	"hearth/api/placement"
	"hearth/api/schedule"
	"hearth/api/store"
)

// fakeDaemon answers every call with 204 unless a failure is queued for the
// request path, and records what it was sent.
type fakeDaemon struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string][]byte
	fail   map[string]int
}

func (f *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = body
	status := f.fail[key]
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": "daemon says no"})
		return
	}
	switch {
	case r.URL.Path == "/api/system":
		json.NewEncoder(w).Encode(daemon.SystemInfo{OS: "linux", CPUCount: 4})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/servers/"):
		json.NewEncoder(w).Encode(map[string]any{"state": "running"})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakeDaemon) called(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	store    *store.Store
	daemon   *fakeDaemon
	activity *activity.MemoryStore
	sessions *auth.SessionValidator
	node     *model.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	fd := &fakeDaemon{bodies: map[string][]byte{}, fail: map[string]int{}}
	daemonSrv := httptest.NewServer(fd)
	t.Cleanup(daemonSrv.Close)
	u, _ := url.Parse(daemonSrv.URL)
	port, _ := strconv.Atoi(u.Port())

	s := store.NewMemory()
	n := &model.Node{
		ID: "node-1", Name: "alpha", FQDN: u.Hostname(), Scheme: "http", DaemonListen: port,
		DaemonTokenID: "tid", DaemonToken: "secret-token",
		Memory: 8192, Disk: 51200, AllocationIP: "0.0.0.0", AllocationStart: 25565, AllocationEnd: 25570,
	}
	s.Nodes.Insert(ctx, n)
	for _, name := range []string{"owner", "stranger"} {
		user := &model.User{ID: name, Username: name}
		user.SetPassword("correct horse")
		s.Users.Insert(ctx, user)
	}
	s.Eggs.Insert(ctx, &model.Egg{
		ID: "paper", Name: "Paper", DockerImage: "ghcr.io/games/java:21", Startup: "java -jar server.jar", StopCommand: "stop",
		Install: model.InstallScript{Container: "alpine:3", Script: "echo install"},
	})

	client := daemon.New(2 * time.Second)
	locks := placement.NewNodeLocks()
	orch := lifecycle.New(s, client, locks, nil)
	orch.PickPort = func(free []int) int { return free[0] }
	acts := activity.NewMemoryStore()
	sessions := auth.NewSessionValidator(auth.SessionConfig{Secret: "test-secret", APIToken: "admin-token"})

	h := New(Deps{
		Store:       s,
		Config:      &config.Config{PanelURL: "https://panel.example.com"},
		Lifecycle:   orch,
		Allocations: allocations.New(s, orch, locks, nil, func(free []int) int { return free[0] }),
		Files:       files.New(s, client),
		Schedules:   schedule.New(s, orch),
		Console:     console.NewProxy(s, "https://panel.example.com"),
		Activity:    acts,
		SFTP:        auth.NewSFTPAuthenticator(s),
		Daemon:      client,
		Hub:         hub.New([]string{"*"}),
		Version:     "test",
	})
	r := chi.NewRouter()
	h.Routes(r, sessions.Middleware)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, store: s, daemon: fd, activity: acts, sessions: sessions, node: n}
}

func (e *testEnv) userToken(id string) string {
	e.t.Helper()
	tok, err := e.sessions.Sign(model.Actor{UserID: id}, id, time.Hour)
	if err != nil {
		e.t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		rd = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) daemonToken() string {
	return e.node.Credential()
}

func expect(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, body)
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// createServer creates a server as admin and completes its install.
func (e *testEnv) createServer() *model.Server {
	e.t.Helper()
	resp := e.do("POST", "/api/servers", "admin-token", lifecycle.CreateRequest{
		Name: "survival", OwnerID: "owner", EggID: "paper",
		Limits:        model.Limits{Memory: 2048, Disk: 10240},
		FeatureLimits: model.FeatureLimits{Backups: 1, Allocations: 2},
	})
	expect(e.t, resp, http.StatusCreated)
	srv := decodeBody[model.Server](e.t, resp)
	if srv.Status != model.StatusInstalling {
		e.t.Fatalf("status = %s, want installing", srv.Status)
	}
	resp = e.do("POST", "/api/remote/servers/"+srv.ID+"/install", e.daemonToken(), lifecycle.InstallResult{Successful: true})
	expect(e.t, resp, http.StatusNoContent)
	return &srv
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "name"}, 400},
		{fmt.Errorf("create: %w", &model.LimitExceeded{Resource: "memory"}), 400},
		{model.ErrNoEligibleNode, 400},
		{model.ErrNoAvailablePorts, 400},
		{model.ErrCannotRemovePrimary, 400},
		{&model.PermissionDenied{}, 403},
		{&model.AuthError{}, 401},
		{fmt.Errorf("server x: %w", model.ErrNotFound), 404},
		{&model.StateConflict{Status: model.StatusInstalling}, 409},
		{auth.ErrThrottled, 429},
		{fmt.Errorf("power: %w", &daemon.RemoteError{Status: 500}), 502},
		{&daemon.UnreachableError{Node: "n", Err: errors.New("timeout")}, 504},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublicEndpoints(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("GET", "/api/version", "", nil)
	expect(t, resp, http.StatusOK)
	if v := decodeBody[map[string]string](t, resp); v["version"] != "test" {
		t.Errorf("version = %v", v)
	}
	resp = e.do("GET", "/api/health", "", nil)
	expect(t, resp, http.StatusOK)
	if v := decodeBody[map[string]any](t, resp); v["status"] != "healthy" {
		t.Errorf("health = %v", v)
	}
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t)
	expect(t, e.do("GET", "/api/servers", "", nil), http.StatusUnauthorized)
	expect(t, e.do("GET", "/api/servers", "forged", nil), http.StatusUnauthorized)
	expect(t, e.do("GET", "/api/nodes", e.userToken("owner"), nil), http.StatusForbidden)
	expect(t, e.do("GET", "/api/nodes", "admin-token", nil), http.StatusOK)
}

func TestNodeAdministration(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("POST", "/api/nodes", "admin-token", model.Node{
		Name: "beta", FQDN: "beta.example.com", DaemonListen: 8080, Memory: 4096, Disk: 20480,
		AllocationStart: 27000, AllocationEnd: 27010,
	})
	expect(t, resp, http.StatusCreated)
	n := decodeBody[model.Node](t, resp)
	if n.DaemonTokenID == "" || n.DaemonToken != "" {
		t.Errorf("created node credentials = %q / %q", n.DaemonTokenID, n.DaemonToken)
	}

	resp = e.do("GET", "/api/nodes/"+n.ID+"/configuration", "admin-token", nil)
	expect(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	stored, _ := e.store.Nodes.Get(context.Background(), n.ID)
	if !strings.Contains(string(body), "token: "+stored.DaemonToken) || !strings.Contains(string(body), "remote: https://panel.example.com") {
		t.Errorf("configuration:\n%s", body)
	}

	resp = e.do("GET", "/api/nodes/"+n.ID+"/usage", "admin-token", nil)
	expect(t, resp, http.StatusOK)
	usage := decodeBody[struct {
		Usage struct {
			AvailableMemory int64 `json:"availableMemory"`
			AvailablePorts  []int `json:"availablePorts"`
		} `json:"usage"`
	}](t, resp)
	if usage.Usage.AvailableMemory != 4096 || len(usage.Usage.AvailablePorts) != 11 {
		t.Errorf("usage = %+v", usage)
	}

	expect(t, e.do("POST", "/api/nodes", "admin-token", model.Node{Name: "bad"}), http.StatusBadRequest)
	expect(t, e.do("DELETE", "/api/nodes/"+n.ID, "admin-token", nil), http.StatusNoContent)
}

func TestDeleteNodeWithServersRefused(t *testing.T) {
	e := newTestEnv(t)
	e.createServer()
	expect(t, e.do("DELETE", "/api/nodes/node-1", "admin-token", nil), http.StatusBadRequest)
}

func TestServerLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()
	owner := e.userToken("owner")

	resp := e.do("GET", "/api/servers/"+srv.ID, owner, nil)
	expect(t, resp, http.StatusOK)
	got := decodeBody[struct {
		Server      model.Server `json:"server"`
		Permissions []string     `json:"permissions"`
	}](t, resp)
	if got.Server.Status != model.StatusOffline || got.Permissions[0] != "*" {
		t.Errorf("server = %+v", got)
	}
	expect(t, e.do("GET", "/api/servers/"+srv.ID, e.userToken("stranger"), nil), http.StatusNotFound)

	resp = e.do("GET", "/api/servers", e.userToken("stranger"), nil)
	expect(t, resp, http.StatusOK)
	if list := decodeBody[[]model.Server](t, resp); len(list) != 0 {
		t.Errorf("stranger sees %d servers", len(list))
	}

	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/power", owner, map[string]string{"signal": "start"}), http.StatusNoContent)
	if !e.daemon.called("POST /api/servers/" + srv.ID + "/power") {
		t.Errorf("daemon calls = %v", e.daemon.calls)
	}
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/power", owner, map[string]string{"signal": "explode"}), http.StatusBadRequest)
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/power", e.userToken("stranger"), map[string]string{"signal": "start"}), http.StatusForbidden)

	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/suspend", "admin-token", nil), http.StatusOK)
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/power", owner, map[string]string{"signal": "start"}), http.StatusConflict)
	expect(t, e.do("GET", "/api/servers/"+srv.ID+"/console", owner, nil), http.StatusConflict)
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/unsuspend", "admin-token", nil), http.StatusOK)

	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/retry-install", "admin-token", nil), http.StatusConflict)
	expect(t, e.do("DELETE", "/api/servers/"+srv.ID, "admin-token", nil), http.StatusNoContent)
	expect(t, e.do("GET", "/api/servers/"+srv.ID, owner, nil), http.StatusNotFound)
}

func TestDaemonFailureMapsToBadGateway(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()
	e.daemon.fail["POST /api/servers/"+srv.ID+"/commands"] = http.StatusInternalServerError

	resp := e.do("POST", "/api/servers/"+srv.ID+"/command", e.userToken("owner"), map[string]string{"command": "say hi"})
	expect(t, resp, http.StatusBadGateway)
	body := decodeBody[map[string]any](t, resp)
	if body["daemonStatus"] != float64(500) || !strings.Contains(body["error"].(string), "daemon says no") {
		t.Errorf("body = %v", body)
	}
}

func TestCreateServerInstallFailureStillCreated(t *testing.T) {
	e := newTestEnv(t)
	e.daemon.fail["POST /api/servers"] = http.StatusInternalServerError

	resp := e.do("POST", "/api/servers", "admin-token", lifecycle.CreateRequest{
		Name: "doomed", OwnerID: "owner", EggID: "paper", Limits: model.Limits{Memory: 1024, Disk: 1024},
	})
	expect(t, resp, http.StatusCreated)
	if srv := decodeBody[model.Server](t, resp); srv.Status != model.StatusInstallFailed || srv.InstallError == "" {
		t.Errorf("server = %+v", srv)
	}
}

func TestRemoteAPI(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()

	expect(t, e.do("GET", "/api/remote/servers", "", nil), http.StatusUnauthorized)
	expect(t, e.do("GET", "/api/remote/servers", "tid.wrong", nil), http.StatusUnauthorized)

	resp := e.do("GET", "/api/remote/servers?per_page=1", e.daemonToken(), nil)
	expect(t, resp, http.StatusOK)
	page := decodeBody[struct {
		Data []map[string]any `json:"data"`
		Meta remoteMeta       `json:"meta"`
	}](t, resp)
	if len(page.Data) != 1 || page.Data[0]["uuid"] != srv.ID || page.Meta.Total != 1 || page.Meta.LastPage != 1 {
		t.Errorf("page = %+v", page)
	}

	// a page far past the end is empty rather than overflowing the offset
	resp = e.do("GET", "/api/remote/servers?page=4611686018427387904&per_page=2", e.daemonToken(), nil)
	expect(t, resp, http.StatusOK)
	page = decodeBody[struct {
		Data []map[string]any `json:"data"`
		Meta remoteMeta       `json:"meta"`
	}](t, resp)
	if len(page.Data) != 0 || page.Meta.Total != 1 {
		t.Errorf("page past the end = %+v", page)
	}

	resp = e.do("GET", "/api/remote/servers/"+srv.ID+"/install", e.daemonToken(), nil)
	expect(t, resp, http.StatusOK)
	script := decodeBody[daemon.InstallConfiguration](t, resp)
	if script.ContainerImage != "alpine:3" || script.Entrypoint != "bash" {
		t.Errorf("install script = %+v", script)
	}

	// the callback is refused once the server has left installing
	expect(t, e.do("POST", "/api/remote/servers/"+srv.ID+"/install", e.daemonToken(), lifecycle.InstallResult{Successful: true}), http.StatusConflict)

	expect(t, e.do("POST", "/api/remote/servers/reset", e.daemonToken(), nil), http.StatusNoContent)
}

func TestRemoteHidesOtherNodesServers(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()
	other := &model.Node{ID: "node-2", DaemonTokenID: "other", DaemonToken: "other-token"}
	e.store.Nodes.Insert(context.Background(), other)

	expect(t, e.do("GET", "/api/remote/servers/"+srv.ID, other.Credential(), nil), http.StatusNotFound)
	expect(t, e.do("GET", "/api/remote/servers/"+srv.ID, e.daemonToken(), nil), http.StatusOK)
}

func TestRemoteSFTPAuth(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()

	resp := e.do("POST", "/api/remote/sftp/auth", e.daemonToken(), sftpAuthRequest{
		Type: "password", Username: "owner." + srv.ShortID(), Password: "correct horse", IP: "203.0.113.7",
	})
	expect(t, resp, http.StatusOK)
	grant := decodeBody[auth.SFTPGrant](t, resp)
	if grant.Server != srv.ID || grant.User != "owner" {
		t.Errorf("grant = %+v", grant)
	}

	expect(t, e.do("POST", "/api/remote/sftp/auth", e.daemonToken(), sftpAuthRequest{
		Username: "owner." + srv.ShortID(), Password: "wrong", IP: "203.0.113.7",
	}), http.StatusUnauthorized)
	expect(t, e.do("POST", "/api/remote/sftp/auth", e.daemonToken(), sftpAuthRequest{
		Username: "stranger." + srv.ShortID(), Password: "correct horse", IP: "203.0.113.8",
	}), http.StatusForbidden)
}

func TestRemoteActivity(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()

	resp := e.do("POST", "/api/remote/activity", e.daemonToken(), map[string]any{
		"data": []remoteActivity{
			{Server: srv.ID, Event: "server:sftp.write", User: "owner", IP: "203.0.113.7", Metadata: map[string]string{"file": "/server.properties"}},
			{Server: "not-on-this-node", Event: "server:sftp.write"},
		},
	})
	expect(t, resp, http.StatusNoContent)

	entries, _ := e.activity.ListByServer(context.Background(), srv.ID, 10)
	var daemonEntries []activity.Entry
	for _, en := range entries {
		if en.Source == activity.SourceDaemon {
			daemonEntries = append(daemonEntries, en)
		}
	}
	if len(daemonEntries) != 1 || daemonEntries[0].Event != "server:sftp.write" {
		t.Errorf("daemon entries = %+v", daemonEntries)
	}
	recent, _ := e.activity.ListRecent(context.Background(), 10)
	for _, en := range recent {
		if en.ServerID == "not-on-this-node" {
			t.Error("activity for a foreign server was stored")
		}
	}
}

func TestFilesAndAllocations(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()
	owner := e.userToken("owner")

	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/files/write?file=server.properties", owner, []byte("motd=hi\n")), http.StatusNoContent)
	key := "POST /api/servers/" + srv.ID + "/files/write"
	if got := string(e.daemon.bodies[key]); got != "motd=hi\n" {
		t.Errorf("daemon got %q", got)
	}

	resp := e.do("POST", "/api/servers/"+srv.ID+"/allocations", owner, nil)
	expect(t, resp, http.StatusCreated)
	alloc := decodeBody[model.Allocation](t, resp)
	if alloc.Primary || alloc.Port != 25566 {
		t.Errorf("allocation = %+v", alloc)
	}
	// feature limit of 2 reached
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/allocations", owner, nil), http.StatusBadRequest)

	primary := srv.PrimaryAllocation()
	expect(t, e.do("DELETE", "/api/servers/"+srv.ID+"/allocations/"+primary.ID, owner, nil), http.StatusBadRequest)
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/allocations/"+alloc.ID+"/primary", owner, nil), http.StatusOK)
	expect(t, e.do("DELETE", "/api/servers/"+srv.ID+"/allocations/"+primary.ID, owner, nil), http.StatusOK)
}

func TestSchedulesOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	srv := e.createServer()
	owner := e.userToken("owner")

	resp := e.do("POST", "/api/servers/"+srv.ID+"/schedules", owner, model.Schedule{
		Name: "restart", Cron: "0 4 * * *", Action: "power", Payload: "restart", Enabled: true,
	})
	expect(t, resp, http.StatusCreated)
	sc := decodeBody[scheduleView](t, resp)
	if sc.NextRunAt == nil {
		t.Error("no next run for an enabled schedule")
	}
	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/schedules", owner, model.Schedule{Name: "x", Cron: "never", Action: "power", Payload: "start"}), http.StatusBadRequest)

	expect(t, e.do("POST", "/api/servers/"+srv.ID+"/schedules/"+sc.ID+"/run", owner, nil), http.StatusNoContent)
	if !e.daemon.called("POST /api/servers/" + srv.ID + "/power") {
		t.Error("schedule run did not reach the daemon")
	}
	expect(t, e.do("DELETE", "/api/servers/"+srv.ID+"/schedules/"+sc.ID, owner, nil), http.StatusNoContent)
}
